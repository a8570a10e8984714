package catalog

func InvalidConfiguration(reason string) error { return New(CodeInvalidConfiguration, reason) }

func ClientNotFound(clientID uint32) error { return New(CodeClientNotFound, clientID) }
func ClientIDCollision(clientID uint32, address, existing string) error {
	return New(CodeClientIDCollision, clientID, address, existing)
}

func StreamIDNotFound(streamID uint32) error      { return New(CodeStreamIDNotFound, streamID) }
func StreamIDAlreadyExists(streamID uint32) error { return New(CodeStreamIDAlreadyExists, streamID) }
func StreamNameAlreadyExists(name string) error   { return New(CodeStreamNameAlreadyExists, name) }
func InvalidStreamName() error                    { return New(CodeInvalidStreamName) }
func InvalidStreamID() error                      { return New(CodeInvalidStreamID) }

func TopicIDNotFound(topicID, streamID uint32) error {
	return New(CodeTopicIDNotFound, topicID, streamID)
}
func TopicIDAlreadyExists(topicID, streamID uint32) error {
	return New(CodeTopicIDAlreadyExists, topicID, streamID)
}
func TopicNameAlreadyExists(name string, streamID uint32) error {
	return New(CodeTopicNameAlreadyExists, name, streamID)
}
func InvalidTopicName() error  { return New(CodeInvalidTopicName) }
func InvalidTopicID() error    { return New(CodeInvalidTopicID) }
func TooManyPartitions() error { return New(CodeTooManyPartitions) }

func PartitionNotFound(partitionID, topicID, streamID uint32) error {
	return New(CodePartitionNotFound, partitionID, topicID, streamID)
}
func NoPartitions(topicID, streamID uint32) error {
	return New(CodeNoPartitions, topicID, streamID)
}

func SegmentNotFound() error { return New(CodeSegmentNotFound) }
func SegmentClosed(startOffset uint64, partitionID uint32) error {
	return New(CodeSegmentClosed, startOffset, partitionID)
}
func InvalidMessagesCount() error { return New(CodeInvalidMessagesCount) }
func EmptyMessagePayload() error  { return New(CodeEmptyMessagePayload) }
func TooBigMessagePayload() error { return New(CodeTooBigMessagePayload) }
func TooBigHeadersPayload() error { return New(CodeTooBigHeadersPayload) }
func InvalidHeaderKey() error     { return New(CodeInvalidHeaderKey) }
func InvalidHeaderValue() error   { return New(CodeInvalidHeaderValue) }
func InvalidOffset(offset uint64) error {
	return New(CodeInvalidOffset, offset)
}
func InvalidMessageChecksum(found, expected uint32, offset uint64) error {
	return &ChecksumError{Found: found, Expected: expected, Offset: offset}
}

func ConsumerGroupNotFound(groupID, topicID uint32) error {
	return New(CodeConsumerGroupNotFound, groupID, topicID)
}
func ConsumerGroupAlreadyExists(groupID, topicID uint32) error {
	return New(CodeConsumerGroupAlreadyExists, groupID, topicID)
}
func ConsumerGroupNameAlreadyExists(name string) error {
	return New(CodeConsumerGroupNameAlreadyExists, name)
}
func ConsumerGroupMemberNotFound(memberID, groupID, topicID uint32) error {
	return New(CodeConsumerGroupMemberNotFound, memberID, groupID, topicID)
}
func InvalidConsumerGroupID() error   { return New(CodeInvalidConsumerGroupID) }
func InvalidConsumerGroupName() error { return New(CodeInvalidConsumerGroupName) }
func PartitionNotAssigned(partitionID, memberID, groupID uint32) error {
	return New(CodePartitionNotAssigned, partitionID, memberID, groupID)
}

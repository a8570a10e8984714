// Package catalog holds the broker error catalog. Every error returned to a remote client
// carries one of these codes. Codes are part of the wire contract: they are never renumbered
// nor reused for a different meaning.
package catalog

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

type Code uint32

const (
	CodeError                Code = 1
	CodeInvalidConfiguration Code = 2
	CodeInvalidCommand       Code = 3
	CodeInvalidFormat        Code = 4

	CodeClientNotFound    Code = 100
	CodeInvalidClientID   Code = 101
	CodeClientIDCollision Code = 102

	CodeIOError Code = 200

	CodeStreamIDNotFound        Code = 1009
	CodeStreamIDAlreadyExists   Code = 1011
	CodeStreamNameAlreadyExists Code = 1012
	CodeInvalidStreamName       Code = 1013
	CodeInvalidStreamID         Code = 1014

	CodeTopicIDNotFound        Code = 2010
	CodeTopicIDAlreadyExists   Code = 2012
	CodeTopicNameAlreadyExists Code = 2013
	CodeInvalidTopicName       Code = 2014
	CodeTooManyPartitions      Code = 2015
	CodeInvalidTopicID         Code = 2016

	CodeCannotCreatePartition          Code = 3000
	CodeCannotCreatePartitionDirectory Code = 3002
	CodeCannotOpenPartitionLogFile     Code = 3003
	CodePartitionNotFound              Code = 3007
	CodeNoPartitions                   Code = 3008

	CodeSegmentNotFound                Code = 4000
	CodeSegmentClosed                  Code = 4001
	CodeInvalidSegmentSize             Code = 4002
	CodeCannotCreateSegmentLogFile     Code = 4003
	CodeCannotCreateSegmentIndexFile   Code = 4004
	CodeCannotCreateSegmentTimeIndex   Code = 4005
	CodeCannotSaveMessagesToSegment    Code = 4006
	CodeCannotSaveIndexToSegment       Code = 4007
	CodeCannotSaveTimeIndexToSegment   Code = 4008
	CodeInvalidMessagesCount           Code = 4009
	CodeCannotReadMessage              Code = 4011
	CodeTooBigHeadersPayload           Code = 4017
	CodeInvalidHeaderKey               Code = 4018
	CodeInvalidHeaderValue             Code = 4019
	CodeTooBigMessagePayload           Code = 4022
	CodeTooManyMessages                Code = 4023
	CodeEmptyMessagePayload            Code = 4024
	CodeInvalidMessageChecksum         Code = 4027
	CodeInvalidOffset                  Code = 4100
	CodeCannotReadConsumerOffsets      Code = 4101
	CodeCannotSaveConsumerOffsets      Code = 4102

	CodeConsumerGroupNotFound          Code = 5000
	CodeConsumerGroupAlreadyExists     Code = 5001
	CodeConsumerGroupMemberNotFound    Code = 5002
	CodeInvalidConsumerGroupID         Code = 5003
	CodeInvalidConsumerGroupName       Code = 5004
	CodeConsumerGroupNameAlreadyExists Code = 5005
	CodeCannotCreateConsumerGroupInfo  Code = 5006
	CodeCannotDeleteConsumerGroupInfo  Code = 5007
	CodePartitionNotAssigned           Code = 5008
)

type entry struct {
	name     string
	template string
}

var entries = map[Code]entry{
	CodeError:                          {"error", "Error"},
	CodeInvalidConfiguration:           {"invalid_configuration", "Invalid configuration: %s"},
	CodeInvalidCommand:                 {"invalid_command", "Invalid command"},
	CodeInvalidFormat:                  {"invalid_format", "Invalid format"},
	CodeClientNotFound:                 {"client_not_found", "Client with ID: %d was not found."},
	CodeInvalidClientID:                {"invalid_client_id", "Invalid client ID"},
	CodeClientIDCollision:              {"client_id_collision", "Client ID: %d derived from address: %s is already used by address: %s"},
	CodeIOError:                        {"io_error", "IO error"},
	CodeStreamIDNotFound:               {"stream_id_not_found", "Stream with ID: %d was not found."},
	CodeStreamIDAlreadyExists:          {"stream_id_already_exists", "Stream with ID: %d already exists."},
	CodeStreamNameAlreadyExists:        {"stream_name_already_exists", "Stream with name: %s already exists."},
	CodeInvalidStreamName:              {"invalid_stream_name", "Invalid stream name"},
	CodeInvalidStreamID:                {"invalid_stream_id", "Invalid stream ID"},
	CodeTopicIDNotFound:                {"topic_id_not_found", "Topic with ID: %d for stream with ID: %d was not found."},
	CodeTopicIDAlreadyExists:           {"topic_id_already_exists", "Topic with ID: %d for stream with ID: %d already exists."},
	CodeTopicNameAlreadyExists:         {"topic_name_already_exists", "Topic with name: %s for stream with ID: %d already exists."},
	CodeInvalidTopicName:               {"invalid_topic_name", "Invalid topic name"},
	CodeTooManyPartitions:              {"too_many_partitions", "Too many partitions"},
	CodeInvalidTopicID:                 {"invalid_topic_id", "Invalid topic ID"},
	CodeCannotCreatePartition:          {"cannot_create_partition", "Cannot create partition with ID: %d for stream with ID: %d and topic with ID: %d"},
	CodeCannotCreatePartitionDirectory: {"cannot_create_partition_directory", "Failed to create directory for partition with ID: %d for stream with ID: %d and topic with ID: %d"},
	CodeCannotOpenPartitionLogFile:     {"cannot_open_partition_log_file", "Cannot open partition log file"},
	CodePartitionNotFound:              {"partition_not_found", "Partition with ID: %d for topic with ID: %d for stream with ID: %d was not found."},
	CodeNoPartitions:                   {"no_partitions", "Topic with ID: %d for stream with ID: %d has no partitions."},
	CodeSegmentNotFound:                {"segment_not_found", "Segment not found"},
	CodeSegmentClosed:                  {"segment_closed", "Segment with start offset: %d and partition with ID: %d is closed"},
	CodeInvalidSegmentSize:             {"invalid_segment_size", "Segment size is invalid"},
	CodeCannotCreateSegmentLogFile:     {"cannot_create_segment_log_file", "Failed to create segment log file for path: %s."},
	CodeCannotCreateSegmentIndexFile:   {"cannot_create_segment_index_file", "Failed to create segment index file for path: %s."},
	CodeCannotCreateSegmentTimeIndex:   {"cannot_create_segment_time_index_file", "Failed to create segment time index file for path: %s."},
	CodeCannotSaveMessagesToSegment:    {"cannot_save_messages_to_segment", "Cannot save messages to segment"},
	CodeCannotSaveIndexToSegment:       {"cannot_save_index_to_segment", "Cannot save index to segment"},
	CodeCannotSaveTimeIndexToSegment:   {"cannot_save_time_index_to_segment", "Cannot save time index to segment"},
	CodeInvalidMessagesCount:           {"invalid_messages_count", "Invalid messages count"},
	CodeCannotReadMessage:              {"cannot_read_message", "Cannot read message"},
	CodeTooBigHeadersPayload:           {"too_big_headers_payload", "Too big headers payload"},
	CodeInvalidHeaderKey:               {"invalid_header_key", "Invalid header key"},
	CodeInvalidHeaderValue:             {"invalid_header_value", "Invalid header value"},
	CodeTooBigMessagePayload:           {"too_big_message_payload", "Too big message payload"},
	CodeTooManyMessages:                {"too_many_messages", "Too many messages"},
	CodeEmptyMessagePayload:            {"empty_message_payload", "Empty message payload"},
	CodeInvalidMessageChecksum:         {"invalid_message_checksum", "Invalid message checksum: %d, expected: %d, for offset: %d"},
	CodeInvalidOffset:                  {"invalid_offset", "Invalid offset: %d"},
	CodeCannotReadConsumerOffsets:      {"cannot_read_consumer_offsets", "Failed to read consumers offsets for partition with ID: %d"},
	CodeCannotSaveConsumerOffsets:      {"cannot_save_consumer_offsets", "Failed to save consumers offsets for partition with ID: %d"},
	CodeConsumerGroupNotFound:          {"consumer_group_not_found", "Consumer group with ID: %d for topic with ID: %d was not found."},
	CodeConsumerGroupAlreadyExists:     {"consumer_group_already_exists", "Consumer group with ID: %d for topic with ID: %d already exists."},
	CodeConsumerGroupMemberNotFound:    {"consumer_group_member_not_found", "Consumer group member with ID: %d for group with ID: %d for topic with ID: %d was not found."},
	CodeInvalidConsumerGroupID:         {"invalid_consumer_group_id", "Invalid consumer group ID"},
	CodeInvalidConsumerGroupName:       {"invalid_consumer_group_name", "Invalid consumer group name"},
	CodeConsumerGroupNameAlreadyExists: {"consumer_group_name_already_exists", "Consumer group with name: %s already exists."},
	CodeCannotCreateConsumerGroupInfo:  {"cannot_create_consumer_group_info", "Failed to create consumer group info for ID: %d for topic with ID: %d for stream with ID: %d."},
	CodeCannotDeleteConsumerGroupInfo:  {"cannot_delete_consumer_group_info", "Failed to delete consumer group info for ID: %d for topic with ID: %d for stream with ID: %d."},
	CodePartitionNotAssigned:           {"partition_not_assigned", "Partition with ID: %d is not assigned to member with ID: %d in group with ID: %d."},
}

// Name returns the snake_case name of the code, or "unknown".
func (c Code) Name() string {
	if e, ok := entries[c]; ok {
		return e.name
	}
	return "unknown"
}

func (c Code) String() string {
	return fmt.Sprintf("%s (%d)", c.Name(), uint32(c))
}

// Entry describes one catalog line.
type Entry struct {
	Code     Code   `json:"code" yaml:"code"`
	Name     string `json:"name" yaml:"name"`
	Template string `json:"template" yaml:"template"`
}

// Entries lists the whole catalog, sorted by code.
func Entries() []Entry {
	out := make([]Entry, 0, len(entries))
	for code, e := range entries {
		out = append(out, Entry{Code: code, Name: e.name, Template: e.template})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Error is an error with a stable catalog code.
type Error struct {
	code  Code
	msg   string
	cause error
}

func newError(code Code, args ...interface{}) *Error {
	tpl := entries[code].template
	msg := tpl
	if len(args) > 0 {
		msg = fmt.Sprintf(tpl, args...)
	}
	return &Error{code: code, msg: msg}
}

// New returns an error carrying code, formatting the catalog template with args.
func New(code Code, args ...interface{}) error {
	return newError(code, args...)
}

// Wrap returns an error carrying code whose cause is err.
func Wrap(err error, code Code, args ...interface{}) error {
	if err == nil {
		return nil
	}
	e := newError(code, args...)
	e.cause = err
	return e
}

func (e *Error) Code() Code { return e.code }
func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}
func (e *Error) Cause() error  { return e.cause }
func (e *Error) Unwrap() error { return e.cause }

// Is reports code equality, so errors.Is(err, catalog.New(code)) matches any error of that code.
func (e *Error) Is(target error) bool {
	t, ok := target.(coder)
	return ok && t.Code() == e.code
}

type coder interface {
	Code() Code
}

// CodeOf returns the catalog code carried by err or any error it wraps. Errors outside the
// catalog map to CodeError.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeError
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ChecksumError reports a stored checksum that does not match the message content.
type ChecksumError struct {
	Found    uint32
	Expected uint32
	Offset   uint64
}

func (e *ChecksumError) Code() Code { return CodeInvalidMessageChecksum }
func (e *ChecksumError) Error() string {
	return fmt.Sprintf(entries[CodeInvalidMessageChecksum].template, e.Found, e.Expected, e.Offset)
}
func (e *ChecksumError) Is(target error) bool {
	t, ok := target.(coder)
	return ok && t.Code() == CodeInvalidMessageChecksum
}

package broker

import (
	"context"

	"github.com/vx-labs/perch/catalog"
	"github.com/vx-labs/perch/clients"
	"github.com/vx-labs/perch/group"
	"github.com/vx-labs/perch/metadata"
	"go.uber.org/zap"
)

func (b *Broker) CreateConsumerGroup(ctx context.Context, streamID, topicID, groupID uint32, name string) error {
	t, err := b.topic(streamID, topicID)
	if err != nil {
		return err
	}
	if groupID == 0 {
		return catalog.InvalidConsumerGroupID()
	}
	if !validName(name) {
		return catalog.InvalidConsumerGroupName()
	}
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if _, ok := t.groups[groupID]; ok {
		return catalog.ConsumerGroupAlreadyExists(groupID, topicID)
	}
	for _, g := range t.groups {
		if g.Name() == name {
			return catalog.ConsumerGroupNameAlreadyExists(name)
		}
	}
	record := metadata.GroupRecord{StreamID: streamID, TopicID: topicID, ID: groupID, Name: name}
	g, err := group.New(record.Key(), name, t.partitionIDs(), t, b.metadata, b.logger)
	if err != nil {
		return err
	}
	if err := b.metadata.SaveGroup(record); err != nil {
		return catalog.Wrap(err, catalog.CodeCannotCreateConsumerGroupInfo, groupID, topicID, streamID)
	}
	t.groups[groupID] = g
	L(ctx).Info("consumer group created", zap.Uint32("stream_id", streamID), zap.Uint32("topic_id", topicID),
		zap.Uint32("group_id", groupID), zap.String("group_name", name))
	return nil
}

// DeleteConsumerGroup deletes the group, its committed offsets, and the memberships of its clients.
func (b *Broker) DeleteConsumerGroup(ctx context.Context, streamID, topicID, groupID uint32) error {
	t, err := b.topic(streamID, topicID)
	if err != nil {
		return err
	}
	t.mtx.Lock()
	g, ok := t.groups[groupID]
	if !ok {
		t.mtx.Unlock()
		return catalog.ConsumerGroupNotFound(groupID, topicID)
	}
	members, err := g.Delete()
	if err == nil {
		delete(t.groups, groupID)
		err = b.metadata.DeleteGroup(g.Key())
		if err != nil {
			err = catalog.Wrap(err, catalog.CodeCannotDeleteConsumerGroupInfo, groupID, topicID, streamID)
		}
	}
	t.mtx.Unlock()
	if err != nil {
		return err
	}
	b.clients.ForgetGroup(clients.Membership{StreamID: streamID, TopicID: topicID, GroupID: groupID})
	L(ctx).Info("consumer group deleted", zap.Uint32("stream_id", streamID), zap.Uint32("topic_id", topicID),
		zap.Uint32("group_id", groupID), zap.Int("member_count", len(members)))
	return nil
}

func (b *Broker) consumerGroup(streamID, topicID, groupID uint32) (*group.ConsumerGroup, error) {
	t, err := b.topic(streamID, topicID)
	if err != nil {
		return nil, err
	}
	return t.group(groupID)
}

// JoinGroup makes a connected client join a consumer group.
func (b *Broker) JoinGroup(ctx context.Context, clientID, streamID, topicID, groupID uint32) error {
	err := b.clients.JoinGroup(clientID, clients.Membership{StreamID: streamID, TopicID: topicID, GroupID: groupID})
	if err != nil {
		return err
	}
	L(ctx).Debug("client joined consumer group", zap.Uint32("client_id", clientID), zap.Uint32("group_id", groupID))
	return nil
}

func (b *Broker) LeaveGroup(ctx context.Context, clientID, streamID, topicID, groupID uint32) error {
	err := b.clients.LeaveGroup(clientID, clients.Membership{StreamID: streamID, TopicID: topicID, GroupID: groupID})
	if err != nil {
		return err
	}
	L(ctx).Debug("client left consumer group", zap.Uint32("client_id", clientID), zap.Uint32("group_id", groupID))
	return nil
}

// CommitOffset stores the next offset the consumer group will read on the partition.
func (b *Broker) CommitOffset(ctx context.Context, streamID, topicID, groupID, partitionID uint32, offset uint64, force bool) error {
	g, err := b.consumerGroup(streamID, topicID, groupID)
	if err != nil {
		return err
	}
	return g.CommitOffset(partitionID, offset, force)
}

// membershipHandler applies client membership changes to consumer groups.
type membershipHandler struct {
	b *Broker
}

func (m *membershipHandler) JoinGroup(clientID uint32, membership clients.Membership) error {
	g, err := m.b.consumerGroup(membership.StreamID, membership.TopicID, membership.GroupID)
	if err != nil {
		return err
	}
	return g.Join(clientID)
}

func (m *membershipHandler) LeaveGroup(clientID uint32, membership clients.Membership) error {
	g, err := m.b.consumerGroup(membership.StreamID, membership.TopicID, membership.GroupID)
	if err != nil {
		return err
	}
	return g.Leave(clientID)
}

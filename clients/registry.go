// Package clients keeps track of the clients connected to the broker and of the consumer
// groups they joined.
package clients

import (
	"hash/crc32"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vx-labs/perch/broker/stats"
	"github.com/vx-labs/perch/catalog"
	"go.uber.org/zap"
)

type Transport int

const (
	TCP Transport = iota
	QUIC
)

func (t Transport) String() string {
	switch t {
	case TCP:
		return "TCP"
	case QUIC:
		return "QUIC"
	default:
		return "unknown"
	}
}

func ParseTransport(s string) (Transport, error) {
	switch strings.ToUpper(s) {
	case "TCP":
		return TCP, nil
	case "QUIC":
		return QUIC, nil
	default:
		return 0, catalog.InvalidConfiguration("unknown transport " + s)
	}
}

// Membership references a consumer group joined by a client.
type Membership struct {
	StreamID uint32 `json:"stream_id" yaml:"stream-id"`
	TopicID  uint32 `json:"topic_id" yaml:"topic-id"`
	GroupID  uint32 `json:"group_id" yaml:"group-id"`
}

func lessMembership(a, b Membership) bool {
	if a.StreamID != b.StreamID {
		return a.StreamID < b.StreamID
	}
	if a.TopicID != b.TopicID {
		return a.TopicID < b.TopicID
	}
	return a.GroupID < b.GroupID
}

// Groups applies membership changes to consumer groups.
type Groups interface {
	JoinGroup(clientID uint32, m Membership) error
	LeaveGroup(clientID uint32, m Membership) error
}

type Client struct {
	mtx         sync.RWMutex
	id          uint32
	address     string
	transport   Transport
	connectedAt time.Time
	memberships map[Membership]struct{}
	removed     bool
}

type Description struct {
	ID          uint32       `json:"id" yaml:"id"`
	Address     string       `json:"address" yaml:"address"`
	Transport   string       `json:"transport" yaml:"transport"`
	ConnectedAt time.Time    `json:"connected_at" yaml:"connected-at"`
	Memberships []Membership `json:"memberships" yaml:"memberships"`
}

func (c *Client) ID() uint32 {
	return c.id
}
func (c *Client) Address() string {
	return c.address
}
func (c *Client) Transport() Transport {
	return c.transport
}

func (c *Client) Memberships() []Membership {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.sortedMemberships()
}

func (c *Client) sortedMemberships() []Membership {
	out := make([]Membership, 0, len(c.memberships))
	for m := range c.memberships {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return lessMembership(out[i], out[j]) })
	return out
}

func (c *Client) Describe() Description {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return Description{
		ID:          c.id,
		Address:     c.address,
		Transport:   c.transport.String(),
		ConnectedAt: c.connectedAt,
		Memberships: c.sortedMemberships(),
	}
}

// ClientID derives the client ID from its address.
func ClientID(address string) uint32 {
	return crc32.ChecksumIEEE([]byte(address))
}

type Registry struct {
	mtx     sync.RWMutex
	clients map[uint32]*Client
	groups  Groups
	logger  *zap.Logger
}

func NewRegistry(groups Groups, logger *zap.Logger) *Registry {
	return &Registry{
		clients: map[uint32]*Client{},
		groups:  groups,
		logger:  logger,
	}
}

// Add registers a client connected from address. A client already registered with the same
// address is replaced, and leaves its consumer groups.
func (r *Registry) Add(address string, transport Transport) (uint32, error) {
	id := ClientID(address)
	client := &Client{
		id:          id,
		address:     address,
		transport:   transport,
		connectedAt: time.Now(),
		memberships: map[Membership]struct{}{},
	}
	r.mtx.Lock()
	existing, ok := r.clients[id]
	if ok && existing.address != address {
		r.mtx.Unlock()
		return 0, catalog.ClientIDCollision(id, address, existing.address)
	}
	r.clients[id] = client
	// the new record stays locked until the memberships of the previous session are released.
	client.mtx.Lock()
	stats.Gauge("connectedClients").Set(float64(len(r.clients)))
	r.mtx.Unlock()
	defer client.mtx.Unlock()
	if ok {
		r.release(existing)
		r.logger.Debug("client reconnected", zap.Uint32("client_id", id), zap.String("client_address", address))
	}
	r.logger.Debug("client registered", zap.Uint32("client_id", id), zap.String("client_address", address),
		zap.Stringer("client_transport", transport))
	return id, nil
}

// Remove unregisters the client connected from address, and returns it.
// It returns nil if no such client is registered.
func (r *Registry) Remove(address string) *Client {
	id := ClientID(address)
	r.mtx.Lock()
	client, ok := r.clients[id]
	if !ok || client.address != address {
		r.mtx.Unlock()
		return nil
	}
	delete(r.clients, id)
	stats.Gauge("connectedClients").Set(float64(len(r.clients)))
	r.mtx.Unlock()
	r.release(client)
	r.logger.Debug("client removed", zap.Uint32("client_id", id), zap.String("client_address", address))
	return client
}

func (r *Registry) release(client *Client) {
	client.mtx.Lock()
	defer client.mtx.Unlock()
	client.removed = true
	for _, m := range client.sortedMemberships() {
		if err := r.groups.LeaveGroup(client.id, m); err != nil && !catalog.Is(err, catalog.CodeConsumerGroupNotFound) {
			r.logger.Warn("failed to leave consumer group", zap.Uint32("client_id", client.id),
				zap.Uint32("group_id", m.GroupID), zap.Error(err))
		}
		delete(client.memberships, m)
	}
}

func (r *Registry) Get(id uint32) (*Client, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	client, ok := r.clients[id]
	if !ok {
		return nil, catalog.ClientNotFound(id)
	}
	return client, nil
}

// Clients returns a description of every registered client, sorted by ID.
func (r *Registry) Clients() []Description {
	r.mtx.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	r.mtx.RUnlock()
	out := make([]Description, len(clients))
	for idx, client := range clients {
		out[idx] = client.Describe()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Count() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.clients)
}

// JoinGroup makes the client join the consumer group. The client lock is held while the
// group is updated, so a concurrent Remove either sees the membership or prevents it.
func (r *Registry) JoinGroup(clientID uint32, m Membership) error {
	client, err := r.Get(clientID)
	if err != nil {
		return err
	}
	client.mtx.Lock()
	defer client.mtx.Unlock()
	if client.removed {
		return catalog.ClientNotFound(clientID)
	}
	if err := r.groups.JoinGroup(clientID, m); err != nil {
		return err
	}
	client.memberships[m] = struct{}{}
	return nil
}

func (r *Registry) LeaveGroup(clientID uint32, m Membership) error {
	client, err := r.Get(clientID)
	if err != nil {
		return err
	}
	client.mtx.Lock()
	defer client.mtx.Unlock()
	if client.removed {
		return catalog.ClientNotFound(clientID)
	}
	if err := r.groups.LeaveGroup(clientID, m); err != nil {
		return err
	}
	delete(client.memberships, m)
	return nil
}

// ForgetGroup drops the membership from every client, once the consumer group is deleted.
func (r *Registry) ForgetGroup(m Membership) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	for _, client := range r.clients {
		client.mtx.Lock()
		delete(client.memberships, m)
		client.mtx.Unlock()
	}
}

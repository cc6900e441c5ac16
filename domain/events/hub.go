package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/auth"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

const defaultSendBuffer = 64

// Client is one live connection registered with the Hub. Transports read
// Frames and stop when Done is closed.
type Client struct {
	id     string
	userID string
	send   chan Frame
	done   chan struct{}
	once   sync.Once

	// rooms is guarded by the hub lock
	rooms map[string]struct{}
}

func (c *Client) ID() string            { return c.id }
func (c *Client) UserID() string        { return c.userID }
func (c *Client) Frames() <-chan Frame  { return c.send }
func (c *Client) Done() <-chan struct{} { return c.done }
func (c *Client) close()                { c.once.Do(func() { close(c.done) }) }

// push queues a frame without blocking; false means the buffer is full or
// the client is gone.
func (c *Client) push(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBus fans every emit out to peer instances.
func WithBus(b Bus) HubOption {
	return func(h *Hub) { h.bus = b }
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithClock replaces time.Now for frame timestamps.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// Hub owns every connection and room membership of this instance. All
// membership state sits behind one lock.
type Hub struct {
	resolver   auth.IdentityResolver
	bus        Bus
	log        *slog.Logger
	instanceID string
	sendBuffer int
	now        func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
}

// NewHub creates a hub that authenticates connections with resolver.
func NewHub(resolver auth.IdentityResolver, log *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		resolver:   resolver,
		bus:        LocalBus{},
		log:        log.With(logger.Scope("events.hub")),
		instanceID: uuid.NewString(),
		sendBuffer: defaultSendBuffer,
		now:        time.Now,
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// InstanceID identifies this hub on the bus.
func (h *Hub) InstanceID() string { return h.instanceID }

// Start consumes emits published by peer instances until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	return h.bus.Subscribe(ctx, h.receive)
}

// Stop closes every connection and the bus.
func (h *Hub) Stop() error {
	h.mu.Lock()
	for id, c := range h.clients {
		h.removeLocked(c)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	ConnectionsActive.Set(0)
	return h.bus.Close()
}

// Connect authenticates token and registers a new connection in its user room.
func (h *Hub) Connect(ctx context.Context, token string) (*Client, error) {
	id, err := h.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	c := &Client{
		id:     "conn_" + uuid.NewString(),
		userID: id.UserID,
		send:   make(chan Frame, h.sendBuffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.joinLocked(c, UserRoom(c.userID))
	count := len(h.clients)
	h.mu.Unlock()

	ConnectionsActive.Set(float64(count))
	h.log.Debug("connection registered",
		slog.String("connection_id", c.id),
		slog.String("user_id", c.userID))
	return c, nil
}

// Disconnect removes a connection and every membership it holds. It reports
// whether the connection was still registered.
func (h *Hub) Disconnect(connectionID string) bool {
	h.mu.Lock()
	c, ok := h.clients[connectionID]
	if ok {
		h.removeLocked(c)
		delete(h.clients, connectionID)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		ConnectionsActive.Set(float64(count))
		h.log.Debug("connection removed", slog.String("connection_id", connectionID))
	}
	return ok
}

func (h *Hub) removeLocked(c *Client) {
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	c.close()
}

func (h *Hub) joinLocked(c *Client, room string) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Subscribe joins a connection to a topic room. Subscribing twice is a no-op.
func (h *Hub) Subscribe(connectionID, topic string) (string, error) {
	room, err := NormalizeTopic(topic)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connectionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}
	h.joinLocked(c, room)
	return room, nil
}

// Unsubscribe removes a connection from a topic room. Leaving a room the
// connection is not in is a no-op.
func (h *Hub) Unsubscribe(connectionID, topic string) (string, error) {
	room, err := NormalizeTopic(topic)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connectionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}
	h.leaveLocked(c, room)
	return room, nil
}

// Owner returns the user a connection belongs to.
func (h *Hub) Owner(connectionID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connectionID]
	if !ok {
		return "", false
	}
	return c.userID, true
}

// Rooms lists the rooms a connection is in, sorted.
func (h *Hub) Rooms(connectionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connectionID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomSize returns how many connections are in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ConnectionCount returns the number of live connections on this instance.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EmitToUser sends event to every connection of userID.
func (h *Hub) EmitToUser(ctx context.Context, userID, event string, data any) Delivery {
	return h.emit(ctx, Target{Kind: TargetUser, Key: userID}, event, data)
}

// EmitToRoom sends event to every connection in room.
func (h *Hub) EmitToRoom(ctx context.Context, room, event string, data any) Delivery {
	return h.emit(ctx, Target{Kind: TargetRoom, Key: room}, event, data)
}

// EmitToAll sends event to every connection.
func (h *Hub) EmitToAll(ctx context.Context, event string, data any) Delivery {
	return h.emit(ctx, Target{Kind: TargetAll}, event, data)
}

func (h *Hub) emit(ctx context.Context, target Target, event string, data any) Delivery {
	d := Delivery{Event: event, Target: target}

	raw, err := json.Marshal(data)
	if err != nil {
		d.Err = fmt.Errorf("encode %s: %w", event, err)
		EventsEmitted.WithLabelValues(event, "error").Inc()
		return d
	}
	frame := Frame{Event: event, Room: target.room(), Data: raw, Timestamp: h.now().UTC()}

	d.Delivered, d.Dropped = h.deliver(target, frame)

	if err := h.bus.Publish(ctx, Envelope{Origin: h.instanceID, Target: target, Frame: frame}); err != nil {
		d.Err = fmt.Errorf("publish %s: %w", event, err)
		EventsEmitted.WithLabelValues(event, "error").Inc()
	}
	return d
}

// receive delivers an emit published by a peer instance.
func (h *Hub) receive(env Envelope) {
	if env.Origin == h.instanceID {
		return
	}
	h.deliver(env.Target, env.Frame)
}

func (h *Hub) deliver(target Target, frame Frame) (delivered, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var members map[string]*Client
	if target.Kind == TargetAll {
		members = h.clients
	} else {
		members = h.rooms[target.room()]
	}
	for _, c := range members {
		if c.push(frame) {
			delivered++
		} else {
			dropped++
		}
	}

	if delivered > 0 {
		EventsEmitted.WithLabelValues(frame.Event, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		EventsEmitted.WithLabelValues(frame.Event, "dropped").Add(float64(dropped))
		h.log.Warn("slow connections dropped a frame",
			slog.String("event", frame.Event),
			slog.Int("dropped", dropped))
	}
	return delivered, dropped
}

// enqueue sends a control frame to one connection only.
func (h *Hub) enqueue(connectionID, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	h.mu.RLock()
	c, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}
	c.push(Frame{Event: event, Data: raw, Timestamp: h.now().UTC()})
	return nil
}

// ABOUTME: In-memory fan-out of outbound events to the connections in a project room
// ABOUTME: Each connection owns one buffered queue shared by all rooms it joined

package room

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/coven-collab/internal/events"
)

// DefaultBufferSize is the per-connection queue length used when none is
// configured.
const DefaultBufferSize = 64

var (
	// ErrAlreadyRegistered is returned when a connection id is registered twice.
	ErrAlreadyRegistered = errors.New("connection already registered")

	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("broadcaster closed")
)

type subscriber struct {
	ch    chan events.Event
	rooms map[string]struct{}
}

// Broadcaster maps project ids to subscribed connections and delivers events
// to them. Delivery is fire-and-forget: a connection whose queue is full
// misses the event.
type Broadcaster struct {
	mu         sync.RWMutex
	conns      map[string]*subscriber         // connID -> subscriber
	rooms      map[string]map[string]struct{} // projectID -> connIDs
	bufferSize int
	closed     bool
	logger     *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default and a
// non-positive bufferSize for DefaultBufferSize.
func NewBroadcaster(logger *slog.Logger, bufferSize int) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		conns:      make(map[string]*subscriber),
		rooms:      make(map[string]map[string]struct{}),
		bufferSize: bufferSize,
		logger:     logger.With("component", "broadcaster"),
	}
}

// Register creates the outbound queue for a connection. The channel is closed
// by Unregister or Close.
func (b *Broadcaster) Register(connID string) (<-chan events.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.conns[connID]; exists {
		return nil, ErrAlreadyRegistered
	}
	sub := &subscriber{
		ch:    make(chan events.Event, b.bufferSize),
		rooms: make(map[string]struct{}),
	}
	b.conns[connID] = sub

	b.logger.Debug("connection registered", "conn_id", connID)
	return sub.ch, nil
}

// Unregister removes a connection from every room, closes its queue, and
// returns the project ids it was subscribed to.
func (b *Broadcaster) Unregister(connID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.conns[connID]
	if !ok {
		return nil
	}

	left := make([]string, 0, len(sub.rooms))
	for projectID := range sub.rooms {
		b.removeFromRoomLocked(projectID, connID)
		left = append(left, projectID)
	}
	delete(b.conns, connID)
	close(sub.ch)

	sort.Strings(left)
	b.logger.Debug("connection unregistered", "conn_id", connID, "rooms", len(left))
	return left
}

// Join subscribes a registered connection to a project room. It returns false
// if the connection is unknown.
func (b *Broadcaster) Join(projectID, connID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.conns[connID]
	if !ok {
		return false
	}

	members, ok := b.rooms[projectID]
	if !ok {
		members = make(map[string]struct{})
		b.rooms[projectID] = members
	}
	members[connID] = struct{}{}
	sub.rooms[projectID] = struct{}{}
	return true
}

// Leave unsubscribes a connection from a project room. It reports whether the
// connection was subscribed.
func (b *Broadcaster) Leave(projectID, connID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.conns[connID]
	if !ok {
		return false
	}
	if _, in := sub.rooms[projectID]; !in {
		return false
	}
	delete(sub.rooms, projectID)
	b.removeFromRoomLocked(projectID, connID)
	return true
}

func (b *Broadcaster) removeFromRoomLocked(projectID, connID string) {
	members, ok := b.rooms[projectID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(b.rooms, projectID)
	}
}

// InRoom reports whether the connection is subscribed to the project.
func (b *Broadcaster) InRoom(projectID, connID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.rooms[projectID][connID]
	return ok
}

// Broadcast delivers ev to every connection in the project room except
// excludeConnID (empty excludes nobody). It returns how many connections
// received the event and how many dropped it because their queue was full.
func (b *Broadcaster) Broadcast(projectID string, ev events.Event, excludeConnID string) (delivered, dropped int) {
	// Sends happen under the read lock so Unregister cannot close a queue
	// mid-send; every send is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for connID := range b.rooms[projectID] {
		if excludeConnID != "" && connID == excludeConnID {
			continue
		}
		if b.offerLocked(connID, ev) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// Send delivers ev to a single connection. It returns false if the connection
// is unknown or its queue is full.
func (b *Broadcaster) Send(connID string, ev events.Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.offerLocked(connID, ev)
}

func (b *Broadcaster) offerLocked(connID string, ev events.Event) bool {
	sub, ok := b.conns[connID]
	if !ok {
		return false
	}
	select {
	case sub.ch <- ev:
		return true
	default:
		b.logger.Debug("dropped event for slow connection",
			"conn_id", connID,
			"event", ev.Kind())
		return false
	}
}

// RoomCount returns the number of rooms with at least one subscriber.
func (b *Broadcaster) RoomCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms)
}

// Close unregisters every connection, closes all queues, and refuses later
// registrations.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for connID, sub := range b.conns {
		close(sub.ch)
		delete(b.conns, connID)
	}
	for projectID := range b.rooms {
		delete(b.rooms, projectID)
	}

	b.logger.Debug("broadcaster closed")
}

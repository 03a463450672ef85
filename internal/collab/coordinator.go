// ABOUTME: Collaboration coordinator that owns presence, lock, typing, and room state
// ABOUTME: Dispatches inbound client events and commits each mutation before broadcasting it

package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-collab/internal/editlock"
	"github.com/2389/coven-collab/internal/events"
	"github.com/2389/coven-collab/internal/identity"
	"github.com/2389/coven-collab/internal/metrics"
	"github.com/2389/coven-collab/internal/presence"
	"github.com/2389/coven-collab/internal/room"
	"github.com/2389/coven-collab/internal/typing"
)

var (
	// ErrAccessDenied is returned when a join targets a project the identity
	// cannot view.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotJoined is returned for project-scoped events from a connection
	// that has not joined that project's room.
	ErrNotJoined = errors.New("connection has not joined project")

	// ErrUnknownConnection is returned when an event arrives for a connection
	// that is no longer registered.
	ErrUnknownConnection = errors.New("unknown connection")
)

// AccessChecker decides whether a user may view a project.
type AccessChecker interface {
	CanViewProject(ctx context.Context, userID, projectID string) (bool, error)
}

// Conn is the typed context of one authenticated connection. It is created by
// Connect and carried through every call for that connection.
type Conn struct {
	ID          string
	Identity    identity.Identity
	ConnectedAt time.Time
}

// Config configures a Coordinator.
type Config struct {
	Access  AccessChecker
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// BufferSize is the outbound queue length per connection.
	BufferSize int

	// TypingTimeout and LockTimeout reclaim indicators and locks that were not
	// refreshed in time. Zero disables the corresponding reclaim.
	TypingTimeout time.Duration
	LockTimeout   time.Duration

	// SweepInterval is how often timeouts are checked. Defaults to a quarter
	// of the smallest non-zero timeout.
	SweepInterval time.Duration
}

// Stats is a point-in-time view of coordinator state.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Locks       int `json:"locks"`
	Typing      int `json:"typing"`
}

// Coordinator owns every piece of ephemeral collaboration state. All
// mutations and the broadcasts they produce run inside one critical section,
// so every broadcast reflects committed state and peers observe events in
// commit order.
type Coordinator struct {
	mu    sync.Mutex
	conns map[string]*Conn

	access   AccessChecker
	presence *presence.Registry
	locks    *editlock.Table
	typing   *typing.Registry
	rooms    *room.Broadcaster

	typingTimeout time.Duration
	lockTimeout   time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a coordinator and starts its timeout sweeper when any timeout
// is configured.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		conns:         make(map[string]*Conn),
		access:        cfg.Access,
		presence:      presence.NewRegistry(),
		locks:         editlock.NewTable(),
		typing:        typing.NewRegistry(),
		rooms:         room.NewBroadcaster(logger, cfg.BufferSize),
		typingTimeout: cfg.TypingTimeout,
		lockTimeout:   cfg.LockTimeout,
		logger:        logger.With("component", "coordinator"),
		metrics:       cfg.Metrics,
		done:          make(chan struct{}),
	}

	if interval := sweepInterval(cfg); interval > 0 {
		go c.sweepLoop(interval)
	}
	return c
}

func sweepInterval(cfg Config) time.Duration {
	if cfg.SweepInterval > 0 {
		return cfg.SweepInterval
	}
	smallest := cfg.TypingTimeout
	if cfg.LockTimeout > 0 && (smallest == 0 || cfg.LockTimeout < smallest) {
		smallest = cfg.LockTimeout
	}
	return smallest / 4
}

// Connect registers an authenticated identity as a new connection and returns
// its context and outbound event queue. The queue is closed when the
// connection is disconnected.
func (c *Coordinator) Connect(id identity.Identity) (*Conn, <-chan events.Event, error) {
	conn := &Conn{
		ID:          uuid.New().String(),
		Identity:    id,
		ConnectedAt: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.rooms.Register(conn.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("registering connection: %w", err)
	}
	c.conns[conn.ID] = conn
	c.recordStateLocked()

	c.logger.Info("connection opened",
		"conn_id", conn.ID,
		"user_id", id.UserID,
		"total_connections", len(c.conns),
	)
	return conn, out, nil
}

// HandleRaw decodes a raw client message and dispatches it. Decoding failures
// are answered with an error event on the same connection and returned so the
// transport can log them; they never terminate the connection.
func (c *Coordinator) HandleRaw(ctx context.Context, conn *Conn, raw []byte) error {
	msg, err := events.DecodeInbound(raw)
	if err != nil {
		code := events.CodeMalformedEvent
		if errors.Is(err, events.ErrUnknownEvent) {
			code = events.CodeUnknownEvent
		}
		c.metrics.Inbound("invalid", "rejected")
		c.sendError(conn, code, err.Error(), "")
		return err
	}
	return c.Handle(ctx, conn, msg)
}

// Handle dispatches one validated inbound event for conn.
func (c *Coordinator) Handle(ctx context.Context, conn *Conn, msg *events.Inbound) error {
	var err error
	switch msg.Type {
	case events.TypeHeartbeat:
		// Liveness is tracked by the transport; nothing to mutate here.
	case events.TypeJoinRoom:
		err = c.join(ctx, conn, msg.ProjectID)
	case events.TypeLeaveRoom:
		err = c.leave(conn, msg.ProjectID)
	case events.TypeEditStart:
		err = c.editStart(conn, msg.ProjectID, msg.ResourceID)
	case events.TypeEditStop:
		err = c.editStop(conn, msg.ProjectID, msg.ResourceID)
	case events.TypeTypingStart:
		err = c.typingStart(conn, msg.ProjectID, msg.ResourceID)
	case events.TypeTypingStop:
		err = c.typingStop(conn, msg.ProjectID, msg.ResourceID)
	case events.TypeEntityChanged:
		err = c.entityChanged(conn, msg)
	default:
		err = fmt.Errorf("%w: %q", events.ErrUnknownEvent, msg.Type)
		c.sendError(conn, events.CodeUnknownEvent, err.Error(), msg.ProjectID)
	}

	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	c.metrics.Inbound(string(msg.Type), outcome)
	return err
}

func (c *Coordinator) join(ctx context.Context, conn *Conn, projectID string) error {
	// The access check may hit the directory store; keep it outside the
	// critical section.
	allowed, err := c.canView(ctx, conn.Identity.UserID, projectID)
	if err != nil {
		c.logger.Error("access check failed",
			"conn_id", conn.ID,
			"user_id", conn.Identity.UserID,
			"project_id", projectID,
			"error", err)
	}
	if !allowed {
		c.sendError(conn, events.CodeAccessDenied, "you do not have access to this project", projectID)
		return fmt.Errorf("%w: project %s", ErrAccessDenied, projectID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.conns[conn.ID]; !ok {
		return ErrUnknownConnection
	}

	c.rooms.Join(projectID, conn.ID)
	snapshot := c.presence.Join(projectID, conn.ID, conn.Identity)
	c.broadcastLocked(projectID, events.PresenceSnapshot{ProjectID: projectID, Users: snapshot}, "")
	c.rooms.Send(conn.ID, c.roomStateLocked(projectID))
	c.recordStateLocked()

	c.logger.Debug("joined room",
		"conn_id", conn.ID,
		"user_id", conn.Identity.UserID,
		"project_id", projectID,
		"present", len(snapshot))
	return nil
}

func (c *Coordinator) canView(ctx context.Context, userID, projectID string) (bool, error) {
	if c.access == nil {
		return true, nil
	}
	return c.access.CanViewProject(ctx, userID, projectID)
}

func (c *Coordinator) leave(conn *Conn, projectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rooms.Leave(projectID, conn.ID)
	removed, snapshot := c.presence.Leave(projectID, conn.ID)
	if !removed {
		return nil
	}
	c.broadcastLocked(projectID, events.PresenceSnapshot{ProjectID: projectID, Users: snapshot}, "")

	// Another tab of the same user keeps its locks and typing alive.
	if !c.presence.HasUser(projectID, conn.Identity.UserID) {
		c.releaseInProjectLocked(projectID, conn.Identity)
	}
	c.recordStateLocked()
	return nil
}

// releaseInProjectLocked drops every lock and typing indicator id holds in
// the project and tells the room.
func (c *Coordinator) releaseInProjectLocked(projectID string, id identity.Identity) {
	for _, lock := range c.locks.ClearInProject(projectID, id) {
		c.broadcastLocked(projectID, events.EditStopped{
			ProjectID:  projectID,
			ResourceID: lock.ResourceID,
			UserID:     lock.Holder.UserID,
			Reason:     events.ReasonLeft,
		}, "")
	}
	for _, entry := range c.typing.ClearInProject(projectID, id) {
		c.broadcastLocked(projectID, events.TypingStopped{
			ProjectID:  projectID,
			ResourceID: entry.ResourceID,
			UserID:     entry.User.UserID,
			Reason:     events.ReasonLeft,
		}, "")
	}
}

func (c *Coordinator) editStart(conn *Conn, projectID, resourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireJoinedLocked(conn, projectID); err != nil {
		return err
	}

	res := c.locks.Acquire(projectID, resourceID, conn.Identity)
	if !res.Acquired {
		c.metrics.LockConflict()
		c.rooms.Send(conn.ID, events.EditConflict{
			ProjectID:  projectID,
			ResourceID: resourceID,
			Holder:     res.Lock.Holder,
		})
		return nil
	}

	if !res.Reentrant {
		c.broadcastLocked(projectID, events.EditStarted{
			ProjectID:  projectID,
			ResourceID: resourceID,
			UserID:     conn.Identity.UserID,
			User:       conn.Identity,
		}, conn.ID)
	}
	c.recordStateLocked()
	return nil
}

func (c *Coordinator) editStop(conn *Conn, projectID, resourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireJoinedLocked(conn, projectID); err != nil {
		return err
	}

	lock, released := c.locks.Release(projectID, resourceID, conn.Identity)
	if !released {
		return nil
	}
	c.broadcastLocked(lock.ProjectID, events.EditStopped{
		ProjectID:  lock.ProjectID,
		ResourceID: resourceID,
		UserID:     lock.Holder.UserID,
		Reason:     events.ReasonReleased,
	}, conn.ID)
	c.recordStateLocked()
	return nil
}

func (c *Coordinator) typingStart(conn *Conn, projectID, resourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireJoinedLocked(conn, projectID); err != nil {
		return err
	}

	if _, fresh := c.typing.Start(projectID, resourceID, conn.Identity); fresh {
		c.broadcastLocked(projectID, events.TypingStarted{
			ProjectID:  projectID,
			ResourceID: resourceID,
			UserID:     conn.Identity.UserID,
			User:       conn.Identity,
		}, conn.ID)
	}
	c.recordStateLocked()
	return nil
}

func (c *Coordinator) typingStop(conn *Conn, projectID, resourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireJoinedLocked(conn, projectID); err != nil {
		return err
	}

	entry, removed := c.typing.Stop(projectID, resourceID, conn.Identity)
	if !removed {
		return nil
	}
	c.broadcastLocked(entry.ProjectID, events.TypingStopped{
		ProjectID:  entry.ProjectID,
		ResourceID: resourceID,
		UserID:     conn.Identity.UserID,
		Reason:     events.ReasonReleased,
	}, conn.ID)
	c.recordStateLocked()
	return nil
}

func (c *Coordinator) entityChanged(conn *Conn, msg *events.Inbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireJoinedLocked(conn, msg.ProjectID); err != nil {
		return err
	}

	c.applyEntityChangeLocked(msg.ProjectID, msg.ResourceID, msg.ChangeKind, conn.Identity.UserID, msg.Payload, conn.ID)
	return nil
}

// ExternalChange records a mutation committed by the authoritative store:
// any lock on the resource is released and the change is relayed to the
// whole project room.
func (c *Coordinator) ExternalChange(projectID, resourceID, changeKind, userID string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.applyEntityChangeLocked(projectID, resourceID, changeKind, userID, payload, "")
}

func (c *Coordinator) applyEntityChangeLocked(projectID, resourceID, changeKind, userID string, payload []byte, excludeConnID string) {
	if lock, released := c.locks.ForceRelease(projectID, resourceID); released {
		c.broadcastLocked(lock.ProjectID, events.EditStopped{
			ProjectID:  lock.ProjectID,
			ResourceID: resourceID,
			UserID:     lock.Holder.UserID,
			Reason:     events.ReasonEntityChanged,
		}, "")
	}

	c.broadcastLocked(projectID, events.EntityChanged{
		ProjectID:  projectID,
		ResourceID: resourceID,
		ChangeKind: changeKind,
		UserID:     userID,
		Payload:    payload,
	}, excludeConnID)
	c.recordStateLocked()
}

func (c *Coordinator) requireJoinedLocked(conn *Conn, projectID string) error {
	if c.rooms.InRoom(projectID, conn.ID) {
		return nil
	}
	c.sendError(conn, events.CodeNotJoined, "join the project room first", projectID)
	return fmt.Errorf("%w: %s", ErrNotJoined, projectID)
}

// Presence returns the de-duplicated identities viewing a project.
func (c *Coordinator) Presence(projectID string) []identity.Identity {
	return c.presence.Snapshot(projectID)
}

// Holder returns the current lock on a resource, if any.
func (c *Coordinator) Holder(projectID, resourceID string) (editlock.Lock, bool) {
	return c.locks.Holder(projectID, resourceID)
}

// Stats returns current registry sizes.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Coordinator) statsLocked() Stats {
	return Stats{
		Connections: len(c.conns),
		Rooms:       c.rooms.RoomCount(),
		Locks:       c.locks.Count(),
		Typing:      c.typing.Count(),
	}
}

func (c *Coordinator) recordStateLocked() {
	if c.metrics == nil {
		return
	}
	s := c.statsLocked()
	c.metrics.SetState(s.Connections, s.Rooms, s.Locks, s.Typing)
}

func (c *Coordinator) roomStateLocked(projectID string) events.RoomState {
	state := events.RoomState{
		ProjectID: projectID,
		Locks:     []events.LockInfo{},
		Typing:    []events.TypingInfo{},
	}
	for _, lock := range c.locks.ListProject(projectID) {
		state.Locks = append(state.Locks, events.LockInfo{
			ResourceID: lock.ResourceID,
			User:       lock.Holder,
			AcquiredAt: lock.AcquiredAt,
		})
	}
	for _, entry := range c.typing.ListProject(projectID) {
		state.Typing = append(state.Typing, events.TypingInfo{
			ResourceID: entry.ResourceID,
			User:       entry.User,
			StartedAt:  entry.StartedAt,
		})
	}
	return state
}

func (c *Coordinator) broadcastLocked(projectID string, ev events.Event, excludeConnID string) {
	_, dropped := c.rooms.Broadcast(projectID, ev, excludeConnID)
	c.metrics.Dropped(dropped)
}

func (c *Coordinator) sendError(conn *Conn, code events.ErrorCode, message, projectID string) {
	c.rooms.Send(conn.ID, events.Error{
		Code:      code,
		Message:   message,
		ProjectID: projectID,
	})
}

// Close stops the sweeper and closes every outbound queue.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.rooms.Close()
	})
}

// ABOUTME: Connection teardown and timeout reclaim for the coordinator
// ABOUTME: Guarantees no lock, typing indicator, or presence entry outlives its connection

package collab

import (
	"time"

	"github.com/2389/coven-collab/internal/events"
)

// Disconnect tears down a connection regardless of how it ended. It leaves
// every joined room (broadcasting updated presence), releases every lock and
// typing indicator held by the connection's identity, and closes the
// connection's outbound queue. Calling it more than once is a no-op.
func (c *Coordinator) Disconnect(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return
	}

	// Unregister first so the departing connection receives none of the
	// cleanup broadcasts.
	joined := c.rooms.Unregister(connID)
	for _, projectID := range joined {
		if removed, snapshot := c.presence.Leave(projectID, connID); removed {
			c.broadcastLocked(projectID, events.PresenceSnapshot{ProjectID: projectID, Users: snapshot}, "")
		}
	}

	locks := c.locks.ClearForIdentity(conn.Identity)
	for _, lock := range locks {
		c.broadcastLocked(lock.ProjectID, events.EditStopped{
			ProjectID:  lock.ProjectID,
			ResourceID: lock.ResourceID,
			UserID:     lock.Holder.UserID,
			Reason:     events.ReasonDisconnected,
		}, "")
	}

	indicators := c.typing.ClearForIdentity(conn.Identity)
	for _, entry := range indicators {
		c.broadcastLocked(entry.ProjectID, events.TypingStopped{
			ProjectID:  entry.ProjectID,
			ResourceID: entry.ResourceID,
			UserID:     entry.User.UserID,
			Reason:     events.ReasonDisconnected,
		}, "")
	}

	delete(c.conns, connID)
	c.recordStateLocked()

	c.logger.Info("connection closed",
		"conn_id", connID,
		"user_id", conn.Identity.UserID,
		"rooms", len(joined),
		"locks_released", len(locks),
		"typing_cleared", len(indicators),
		"duration", time.Since(conn.ConnectedAt).Round(time.Millisecond),
		"total_connections", len(c.conns),
	)
}

// Sweep reclaims typing indicators and locks whose last refresh is older than
// their configured timeout, measured from now. It returns the number of
// entries reclaimed.
func (c *Coordinator) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	reclaimed := 0

	if c.typingTimeout > 0 {
		expired := c.typing.Expire(now.Add(-c.typingTimeout))
		for _, entry := range expired {
			c.broadcastLocked(entry.ProjectID, events.TypingStopped{
				ProjectID:  entry.ProjectID,
				ResourceID: entry.ResourceID,
				UserID:     entry.User.UserID,
				Reason:     events.ReasonExpired,
			}, "")
		}
		c.metrics.Reclaimed("typing", len(expired))
		reclaimed += len(expired)
	}

	if c.lockTimeout > 0 {
		expired := c.locks.Expire(now.Add(-c.lockTimeout))
		for _, lock := range expired {
			c.broadcastLocked(lock.ProjectID, events.EditStopped{
				ProjectID:  lock.ProjectID,
				ResourceID: lock.ResourceID,
				UserID:     lock.Holder.UserID,
				Reason:     events.ReasonExpired,
			}, "")
		}
		c.metrics.Reclaimed("lock", len(expired))
		reclaimed += len(expired)
	}

	if reclaimed > 0 {
		c.logger.Debug("reclaimed stale state", "count", reclaimed)
		c.recordStateLocked()
	}
	return reclaimed
}

func (c *Coordinator) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}

// ABOUTME: Heartbeat tracker that reclaims connections which stopped talking
// ABOUTME: Keeps connections in last-seen order so each sweep stops at the first live one

package liveness

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	lastSeen time.Time
	element  *list.Element
}

// Tracker records when each connection was last heard from and reports the
// ones that have been silent for longer than the timeout.
type Tracker struct {
	mu       sync.Mutex
	seen     map[string]*entry
	order    *list.List // connection ids, least recently seen at front
	timeout  time.Duration
	interval time.Duration
	onExpire func(connID string)
	done     chan struct{}
	closed   bool
}

// New creates a tracker. When timeout is positive a background goroutine
// sweeps every interval and calls onExpire for each idle connection; with a
// zero timeout nothing ever expires.
func New(timeout, interval time.Duration, onExpire func(connID string)) *Tracker {
	if interval <= 0 {
		interval = timeout / 2
	}
	t := &Tracker{
		seen:     make(map[string]*entry),
		order:    list.New(),
		timeout:  timeout,
		interval: interval,
		onExpire: onExpire,
		done:     make(chan struct{}),
	}
	if timeout > 0 && interval > 0 {
		go t.loop()
	}
	return t
}

// Touch marks a connection as alive now.
func (t *Tracker) Touch(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if e, ok := t.seen[connID]; ok {
		e.lastSeen = now
		t.order.MoveToBack(e.element)
		return
	}
	t.seen[connID] = &entry{
		lastSeen: now,
		element:  t.order.PushBack(connID),
	}
}

// Forget stops tracking a connection.
func (t *Tracker) Forget(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.seen[connID]; ok {
		t.order.Remove(e.element)
		delete(t.seen, connID)
	}
}

// LastSeen returns when the connection was last touched.
func (t *Tracker) LastSeen(connID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.seen[connID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// Len returns the number of tracked connections.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Sweep removes every connection idle for longer than the timeout, invokes
// onExpire for each outside the lock, and returns their ids.
func (t *Tracker) Sweep() []string {
	if t.timeout <= 0 {
		return nil
	}

	t.mu.Lock()
	cutoff := time.Now().Add(-t.timeout)
	var expired []string
	for front := t.order.Front(); front != nil; front = t.order.Front() {
		connID, _ := front.Value.(string)
		e := t.seen[connID]
		if !e.lastSeen.Before(cutoff) {
			break
		}
		t.order.Remove(front)
		delete(t.seen, connID)
		expired = append(expired, connID)
	}
	t.mu.Unlock()

	if t.onExpire != nil {
		for _, connID := range expired {
			t.onExpire(connID)
		}
	}
	return expired
}

func (t *Tracker) loop() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-t.done:
			return
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		close(t.done)
		t.closed = true
	}
}

// ABOUTME: Advisory per-resource edit locks with holder identity and acquisition time
// ABOUTME: Acquire never waits; contention is reported as a Conflict result

package editlock

import (
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-collab/internal/identity"
)

// Lock is a live edit lock on a single resource.
type Lock struct {
	ProjectID  string
	ResourceID string
	Holder     identity.Identity
	AcquiredAt time.Time
	// TouchedAt is refreshed by re-entrant acquires and drives lock expiry.
	TouchedAt time.Time
}

// Result is the outcome of an Acquire call. When Acquired is false the
// request lost to Lock.Holder and nothing was changed.
type Result struct {
	Acquired  bool
	Reentrant bool
	Lock      Lock
}

// key identifies a lockable resource. Resource ids are only unique within a
// project, so a lock in one project is invisible to requests for another.
type key struct {
	projectID  string
	resourceID string
}

// Table holds at most one lock per (project, resource).
type Table struct {
	mu    sync.Mutex
	locks map[key]*Lock
}

// NewTable creates an empty lock table.
func NewTable() *Table {
	return &Table{
		locks: make(map[key]*Lock),
	}
}

// Acquire takes the lock on the resource for id. If the resource is unlocked
// the lock is created; if id already holds it the call succeeds again without
// changing the holder; otherwise the current holder is returned as a conflict.
func (t *Table) Acquire(projectID, resourceID string, id identity.Identity) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	k := key{projectID: projectID, resourceID: resourceID}
	if existing, ok := t.locks[k]; ok {
		if !existing.Holder.Same(id) {
			return Result{Acquired: false, Lock: *existing}
		}
		existing.TouchedAt = now
		return Result{Acquired: true, Reentrant: true, Lock: *existing}
	}

	lock := &Lock{
		ProjectID:  projectID,
		ResourceID: resourceID,
		Holder:     id,
		AcquiredAt: now,
		TouchedAt:  now,
	}
	t.locks[k] = lock
	return Result{Acquired: true, Lock: *lock}
}

// Release drops the lock only when id is the holder. Releasing a lock held by
// someone else, or no lock at all, is a no-op and reports false.
func (t *Table) Release(projectID, resourceID string, id identity.Identity) (Lock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{projectID: projectID, resourceID: resourceID}
	existing, ok := t.locks[k]
	if !ok || !existing.Holder.Same(id) {
		return Lock{}, false
	}
	delete(t.locks, k)
	return *existing, true
}

// ForceRelease drops the lock regardless of holder. It is used when the
// resource was mutated through the authoritative store.
func (t *Table) ForceRelease(projectID, resourceID string) (Lock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{projectID: projectID, resourceID: resourceID}
	existing, ok := t.locks[k]
	if !ok {
		return Lock{}, false
	}
	delete(t.locks, k)
	return *existing, true
}

// ClearForIdentity force-releases every lock held by id and returns them so
// the caller can announce each release to the owning project.
func (t *Table) ClearForIdentity(id identity.Identity) []Lock {
	return t.removeWhere(func(l *Lock) bool {
		return l.Holder.Same(id)
	})
}

// ClearInProject force-releases the locks id holds in one project.
func (t *Table) ClearInProject(projectID string, id identity.Identity) []Lock {
	return t.removeWhere(func(l *Lock) bool {
		return l.ProjectID == projectID && l.Holder.Same(id)
	})
}

// Expire removes every lock last touched before the cutoff.
func (t *Table) Expire(before time.Time) []Lock {
	return t.removeWhere(func(l *Lock) bool {
		return l.TouchedAt.Before(before)
	})
}

func (t *Table) removeWhere(match func(*Lock) bool) []Lock {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []Lock
	for k, lock := range t.locks {
		if match(lock) {
			removed = append(removed, *lock)
			delete(t.locks, k)
		}
	}
	sortLocks(removed)
	return removed
}

// Holder returns the current lock on a resource, if any.
func (t *Table) Holder(projectID, resourceID string) (Lock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.locks[key{projectID: projectID, resourceID: resourceID}]
	if !ok {
		return Lock{}, false
	}
	return *lock, true
}

// ListProject returns all locks belonging to a project.
func (t *Table) ListProject(projectID string) []Lock {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Lock
	for _, lock := range t.locks {
		if lock.ProjectID == projectID {
			out = append(out, *lock)
		}
	}
	sortLocks(out)
	return out
}

// Count returns the number of live locks.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func sortLocks(locks []Lock) {
	sort.Slice(locks, func(i, j int) bool {
		if locks[i].ProjectID != locks[j].ProjectID {
			return locks[i].ProjectID < locks[j].ProjectID
		}
		return locks[i].ResourceID < locks[j].ResourceID
	})
}

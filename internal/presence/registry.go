// ABOUTME: Per-project presence registry keyed by connection
// ABOUTME: Snapshots are de-duplicated by user id across a user's connections

package presence

import (
	"sort"
	"sync"

	"github.com/2389/coven-collab/internal/identity"
)

// Registry tracks which connections are viewing which project. Entries are
// keyed by (projectID, connectionID); snapshots collapse them by user id.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]map[string]identity.Identity // projectID -> connID -> identity
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		projects: make(map[string]map[string]identity.Identity),
	}
}

// Join adds a connection to a project. Joining twice with the same connection
// is a no-op apart from refreshing the stored identity. The returned snapshot
// reflects the registry state immediately after the mutation.
func (r *Registry) Join(projectID, connID string, id identity.Identity) []identity.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.projects[projectID]
	if !ok {
		conns = make(map[string]identity.Identity)
		r.projects[projectID] = conns
	}
	conns[connID] = id

	return snapshotLocked(conns)
}

// Leave removes a connection from a project. It reports whether the
// connection was present and returns the post-mutation snapshot.
func (r *Registry) Leave(projectID, connID string) (bool, []identity.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.projects[projectID]
	if !ok {
		return false, []identity.Identity{}
	}
	if _, exists := conns[connID]; !exists {
		return false, snapshotLocked(conns)
	}

	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.projects, projectID)
	}
	return true, snapshotLocked(conns)
}

// Snapshot returns the distinct identities present in a project, ordered by
// user id. Which connection supplies a user's identity is unspecified.
func (r *Registry) Snapshot(projectID string) []identity.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshotLocked(r.projects[projectID])
}

// HasUser reports whether any connection of userID is present in the project.
func (r *Registry) HasUser(projectID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.projects[projectID] {
		if id.UserID == userID {
			return true
		}
	}
	return false
}

// ProjectCount returns the number of projects with at least one connection.
func (r *Registry) ProjectCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

func snapshotLocked(conns map[string]identity.Identity) []identity.Identity {
	byUser := make(map[string]identity.Identity, len(conns))
	for _, id := range conns {
		byUser[id.UserID] = id
	}

	out := make([]identity.Identity, 0, len(byUser))
	for _, id := range byUser {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UserID < out[j].UserID
	})
	return out
}

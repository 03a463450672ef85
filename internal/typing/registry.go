// ABOUTME: Per-resource registry of identities currently typing
// ABOUTME: Empty resource sets are removed so no placeholders are retained

package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-collab/internal/identity"
)

// Entry records that a user is typing on a resource.
type Entry struct {
	ProjectID  string
	ResourceID string
	User       identity.Identity
	StartedAt  time.Time
}

// key identifies a resource within its project.
type key struct {
	projectID  string
	resourceID string
}

// Registry holds typing entries keyed by (project, resource, user).
type Registry struct {
	mu        sync.Mutex
	resources map[key]map[string]*Entry // resource -> userID -> entry
}

// NewRegistry creates an empty typing registry.
func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[key]map[string]*Entry),
	}
}

// Start inserts or overwrites the entry for id on the resource. It reports
// whether the user was not already typing there.
func (r *Registry) Start(projectID, resourceID string, id identity.Identity) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{projectID: projectID, resourceID: resourceID}
	users, ok := r.resources[k]
	if !ok {
		users = make(map[string]*Entry)
		r.resources[k] = users
	}
	_, existed := users[id.UserID]

	entry := &Entry{
		ProjectID:  projectID,
		ResourceID: resourceID,
		User:       id,
		StartedAt:  time.Now(),
	}
	users[id.UserID] = entry
	return *entry, !existed
}

// Stop removes the entry for id on the resource and reports whether one
// existed.
func (r *Registry) Stop(projectID, resourceID string, id identity.Identity) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{projectID: projectID, resourceID: resourceID}
	users, ok := r.resources[k]
	if !ok {
		return Entry{}, false
	}
	entry, ok := users[id.UserID]
	if !ok {
		return Entry{}, false
	}

	delete(users, id.UserID)
	if len(users) == 0 {
		delete(r.resources, k)
	}
	return *entry, true
}

// ClearForIdentity removes every entry for id across all resources.
func (r *Registry) ClearForIdentity(id identity.Identity) []Entry {
	return r.removeWhere(func(e *Entry) bool {
		return e.User.Same(id)
	})
}

// ClearInProject removes the entries for id in one project.
func (r *Registry) ClearInProject(projectID string, id identity.Identity) []Entry {
	return r.removeWhere(func(e *Entry) bool {
		return e.ProjectID == projectID && e.User.Same(id)
	})
}

// Expire removes every entry started before the cutoff.
func (r *Registry) Expire(before time.Time) []Entry {
	return r.removeWhere(func(e *Entry) bool {
		return e.StartedAt.Before(before)
	})
}

func (r *Registry) removeWhere(match func(*Entry) bool) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Entry
	for k, users := range r.resources {
		for userID, entry := range users {
			if match(entry) {
				removed = append(removed, *entry)
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(r.resources, k)
		}
	}
	sortEntries(removed)
	return removed
}

// ListProject returns all entries belonging to a project.
func (r *Registry) ListProject(projectID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for k, users := range r.resources {
		if k.projectID != projectID {
			continue
		}
		for _, entry := range users {
			out = append(out, *entry)
		}
	}
	sortEntries(out)
	return out
}

// Count returns the total number of typing entries.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, users := range r.resources {
		n += len(users)
	}
	return n
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ProjectID != entries[j].ProjectID {
			return entries[i].ProjectID < entries[j].ProjectID
		}
		if entries[i].ResourceID != entries[j].ResourceID {
			return entries[i].ResourceID < entries[j].ResourceID
		}
		return entries[i].User.UserID < entries[j].User.UserID
	})
}

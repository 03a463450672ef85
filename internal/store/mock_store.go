// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	users    map[string]*User          // keyed by user ID
	sessions map[string]*Session       // keyed by token
	members  map[string]*ProjectMember // keyed by "projectID:userID"
	byName   map[string]string         // username -> user ID
	calls    map[string]int            // CanViewProject calls keyed by "userID:projectID"
	errs     map[string]error          // injected errors keyed by method name
}

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
		members:  make(map[string]*ProjectMember),
		byName:   make(map[string]string),
		calls:    make(map[string]int),
		errs:     make(map[string]error),
	}
}

// FailWith makes every later call to method return err. A nil err clears it.
func (m *MockStore) FailWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// AccessChecks returns how many times CanViewProject was asked about a pair.
func (m *MockStore) AccessChecks(userID, projectID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[userID+":"+projectID]
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errs["CreateUser"]; err != nil {
		return err
	}
	if _, ok := m.byName[user.Username]; ok {
		return ErrUsernameExists
	}

	u := *user
	m.users[u.ID] = &u
	m.byName[u.Username] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.errs["GetUser"]; err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	id, ok := m.byName[username]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetUser(ctx, id)
}

// CountUsers returns the number of users.
func (m *MockStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// CreateSession stores a new session.
func (m *MockStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[session.UserID]; !ok {
		return fmt.Errorf("inserting session: unknown user %s", session.UserID)
	}
	s := *session
	m.sessions[s.Token] = &s
	return nil
}

// GetSession retrieves a non-expired session.
func (m *MockStore) GetSession(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok || !s.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// DeleteSession removes a session.
func (m *MockStore) DeleteSession(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// DeleteExpiredSessions removes all expired sessions.
func (m *MockStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	now := time.Now()
	for token, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, token)
			n++
		}
	}
	return n, nil
}

// AddProjectMember grants or replaces a membership.
func (m *MockStore) AddProjectMember(ctx context.Context, member *ProjectMember) error {
	if !member.Role.Valid() {
		return fmt.Errorf("invalid project role %q", member.Role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pm := *member
	m.members[pm.ProjectID+":"+pm.UserID] = &pm
	return nil
}

// RemoveProjectMember revokes a membership.
func (m *MockStore) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, projectID+":"+userID)
	return nil
}

// ListProjectMembers returns a project's members ordered by user id.
func (m *MockStore) ListProjectMembers(ctx context.Context, projectID string) ([]*ProjectMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ProjectMember
	for _, pm := range m.members {
		if pm.ProjectID == projectID {
			cp := *pm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// CanViewProject mirrors the SQLite rule: admins or members.
func (m *MockStore) CanViewProject(ctx context.Context, userID, projectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[userID+":"+projectID]++
	if err := m.errs["CanViewProject"]; err != nil {
		return false, err
	}
	if u, ok := m.users[userID]; ok && u.IsAdmin {
		return true, nil
	}
	_, ok := m.members[projectID+":"+userID]
	return ok, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

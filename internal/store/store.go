// ABOUTME: Store interface and data types for the collaboration directory
// ABOUTME: Defines users, login sessions, and project memberships

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUsernameExists is returned when trying to create a user with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// User is a directory entry for someone who may connect.
type User struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash, empty for token-only users
	DisplayName  string
	AvatarURL    string
	IsAdmin      bool // admins may view every project
	CreatedAt    time.Time
}

// Session is a cookie-backed login session.
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ProjectRole is a user's role within a project.
type ProjectRole string

const (
	ProjectRoleOwner  ProjectRole = "owner"
	ProjectRoleEditor ProjectRole = "editor"
	ProjectRoleViewer ProjectRole = "viewer"
)

// ValidProjectRoles lists all valid project roles
var ValidProjectRoles = []ProjectRole{
	ProjectRoleOwner,
	ProjectRoleEditor,
	ProjectRoleViewer,
}

// Valid reports whether r is one of ValidProjectRoles.
func (r ProjectRole) Valid() bool {
	for _, v := range ValidProjectRoles {
		if v == r {
			return true
		}
	}
	return false
}

// ProjectMember grants a user visibility of a project.
type ProjectMember struct {
	ProjectID string
	UserID    string
	Role      ProjectRole
	CreatedAt time.Time
}

// Store defines the directory operations the server relies on.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CountUsers(ctx context.Context) (int, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// Project membership
	AddProjectMember(ctx context.Context, member *ProjectMember) error
	RemoveProjectMember(ctx context.Context, projectID, userID string) error
	ListProjectMembers(ctx context.Context, projectID string) ([]*ProjectMember, error)
	CanViewProject(ctx context.Context, userID, projectID string) (bool, error)

	Close() error
}

// Package store provides the user directory for coven-collab using SQLite.
//
// The directory answers the three questions the collaboration server asks of
// the outside world: who does this credential belong to (users, sessions),
// and may this user view this project (project memberships). Collaboration
// state itself (presence, locks, typing) is never persisted.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite with WAL mode, foreign keys, idempotent
//     schema creation, and column migrations for older databases.
//   - MockStore: in-memory implementation for handler tests, with error
//     injection and access-check counters.
//
// # Access rule
//
// CanViewProject is true when the user is an admin or has any membership row
// for the project, regardless of role.
package store

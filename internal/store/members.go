// ABOUTME: Project membership store methods
// ABOUTME: Membership is the access check consulted before a connection joins a project room

package store

import (
	"context"
	"fmt"
)

// AddProjectMember grants a user a role in a project. Granting again replaces
// the role.
func (s *SQLiteStore) AddProjectMember(ctx context.Context, member *ProjectMember) error {
	if !member.Role.Valid() {
		return fmt.Errorf("invalid project role %q", member.Role)
	}

	query := `
		INSERT INTO project_members (project_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = excluded.role
	`

	_, err := s.db.ExecContext(ctx, query,
		member.ProjectID,
		member.UserID,
		member.Role,
		formatTime(member.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("adding project member: %w", err)
	}

	s.logger.Debug("added project member", "project_id", member.ProjectID, "user_id", member.UserID, "role", member.Role)
	return nil
}

// RemoveProjectMember revokes a user's membership. This operation is
// idempotent.
func (s *SQLiteStore) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM project_members WHERE project_id = ? AND user_id = ?`,
		projectID, userID)
	if err != nil {
		return fmt.Errorf("removing project member: %w", err)
	}

	s.logger.Debug("removed project member", "project_id", projectID, "user_id", userID)
	return nil
}

// ListProjectMembers returns a project's members ordered by user id.
func (s *SQLiteStore) ListProjectMembers(ctx context.Context, projectID string) ([]*ProjectMember, error) {
	query := `
		SELECT project_id, user_id, role, created_at
		FROM project_members
		WHERE project_id = ?
		ORDER BY user_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying project members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []*ProjectMember
	for rows.Next() {
		var m ProjectMember
		var createdAtStr string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning project member: %w", err)
		}
		if m.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project members: %w", err)
	}
	return members, nil
}

// CanViewProject reports whether a user may view a project: admins see every
// project, everyone else needs a membership.
func (s *SQLiteStore) CanViewProject(ctx context.Context, userID, projectID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE id = ? AND is_admin = 1
			UNION ALL
			SELECT 1 FROM project_members WHERE user_id = ? AND project_id = ?
		)
	`

	var allowed bool
	if err := s.db.QueryRowContext(ctx, query, userID, userID, projectID).Scan(&allowed); err != nil {
		return false, fmt.Errorf("checking project access: %w", err)
	}
	return allowed, nil
}

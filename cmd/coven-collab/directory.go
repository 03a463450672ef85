// ABOUTME: Directory administration commands that operate on the SQLite store directly
// ABOUTME: Issue connection tokens and grant or revoke project access

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-collab/internal/auth"
	"github.com/2389/coven-collab/internal/config"
	"github.com/2389/coven-collab/internal/store"
)

const defaultTokenTTL = 30 * 24 * time.Hour

func openStore() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

// resolveUser accepts either a user id or a username.
func resolveUser(ctx context.Context, s store.Store, ref string) (*store.User, error) {
	u, err := s.GetUser(ctx, ref)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	u, err = s.GetUserByUsername(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %q not found", ref)
	}
	return u, err
}

func runToken(ctx context.Context, args []string) error {
	var userRef, ttlRaw string
	if err := parseFlags(args, map[string]*string{
		"user": &userRef,
		"ttl":  &ttlRaw,
	}); err != nil {
		return err
	}
	if userRef == "" {
		return fmt.Errorf("--user flag is required")
	}

	ttl := defaultTokenTTL
	if ttlRaw != "" {
		parsed, err := time.ParseDuration(ttlRaw)
		if err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
		if parsed <= 0 {
			return fmt.Errorf("--ttl must be positive")
		}
		ttl = parsed
	}

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	user, err := resolveUser(ctx, s, userRef)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(user.ID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runGrant(ctx context.Context, args []string) error {
	var projectID, userRef, roleRaw string
	if err := parseFlags(args, map[string]*string{
		"project": &projectID,
		"user":    &userRef,
		"role":    &roleRaw,
	}); err != nil {
		return err
	}
	if projectID == "" || userRef == "" {
		return fmt.Errorf("--project and --user flags are required")
	}

	role := store.ProjectRoleEditor
	if roleRaw != "" {
		role = store.ProjectRole(roleRaw)
		if !role.Valid() {
			return fmt.Errorf("invalid --role %q (want owner, editor or viewer)", roleRaw)
		}
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := resolveUser(ctx, s, userRef)
	if err != nil {
		return err
	}

	if err := s.AddProjectMember(ctx, &store.ProjectMember{
		ProjectID: projectID,
		UserID:    user.ID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("granting access: %w", err)
	}

	color.New(color.FgGreen).Printf("✓ %s is now %s of project %s\n", user.Username, role, projectID)
	return nil
}

func runRevoke(ctx context.Context, args []string) error {
	var projectID, userRef string
	if err := parseFlags(args, map[string]*string{
		"project": &projectID,
		"user":    &userRef,
	}); err != nil {
		return err
	}
	if projectID == "" || userRef == "" {
		return fmt.Errorf("--project and --user flags are required")
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := resolveUser(ctx, s, userRef)
	if err != nil {
		return err
	}

	if err := s.RemoveProjectMember(ctx, projectID, user.ID); err != nil {
		return fmt.Errorf("revoking access: %w", err)
	}

	color.New(color.FgGreen).Printf("✓ removed %s from project %s\n", user.Username, projectID)
	return nil
}

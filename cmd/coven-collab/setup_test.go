// ABOUTME: Tests for CLI flag parsing, username derivation, and log level parsing
// ABOUTME: Runs without touching the filesystem or a database

package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/2389/coven-collab/internal/config"
	"github.com/2389/coven-collab/internal/store"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantProject string
		wantUser    string
		wantErr     bool
	}{
		{name: "separate values", args: []string{"--project", "p1", "--user", "alice"}, wantProject: "p1", wantUser: "alice"},
		{name: "equals values", args: []string{"--project=p1", "--user=alice"}, wantProject: "p1", wantUser: "alice"},
		{name: "empty", args: nil},
		{name: "missing value", args: []string{"--project"}, wantErr: true},
		{name: "unknown flag", args: []string{"--colour", "red"}, wantErr: true},
		{name: "positional", args: []string{"p1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var project, user string
			err := parseFlags(tt.args, map[string]*string{"project": &project, "user": &user})
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if project != tt.wantProject || user != tt.wantUser {
				t.Errorf("got project=%q user=%q, want project=%q user=%q", project, user, tt.wantProject, tt.wantUser)
			}
		})
	}
}

func TestDeriveUsername(t *testing.T) {
	tests := map[string]string{
		"Ada Lovelace":   "ada-lovelace",
		"  Grace Hopper": "grace-hopper",
		"ops.team_1":     "ops-team-1",
		"???":            "",
	}
	for in, want := range tests {
		if got := deriveUsername(in); got != want {
			t.Errorf("deriveUsername(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestColorHandler_DerivedHandlersShareLock(t *testing.T) {
	h := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}).Handler()
	derived, ok := h.WithAttrs([]slog.Attr{slog.String("component", "test")}).(*colorHandler)
	if !ok {
		t.Fatalf("expected *colorHandler, got %T", h)
	}
	if derived.mu != h.(*colorHandler).mu {
		t.Error("derived handler should share the parent's mutex")
	}
	if !derived.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled")
	}
}

func TestResolveUser(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	if err := s.CreateUser(ctx, &store.User{ID: "u-1", Username: "alice"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	for _, ref := range []string{"u-1", "alice"} {
		u, err := resolveUser(ctx, s, ref)
		if err != nil {
			t.Fatalf("resolveUser(%q): %v", ref, err)
		}
		if u.ID != "u-1" {
			t.Errorf("resolveUser(%q) = %q, want u-1", ref, u.ID)
		}
	}

	if _, err := resolveUser(ctx, s, "ghost"); err == nil {
		t.Error("expected error for unknown user")
	}
}

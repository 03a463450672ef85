// ABOUTME: Connection authenticator resolving handshake credentials to an identity
// ABOUTME: Accepts a bearer token, an optional token query parameter, or a session cookie

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/coven-collab/internal/identity"
	"github.com/2389/coven-collab/internal/store"
)

// ErrUnauthenticated is returned when a handshake carries no usable credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// DefaultSessionCookie is the cookie name used when none is configured.
const DefaultSessionCookie = "coven_session"

// UserLookup resolves a user id to its directory record.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// SessionLookup resolves a session token to its record.
type SessionLookup interface {
	GetSession(ctx context.Context, token string) (*store.Session, error)
}

// AuthenticatorConfig wires an Authenticator to its collaborators.
type AuthenticatorConfig struct {
	Verifier        TokenVerifier
	Users           UserLookup
	Sessions        SessionLookup
	CookieName      string
	AllowQueryToken bool
	Logger          *slog.Logger
}

// Authenticator validates handshake credentials. Explicit tokens take
// precedence over the session cookie.
type Authenticator struct {
	verifier        TokenVerifier
	users           UserLookup
	sessions        SessionLookup
	cookieName      string
	allowQueryToken bool
	logger          *slog.Logger
}

// NewAuthenticator creates an authenticator from cfg.
func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &Authenticator{
		verifier:        cfg.Verifier,
		users:           cfg.Users,
		sessions:        cfg.Sessions,
		cookieName:      cookieName,
		allowQueryToken: cfg.AllowQueryToken,
		logger:          logger.With("component", "authenticator"),
	}
}

// CookieName returns the session cookie name this authenticator reads.
func (a *Authenticator) CookieName() string {
	return a.cookieName
}

// Authenticate resolves the request's credential to an identity. Every
// failure wraps ErrUnauthenticated.
func (a *Authenticator) Authenticate(r *http.Request) (identity.Identity, error) {
	userID, err := a.resolveUserID(r)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	user, err := a.users.GetUser(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Error("user lookup failed", "user_id", userID, "error", err)
		}
		return identity.Identity{}, fmt.Errorf("%w: unknown user", ErrUnauthenticated)
	}

	return identity.New(user.ID, user.DisplayName, user.AvatarURL), nil
}

func (a *Authenticator) resolveUserID(r *http.Request) (string, error) {
	if token, ok := a.explicitToken(r); ok {
		if a.verifier == nil {
			return "", errors.New("token authentication disabled")
		}
		return a.verifier.Verify(token)
	}

	cookie, err := r.Cookie(a.cookieName)
	if err != nil || cookie.Value == "" {
		return "", errors.New("no credential")
	}
	if a.sessions == nil {
		return "", errors.New("session authentication disabled")
	}

	sess, err := a.sessions.GetSession(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Error("session lookup failed", "error", err)
		}
		return "", errors.New("invalid session")
	}
	if !sess.ExpiresAt.After(time.Now()) {
		return "", errors.New("session expired")
	}
	return sess.UserID, nil
}

func (a *Authenticator) explicitToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		return strings.TrimSpace(token), ok && strings.TrimSpace(token) != ""
	}
	if a.allowQueryToken {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, true
		}
	}
	return "", false
}

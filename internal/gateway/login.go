// ABOUTME: Password login and logout endpoints that manage the session cookie
// ABOUTME: The cookie issued here is one of the credentials accepted by the websocket handshake

package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/coven-collab/internal/identity"
	"github.com/2389/coven-collab/internal/store"
)

// dummyHash is compared against when the user is unknown so that failed
// logins take the same time either way.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

const maxLoginBodyBytes = 4096

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar"`
	Color       string    `json:"color"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// handleLogin verifies a username and password and sets the session cookie.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		g.sendJSONError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := g.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(req.Password))
			g.rejectLogin(w, r, req.Username)
			return
		}
		g.logger.Error("failed to get user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(req.Password))
		g.rejectLogin(w, r, req.Username)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		g.rejectLogin(w, r, req.Username)
		return
	}

	sess, err := g.createSession(r, user.ID)
	if err != nil {
		g.logger.Error("failed to create session", "user_id", user.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.authenticator.CookieName(),
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   g.config.Auth.SecureCookie || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	g.logger.Info("user logged in", "user_id", user.ID, "username", user.Username)

	id := identity.New(user.ID, user.DisplayName, user.AvatarURL)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(loginResponse{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Avatar:      id.Avatar,
		Color:       id.Color,
		ExpiresAt:   sess.ExpiresAt,
	})
}

func (g *Gateway) rejectLogin(w http.ResponseWriter, r *http.Request, username string) {
	g.metrics.AuthRejected()
	g.logger.Info("login failed", "username", username, "remote_addr", r.RemoteAddr)
	g.sendJSONError(w, http.StatusUnauthorized, "invalid username or password")
}

// handleLogout deletes the session named by the cookie and clears it.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(g.authenticator.CookieName()); err == nil && cookie.Value != "" {
		if err := g.store.DeleteSession(r.Context(), cookie.Value); err != nil {
			g.logger.Error("failed to delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.authenticator.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.config.Auth.SecureCookie || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) createSession(r *http.Request, userID string) (*store.Session, error) {
	token, err := generateSecureToken(32)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &store.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(g.config.Auth.SessionTTL),
	}
	if err := g.store.CreateSession(r.Context(), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// generateSecureToken returns a hex-encoded random token of the given byte length.
func generateSecureToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

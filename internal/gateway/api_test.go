// ABOUTME: Tests for the presence and resource-changed HTTP endpoints
// ABOUTME: Verifies authentication, project authorization and the resulting room events

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-collab/internal/events"
)

func TestPresence(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "alice", false, "p1")
	env.addUser(t, "bob", false, "p1")
	env.addUser(t, "mallory", false)
	env.addUser(t, "root", true)

	// Two tabs for alice collapse into one user.
	joinRoom(t, env.dial(t, "alice"), "p1")
	joinRoom(t, env.dial(t, "alice"), "p1")

	tests := []struct {
		name       string
		userID     string
		wantStatus int
		wantUsers  []string
	}{
		{name: "member", userID: "bob", wantStatus: http.StatusOK, wantUsers: []string{"alice"}},
		{name: "admin", userID: "root", wantStatus: http.StatusOK, wantUsers: []string{"alice"}},
		{name: "non-member", userID: "mallory", wantStatus: http.StatusForbidden},
		{name: "anonymous", userID: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.request(t, http.MethodGet, "/api/projects/p1/presence", tt.userID, nil)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusOK {
				var body map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.NotEmpty(t, body["error"])
				return
			}

			var got PresenceResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Equal(t, "p1", got.ProjectID)
			var ids []string
			for _, u := range got.Users {
				ids = append(ids, u.UserID)
			}
			assert.Equal(t, tt.wantUsers, ids)
		})
	}
}

func TestPresence_EmptyRoomIsEmptyList(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "alice", false, "p1")

	resp := env.request(t, http.MethodGet, "/api/projects/p1/presence", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw["users"]))
}

func TestPresence_AccessCheckError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "alice", false, "p1")
	env.store.FailWith("CanViewProject", errors.New("directory offline"))

	resp := env.request(t, http.MethodGet, "/api/projects/p1/presence", "alice", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestResourceChanged_ReleasesLockAndNotifiesRoom(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "alice", false, "p1")
	env.addUser(t, "bob", false, "p1")

	alice := env.dial(t, "alice")
	joinRoom(t, alice, "p1")
	sendMsg(t, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "p1", ResourceID: "task-1"})
	require.Eventually(t, func() bool {
		_, held := env.gw.Coordinator().Holder("p1", "task-1")
		return held
	}, time.Second, 5*time.Millisecond)

	body := strings.NewReader(`{"changeKind":"updated","payload":{"title":"New"}}`)
	resp := env.request(t, http.MethodPost, "/api/projects/p1/resources/task-1/changed", "bob", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	stopped, ok := readUntil(t, alice, events.KindEditStopped).(events.EditStopped)
	require.True(t, ok)
	assert.Equal(t, events.ReasonEntityChanged, stopped.Reason)
	assert.Equal(t, "alice", stopped.UserID)

	changed, ok := readEvent(t, alice).(events.EntityChanged)
	require.True(t, ok)
	assert.Equal(t, "task-1", changed.ResourceID)
	assert.Equal(t, "updated", changed.ChangeKind)
	assert.Equal(t, "bob", changed.UserID)
	assert.JSONEq(t, `{"title":"New"}`, string(changed.Payload))

	_, held := env.gw.Coordinator().Holder("p1", "task-1")
	assert.False(t, held)
}

func TestResourceChanged_OnlyTouchesItsProject(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "alice", false, "secret")
	env.addUser(t, "mallory", false, "public")

	alice := env.dial(t, "alice")
	joinRoom(t, alice, "secret")
	sendMsg(t, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "secret", ResourceID: "42"})
	require.Eventually(t, func() bool {
		_, held := env.gw.Coordinator().Holder("secret", "42")
		return held
	}, time.Second, 5*time.Millisecond)

	body := strings.NewReader(`{"changeKind":"deleted"}`)
	resp := env.request(t, http.MethodPost, "/api/projects/public/resources/42/changed", "mallory", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	lock, held := env.gw.Coordinator().Holder("secret", "42")
	require.True(t, held)
	assert.Equal(t, "alice", lock.Holder.UserID)
}

func TestResourceChanged_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "alice", false, "p1")
	env.addUser(t, "mallory", false)

	tests := []struct {
		name       string
		userID     string
		body       string
		wantStatus int
	}{
		{name: "missing change kind", userID: "alice", body: `{"payload":{}}`, wantStatus: http.StatusBadRequest},
		{name: "invalid json", userID: "alice", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "non-member", userID: "mallory", body: `{"changeKind":"deleted"}`, wantStatus: http.StatusForbidden},
		{name: "anonymous", userID: "", body: `{"changeKind":"deleted"}`, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.request(t, http.MethodPost, "/api/projects/p1/resources/task-1/changed", tt.userID, strings.NewReader(tt.body))
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestParseResourceChangedRequest(t *testing.T) {
	req, err := parseResourceChangedRequest(strings.NewReader(`{"changeKind":"  created "}`))
	require.NoError(t, err)
	assert.Equal(t, "created", req.ChangeKind)
	assert.Empty(t, req.Payload)

	_, err = parseResourceChangedRequest(strings.NewReader(`{"changeKind":"   "}`))
	assert.Error(t, err)
}

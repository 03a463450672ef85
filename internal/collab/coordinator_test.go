// ABOUTME: Tests for the collaboration coordinator
// ABOUTME: Covers join flow, lock contention, typing, entity changes, and the end-to-end room scenario

package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-collab/internal/events"
	"github.com/2389/coven-collab/internal/identity"
)

type fakeAccess struct {
	denied map[string]bool
	err    error
}

func (f *fakeAccess) CanViewProject(_ context.Context, userID, projectID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.denied[userID+"/"+projectID], nil
}

type client struct {
	conn *Conn
	out  <-chan events.Event
}

func newCoordinator(t *testing.T, access AccessChecker) *Coordinator {
	t.Helper()
	c := New(Config{Access: access})
	t.Cleanup(c.Close)
	return c
}

func connect(t *testing.T, c *Coordinator, userID string) *client {
	t.Helper()
	conn, out, err := c.Connect(identity.New(userID, userID, ""))
	require.NoError(t, err)
	return &client{conn: conn, out: out}
}

func send(t *testing.T, c *Coordinator, cl *client, msg events.Inbound) error {
	t.Helper()
	return c.Handle(t.Context(), cl.conn, &msg)
}

// drain returns every event already queued for the client. Broadcasts are
// queued before Handle returns, so no waiting is needed.
func drain(cl *client) []events.Event {
	var out []events.Event
	for {
		select {
		case ev, ok := <-cl.out:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func userIDs(users []identity.Identity) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.UserID)
	}
	return ids
}

func join(t *testing.T, c *Coordinator, cl *client, projectID string) {
	t.Helper()
	require.NoError(t, send(t, c, cl, events.Inbound{Type: events.TypeJoinRoom, ProjectID: projectID}))
}

func TestCoordinator_EndToEndScenario(t *testing.T) {
	c := newCoordinator(t, nil)
	conn1 := connect(t, c, "userA")
	conn2 := connect(t, c, "userB")

	join(t, c, conn1, "1")
	join(t, c, conn2, "1")

	evs1 := drain(conn1)
	require.Len(t, evs1, 3) // snapshot {A}, room-state, snapshot {A,B}
	last1, ok := evs1[2].(events.PresenceSnapshot)
	require.True(t, ok)
	assert.Equal(t, []string{"userA", "userB"}, userIDs(last1.Users))

	evs2 := drain(conn2)
	require.Len(t, evs2, 2)
	snap2, ok := evs2[0].(events.PresenceSnapshot)
	require.True(t, ok)
	assert.Equal(t, []string{"userA", "userB"}, userIDs(snap2.Users))
	assert.IsType(t, events.RoomState{}, evs2[1])

	// conn1 takes the lock; only conn2 hears about it.
	require.NoError(t, send(t, c, conn1, events.Inbound{Type: events.TypeEditStart, ProjectID: "1", ResourceID: "42"}))
	assert.Empty(t, drain(conn1))
	evs2 = drain(conn2)
	require.Len(t, evs2, 1)
	started, ok := evs2[0].(events.EditStarted)
	require.True(t, ok)
	assert.Equal(t, "42", started.ResourceID)
	assert.Equal(t, "userA", started.UserID)

	// conn2 collides; only conn2 receives the conflict.
	require.NoError(t, send(t, c, conn2, events.Inbound{Type: events.TypeEditStart, ProjectID: "1", ResourceID: "42"}))
	assert.Empty(t, drain(conn1))
	evs2 = drain(conn2)
	require.Len(t, evs2, 1)
	conflict, ok := evs2[0].(events.EditConflict)
	require.True(t, ok)
	assert.Equal(t, "userA", conflict.Holder.UserID)

	// conn1 drops; conn2 sees presence {B} and the lock released.
	c.Disconnect(conn1.conn.ID)
	evs2 = drain(conn2)
	require.Len(t, evs2, 2)
	snap, ok := evs2[0].(events.PresenceSnapshot)
	require.True(t, ok)
	assert.Equal(t, []string{"userB"}, userIDs(snap.Users))
	stopped, ok := evs2[1].(events.EditStopped)
	require.True(t, ok)
	assert.Equal(t, "42", stopped.ResourceID)
	assert.Equal(t, "userA", stopped.UserID)
	assert.Equal(t, events.ReasonDisconnected, stopped.Reason)

	_, held := c.Holder("1", "42")
	assert.False(t, held)
}

func TestCoordinator_JoinSendsRoomState(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	bob := connect(t, c, "bob")

	join(t, c, alice, "p")
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "r1"}))
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeTypingStart, ProjectID: "p", ResourceID: "r2"}))

	join(t, c, bob, "p")
	evs := drain(bob)
	require.Len(t, evs, 2)
	state, ok := evs[1].(events.RoomState)
	require.True(t, ok)
	require.Len(t, state.Locks, 1)
	assert.Equal(t, "r1", state.Locks[0].ResourceID)
	assert.Equal(t, "alice", state.Locks[0].User.UserID)
	require.Len(t, state.Typing, 1)
	assert.Equal(t, "r2", state.Typing[0].ResourceID)
}

func TestCoordinator_JoinAccessDenied(t *testing.T) {
	access := &fakeAccess{denied: map[string]bool{"mallory/secret": true}}
	c := newCoordinator(t, access)
	mallory := connect(t, c, "mallory")
	bob := connect(t, c, "bob")
	join(t, c, bob, "secret")
	drain(bob)

	err := send(t, c, mallory, events.Inbound{Type: events.TypeJoinRoom, ProjectID: "secret"})
	require.ErrorIs(t, err, ErrAccessDenied)

	evs := drain(mallory)
	require.Len(t, evs, 1)
	errEv, ok := evs[0].(events.Error)
	require.True(t, ok)
	assert.Equal(t, events.CodeAccessDenied, errEv.Code)

	assert.Empty(t, drain(bob), "denied join must not be visible to the room")
	assert.Equal(t, []string{"bob"}, userIDs(c.Presence("secret")))
}

func TestCoordinator_AccessCheckErrorDenies(t *testing.T) {
	c := newCoordinator(t, &fakeAccess{err: errors.New("db down")})
	alice := connect(t, c, "alice")

	err := send(t, c, alice, events.Inbound{Type: events.TypeJoinRoom, ProjectID: "p"})
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.Empty(t, c.Presence("p"))
}

func TestCoordinator_MultiTabPresence(t *testing.T) {
	c := newCoordinator(t, nil)
	tab1 := connect(t, c, "alice")
	tab2 := connect(t, c, "alice")
	bob := connect(t, c, "bob")

	join(t, c, tab1, "p")
	join(t, c, tab2, "p")
	join(t, c, bob, "p")
	assert.Equal(t, []string{"alice", "bob"}, userIDs(c.Presence("p")))

	c.Disconnect(tab1.conn.ID)
	assert.Equal(t, []string{"alice", "bob"}, userIDs(c.Presence("p")))

	c.Disconnect(tab2.conn.ID)
	assert.Equal(t, []string{"bob"}, userIDs(c.Presence("p")))
}

func TestCoordinator_LeaveBroadcastsSnapshot(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	bob := connect(t, c, "bob")
	join(t, c, alice, "p")
	join(t, c, bob, "p")
	drain(alice)
	drain(bob)

	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeLeaveRoom, ProjectID: "p"}))
	assert.Empty(t, drain(alice))

	evs := drain(bob)
	require.Len(t, evs, 1)
	snap, ok := evs[0].(events.PresenceSnapshot)
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, userIDs(snap.Users))

	// Leaving again is harmless and silent.
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeLeaveRoom, ProjectID: "p"}))
	assert.Empty(t, drain(bob))
}

func TestCoordinator_LeaveReleasesLocksAndTyping(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	bob := connect(t, c, "bob")
	join(t, c, alice, "p")
	join(t, c, alice, "q")
	join(t, c, bob, "p")
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "42"}))
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeTypingStart, ProjectID: "p", ResourceID: "42"}))
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "q", ResourceID: "8"}))
	drain(alice)
	drain(bob)

	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeLeaveRoom, ProjectID: "p"}))
	assert.Empty(t, drain(alice))

	evs := drain(bob)
	require.Len(t, evs, 3)
	snap, ok := evs[0].(events.PresenceSnapshot)
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, userIDs(snap.Users))
	stopped, ok := evs[1].(events.EditStopped)
	require.True(t, ok)
	assert.Equal(t, "42", stopped.ResourceID)
	assert.Equal(t, "alice", stopped.UserID)
	assert.Equal(t, events.ReasonLeft, stopped.Reason)
	typingStopped, ok := evs[2].(events.TypingStopped)
	require.True(t, ok)
	assert.Equal(t, "alice", typingStopped.UserID)
	assert.Equal(t, events.ReasonLeft, typingStopped.Reason)

	// The resource is free for a peer right away.
	require.NoError(t, send(t, c, bob, events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "42"}))
	assert.Empty(t, drain(bob), "no conflict expected")
	lock, held := c.Holder("p", "42")
	require.True(t, held)
	assert.Equal(t, "bob", lock.Holder.UserID)

	// State in rooms alice still belongs to is untouched.
	_, held = c.Holder("q", "8")
	assert.True(t, held)
	assert.Equal(t, 0, c.Stats().Typing)
}

func TestCoordinator_LeaveKeepsLocksWhileAnotherTabRemains(t *testing.T) {
	c := newCoordinator(t, nil)
	tab1 := connect(t, c, "alice")
	tab2 := connect(t, c, "alice")
	join(t, c, tab1, "p")
	join(t, c, tab2, "p")
	require.NoError(t, send(t, c, tab1, events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "7"}))

	require.NoError(t, send(t, c, tab1, events.Inbound{Type: events.TypeLeaveRoom, ProjectID: "p"}))
	_, held := c.Holder("p", "7")
	require.True(t, held, "alice is still present through tab2")

	require.NoError(t, send(t, c, tab2, events.Inbound{Type: events.TypeEditStop, ProjectID: "p", ResourceID: "7"}))
	_, held = c.Holder("p", "7")
	assert.False(t, held)
}

func TestCoordinator_LocksAreScopedToProject(t *testing.T) {
	access := &fakeAccess{denied: map[string]bool{"mallory/secret": true}}
	c := newCoordinator(t, access)
	alice := connect(t, c, "alice")
	bob := connect(t, c, "bob")
	mallory := connect(t, c, "mallory")
	join(t, c, alice, "secret")
	join(t, c, bob, "secret")
	join(t, c, mallory, "public")
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "secret", ResourceID: "42"}))
	drain(bob)
	drain(mallory)

	// Same resource id in another project is a different resource.
	require.NoError(t, send(t, c, mallory, events.Inbound{Type: events.TypeEditStart, ProjectID: "public", ResourceID: "42"}))
	for _, ev := range drain(mallory) {
		assert.NotEqual(t, events.KindEditConflict, ev.Kind(), "holder in another project must not leak")
	}

	require.NoError(t, send(t, c, mallory, events.Inbound{
		Type:       events.TypeEntityChanged,
		ProjectID:  "public",
		ResourceID: "42",
		ChangeKind: "updated",
	}))
	c.ExternalChange("public", "42", "deleted", "mallory", nil)

	lock, held := c.Holder("secret", "42")
	require.True(t, held)
	assert.Equal(t, "alice", lock.Holder.UserID)
	_, held = c.Holder("public", "42")
	assert.False(t, held)
	assert.Empty(t, drain(bob), "the secret room sees nothing from public")
}

func TestCoordinator_NotJoinedRejected(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")

	err := send(t, c, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "1"})
	require.ErrorIs(t, err, ErrNotJoined)

	evs := drain(alice)
	require.Len(t, evs, 1)
	errEv, ok := evs[0].(events.Error)
	require.True(t, ok)
	assert.Equal(t, events.CodeNotJoined, errEv.Code)

	_, held := c.Holder("p", "1")
	assert.False(t, held)
}

func TestCoordinator_ReentrantAcquireIsSilent(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	bob := connect(t, c, "bob")
	join(t, c, alice, "p")
	join(t, c, bob, "p")
	drain(alice)
	drain(bob)

	msg := events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "7"}
	require.NoError(t, send(t, c, alice, msg))
	require.Len(t, drain(bob), 1)

	require.NoError(t, send(t, c, alice, msg))
	assert.Empty(t, drain(bob))
	assert.Empty(t, drain(alice))
}

func TestCoordinator_ReleaseByNonHolderIsNoop(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	bob := connect(t, c, "bob")
	join(t, c, alice, "p")
	join(t, c, bob, "p")

	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "7"}))
	drain(alice)
	drain(bob)

	require.NoError(t, send(t, c, bob, events.Inbound{Type: events.TypeEditStop, ProjectID: "p", ResourceID: "7"}))
	assert.Empty(t, drain(alice))

	lock, held := c.Holder("p", "7")
	require.True(t, held)
	assert.Equal(t, "alice", lock.Holder.UserID)
}

func TestCoordinator_ReleaseBroadcastsStop(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	bob := connect(t, c, "bob")
	join(t, c, alice, "p")
	join(t, c, bob, "p")
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "7"}))
	drain(alice)
	drain(bob)

	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeEditStop, ProjectID: "p", ResourceID: "7"}))
	assert.Empty(t, drain(alice))
	evs := drain(bob)
	require.Len(t, evs, 1)
	stopped, ok := evs[0].(events.EditStopped)
	require.True(t, ok)
	assert.Equal(t, events.ReasonReleased, stopped.Reason)

	require.NoError(t, send(t, c, bob, events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "7"}))
	lock, held := c.Holder("p", "7")
	require.True(t, held)
	assert.Equal(t, "bob", lock.Holder.UserID)
}

func TestCoordinator_ConcurrentAcquireOneWinner(t *testing.T) {
	c := newCoordinator(t, nil)
	x := connect(t, c, "x")
	y := connect(t, c, "y")
	join(t, c, x, "p")
	join(t, c, y, "p")
	drain(x)
	drain(y)

	var wg sync.WaitGroup
	for _, cl := range []*client{x, y} {
		wg.Add(1)
		go func(cl *client) {
			defer wg.Done()
			_ = c.Handle(context.Background(), cl.conn, &events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "7"})
		}(cl)
	}
	wg.Wait()

	lock, held := c.Holder("p", "7")
	require.True(t, held)

	winner, loser := x, y
	if lock.Holder.UserID == "y" {
		winner, loser = y, x
	}

	loserEvs := drain(loser)
	var conflicts, starts int
	for _, ev := range loserEvs {
		switch e := ev.(type) {
		case events.EditConflict:
			conflicts++
			assert.Equal(t, winner.conn.Identity.UserID, e.Holder.UserID)
		case events.EditStarted:
			starts++
		}
	}
	// The loser either saw the winner's start before its own conflict, or
	// acquired second and saw only the conflict.
	assert.Equal(t, 1, conflicts)
	assert.LessOrEqual(t, starts, 1)

	for _, ev := range drain(winner) {
		assert.NotEqual(t, events.KindEditConflict, ev.Kind())
	}
}

func TestCoordinator_TypingFlow(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	bob := connect(t, c, "bob")
	join(t, c, alice, "p")
	join(t, c, bob, "p")
	drain(alice)
	drain(bob)

	start := events.Inbound{Type: events.TypeTypingStart, ProjectID: "p", ResourceID: "5"}
	require.NoError(t, send(t, c, alice, start))
	evs := drain(bob)
	require.Len(t, evs, 1)
	assert.IsType(t, events.TypingStarted{}, evs[0])
	assert.Empty(t, drain(alice))

	// Repeated starts refresh silently.
	require.NoError(t, send(t, c, alice, start))
	assert.Empty(t, drain(bob))

	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeTypingStop, ProjectID: "p", ResourceID: "5"}))
	evs = drain(bob)
	require.Len(t, evs, 1)
	stopped, ok := evs[0].(events.TypingStopped)
	require.True(t, ok)
	assert.Equal(t, events.ReasonReleased, stopped.Reason)
	assert.Equal(t, 0, c.Stats().Typing)
}

func TestCoordinator_EntityChangedReleasesLock(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	bob := connect(t, c, "bob")
	join(t, c, alice, "p")
	join(t, c, bob, "p")
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "9"}))
	drain(alice)
	drain(bob)

	require.NoError(t, send(t, c, bob, events.Inbound{
		Type:       events.TypeEntityChanged,
		ProjectID:  "p",
		ResourceID: "9",
		ChangeKind: "updated",
		Payload:    []byte(`{"title":"new"}`),
	}))

	// The sender sees the lock release but not its own change.
	bobEvs := drain(bob)
	require.Len(t, bobEvs, 1)
	stopped, ok := bobEvs[0].(events.EditStopped)
	require.True(t, ok)
	assert.Equal(t, events.ReasonEntityChanged, stopped.Reason)

	aliceEvs := drain(alice)
	require.Len(t, aliceEvs, 2)
	assert.IsType(t, events.EditStopped{}, aliceEvs[0])
	changed, ok := aliceEvs[1].(events.EntityChanged)
	require.True(t, ok)
	assert.Equal(t, "updated", changed.ChangeKind)
	assert.Equal(t, "bob", changed.UserID)
	assert.JSONEq(t, `{"title":"new"}`, string(changed.Payload))

	_, held := c.Holder("p", "9")
	assert.False(t, held)
}

func TestCoordinator_ExternalChangeReachesWholeRoom(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	join(t, c, alice, "p")
	drain(alice)

	c.ExternalChange("p", "3", "deleted", "system", nil)
	evs := drain(alice)
	require.Len(t, evs, 1)
	changed, ok := evs[0].(events.EntityChanged)
	require.True(t, ok)
	assert.Equal(t, "deleted", changed.ChangeKind)
}

func TestCoordinator_ProjectIsolation(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	bob := connect(t, c, "bob")
	join(t, c, alice, "p1")
	join(t, c, bob, "p2")
	drain(alice)
	drain(bob)

	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "p1", ResourceID: "1"}))
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeTypingStart, ProjectID: "p1", ResourceID: "1"}))
	assert.Empty(t, drain(bob))
}

func TestCoordinator_HandleRawRejectsGarbage(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")

	err := c.HandleRaw(t.Context(), alice.conn, []byte(`{not json`))
	require.ErrorIs(t, err, events.ErrMalformedEvent)

	err = c.HandleRaw(t.Context(), alice.conn, []byte(`{"type":"dance"}`))
	require.ErrorIs(t, err, events.ErrUnknownEvent)

	evs := drain(alice)
	require.Len(t, evs, 2)
	assert.Equal(t, events.CodeMalformedEvent, evs[0].(events.Error).Code)
	assert.Equal(t, events.CodeUnknownEvent, evs[1].(events.Error).Code)

	// The connection is still usable afterwards.
	require.NoError(t, c.HandleRaw(t.Context(), alice.conn, []byte(`{"type":"join-room","projectId":"p"}`)))
	assert.Equal(t, []string{"alice"}, userIDs(c.Presence("p")))
}

func TestCoordinator_HeartbeatIsNoop(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeHeartbeat}))
	assert.Empty(t, drain(alice))
}

func TestCoordinator_StatsTrackState(t *testing.T) {
	c := newCoordinator(t, nil)
	alice := connect(t, c, "alice")
	join(t, c, alice, "p")
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeEditStart, ProjectID: "p", ResourceID: "1"}))
	require.NoError(t, send(t, c, alice, events.Inbound{Type: events.TypeTypingStart, ProjectID: "p", ResourceID: "1"}))

	assert.Equal(t, Stats{Connections: 1, Rooms: 1, Locks: 1, Typing: 1}, c.Stats())

	c.Disconnect(alice.conn.ID)
	assert.Equal(t, Stats{}, c.Stats())
}

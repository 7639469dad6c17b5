package hub_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-diagram/internal/domain"
	wsHandler "collaborative-diagram/internal/handler/websocket"
	"collaborative-diagram/internal/hub"
	"collaborative-diagram/internal/protocol"
	"collaborative-diagram/internal/registry"
)

const (
	recvTimeout = 2 * time.Second
	quietWindow = 200 * time.Millisecond
)

// newTestRelay spins up a hub behind a real WebSocket endpoint.
func newTestRelay(t *testing.T) (*registry.RoomRegistry, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.NewRoomRegistry()
	h := hub.NewHub(reg)
	go h.Run()
	t.Cleanup(h.Stop)

	router := gin.New()
	router.GET("/ws", wsHandler.NewHandler(h).HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return reg, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialRelay(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	msg, err := protocol.NewMessage(event, payload)
	require.NoError(t, err)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func recvFrame(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.ParseMessage(raw)
	require.NoError(t, err)
	return msg
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(quietWindow)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", raw)
}

// joinRoom performs the join handshake and returns the seed frames.
func joinRoom(t *testing.T, conn *websocket.Conn, roomID string, user domain.User) (users []domain.User, state protocol.DiagramState) {
	t.Helper()
	sendFrame(t, conn, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, User: user})

	listMsg := recvFrame(t, conn)
	require.Equal(t, protocol.EventUsersInRoom, listMsg.Event)
	require.NoError(t, json.Unmarshal(listMsg.Data, &users))

	stateMsg := recvFrame(t, conn)
	require.Equal(t, protocol.EventDiagramState, stateMsg.Event)
	require.NoError(t, json.Unmarshal(stateMsg.Data, &state))
	return users, state
}

func mutationEnvelope(t *testing.T, typ string, user domain.User, payload any) protocol.MutationEnvelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return protocol.MutationEnvelope{
		Type:      typ,
		Data:      data,
		User:      user,
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestJoinSeedsNewcomer(t *testing.T) {
	_, wsURL := newTestRelay(t)
	conn := dialRelay(t, wsURL)

	users, state := joinRoom(t, conn, "design-review", domain.User{ID: "u1", Name: "Ada"})

	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
	assert.Empty(t, state.Classes)
	assert.Empty(t, state.Relations)
}

func TestBroadcastSkipsSender(t *testing.T) {
	_, wsURL := newTestRelay(t)
	alice := domain.User{ID: "u1", Name: "Alice"}
	bob := domain.User{ID: "u2", Name: "Bob"}

	connA := dialRelay(t, wsURL)
	joinRoom(t, connA, "r1", alice)
	connB := dialRelay(t, wsURL)
	joinRoom(t, connB, "r1", bob)

	// A sees B arrive before anything else.
	joined := recvFrame(t, connA)
	require.Equal(t, protocol.EventUserJoined, joined.Event)

	env := mutationEnvelope(t, "class-added", alice, domain.UMLClass{ID: "c1", Name: "Order"})
	sendFrame(t, connA, "class-added", env)

	got := recvFrame(t, connB)
	assert.Equal(t, "class-added", got.Event)

	expectSilence(t, connA)
}

func TestLateJoinerReceivesConvergedSnapshot(t *testing.T) {
	reg, wsURL := newTestRelay(t)
	alice := domain.User{ID: "u1", Name: "Alice"}
	bob := domain.User{ID: "u2", Name: "Bob"}

	connA := dialRelay(t, wsURL)
	joinRoom(t, connA, "r1", alice)

	env := mutationEnvelope(t, "class-added", alice, domain.UMLClass{ID: "c1", Name: "Order"})
	sendFrame(t, connA, "class-added", env)

	// Wait for the loop to fold the mutation into the room snapshot.
	require.Eventually(t, func() bool {
		snap, ok := reg.Snapshot("r1")
		return ok && len(snap.Classes) == 1
	}, recvTimeout, 10*time.Millisecond)

	connB := dialRelay(t, wsURL)
	users, state := joinRoom(t, connB, "r1", bob)

	require.Len(t, users, 2)
	require.Len(t, state.Classes, 1)
	assert.Equal(t, "Order", state.Classes[0].Name)

	// The late joiner adds a reflexive relation; the first participant sees it.
	recvFrame(t, connA) // user-joined for bob
	relEnv := mutationEnvelope(t, "relation-added", bob, domain.UMLRelation{
		ID: "r1", FromClassID: "c1", ToClassID: "c1", Type: domain.RelationAssociation,
	})
	sendFrame(t, connB, "relation-added", relEnv)

	got := recvFrame(t, connA)
	require.Equal(t, "relation-added", got.Event)
	gotEnv, err := protocol.DecodeEnvelope(got.Data)
	require.NoError(t, err)
	assert.Equal(t, "u2", gotEnv.User.ID)

	mut, err := protocol.DecodeMutation(gotEnv)
	require.NoError(t, err)
	added, ok := mut.(domain.RelationAdded)
	require.True(t, ok)
	assert.Equal(t, added.Relation.FromClassID, added.Relation.ToClassID)
}

func TestRoomResetsAfterLastParticipantLeaves(t *testing.T) {
	reg, wsURL := newTestRelay(t)
	alice := domain.User{ID: "u1", Name: "Alice"}

	connA := dialRelay(t, wsURL)
	joinRoom(t, connA, "r1", alice)
	env := mutationEnvelope(t, "class-added", alice, domain.UMLClass{ID: "c1", Name: "Order"})
	sendFrame(t, connA, "class-added", env)

	require.Eventually(t, func() bool {
		snap, ok := reg.Snapshot("r1")
		return ok && len(snap.Classes) == 1
	}, recvTimeout, 10*time.Millisecond)

	connA.Close()
	require.Eventually(t, func() bool {
		rooms, _ := reg.Stats()
		return rooms == 0
	}, recvTimeout, 10*time.Millisecond, "empty room should be discarded")

	connB := dialRelay(t, wsURL)
	_, state := joinRoom(t, connB, "r1", domain.User{ID: "u2", Name: "Bob"})
	assert.Empty(t, state.Classes, "a re-created room starts from scratch")
}

func TestDepartureNotifiesRemainingParticipants(t *testing.T) {
	_, wsURL := newTestRelay(t)

	connA := dialRelay(t, wsURL)
	joinRoom(t, connA, "r1", domain.User{ID: "u1", Name: "Alice"})
	connB := dialRelay(t, wsURL)
	joinRoom(t, connB, "r1", domain.User{ID: "u2", Name: "Bob"})

	joined := recvFrame(t, connA)
	require.Equal(t, protocol.EventUserJoined, joined.Event)

	connB.Close()

	left := recvFrame(t, connA)
	require.Equal(t, protocol.EventUserLeft, left.Event)
	var payload protocol.UserLeft
	require.NoError(t, json.Unmarshal(left.Data, &payload))
	assert.Equal(t, "u2", payload.LeftUser.ID)
	require.Len(t, payload.Users, 1)
	assert.Equal(t, "u1", payload.Users[0].ID)
}

func TestMutationBeforeJoinIsDropped(t *testing.T) {
	_, wsURL := newTestRelay(t)
	conn := dialRelay(t, wsURL)

	env := mutationEnvelope(t, "class-added", domain.User{ID: "u1"}, domain.UMLClass{ID: "c1", Name: "Order"})
	sendFrame(t, conn, "class-added", env)

	// Frames from one connection are handled in order, so the join's snapshot
	// proves the earlier mutation went nowhere.
	_, state := joinRoom(t, conn, "r1", domain.User{ID: "u1", Name: "Alice"})
	assert.Empty(t, state.Classes)
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	_, wsURL := newTestRelay(t)
	conn := dialRelay(t, wsURL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{{{ not json")))

	users, _ := joinRoom(t, conn, "r1", domain.User{ID: "u1", Name: "Alice"})
	require.Len(t, users, 1)
}

func TestCursorMoveIsBroadcastButNeverStored(t *testing.T) {
	reg, wsURL := newTestRelay(t)
	alice := domain.User{ID: "u1", Name: "Alice"}

	connA := dialRelay(t, wsURL)
	joinRoom(t, connA, "r1", alice)
	connB := dialRelay(t, wsURL)
	joinRoom(t, connB, "r1", domain.User{ID: "u2", Name: "Bob"})
	recvFrame(t, connA) // user-joined

	sendFrame(t, connA, protocol.EventCursorMove, protocol.CursorMove{X: 10, Y: 20, User: alice})

	got := recvFrame(t, connB)
	require.Equal(t, protocol.EventCursorMove, got.Event)
	var cursor protocol.CursorMove
	require.NoError(t, json.Unmarshal(got.Data, &cursor))
	assert.Equal(t, 10.0, cursor.X)

	snap, ok := reg.Snapshot("r1")
	require.True(t, ok)
	assert.Empty(t, snap.Classes)
	assert.Empty(t, snap.Relations)
}

func TestRequestDiagramStateResends(t *testing.T) {
	reg, wsURL := newTestRelay(t)
	alice := domain.User{ID: "u1", Name: "Alice"}

	conn := dialRelay(t, wsURL)
	joinRoom(t, conn, "r1", alice)

	env := mutationEnvelope(t, "class-added", alice, domain.UMLClass{ID: "c1", Name: "Order"})
	sendFrame(t, conn, "class-added", env)
	require.Eventually(t, func() bool {
		snap, ok := reg.Snapshot("r1")
		return ok && len(snap.Classes) == 1
	}, recvTimeout, 10*time.Millisecond)

	sendFrame(t, conn, protocol.EventRequestDiagramState, nil)

	msg := recvFrame(t, conn)
	require.Equal(t, protocol.EventDiagramState, msg.Event)
	var state protocol.DiagramState
	require.NoError(t, json.Unmarshal(msg.Data, &state))
	require.Len(t, state.Classes, 1)
	assert.Equal(t, "Order", state.Classes[0].Name)
}

func TestMismatchedEnvelopeTypeDropped(t *testing.T) {
	reg, wsURL := newTestRelay(t)
	alice := domain.User{ID: "u1", Name: "Alice"}

	conn := dialRelay(t, wsURL)
	joinRoom(t, conn, "r1", alice)

	// Event name says delete, envelope says add. The frame must be rejected
	// before it touches the snapshot.
	env := mutationEnvelope(t, "class-added", alice, domain.UMLClass{ID: "c1", Name: "Order"})
	sendFrame(t, conn, "class-deleted", env)

	sendFrame(t, conn, protocol.EventRequestDiagramState, nil)
	msg := recvFrame(t, conn)
	require.Equal(t, protocol.EventDiagramState, msg.Event)
	var state protocol.DiagramState
	require.NoError(t, json.Unmarshal(msg.Data, &state))
	assert.Empty(t, state.Classes)

	_, users := reg.Stats()
	assert.Equal(t, 1, users, "connection survives the bad frame")
}

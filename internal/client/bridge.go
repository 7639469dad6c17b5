package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collaborative-diagram/internal/domain"
	"collaborative-diagram/internal/protocol"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// cursorMinInterval throttles cursor emission. Excess movement is
	// dropped, never queued: a stale cursor position is worthless.
	cursorMinInterval = 50 * time.Millisecond

	sendBufferSize = 64
)

// Bridge couples one local diagram store to one relay connection for one
// room. It forwards locally originated store changes outward, applies inbound
// remote mutations to the store, and suppresses the echo of its own events.
//
// A bridge does not reconnect. When the connection drops, the session is
// over; a fresh Dial re-seeds the store from the server snapshot.
type Bridge struct {
	store  *Store
	conn   *websocket.Conn
	self   domain.User
	roomID string

	send chan protocol.Message
	done chan struct{}

	mu             sync.Mutex
	users          []domain.User
	lastCursorEmit time.Time
	onCursor       func(protocol.CursorMove)

	closeOnce sync.Once
	log       *logrus.Entry
}

// Dial connects to the relay at serverURL (a ws:// or wss:// endpoint),
// joins the given room as the given participant, and couples the store to
// the connection. The participant descriptor is typically domain.RandomUser:
// anonymous and ephemeral.
func Dial(ctx context.Context, serverURL, roomID string, user domain.User, store *Store) (*Bridge, error) {
	if store == nil {
		return nil, fmt.Errorf("bridge: store cannot be nil")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", serverURL, err)
	}

	b := &Bridge{
		store:  store,
		conn:   conn,
		self:   user,
		roomID: roomID,
		send:   make(chan protocol.Message, sendBufferSize),
		done:   make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "bridge",
			"room_id":   roomID,
			"user_id":   user.ID,
		}),
	}

	joinMsg, err := protocol.NewMessage(protocol.EventJoinRoom, protocol.JoinRoom{
		RoomID: roomID,
		User:   user,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	// Queued before the loops start, so join-room is always the first frame.
	b.send <- joinMsg

	store.Subscribe(b.onStoreChange)
	go b.writeLoop()
	go b.readLoop()

	b.log.Info("Connected to relay")
	return b, nil
}

// Self returns the local participant descriptor.
func (b *Bridge) Self() domain.User { return b.self }

// Users returns the room's participant list as last reported by the relay.
func (b *Bridge) Users() []domain.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.User(nil), b.users...)
}

// Connected reports whether the bridge's connection is still up.
func (b *Bridge) Connected() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// SetCursorHandler installs a callback for remote cursor movement.
func (b *Bridge) SetCursorHandler(fn func(protocol.CursorMove)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCursor = fn
}

// SendCursor emits the local cursor position, at most once per
// cursorMinInterval. Calls inside the throttle window are dropped.
func (b *Bridge) SendCursor(x, y float64) {
	b.mu.Lock()
	if time.Since(b.lastCursorEmit) < cursorMinInterval {
		b.mu.Unlock()
		return
	}
	b.lastCursorEmit = time.Now()
	b.mu.Unlock()

	msg, err := protocol.NewMessage(protocol.EventCursorMove, protocol.CursorMove{
		X:    x,
		Y:    y,
		User: b.self,
	})
	if err != nil {
		return
	}
	b.enqueue(msg)
}

// RequestDiagramState asks the relay to re-send the room snapshot.
func (b *Bridge) RequestDiagramState() {
	msg, err := protocol.NewMessage(protocol.EventRequestDiagramState, nil)
	if err != nil {
		return
	}
	b.enqueue(msg)
}

// Close shuts the connection down. The store stays usable offline.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		b.conn.Close()
	})
}

// onStoreChange forwards locally originated mutations to the relay. Remote
// changes already came from the relay and must not bounce back.
func (b *Bridge) onStoreChange(ch Change) {
	if ch.Source != SourceLocal || ch.Mutation == nil {
		return
	}
	msg, err := protocol.EncodeMutation(ch.Mutation, b.self, time.Now())
	if err != nil {
		b.log.WithError(err).Error("Failed to encode local mutation")
		return
	}
	b.enqueue(msg)
}

func (b *Bridge) enqueue(msg protocol.Message) {
	select {
	case b.send <- msg:
	case <-b.done:
	default:
		b.log.WithField("event", msg.Event).Warn("Bridge send buffer full, frame dropped")
	}
}

func (b *Bridge) writeLoop() {
	for {
		select {
		case msg := <-b.send:
			raw, err := json.Marshal(msg)
			if err != nil {
				b.log.WithError(err).Error("Failed to marshal outbound frame")
				continue
			}
			_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				b.log.WithError(err).Warn("Failed to write frame, stopping")
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) readLoop() {
	defer func() {
		close(b.done)
		b.conn.Close()
		b.log.Info("Disconnected from relay")
	}()

	for {
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseMessage(raw)
		if err != nil {
			b.log.WithError(err).Warn("Malformed frame from relay dropped")
			continue
		}
		b.dispatch(msg)
	}
}

func (b *Bridge) dispatch(msg protocol.Message) {
	switch {
	case msg.Event == protocol.EventUsersInRoom:
		var users []domain.User
		if err := json.Unmarshal(msg.Data, &users); err != nil {
			b.log.WithError(err).Warn("Malformed users-in-room dropped")
			return
		}
		b.setUsers(users)

	case msg.Event == protocol.EventUserJoined:
		var payload protocol.UserJoined
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			b.log.WithError(err).Warn("Malformed user-joined dropped")
			return
		}
		b.setUsers(payload.Users)

	case msg.Event == protocol.EventUserLeft:
		var payload protocol.UserLeft
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			b.log.WithError(err).Warn("Malformed user-left dropped")
			return
		}
		b.setUsers(payload.Users)

	case msg.Event == protocol.EventDiagramState:
		var state protocol.DiagramState
		if err := json.Unmarshal(msg.Data, &state); err != nil {
			b.log.WithError(err).Warn("Malformed diagram-state dropped")
			return
		}
		// Wholesale replace: the server snapshot wins unconditionally when
		// seeding a freshly joined client.
		snapshot := b.store.Snapshot()
		snapshot.Classes = state.Classes
		snapshot.Relations = state.Relations
		b.store.Replace(snapshot)

	case protocol.IsMutationEvent(msg.Event):
		b.dispatchMutation(msg)

	case msg.Event == protocol.EventCursorMove:
		var cursor protocol.CursorMove
		if err := json.Unmarshal(msg.Data, &cursor); err != nil {
			return
		}
		if cursor.User.ID == b.self.ID {
			return
		}
		b.mu.Lock()
		fn := b.onCursor
		b.mu.Unlock()
		if fn != nil {
			fn(cursor)
		}

	default:
		b.log.WithField("event", msg.Event).Debug("Unhandled event from relay")
	}
}

func (b *Bridge) dispatchMutation(msg protocol.Message) {
	env, err := protocol.DecodeEnvelope(msg.Data)
	if err != nil {
		b.log.WithError(err).Warn("Malformed mutation from relay dropped")
		return
	}
	// Echo suppression: the local store was already updated optimistically
	// when the action happened, so a mutation we originated must never be
	// applied a second time.
	if env.User.ID == b.self.ID {
		return
	}
	mut, err := protocol.DecodeMutation(env)
	if err != nil {
		b.log.WithError(err).Warn("Invalid mutation from relay dropped")
		return
	}
	b.store.ApplyRemote(mut)
}

func (b *Bridge) setUsers(users []domain.User) {
	b.mu.Lock()
	b.users = users
	b.mu.Unlock()
}

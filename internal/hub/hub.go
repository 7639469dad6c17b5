package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-diagram/internal/protocol"
	"collaborative-diagram/internal/registry"
)

// WebSocket timing and size limits shared by hub and client pumps.
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Mutation frames carry whole
	// classes with attribute and method lists, so this is generous.
	maxMessageSize = 64 * 1024
)

const (
	msgRegister   = "register"
	msgUnregister = "unregister"
	msgFrame      = "frame"
)

// hubMessage is the unit passed over the hub's internal channel.
type hubMessage struct {
	kind   string
	client *Client
	raw    []byte // only for frames
}

// Hub is the relay server core: a single event loop that owns connection
// membership and drives the room registry. Every register, unregister, and
// inbound frame is handled to completion before the next one, so a room's
// merge-and-broadcast sequence is never interleaved.
type Hub struct {
	messageChan chan hubMessage
	done        chan struct{}
	stopOnce    sync.Once

	// Connected clients by connection id, including ones that have not
	// joined a room yet. Touched only from the Run loop.
	clients map[string]*Client

	registry *registry.RoomRegistry
	log      *logrus.Entry
}

// NewHub creates a hub backed by the given room registry.
func NewHub(reg *registry.RoomRegistry) *Hub {
	if reg == nil {
		panic("RoomRegistry cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan hubMessage, 512),
		done:        make(chan struct{}),
		clients:     make(map[string]*Client),
		registry:    reg,
		log:         logrus.WithField("component", "hub"),
	}
}

// Run drives the hub's event loop. It should run in its own goroutine and
// exits after Stop.
func (h *Hub) Run() {
	h.log.Info("Hub is running")
	for {
		select {
		case msg := <-h.messageChan:
			switch msg.kind {
			case msgRegister:
				h.registerClient(msg.client)
			case msgUnregister:
				h.unregisterClient(msg.client)
			case msgFrame:
				h.handleFrame(msg.client, msg.raw)
			default:
				h.log.Warnf("Unknown hub message kind: %s", msg.kind)
			}
		case <-h.done:
			h.log.Info("Hub is shutting down")
			return
		}
	}
}

// Stop terminates the Run loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register queues a new connection for the event loop. Returns false when the
// hub queue is saturated and the caller should drop the connection.
func (h *Hub) Register(c *Client) bool {
	return h.queue(hubMessage{kind: msgRegister, client: c})
}

func (h *Hub) queue(msg hubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	case <-h.done:
		return false
	default:
		h.log.WithField("kind", msg.kind).Warn("Hub message channel full, dropping message")
		return false
	}
}

func (h *Hub) registerClient(c *Client) {
	h.clients[c.ID()] = c
	h.log.WithField("conn_id", c.ID()).Info("Connection registered")
}

func (h *Hub) unregisterClient(c *Client) {
	logCtx := h.log.WithField("conn_id", c.ID())
	delete(h.clients, c.ID())

	sess, remaining, joined := h.registry.Leave(c.ID())
	if joined && len(remaining) > 0 {
		// Transport loss is a normal participant-leave, not an error path.
		msg, err := protocol.NewMessage(protocol.EventUserLeft, protocol.UserLeft{
			Users:    remaining,
			LeftUser: sess.User,
		})
		if err == nil {
			h.broadcast(sess.RoomID, mustEncode(msg), c.ID())
		}
	}
	c.closeSend()
	if joined {
		logCtx = logCtx.WithFields(logrus.Fields{"room_id": sess.RoomID, "user_id": sess.User.ID})
	}
	logCtx.Info("Connection unregistered")
}

// handleFrame is the per-connection protocol state machine. A connection is
// Unjoined until its join-room frame is accepted; everything except join-room
// is silently dropped (with a log) before that.
func (h *Hub) handleFrame(c *Client, raw []byte) {
	logCtx := h.log.WithField("conn_id", c.ID())

	msg, err := protocol.ParseMessage(raw)
	if err != nil {
		logCtx.WithError(err).Warn("Malformed frame dropped")
		return
	}
	sess, joined := h.registry.SessionFor(c.ID())

	switch {
	case msg.Event == protocol.EventJoinRoom:
		h.handleJoin(c, msg, joined, logCtx)

	case msg.Event == protocol.EventRequestDiagramState:
		if !joined {
			logCtx.Warn("request-diagram-state before join dropped")
			return
		}
		h.sendSnapshot(c, sess.RoomID)

	case protocol.IsMutationEvent(msg.Event):
		if !joined {
			logCtx.WithField("event", msg.Event).Warn("Mutation before join dropped")
			return
		}
		h.handleMutation(c, sess, msg, raw, logCtx)

	case msg.Event == protocol.EventCursorMove:
		if !joined {
			return
		}
		// Broadcast-only: cursor positions never reach the snapshot.
		h.broadcast(sess.RoomID, raw, c.ID())

	default:
		logCtx.WithField("event", msg.Event).Warn("Unknown event dropped")
	}
}

func (h *Hub) handleJoin(c *Client, msg protocol.Message, joined bool, logCtx *logrus.Entry) {
	if joined {
		logCtx.Warn("Duplicate join-room ignored")
		return
	}
	var join protocol.JoinRoom
	if err := json.Unmarshal(msg.Data, &join); err != nil {
		logCtx.WithError(err).Warn("Malformed join-room dropped")
		return
	}
	if join.RoomID == "" || join.User.ID == "" {
		logCtx.Warn("join-room without room or user id dropped")
		return
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": join.RoomID, "user_id": join.User.ID})

	users := h.registry.Join(join.RoomID, c.ID(), join.User)

	// Seed the newcomer: full participant list plus the current snapshot, so
	// its store starts consistent without replaying history.
	if listMsg, err := protocol.NewMessage(protocol.EventUsersInRoom, users); err == nil {
		h.send(c, listMsg)
	}
	h.sendSnapshot(c, join.RoomID)

	if joinedMsg, err := protocol.NewMessage(protocol.EventUserJoined, protocol.UserJoined{
		Users:   users,
		NewUser: join.User,
	}); err == nil {
		h.broadcast(join.RoomID, mustEncode(joinedMsg), c.ID())
	}
	logCtx.WithField("participants", len(users)).Info("Participant joined room")
}

func (h *Hub) handleMutation(c *Client, sess registry.Session, msg protocol.Message, raw []byte, logCtx *logrus.Entry) {
	env, err := protocol.DecodeEnvelope(msg.Data)
	if err != nil {
		logCtx.WithError(err).Warn("Malformed mutation envelope dropped")
		return
	}
	if env.Type != msg.Event {
		logCtx.WithFields(logrus.Fields{"event": msg.Event, "type": env.Type}).
			Warn("Mutation type does not match event name, dropped")
		return
	}
	mut, err := protocol.DecodeMutation(env)
	if err != nil {
		logCtx.WithError(err).Warn("Invalid mutation payload dropped")
		return
	}

	// Apply to the server snapshot with the same merge rules the clients
	// use, then rebroadcast the original frame verbatim to the room minus
	// the sender. Consistency no-ops still get rebroadcast, matching what
	// peers would compute themselves.
	h.registry.ApplyMutation(sess.RoomID, mut)
	h.broadcast(sess.RoomID, raw, c.ID())
}

func (h *Hub) sendSnapshot(c *Client, roomID string) {
	snapshot, ok := h.registry.Snapshot(roomID)
	if !ok {
		return
	}
	msg, err := protocol.NewMessage(protocol.EventDiagramState, protocol.DiagramState{
		Classes:   snapshot.Classes,
		Relations: snapshot.Relations,
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal diagram snapshot")
		return
	}
	h.send(c, msg)
}

func (h *Hub) send(c *Client, msg protocol.Message) {
	if !c.enqueue(mustEncode(msg)) {
		h.log.WithField("conn_id", c.ID()).Warn("Client send channel full, message dropped")
	}
}

// broadcast delivers a frame to every connection in the room except the
// sender. Sends are fire-and-forget per peer: a full send buffer drops the
// frame for that peer instead of blocking the loop.
func (h *Hub) broadcast(roomID string, frame []byte, senderConnID string) {
	for _, connID := range h.registry.ConnIDs(roomID) {
		if connID == senderConnID {
			continue
		}
		peer, ok := h.clients[connID]
		if !ok {
			continue
		}
		if !peer.enqueue(frame) {
			h.log.WithFields(logrus.Fields{
				"room_id": roomID,
				"conn_id": connID,
			}).Warn("Peer send channel full during broadcast, frame dropped for peer")
		}
	}
}

func mustEncode(msg protocol.Message) []byte {
	b, err := json.Marshal(msg)
	if err != nil {
		// Payloads are marshaled before reaching this point; the outer
		// frame cannot fail.
		panic(err)
	}
	return b
}

// Package registry holds the authoritative, volatile room table of the relay:
// roomID -> (participants, diagram snapshot) plus one session record per
// connection. It is an explicit service object so tests can run several
// independent instances in one process.
package registry

import (
	"sync"

	"github.com/sirupsen/logrus"

	"collaborative-diagram/internal/domain"
)

// Session is the per-connection record: which room a connection joined and
// as whom. Connections that have not joined yet have no session.
type Session struct {
	ConnID string
	RoomID string
	User   domain.User
}

type participant struct {
	connID string
	user   domain.User
}

type room struct {
	// Participants keep join order, keyed by connection id.
	participants []participant
	diagram      domain.UMLDiagram
}

// RoomRegistry owns the room table. All mutation traffic arrives from the
// hub's single event loop; the lock exists because the health endpoint reads
// occupancy concurrently.
type RoomRegistry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	sessions map[string]Session
	log      *logrus.Entry
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:    make(map[string]*room),
		sessions: make(map[string]Session),
		log:      logrus.WithField("component", "registry"),
	}
}

// EnsureRoom returns the room for the given id, creating an empty one on
// first use. It always succeeds.
func (r *RoomRegistry) EnsureRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureRoomLocked(roomID)
}

func (r *RoomRegistry) ensureRoomLocked(roomID string) *room {
	if rm, ok := r.rooms[roomID]; ok {
		return rm
	}
	rm := &room{diagram: domain.NewDiagram(roomID)}
	r.rooms[roomID] = rm
	r.log.WithField("room_id", roomID).Info("Room created")
	return rm
}

// Join adds a participant to a room, creating the room if needed, and records
// the connection's session. Idempotent per connection id: a repeated join for
// the same connection replaces the user descriptor in place. Returns the full
// participant list after the join.
func (r *RoomRegistry) Join(roomID, connID string, user domain.User) []domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.ensureRoomLocked(roomID)
	r.sessions[connID] = Session{ConnID: connID, RoomID: roomID, User: user}

	replaced := false
	for i := range rm.participants {
		if rm.participants[i].connID == connID {
			rm.participants[i].user = user
			replaced = true
			break
		}
	}
	if !replaced {
		rm.participants = append(rm.participants, participant{connID: connID, user: user})
	}
	return usersLocked(rm)
}

// Leave removes the connection's participant and session. When the last
// participant leaves, the room entry is deleted entirely and the diagram
// snapshot is discarded with it. Returns the departed session, the remaining
// participants, and whether a session existed at all.
func (r *RoomRegistry) Leave(connID string) (Session, []domain.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return Session{}, nil, false
	}
	delete(r.sessions, connID)

	rm, ok := r.rooms[sess.RoomID]
	if !ok {
		return sess, nil, true
	}
	participants := rm.participants[:0]
	for _, p := range rm.participants {
		if p.connID != connID {
			participants = append(participants, p)
		}
	}
	rm.participants = participants

	if len(rm.participants) == 0 {
		delete(r.rooms, sess.RoomID)
		r.log.WithField("room_id", sess.RoomID).Info("Room empty, snapshot discarded")
		return sess, nil, true
	}
	return sess, usersLocked(rm), true
}

// SessionFor returns the session of a connection, if it has joined a room.
func (r *RoomRegistry) SessionFor(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connID]
	return sess, ok
}

// ApplyMutation merges a mutation into the room's diagram snapshot using the
// same rules every client applies. Mutations for unknown rooms are dropped
// silently: the connection simply has not joined yet.
func (r *RoomRegistry) ApplyMutation(roomID string, m domain.Mutation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		r.log.WithFields(logrus.Fields{
			"room_id": roomID,
			"type":    m.MutationType(),
		}).Debug("Mutation for unknown room dropped")
		return false
	}
	return rm.diagram.Apply(m)
}

// Snapshot returns a deep copy of the room's diagram.
func (r *RoomRegistry) Snapshot(roomID string) (domain.UMLDiagram, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return domain.UMLDiagram{}, false
	}
	return rm.diagram.Clone(), true
}

// Participants returns the room's user list in join order.
func (r *RoomRegistry) Participants(roomID string) []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return usersLocked(rm)
}

// ConnIDs returns the connection ids currently in the room.
func (r *RoomRegistry) ConnIDs(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rm.participants))
	for _, p := range rm.participants {
		ids = append(ids, p.connID)
	}
	return ids
}

// Stats returns the current room and participant counts for the health
// endpoint and the periodic room audit.
func (r *RoomRegistry) Stats() (activeRooms, totalUsers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rm := range r.rooms {
		totalUsers += len(rm.participants)
	}
	return len(r.rooms), totalUsers
}

func usersLocked(rm *room) []domain.User {
	users := make([]domain.User, 0, len(rm.participants))
	for _, p := range rm.participants {
		users = append(users, p.user)
	}
	return users
}

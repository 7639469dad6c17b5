package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-diagram/internal/domain"
	"collaborative-diagram/internal/registry"
)

func TestEnsureRoomStartsEmpty(t *testing.T) {
	reg := registry.NewRoomRegistry()

	reg.EnsureRoom("r1")

	snapshot, ok := reg.Snapshot("r1")
	require.True(t, ok)
	assert.Empty(t, snapshot.Classes)
	assert.Empty(t, snapshot.Relations)
	assert.Empty(t, reg.Participants("r1"))
}

func TestJoinIsIdempotentPerConnection(t *testing.T) {
	reg := registry.NewRoomRegistry()

	users := reg.Join("r1", "conn-1", domain.User{ID: "u1", Name: "Ada"})
	require.Len(t, users, 1)

	// Re-join with the same connection replaces the descriptor in place.
	users = reg.Join("r1", "conn-1", domain.User{ID: "u1", Name: "Ada L."})
	require.Len(t, users, 1)
	assert.Equal(t, "Ada L.", users[0].Name)

	rooms, total := reg.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, total)
}

func TestParticipantsKeepJoinOrder(t *testing.T) {
	reg := registry.NewRoomRegistry()
	reg.Join("r1", "conn-1", domain.User{ID: "u1", Name: "Ada"})
	reg.Join("r1", "conn-2", domain.User{ID: "u2", Name: "Grace"})
	reg.Join("r1", "conn-3", domain.User{ID: "u3", Name: "Edsger"})

	users := reg.Participants("r1")
	require.Len(t, users, 3)
	assert.Equal(t, []string{"u1", "u2", "u3"}, []string{users[0].ID, users[1].ID, users[2].ID})
	assert.Equal(t, []string{"conn-1", "conn-2", "conn-3"}, reg.ConnIDs("r1"))
}

func TestLeaveUnknownConnection(t *testing.T) {
	reg := registry.NewRoomRegistry()

	_, _, ok := reg.Leave("never-joined")
	assert.False(t, ok)
}

func TestLastLeaveDiscardsRoomState(t *testing.T) {
	reg := registry.NewRoomRegistry()
	reg.Join("r1", "conn-1", domain.User{ID: "u1"})
	require.True(t, reg.ApplyMutation("r1", domain.ClassAdded{Class: domain.UMLClass{ID: "c1", Name: "Order"}}))

	sess, remaining, ok := reg.Leave("conn-1")
	require.True(t, ok)
	assert.Equal(t, "r1", sess.RoomID)
	assert.Empty(t, remaining)

	rooms, total := reg.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, total)

	// A later visitor gets a brand new, empty diagram.
	reg.Join("r1", "conn-2", domain.User{ID: "u2"})
	snapshot, found := reg.Snapshot("r1")
	require.True(t, found)
	assert.Empty(t, snapshot.Classes, "discarded state must not resurface")
}

func TestLeaveKeepsRoomWhileOccupied(t *testing.T) {
	reg := registry.NewRoomRegistry()
	reg.Join("r1", "conn-1", domain.User{ID: "u1", Name: "Ada"})
	reg.Join("r1", "conn-2", domain.User{ID: "u2", Name: "Grace"})

	sess, remaining, ok := reg.Leave("conn-1")
	require.True(t, ok)
	assert.Equal(t, "u1", sess.User.ID)
	require.Len(t, remaining, 1)
	assert.Equal(t, "u2", remaining[0].ID)

	rooms, total := reg.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, total)
}

func TestApplyMutationUnknownRoomDropped(t *testing.T) {
	reg := registry.NewRoomRegistry()

	applied := reg.ApplyMutation("ghost", domain.ClassAdded{Class: domain.UMLClass{ID: "c1"}})
	assert.False(t, applied)

	rooms, _ := reg.Stats()
	assert.Zero(t, rooms, "a dropped mutation must not create the room")
}

func TestSnapshotConvergesForLateJoiner(t *testing.T) {
	reg := registry.NewRoomRegistry()
	reg.Join("r1", "conn-1", domain.User{ID: "u1"})

	require.True(t, reg.ApplyMutation("r1", domain.ClassAdded{Class: domain.UMLClass{ID: "c1", Name: "Order"}}))
	require.True(t, reg.ApplyMutation("r1", domain.ClassAdded{Class: domain.UMLClass{ID: "c2", Name: "Item"}}))
	require.True(t, reg.ApplyMutation("r1", domain.RelationAdded{Relation: domain.UMLRelation{
		ID: "r1", FromClassID: "c1", ToClassID: "c2", Type: domain.RelationComposition,
	}}))

	snapshot, ok := reg.Snapshot("r1")
	require.True(t, ok)
	assert.Len(t, snapshot.Classes, 2)
	require.Len(t, snapshot.Relations, 1)
	assert.Equal(t, domain.RelationComposition, snapshot.Relations[0].Type)
}

func TestSnapshotIsIsolatedFromRoomState(t *testing.T) {
	reg := registry.NewRoomRegistry()
	reg.Join("r1", "conn-1", domain.User{ID: "u1"})
	require.True(t, reg.ApplyMutation("r1", domain.ClassAdded{Class: domain.UMLClass{ID: "c1", Name: "Order"}}))

	snapshot, ok := reg.Snapshot("r1")
	require.True(t, ok)
	snapshot.Classes[0].Name = "Mutated"

	fresh, _ := reg.Snapshot("r1")
	assert.Equal(t, "Order", fresh.Classes[0].Name)
}

func TestSessionFor(t *testing.T) {
	reg := registry.NewRoomRegistry()

	_, ok := reg.SessionFor("conn-1")
	assert.False(t, ok)

	reg.Join("r1", "conn-1", domain.User{ID: "u1"})
	sess, ok := reg.SessionFor("conn-1")
	require.True(t, ok)
	assert.Equal(t, "r1", sess.RoomID)
	assert.Equal(t, "u1", sess.User.ID)
}

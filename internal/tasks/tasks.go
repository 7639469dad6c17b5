// Package tasks defines the asynq task types exchanged between the scheduler
// and the worker.
package tasks

import "encoding/json"

const (
	// TypeRoomAudit is the periodic occupancy report over the room registry.
	TypeRoomAudit = "room:audit"
)

// RoomAuditPayload is currently empty; the worker reads occupancy straight
// from the registry.
type RoomAuditPayload struct{}

// NewRoomAuditTask builds the serialized payload for a room audit task.
func NewRoomAuditTask() ([]byte, error) {
	return json.Marshal(RoomAuditPayload{})
}

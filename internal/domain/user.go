package domain

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// User is the ephemeral participant descriptor attached to one connection.
// Participants are anonymous; the descriptor lives only for the lifetime of
// the connection and is never persisted.
type User struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Color  string    `json:"color"`
	Cursor *Position `json:"cursor,omitempty"`
}

var userColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
}

// RandomUser generates an anonymous participant with a fresh id, a display
// name, and a color from the shared palette.
func RandomUser() User {
	return User{
		ID:    uuid.NewString(),
		Name:  fmt.Sprintf("Guest%d", rand.Intn(1000)),
		Color: userColors[rand.Intn(len(userColors))],
	}
}

package room

import (
	"github.com/google/uuid"
)

type Room struct {
	RoomID    uuid.UUID    `json:"room_id"`
	Players   [2]uuid.UUID `json:"players"`
	StartedAt int64        `json:"started_at"`
}

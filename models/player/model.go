package player

import "github.com/google/uuid"

type Player struct {
	PlayerID uuid.UUID `json:"player_id"`
	Mu       float64   `json:"mu"`
	Sigma    float64   `json:"sigma"`
}

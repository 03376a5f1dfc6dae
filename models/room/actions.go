package room

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

var ErrSamePlayer = eris.New("a room needs two distinct players")

func (r Room) MarshalBinary() (data []byte, err error) {
	data, err = json.Marshal(r)
	return data, err
}

func (r *Room) UnmarshalBinary(data []byte) (err error) {
	err = json.Unmarshal(data, r)
	return err
}

// Group is the broadcast group shared by both members. It is the room's own id.
func (r Room) Group() string {
	return r.RoomID.String()
}

func (r Room) Has(pID uuid.UUID) bool {
	return r.Players[0] == pID || r.Players[1] == pID
}

// Opponent returns the other member of the room.
func (r Room) Opponent(pID uuid.UUID) (uuid.UUID, bool) {
	switch pID {
	case r.Players[0]:
		return r.Players[1], true
	case r.Players[1]:
		return r.Players[0], true
	}
	return uuid.Nil, false
}

func CreateRoom(player, enemy uuid.UUID) (Room, error) {
	if player == enemy {
		return Room{}, eris.Wrapf(ErrSamePlayer, "player %s", player)
	}
	if player == uuid.Nil || enemy == uuid.Nil {
		return Room{}, eris.New("room players must have ids")
	}
	return Room{
		RoomID:    uuid.New(),
		Players:   [2]uuid.UUID{player, enemy},
		StartedAt: time.Now().Unix(),
	}, nil
}

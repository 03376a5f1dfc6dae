package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/TeamRekursion/matchmaker/models/room"
)

var ErrRoomNotFound = eris.New("room not found")

// KEYS[1] room record, KEYS[2..] player indexes, ARGV[1] room id. The indexes
// are only dropped while they still point at this room.
var releaseRoomScript = redis.NewScript(`
if redis.call('DEL', KEYS[1]) == 0 then
  return 0
end
for i = 2, #KEYS do
  if redis.call('GET', KEYS[i]) == ARGV[1] then
    redis.call('DEL', KEYS[i])
  end
end
return 1
`)

// RoomStore keeps active rooms and a player -> room index. Records expire after
// ttl so rooms abandoned mid-match do not linger.
type RoomStore struct {
	c   *redis.Client
	ttl time.Duration
}

func NewRoomStore(c *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{c: c, ttl: ttl}
}

func roomKey(id uuid.UUID) string {
	return "room:" + id.String()
}

func roomIndexKey(pID uuid.UUID) string {
	return "room:player:" + pID.String()
}

func (s *RoomStore) Save(ctx context.Context, r room.Room) error {
	_, err := s.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(r.RoomID), r, s.ttl)
		for _, pID := range r.Players {
			pipe.Set(ctx, roomIndexKey(pID), r.RoomID.String(), s.ttl)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "failed to save room %s", r.RoomID)
	}
	return nil
}

func (s *RoomStore) Get(ctx context.Context, id uuid.UUID) (room.Room, error) {
	var r room.Room
	err := s.c.Get(ctx, roomKey(id)).Scan(&r)
	if eris.Is(err, redis.Nil) {
		return room.Room{}, eris.Wrapf(ErrRoomNotFound, "room %s", id)
	}
	if err != nil {
		return room.Room{}, eris.Wrapf(err, "failed to load room %s", id)
	}
	return r, nil
}

// ByPlayer returns the room the player is currently in.
func (s *RoomStore) ByPlayer(ctx context.Context, pID uuid.UUID) (room.Room, error) {
	raw, err := s.c.Get(ctx, roomIndexKey(pID)).Result()
	if eris.Is(err, redis.Nil) {
		return room.Room{}, eris.Wrapf(ErrRoomNotFound, "player %s has no room", pID)
	}
	if err != nil {
		return room.Room{}, eris.Wrapf(err, "failed to look up room of %s", pID)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return room.Room{}, eris.Wrapf(err, "corrupt room index for %s", pID)
	}
	return s.Get(ctx, id)
}

func (s *RoomStore) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := s.c.Exists(ctx, roomKey(id)).Result()
	if err != nil {
		return false, eris.Wrapf(err, "failed to look up room %s", id)
	}
	return n == 1, nil
}

// Release deletes the room and its player indexes in one step. It reports
// false if the room was already gone, so exactly one concurrent caller wins.
func (s *RoomStore) Release(ctx context.Context, r room.Room) (bool, error) {
	keys := []string{roomKey(r.RoomID)}
	for _, pID := range r.Players {
		keys = append(keys, roomIndexKey(pID))
	}
	released, err := releaseRoomScript.Run(ctx, s.c, keys, r.RoomID.String()).Int()
	if err != nil {
		return false, eris.Wrapf(err, "failed to release room %s", r.RoomID)
	}
	return released == 1, nil
}

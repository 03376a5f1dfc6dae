package store

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/TeamRekursion/matchmaker/models/player"
)

var ErrPlayerNotFound = eris.New("player not found")

// KEYS[i] player record, ARGV[i] its new value. Writes all records only if
// every one of them exists, otherwise returns the index of the first missing.
var saveAllScript = redis.NewScript(`
for i = 1, #KEYS do
  if redis.call('EXISTS', KEYS[i]) == 0 then
    return i
  end
end
for i = 1, #KEYS do
  redis.call('SET', KEYS[i], ARGV[i])
end
return 0
`)

// PlayerStore is the identity store. Player records have no expiry.
type PlayerStore struct {
	c *redis.Client
}

func NewPlayerStore(c *redis.Client) *PlayerStore {
	return &PlayerStore{c: c}
}

func playerKey(id uuid.UUID) string {
	return "player:" + id.String()
}

func (s *PlayerStore) Get(ctx context.Context, id uuid.UUID) (player.Player, error) {
	var p player.Player
	err := s.c.Get(ctx, playerKey(id)).Scan(&p)
	if eris.Is(err, redis.Nil) {
		return player.Player{}, eris.Wrapf(ErrPlayerNotFound, "player %s", id)
	}
	if err != nil {
		return player.Player{}, eris.Wrapf(err, "failed to load player %s", id)
	}
	return p, nil
}

// Create stores a new player with the default skill.
func (s *PlayerStore) Create(ctx context.Context) (player.Player, error) {
	p := player.CreatePlayer()
	ok, err := s.c.SetNX(ctx, playerKey(p.PlayerID), p, 0).Result()
	if err != nil {
		return player.Player{}, eris.Wrap(err, "failed to create player")
	}
	if !ok {
		return player.Player{}, eris.Errorf("player %s already exists", p.PlayerID)
	}
	return p, nil
}

// SaveAll overwrites several existing players in one atomic step. Either all
// records are written or none is.
func (s *PlayerStore) SaveAll(ctx context.Context, ps ...player.Player) error {
	if len(ps) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ps))
	values := make([]interface{}, 0, len(ps))
	for _, p := range ps {
		if err := p.Skill().Validate(); err != nil {
			return eris.Wrapf(err, "refusing to save player %s", p.PlayerID)
		}
		bz, err := p.MarshalBinary()
		if err != nil {
			return eris.Wrapf(err, "failed to encode player %s", p.PlayerID)
		}
		keys = append(keys, playerKey(p.PlayerID))
		values = append(values, bz)
	}
	missing, err := saveAllScript.Run(ctx, s.c, keys, values...).Int()
	if err != nil {
		return eris.Wrap(err, "failed to save players")
	}
	if missing > 0 {
		return eris.Wrapf(ErrPlayerNotFound, "player %s", ps[missing-1].PlayerID)
	}
	return nil
}

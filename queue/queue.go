// Package queue implements the shared waiting queue as a single redis hash.
//
// Every waiting player is one field of the hash, keyed by player id, holding a
// {"mu","sigma"} snapshot. The hash carries a refresh-on-write TTL: if nobody
// writes to it for that long the whole queue disappears and every waiting
// entry is dropped with it. Mutations are single atomic round trips (a Lua
// script or a MULTI block), so no caller ever splits a read-modify-write over
// two calls.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TeamRekursion/matchmaker/models/player"
	"github.com/TeamRekursion/matchmaker/rating"
)

const DefaultTTL = 180 * time.Second

// Entry is the skill snapshot of a waiting player.
type Entry struct {
	PlayerID uuid.UUID `json:"-"`
	Mu       float64   `json:"mu"`
	Sigma    float64   `json:"sigma"`
}

// EntryFor snapshots a player.
func EntryFor(p player.Player) Entry {
	return Entry{PlayerID: p.PlayerID, Mu: p.Mu, Sigma: p.Sigma}
}

func (e Entry) Skill() rating.Skill {
	return rating.Skill{Mu: e.Mu, Sigma: e.Sigma}
}

func (e Entry) MarshalBinary() (data []byte, err error) {
	data, err = json.Marshal(e)
	return data, err
}

func (e *Entry) UnmarshalBinary(data []byte) (err error) {
	err = json.Unmarshal(data, e)
	return err
}

// KEYS[1] queue, ARGV[1] field, ARGV[2] value, ARGV[3] ttl seconds.
var addIfAbsentScript = redis.NewScript(`
local added = redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return added
`)

// KEYS[1] queue, ARGV[1] ttl seconds, ARGV[2..] fields. Removes all fields only
// if every one of them is still present.
var claimScript = redis.NewScript(`
for i = 2, #ARGV do
  if redis.call('HEXISTS', KEYS[1], ARGV[i]) == 0 then
    return 0
  end
end
for i = 2, #ARGV do
  redis.call('HDEL', KEYS[1], ARGV[i])
end
redis.call('EXPIRE', KEYS[1], ARGV[1])
return 1
`)

// Queue is safe for concurrent use by any number of goroutines and processes
// sharing the same redis key.
type Queue struct {
	c    *redis.Client
	name string
	ttl  time.Duration
	log  zerolog.Logger
}

// New binds a queue to the hash called name. The queue lives as long as the
// redis key does; closing the client is the caller's job.
func New(c *redis.Client, name string, ttl time.Duration, logger zerolog.Logger) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{
		c:    c,
		name: name,
		ttl:  ttl,
		log:  logger,
	}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) ttlSeconds() int64 {
	s := int64(q.ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// AddIfAbsent enqueues e unless its player is already waiting. It reports
// whether this call inserted the entry.
func (q *Queue) AddIfAbsent(ctx context.Context, e Entry) (bool, error) {
	if e.PlayerID == uuid.Nil {
		return false, eris.New("queue entry has no player id")
	}
	if err := e.Skill().Validate(); err != nil {
		return false, eris.Wrapf(err, "queue entry %s", e.PlayerID)
	}
	value, err := e.MarshalBinary()
	if err != nil {
		return false, eris.Wrap(err, "failed to encode queue entry")
	}
	added, err := addIfAbsentScript.Run(ctx, q.c, []string{q.name}, e.PlayerID.String(), value, q.ttlSeconds()).Int()
	if err != nil {
		return false, eris.Wrapf(err, "failed to enqueue %s", e.PlayerID)
	}
	return added == 1, nil
}

// Remove drops the given players. Absent ids are ignored.
func (q *Queue) Remove(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	fields := make([]string, 0, len(ids))
	for _, id := range ids {
		fields = append(fields, id.String())
	}
	_, err := q.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.name, fields...)
		pipe.Expire(ctx, q.name, q.ttl)
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "failed to remove players from queue")
	}
	return nil
}

// Claim atomically removes every given player, but only if all of them are
// still waiting. A false result means another searcher (or a disconnect) got
// there first and nothing was removed.
func (q *Queue) Claim(ctx context.Context, ids ...uuid.UUID) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, q.ttlSeconds())
	for _, id := range ids {
		args = append(args, id.String())
	}
	claimed, err := claimScript.Run(ctx, q.c, []string{q.name}, args...).Int()
	if err != nil {
		return false, eris.Wrap(err, "failed to claim players from queue")
	}
	return claimed == 1, nil
}

func (q *Queue) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := q.c.HExists(ctx, q.name, id.String()).Result()
	if err != nil {
		return false, eris.Wrapf(err, "failed to look up %s in queue", id)
	}
	return ok, nil
}

func (q *Queue) Size(ctx context.Context) (int, error) {
	n, err := q.c.HLen(ctx, q.name).Result()
	if err != nil {
		return 0, eris.Wrap(err, "failed to size queue")
	}
	return int(n), nil
}

// ScanAll returns a point-in-time snapshot of the queue. Entries may be gone by
// the time the caller acts on them; use Claim to commit a decision.
// Undecodable fields are skipped.
func (q *Queue) ScanAll(ctx context.Context) ([]Entry, error) {
	fields, err := q.c.HGetAll(ctx, q.name).Result()
	if err != nil {
		return nil, eris.Wrap(err, "failed to scan queue")
	}
	entries := make([]Entry, 0, len(fields))
	for field, value := range fields {
		id, err := uuid.Parse(field)
		if err != nil {
			q.log.Warn().Str("field", field).Msg("skipping queue entry with invalid player id")
			continue
		}
		var e Entry
		if err := e.UnmarshalBinary([]byte(value)); err != nil {
			q.log.Warn().Err(err).Str("player_id", field).Msg("skipping undecodable queue entry")
			continue
		}
		e.PlayerID = id
		entries = append(entries, e)
	}
	return entries, nil
}

package matchmaking

import (
	"context"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TeamRekursion/matchmaker/metrics"
	"github.com/TeamRekursion/matchmaker/models/player"
	"github.com/TeamRekursion/matchmaker/models/room"
	"github.com/TeamRekursion/matchmaker/protocol"
	"github.com/TeamRekursion/matchmaker/rating"
	"github.com/TeamRekursion/matchmaker/store"
)

var (
	ErrNoRoom        = eris.New("player is not in a room")
	ErrRoomFinished  = eris.New("room was already finished")
	ErrUnknownWinner = eris.New("winner is not a member of the room")
	// ErrEnemyUnavailable means the claimed enemy could not join the room.
	ErrEnemyUnavailable = eris.New("matched enemy is unavailable")
)

// Outcome decides who won a finished room.
type Outcome func(r room.Room) (winner, loser uuid.UUID, err error)

// ReportedWinner uses a result reported by a client.
func ReportedWinner(id uuid.UUID) Outcome {
	return func(r room.Room) (uuid.UUID, uuid.UUID, error) {
		loser, ok := r.Opponent(id)
		if !ok {
			return uuid.Nil, uuid.Nil, eris.Wrapf(ErrUnknownWinner, "player %s", id)
		}
		return id, loser, nil
	}
}

// RandomOutcome picks either ordering with equal probability. A nil rng uses
// the global source.
func RandomOutcome(rng *rand.Rand) Outcome {
	var mu sync.Mutex
	return func(r room.Room) (uuid.UUID, uuid.UUID, error) {
		var n int
		if rng == nil {
			n = rand.Intn(2)
		} else {
			mu.Lock()
			n = rng.Intn(2)
			mu.Unlock()
		}
		return r.Players[n], r.Players[1-n], nil
	}
}

// Finished is the result of a rated room.
type Finished struct {
	Room   room.Room
	Winner player.Player
	Loser  player.Player
}

type Coordinator struct {
	players   Players
	rooms     Rooms
	transport Transport
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewCoordinator(players Players, rooms Rooms, t Transport, m *metrics.Metrics, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		players:   players,
		rooms:     rooms,
		transport: t,
		metrics:   m,
		log:       logger,
	}
}

// StartMatch opens a room for two players already claimed from the queue, binds
// both to the room's group and announces the pairing to them. If the enemy
// cannot be bound the room is undone and ErrEnemyUnavailable is returned.
func (c *Coordinator) StartMatch(ctx context.Context, player, enemy uuid.UUID) (room.Room, error) {
	r, err := room.CreateRoom(player, enemy)
	if err != nil {
		return room.Room{}, err
	}
	if err := c.rooms.Save(ctx, r); err != nil {
		return room.Room{}, err
	}

	for _, pID := range r.Players {
		if err := c.transport.GroupAdd(ctx, r.Group(), pID); err != nil {
			c.abort(ctx, r)
			if pID == enemy {
				return room.Room{}, eris.Wrapf(ErrEnemyUnavailable, "player %s: %v", pID, err)
			}
			return room.Room{}, eris.Wrapf(err, "failed to bind %s to room %s", pID, r.RoomID)
		}
	}

	msg, err := protocol.New(protocol.TypeFoundMatch, map[string]string{
		"user0": r.Players[0].String(),
		"user1": r.Players[1].String(),
	})
	if err != nil {
		c.abort(ctx, r)
		return room.Room{}, err
	}
	if err := c.transport.GroupBroadcast(ctx, r.Group(), msg); err != nil {
		c.abort(ctx, r)
		return room.Room{}, eris.Wrapf(err, "failed to announce room %s", r.RoomID)
	}

	c.metrics.MatchesStarted.Inc()
	c.log.Info().
		Str("room_id", r.RoomID.String()).
		Str("player", player.String()).
		Str("enemy", enemy.String()).
		Msg("match started")
	return r, nil
}

// abort undoes a half-formed room.
func (c *Coordinator) abort(ctx context.Context, r room.Room) {
	if _, err := c.rooms.Release(ctx, r); err != nil {
		c.log.Error().Err(err).Str("room_id", r.RoomID.String()).Msg("failed to release aborted room")
	}
	for _, pID := range r.Players {
		_ = c.transport.GroupRemove(ctx, r.Group(), pID)
	}
}

// FinishMatch rates the requester's room and tears it down. When both members
// report at once exactly one call succeeds; the other gets ErrRoomFinished.
func (c *Coordinator) FinishMatch(ctx context.Context, requester uuid.UUID, outcome Outcome) (Finished, error) {
	r, err := c.rooms.ByPlayer(ctx, requester)
	if eris.Is(err, store.ErrRoomNotFound) {
		return Finished{}, eris.Wrapf(ErrNoRoom, "player %s", requester)
	}
	if err != nil {
		return Finished{}, err
	}

	if outcome == nil {
		outcome = RandomOutcome(nil)
	}
	winnerID, loserID, err := outcome(r)
	if err != nil {
		return Finished{}, err
	}

	// Ratings are computed before the room is claimed so a missing player or
	// a store error leaves the room open for another attempt.
	winner, loser, err := c.rate(ctx, winnerID, loserID)
	if err != nil {
		return Finished{}, eris.Wrapf(err, "failed to rate room %s", r.RoomID)
	}

	released, err := c.rooms.Release(ctx, r)
	if err != nil {
		return Finished{}, err
	}
	if !released {
		return Finished{}, eris.Wrapf(ErrRoomFinished, "room %s", r.RoomID)
	}

	if err := c.players.SaveAll(ctx, winner, loser); err != nil {
		c.reopen(ctx, r)
		return Finished{}, eris.Wrapf(err, "failed to store ratings of room %s", r.RoomID)
	}

	msg, err := protocol.New(protocol.TypeMatchFinished, map[string]string{
		winner.PlayerID.String(): winner.String(),
		loser.PlayerID.String():  loser.String(),
	})
	if err != nil {
		c.teardown(ctx, r)
		return Finished{}, err
	}
	if err := c.transport.GroupBroadcast(ctx, r.Group(), msg); err != nil {
		c.log.Warn().Err(err).Str("room_id", r.RoomID.String()).Msg("failed to announce result")
	}
	c.teardown(ctx, r)

	c.metrics.MatchesFinished.Inc()
	c.log.Info().
		Str("room_id", r.RoomID.String()).
		Str("winner", winner.PlayerID.String()).
		Int("winner_rating", winner.Rating()).
		Str("loser", loser.PlayerID.String()).
		Int("loser_rating", loser.Rating()).
		Msg("match finished")
	return Finished{Room: r, Winner: winner, Loser: loser}, nil
}

// teardown removes both members from the room's group.
func (c *Coordinator) teardown(ctx context.Context, r room.Room) {
	for _, pID := range r.Players {
		if err := c.transport.GroupRemove(ctx, r.Group(), pID); err != nil {
			c.log.Warn().Err(err).Str("room_id", r.RoomID.String()).Msg("failed to leave room group")
		}
	}
}

// reopen puts back a released room whose ratings could not be stored, so the
// match can be finished again. If that fails too the room is torn down.
func (c *Coordinator) reopen(ctx context.Context, r room.Room) {
	if err := c.rooms.Save(ctx, r); err != nil {
		c.log.Error().Err(err).Str("room_id", r.RoomID.String()).Msg("failed to reopen room")
		c.teardown(ctx, r)
	}
}

// rate loads both players and computes their new skills without storing them.
func (c *Coordinator) rate(ctx context.Context, winnerID, loserID uuid.UUID) (player.Player, player.Player, error) {
	winner, err := c.players.Get(ctx, winnerID)
	if err != nil {
		return player.Player{}, player.Player{}, err
	}
	loser, err := c.players.Get(ctx, loserID)
	if err != nil {
		return player.Player{}, player.Player{}, err
	}

	ws, ls, err := rating.UpdateAfterMatch(winner.Skill(), loser.Skill())
	if err != nil {
		return player.Player{}, player.Player{}, err
	}
	if err := winner.ApplySkill(ws); err != nil {
		return player.Player{}, player.Player{}, err
	}
	if err := loser.ApplySkill(ls); err != nil {
		return player.Player{}, player.Player{}, err
	}
	return winner, loser, nil
}

package matchmaking

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeamRekursion/matchmaker/models/player"
	"github.com/TeamRekursion/matchmaker/models/room"
	"github.com/TeamRekursion/matchmaker/protocol"
	"github.com/TeamRekursion/matchmaker/rating"
)

func TestCoordinator_StartMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testSearchConfig())
	a, b := f.newPlayer(t), f.newPlayer(t)

	r, err := f.coord.StartMatch(ctx, a.PlayerID, b.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, [2]uuid.UUID{a.PlayerID, b.PlayerID}, r.Players)

	got, err := f.rooms.ByPlayer(ctx, b.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, r.RoomID, got.RoomID)

	for _, id := range r.Players {
		msgs := f.transport.received(id, protocol.TypeFoundMatch)
		require.Len(t, msgs, 1)
		assert.JSONEq(t,
			`{"user0":"`+a.PlayerID.String()+`","user1":"`+b.PlayerID.String()+`"}`,
			string(msgs[0].Message))
	}
}

func TestCoordinator_StartMatchSamePlayer(t *testing.T) {
	f := newFixture(t, testSearchConfig())
	a := f.newPlayer(t)
	_, err := f.coord.StartMatch(context.Background(), a.PlayerID, a.PlayerID)
	assert.True(t, eris.Is(err, room.ErrSamePlayer))
}

func TestCoordinator_FinishMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testSearchConfig())
	a, b := f.newPlayer(t), f.newPlayer(t)
	outsider := f.newPlayer(t)
	r, err := f.coord.StartMatch(ctx, a.PlayerID, b.PlayerID)
	require.NoError(t, err)

	res, err := f.coord.FinishMatch(ctx, b.PlayerID, ReportedWinner(a.PlayerID))
	require.NoError(t, err)
	assert.Equal(t, a.PlayerID, res.Winner.PlayerID)
	assert.Equal(t, b.PlayerID, res.Loser.PlayerID)

	for _, id := range []uuid.UUID{a.PlayerID, b.PlayerID} {
		msgs := f.transport.received(id, protocol.TypeMatchFinished)
		require.Len(t, msgs, 1)
		var body map[string]string
		require.NoError(t, msgs[0].Payload(&body))
		assert.Len(t, body, 2)
		assert.Equal(t, res.Winner.String(), body[a.PlayerID.String()])
		assert.Equal(t, res.Loser.String(), body[b.PlayerID.String()])
	}
	assert.Empty(t, f.transport.received(outsider.PlayerID, protocol.TypeMatchFinished))

	ok, err := f.rooms.Contains(ctx, r.RoomID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, f.transport.groupCount())

	winner, err := f.players.Get(ctx, a.PlayerID)
	require.NoError(t, err)
	loser, err := f.players.Get(ctx, b.PlayerID)
	require.NoError(t, err)
	d := rating.Default()
	assert.Greater(t, winner.Mu, d.Mu)
	assert.Less(t, loser.Mu, d.Mu)
	assert.Less(t, winner.Sigma, d.Sigma)
	assert.Less(t, loser.Sigma, d.Sigma)
	assert.Equal(t, res.Winner, winner)
	assert.Equal(t, res.Loser, loser)
}

func TestCoordinator_FinishMatchNoRoom(t *testing.T) {
	f := newFixture(t, testSearchConfig())
	a := f.newPlayer(t)
	_, err := f.coord.FinishMatch(context.Background(), a.PlayerID, nil)
	assert.True(t, eris.Is(err, ErrNoRoom))
}

func TestCoordinator_FinishMatchUnknownWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testSearchConfig())
	a, b := f.newPlayer(t), f.newPlayer(t)
	r, err := f.coord.StartMatch(ctx, a.PlayerID, b.PlayerID)
	require.NoError(t, err)

	_, err = f.coord.FinishMatch(ctx, a.PlayerID, ReportedWinner(uuid.New()))
	assert.True(t, eris.Is(err, ErrUnknownWinner))

	// A rejected outcome leaves the room open.
	ok, err := f.rooms.Contains(ctx, r.RoomID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCoordinator_FinishMatchMissingPlayerKeepsRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testSearchConfig())
	a, b := f.newPlayer(t), f.newPlayer(t)
	r, err := f.coord.StartMatch(ctx, a.PlayerID, b.PlayerID)
	require.NoError(t, err)

	f.mr.Del("player:" + b.PlayerID.String())
	_, err = f.coord.FinishMatch(ctx, a.PlayerID, ReportedWinner(a.PlayerID))
	require.Error(t, err)

	ok, err := f.rooms.Contains(ctx, r.RoomID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.transport.groupCount())
	assert.Empty(t, f.transport.received(a.PlayerID, protocol.TypeMatchFinished))

	bz, err := b.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, f.mr.Set("player:"+b.PlayerID.String(), string(bz)))

	_, err = f.coord.FinishMatch(ctx, a.PlayerID, ReportedWinner(a.PlayerID))
	require.NoError(t, err)
	assert.Zero(t, f.transport.groupCount())
	assert.Len(t, f.transport.received(b.PlayerID, protocol.TypeMatchFinished), 1)
}

// brokenSave fails every batch write.
type brokenSave struct {
	Players
}

func (brokenSave) SaveAll(context.Context, ...player.Player) error {
	return eris.New("store unavailable")
}

func TestCoordinator_FinishMatchSaveFailureReopensRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testSearchConfig())
	a, b := f.newPlayer(t), f.newPlayer(t)
	r, err := f.coord.StartMatch(ctx, a.PlayerID, b.PlayerID)
	require.NoError(t, err)

	broken := NewCoordinator(brokenSave{f.players}, f.rooms, f.transport, f.metrics, zerolog.Nop())
	_, err = broken.FinishMatch(ctx, b.PlayerID, ReportedWinner(a.PlayerID))
	require.Error(t, err)

	got, err := f.rooms.ByPlayer(ctx, b.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, r.RoomID, got.RoomID)
	assert.Equal(t, 1, f.transport.groupCount())
	assert.Empty(t, f.transport.received(a.PlayerID, protocol.TypeMatchFinished))

	unchanged, err := f.players.Get(ctx, a.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, a, unchanged)

	res, err := f.coord.FinishMatch(ctx, b.PlayerID, ReportedWinner(a.PlayerID))
	require.NoError(t, err)
	assert.Equal(t, a.PlayerID, res.Winner.PlayerID)
	assert.Zero(t, f.transport.groupCount())
}

func TestCoordinator_FinishMatchConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testSearchConfig())
	a, b := f.newPlayer(t), f.newPlayer(t)
	_, err := f.coord.StartMatch(ctx, a.PlayerID, b.PlayerID)
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []uuid.UUID{a.PlayerID, b.PlayerID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.coord.FinishMatch(ctx, id, RandomOutcome(nil))
		}(i, id)
	}
	wg.Wait()

	var ok, finished int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case eris.Is(err, ErrRoomFinished), eris.Is(err, ErrNoRoom):
			finished++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, finished)
	assert.Len(t, f.transport.received(a.PlayerID, protocol.TypeMatchFinished), 1)
}

func TestRandomOutcome(t *testing.T) {
	r, err := room.CreateRoom(uuid.New(), uuid.New())
	require.NoError(t, err)

	outcome := RandomOutcome(rand.New(rand.NewSource(1)))
	wins := map[uuid.UUID]int{}
	for i := 0; i < 200; i++ {
		w, l, err := outcome(r)
		require.NoError(t, err)
		require.NotEqual(t, w, l)
		assert.True(t, r.Has(w))
		assert.True(t, r.Has(l))
		wins[w]++
	}
	assert.Len(t, wins, 2)
}

func TestReportedWinner(t *testing.T) {
	r, err := room.CreateRoom(uuid.New(), uuid.New())
	require.NoError(t, err)

	w, l, err := ReportedWinner(r.Players[1])(r)
	require.NoError(t, err)
	assert.Equal(t, r.Players[1], w)
	assert.Equal(t, r.Players[0], l)
}

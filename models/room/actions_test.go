package room

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoom(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	r, err := CreateRoom(a, b)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, r.RoomID)
	assert.Equal(t, [2]uuid.UUID{a, b}, r.Players)
	assert.Equal(t, r.RoomID.String(), r.Group())
	assert.NotZero(t, r.StartedAt)
}

func TestCreateRoom_SamePlayer(t *testing.T) {
	a := uuid.New()
	_, err := CreateRoom(a, a)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSamePlayer))
}

func TestCreateRoom_NilPlayer(t *testing.T) {
	_, err := CreateRoom(uuid.New(), uuid.Nil)
	require.Error(t, err)
}

func TestRoom_Opponent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	r, err := CreateRoom(a, b)
	require.NoError(t, err)

	got, ok := r.Opponent(a)
	assert.True(t, ok)
	assert.Equal(t, b, got)

	got, ok = r.Opponent(b)
	assert.True(t, ok)
	assert.Equal(t, a, got)

	_, ok = r.Opponent(uuid.New())
	assert.False(t, ok)

	assert.True(t, r.Has(a))
	assert.False(t, r.Has(uuid.New()))
}

func TestRoom_Binary(t *testing.T) {
	r, err := CreateRoom(uuid.New(), uuid.New())
	require.NoError(t, err)

	bz, err := r.MarshalBinary()
	require.NoError(t, err)

	var got Room
	require.NoError(t, got.UnmarshalBinary(bz))
	assert.Equal(t, r, got)
}

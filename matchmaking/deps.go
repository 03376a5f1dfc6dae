// Package matchmaking runs the per-player search loops and the room lifecycle.
//
// A Searcher owns one loop per waiting player. Loops never talk to each other;
// they cooperate only through the shared Queue, whose Claim is the single
// arbiter when two loops pick the same candidate. The Coordinator turns an
// accepted pair into a room and later rates and tears it down.
package matchmaking

import (
	"context"

	"github.com/google/uuid"

	"github.com/TeamRekursion/matchmaker/models/player"
	"github.com/TeamRekursion/matchmaker/models/room"
	"github.com/TeamRekursion/matchmaker/protocol"
	"github.com/TeamRekursion/matchmaker/queue"
)

// Queue is the shared waiting queue. *queue.Queue implements it.
type Queue interface {
	AddIfAbsent(ctx context.Context, e queue.Entry) (bool, error)
	Remove(ctx context.Context, ids ...uuid.UUID) error
	Claim(ctx context.Context, ids ...uuid.UUID) (bool, error)
	Contains(ctx context.Context, id uuid.UUID) (bool, error)
	Size(ctx context.Context) (int, error)
	ScanAll(ctx context.Context) ([]queue.Entry, error)
}

// Players is the identity store. *store.PlayerStore implements it.
type Players interface {
	Get(ctx context.Context, id uuid.UUID) (player.Player, error)
	// SaveAll stores every player or none of them.
	SaveAll(ctx context.Context, ps ...player.Player) error
}

// Rooms is the room registry. *store.RoomStore implements it.
type Rooms interface {
	Save(ctx context.Context, r room.Room) error
	ByPlayer(ctx context.Context, pID uuid.UUID) (room.Room, error)
	Release(ctx context.Context, r room.Room) (bool, error)
}

// Transport delivers envelopes to players. *transport.Hub implements it.
type Transport interface {
	Send(ctx context.Context, pID uuid.UUID, msg protocol.Message) error
	GroupAdd(ctx context.Context, group string, pID uuid.UUID) error
	GroupRemove(ctx context.Context, group string, pID uuid.UUID) error
	GroupBroadcast(ctx context.Context, group string, msg protocol.Message) error
}

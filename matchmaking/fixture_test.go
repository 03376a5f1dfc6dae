package matchmaking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/TeamRekursion/matchmaker/metrics"
	"github.com/TeamRekursion/matchmaker/models/player"
	"github.com/TeamRekursion/matchmaker/protocol"
	"github.com/TeamRekursion/matchmaker/queue"
	"github.com/TeamRekursion/matchmaker/store"
	"github.com/TeamRekursion/matchmaker/transport"
)

// fakeTransport records deliveries per player and keeps groups in memory.
type fakeTransport struct {
	mu        sync.Mutex
	connected map[uuid.UUID]bool
	groups    map[string]map[uuid.UUID]struct{}
	inbox     map[uuid.UUID][]protocol.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected: make(map[uuid.UUID]bool),
		groups:    make(map[string]map[uuid.UUID]struct{}),
		inbox:     make(map[uuid.UUID][]protocol.Message),
	}
}

func (f *fakeTransport) connect(ids ...uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.connected[id] = true
	}
}

func (f *fakeTransport) Send(_ context.Context, pID uuid.UUID, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[pID] {
		return eris.Wrapf(transport.ErrNotConnected, "player %s", pID)
	}
	f.inbox[pID] = append(f.inbox[pID], msg)
	return nil
}

func (f *fakeTransport) GroupAdd(_ context.Context, group string, pID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[pID] {
		return eris.Wrapf(transport.ErrNotConnected, "player %s", pID)
	}
	if f.groups[group] == nil {
		f.groups[group] = make(map[uuid.UUID]struct{})
	}
	f.groups[group][pID] = struct{}{}
	return nil
}

func (f *fakeTransport) GroupRemove(_ context.Context, group string, pID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[group], pID)
	if len(f.groups[group]) == 0 {
		delete(f.groups, group)
	}
	return nil
}

func (f *fakeTransport) GroupBroadcast(_ context.Context, group string, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.groups[group]
	if !ok {
		return eris.Wrapf(transport.ErrUnknownGroup, "group %s", group)
	}
	for pID := range members {
		f.inbox[pID] = append(f.inbox[pID], msg)
	}
	return nil
}

// received returns the messages of type typ delivered to pID.
func (f *fakeTransport) received(pID uuid.UUID, typ string) []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Message
	for _, m := range f.inbox[pID] {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) groupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.groups)
}

type fixture struct {
	mr        *miniredis.Miniredis
	client    *redis.Client
	queue     *queue.Queue
	players   *store.PlayerStore
	rooms     *store.RoomStore
	transport *fakeTransport
	metrics   *metrics.Metrics
	coord     *Coordinator
	searcher  *Searcher
}

func testSearchConfig() SearchConfig {
	cfg := DefaultSearchConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.MaxFailures = 3
	return cfg
}

func newFixture(t *testing.T, cfg SearchConfig, opts ...func(*redis.Options)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	ropts := &redis.Options{Addr: mr.Addr()}
	for _, o := range opts {
		o(ropts)
	}
	c := redis.NewClient(ropts)
	t.Cleanup(func() { _ = c.Close() })

	f := &fixture{
		mr:        mr,
		client:    c,
		queue:     queue.New(c, "test:queue", queue.DefaultTTL, zerolog.Nop()),
		players:   store.NewPlayerStore(c),
		rooms:     store.NewRoomStore(c, time.Hour),
		transport: newFakeTransport(),
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	f.coord = NewCoordinator(f.players, f.rooms, f.transport, f.metrics, zerolog.Nop())
	f.searcher = NewSearcher(f.queue, f.rooms, f.coord, cfg, f.metrics, zerolog.Nop())
	return f
}

// newPlayer stores a connected player with the default skill.
func (f *fixture) newPlayer(t *testing.T) player.Player {
	t.Helper()
	p, err := f.players.Create(context.Background())
	require.NoError(t, err)
	f.transport.connect(p.PlayerID)
	return p
}

func (f *fixture) savePlayer(t *testing.T, p player.Player) {
	t.Helper()
	require.NoError(t, f.players.SaveAll(context.Background(), p))
}

package matchmaking

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TeamRekursion/matchmaker/metrics"
	"github.com/TeamRekursion/matchmaker/protocol"
	"github.com/TeamRekursion/matchmaker/queue"
	"github.com/TeamRekursion/matchmaker/router"
)

// Handlers answers the matchmaking control messages of one process.
type Handlers struct {
	base      context.Context
	players   Players
	queue     Queue
	searcher  *Searcher
	coord     *Coordinator
	transport Transport
	outcome   Outcome
	log       zerolog.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

var ErrShuttingDown = eris.New("matchmaker is shutting down")

// NewHandlers binds the handlers to base, the context every search loop runs
// under. Cancelling base stops all loops. A nil outcome picks winners at random.
func NewHandlers(
	base context.Context,
	players Players,
	q Queue,
	searcher *Searcher,
	coord *Coordinator,
	t Transport,
	outcome Outcome,
	logger zerolog.Logger,
) *Handlers {
	if outcome == nil {
		outcome = RandomOutcome(nil)
	}
	return &Handlers{
		base:      base,
		players:   players,
		queue:     q,
		searcher:  searcher,
		coord:     coord,
		transport: t,
		outcome:   outcome,
		log:       logger,
	}
}

// Register installs every handler on r.
func (h *Handlers) Register(r *router.Router) error {
	for typ, fn := range map[string]router.Handler{
		protocol.TypeFindMatch:     h.FindMatch,
		protocol.TypeMatchFinished: h.MatchFinished,
		protocol.TypeIntroduced:    h.Introduced,
		protocol.TypeMatchmaking:   h.Matchmaking,
	} {
		if err := r.Register(typ, fn); err != nil {
			return err
		}
	}
	return nil
}

// FindMatch starts a search loop for the requester and acknowledges at once.
// A second request while one is running is a no-op.
func (h *Handlers) FindMatch(ctx context.Context, req router.Request) (protocol.Message, error) {
	p, err := h.players.Get(ctx, req.PlayerID)
	if err != nil {
		return protocol.Message{}, err
	}
	entry := queue.EntryFor(p)

	h.mu.Lock()
	if h.closing || h.base.Err() != nil {
		h.mu.Unlock()
		return protocol.Message{}, ErrShuttingDown
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		result, err := h.searcher.Search(h.base, entry)
		if result != metrics.ResultFailed {
			return
		}
		h.log.Error().Err(err).Str("player_id", entry.PlayerID.String()).Msg("search failed")
		if err == nil {
			err = eris.New("search failed")
		}
		if serr := h.transport.Send(context.WithoutCancel(h.base), entry.PlayerID, protocol.Error(err)); serr != nil {
			h.log.Debug().Err(serr).Str("player_id", entry.PlayerID.String()).Msg("could not report search failure")
		}
	}()
	return protocol.OK(), nil
}

// MatchFinished rates and closes the requester's room. The payload may name
// the winner; otherwise the handler's default outcome decides.
func (h *Handlers) MatchFinished(ctx context.Context, req router.Request) (protocol.Message, error) {
	var ctl protocol.Control
	if err := req.Message.Payload(&ctl); err != nil {
		return protocol.Message{}, err
	}
	outcome := h.outcome
	if ctl.Winner != "" {
		id, err := uuid.Parse(ctl.Winner)
		if err != nil {
			return protocol.Message{}, eris.Wrapf(protocol.ErrMalformed, "winner %q is not a player id", ctl.Winner)
		}
		outcome = ReportedWinner(id)
	}
	if _, err := h.coord.FinishMatch(ctx, req.PlayerID, outcome); err != nil {
		return protocol.Message{}, err
	}
	return protocol.OK(), nil
}

type introduction struct {
	User   string `json:"user"`
	Rating int    `json:"rating"`
}

// Introduced tells the client who it is.
func (h *Handlers) Introduced(ctx context.Context, req router.Request) (protocol.Message, error) {
	p, err := h.players.Get(ctx, req.PlayerID)
	if err != nil {
		return protocol.Message{}, err
	}
	return protocol.New(protocol.TypeIntroduced, introduction{User: p.PlayerID.String(), Rating: p.Rating()})
}

// Matchmaking unwraps {"type":"matchmaking","message":{"type":...}}.
func (h *Handlers) Matchmaking(ctx context.Context, req router.Request) (protocol.Message, error) {
	var ctl protocol.Control
	if err := req.Message.Payload(&ctl); err != nil {
		return protocol.Message{}, err
	}
	switch ctl.Type {
	case protocol.TypeFindMatch:
		return h.FindMatch(ctx, req)
	case protocol.TypeMatchFinished:
		return h.MatchFinished(ctx, req)
	default:
		return protocol.Message{}, eris.Wrapf(protocol.ErrMalformed, "unknown matchmaking action %q", ctl.Type)
	}
}

// Disconnect drops a departing player from the queue so its loop ends on the
// next poll.
func (h *Handlers) Disconnect(ctx context.Context, pID uuid.UUID) error {
	return h.queue.Remove(ctx, pID)
}

// Wait stops FindMatch from starting new loops and blocks until every running
// loop has returned.
func (h *Handlers) Wait() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.wg.Wait()
}

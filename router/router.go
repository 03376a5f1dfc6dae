// Package router dispatches decoded envelopes to handlers by message type.
// The table is filled once at startup and read-only afterwards.
package router

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TeamRekursion/matchmaker/protocol"
)

// Request is one inbound envelope and the player who sent it.
type Request struct {
	PlayerID uuid.UUID
	Message  protocol.Message
}

// Handler answers a request. A nil error with an empty reply sends nothing.
type Handler func(ctx context.Context, req Request) (protocol.Message, error)

type Router struct {
	handlers map[string]Handler
	log      zerolog.Logger
}

func New(logger zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		log:      logger,
	}
}

// Register binds typ to h. Registering a type twice is a programming error.
func (r *Router) Register(typ string, h Handler) error {
	if typ == "" {
		return eris.New("message type cannot be empty")
	}
	if h == nil {
		return eris.Errorf("nil handler for %q", typ)
	}
	if _, ok := r.handlers[typ]; ok {
		return eris.Errorf("handler for %q already registered", typ)
	}
	r.handlers[typ] = h
	return nil
}

// Types lists the registered message types in sorted order.
func (r *Router) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for typ := range r.handlers {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Dispatch routes an already decoded envelope. Handler errors become error
// envelopes.
func (r *Router) Dispatch(ctx context.Context, req Request) protocol.Message {
	h, ok := r.handlers[req.Message.Type]
	if !ok {
		h = Unknown
	}
	reply, err := h(ctx, req)
	if err != nil {
		r.log.Warn().Err(err).
			Str("player_id", req.PlayerID.String()).
			Str("type", req.Message.Type).
			Msg("handler failed")
		return protocol.Error(err)
	}
	return reply
}

// Handle decodes one raw frame and dispatches it. Undecodable frames are
// answered with an error envelope echoing the raw payload.
func (r *Router) Handle(ctx context.Context, pID uuid.UUID, raw []byte) protocol.Message {
	m, err := protocol.Decode(raw)
	if err != nil {
		r.log.Debug().Err(err).Str("player_id", pID.String()).Msg("malformed frame")
		return protocol.Malformed(raw, err)
	}
	return r.Dispatch(ctx, Request{PlayerID: pID, Message: m})
}

// Unknown answers every unregistered type.
func Unknown(_ context.Context, _ Request) (protocol.Message, error) {
	return protocol.Must(protocol.TypeError, protocol.ErrorPayload{Error: "unknown type message"}), nil
}

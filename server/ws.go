package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/TeamRekursion/matchmaker/models/player"
	"github.com/TeamRekursion/matchmaker/store"
)

const disconnectTimeout = 2 * time.Second

// serveWS attaches a websocket for a new player, or for the player named by
// ?player_id when it already exists.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	p, status, err := s.identify(r)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	log := s.log.With().Str("player_id", p.PlayerID.String()).Logger()
	log.Info().Int("rating", p.Rating()).Msg("player connected")

	s.deps.Hub.Attach(ws, p.PlayerID).Run(s.base, s.deps.Handle)

	// A newer connection for the same player keeps its search alive.
	if s.deps.Hub.Connected(p.PlayerID) {
		log.Debug().Msg("connection replaced")
		return
	}
	if s.deps.Disconnect != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), disconnectTimeout)
		defer cancel()
		if err := s.deps.Disconnect(ctx, p.PlayerID); err != nil {
			log.Warn().Err(err).Msg("disconnect cleanup failed")
		}
	}
	log.Info().Msg("player disconnected")
}

func (s *Server) identify(r *http.Request) (player.Player, int, error) {
	raw := r.URL.Query().Get("player_id")
	if raw == "" {
		p, err := s.deps.Players.Create(r.Context())
		if err != nil {
			return player.Player{}, http.StatusInternalServerError, err
		}
		return p, 0, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return player.Player{}, http.StatusBadRequest, eris.Errorf("invalid player id %q", raw)
	}
	p, err := s.deps.Players.Get(r.Context(), id)
	if eris.Is(err, store.ErrPlayerNotFound) {
		return player.Player{}, http.StatusNotFound, err
	}
	if err != nil {
		return player.Player{}, http.StatusInternalServerError, err
	}
	return p, 0, nil
}

package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"

	"github.com/TeamRekursion/matchmaker/models/room"
	"github.com/TeamRekursion/matchmaker/rating"
	"github.com/TeamRekursion/matchmaker/store"
)

type playerView struct {
	ID     uuid.UUID `json:"id"`
	Mu     float64   `json:"mu"`
	Sigma  float64   `json:"sigma"`
	Rating int       `json:"rating"`
}

// roomView is a room record plus the members still bound to its group.
type roomView struct {
	room.Room
	Online []uuid.UUID `json:"online"`
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]interface{}{
		"error":   true,
		"message": msg,
	})
}

// statusOf maps store errors to HTTP statuses.
func statusOf(err error) int {
	if eris.Is(err, store.ErrPlayerNotFound) || eris.Is(err, store.ErrRoomNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, eris.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.deps.Players.Get(r.Context(), id)
	if err != nil {
		respondError(w, statusOf(err), err.Error())
		return
	}
	respond(w, http.StatusOK, playerView{ID: p.PlayerID, Mu: p.Mu, Sigma: p.Sigma, Rating: p.Rating()})
}

// getVersus reports the chance that {id} beats {other}, from display ratings.
func (s *Server) getVersus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	otherID, err := pathID(r, "other")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.deps.Players.Get(r.Context(), id)
	if err != nil {
		respondError(w, statusOf(err), err.Error())
		return
	}
	other, err := s.deps.Players.Get(r.Context(), otherID)
	if err != nil {
		respondError(w, statusOf(err), err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"error":           false,
		"win_probability": rating.WinProbability(float64(other.Rating()), float64(p.Rating())),
	})
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	size, err := s.deps.Queue.Size(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"error": false,
		"size":  size,
	})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rm, err := s.deps.Rooms.Get(r.Context(), id)
	if err != nil {
		respondError(w, statusOf(err), err.Error())
		return
	}
	online := s.deps.Hub.Members(rm.Group())
	sort.Slice(online, func(i, j int) bool { return online[i].String() < online[j].String() })
	respond(w, http.StatusOK, roomView{Room: rm, Online: online})
}

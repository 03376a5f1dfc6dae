// Package transport delivers protocol messages to connected websocket clients.
//
// A Hub maps each player id to its live connection and keeps named broadcast
// groups of player ids. Delivery is fire-and-forget: every connection has a
// buffered outbox drained by its own writer goroutine, and a full outbox drops
// the message rather than stalling the sender.
package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TeamRekursion/matchmaker/protocol"
)

var (
	ErrNotConnected = eris.New("player is not connected")
	ErrUnknownGroup = eris.New("unknown broadcast group")
)

type Hub struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]*Conn
	groups map[string]map[uuid.UUID]struct{}
	log    zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		conns:  make(map[uuid.UUID]*Conn),
		groups: make(map[string]map[uuid.UUID]struct{}),
		log:    logger,
	}
}

// Attach registers ws as the live connection of pID. A previous connection of
// the same player is closed and replaced.
func (h *Hub) Attach(ws *websocket.Conn, pID uuid.UUID) *Conn {
	c := newConn(h, ws, pID)

	h.mu.Lock()
	old := h.conns[pID]
	h.conns[pID] = c
	h.mu.Unlock()

	if old != nil {
		h.log.Info().Str("player_id", pID.String()).Msg("replacing existing connection")
		old.Close()
	}
	return c
}

// detach drops c only while it is still the player's current connection, so a
// late close of a replaced connection cannot evict its successor. The player
// also leaves every group; groups left empty are discarded.
func (h *Hub) detach(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.conns[c.playerID]
	if !ok || cur != c {
		return false
	}
	delete(h.conns, c.playerID)
	for group, members := range h.groups {
		if _, ok := members[c.playerID]; !ok {
			continue
		}
		delete(members, c.playerID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	return true
}

func (h *Hub) Connected(pID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[pID]
	return ok
}

// Send delivers msg to one player.
func (h *Hub) Send(_ context.Context, pID uuid.UUID, msg protocol.Message) error {
	bz, err := msg.MarshalBinary()
	if err != nil {
		return eris.Wrap(err, "failed to encode message")
	}
	h.mu.RLock()
	c := h.conns[pID]
	h.mu.RUnlock()
	if c == nil {
		return eris.Wrapf(ErrNotConnected, "player %s", pID)
	}
	if !c.enqueue(bz) {
		h.log.Warn().Str("player_id", pID.String()).Str("type", msg.Type).Msg("outbox full, dropping message")
	}
	return nil
}

// GroupAdd puts a connected player into group, creating it if needed.
func (h *Hub) GroupAdd(_ context.Context, group string, pID uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[pID]; !ok {
		return eris.Wrapf(ErrNotConnected, "player %s", pID)
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[uuid.UUID]struct{}, 2)
		h.groups[group] = members
	}
	members[pID] = struct{}{}
	return nil
}

// GroupRemove takes pID out of group. The group is discarded once empty.
func (h *Hub) GroupRemove(_ context.Context, group string, pID uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return nil
	}
	delete(members, pID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	return nil
}

// GroupBroadcast delivers msg to every connected member of group.
func (h *Hub) GroupBroadcast(_ context.Context, group string, msg protocol.Message) error {
	bz, err := msg.MarshalBinary()
	if err != nil {
		return eris.Wrap(err, "failed to encode message")
	}

	h.mu.RLock()
	members, ok := h.groups[group]
	if !ok {
		h.mu.RUnlock()
		return eris.Wrapf(ErrUnknownGroup, "group %s", group)
	}
	targets := make([]*Conn, 0, len(members))
	for pID := range members {
		if c := h.conns[pID]; c != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(bz) {
			h.log.Warn().Str("player_id", c.playerID.String()).Str("group", group).Msg("outbox full, dropping broadcast")
		}
	}
	return nil
}

// Members lists the player ids currently in group.
func (h *Hub) Members(group string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(h.groups[group]))
	for pID := range h.groups[group] {
		out = append(out, pID)
	}
	return out
}

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TeamRekursion/matchmaker/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	outboxSize     = 16
)

// HandlerFunc answers one inbound frame. A reply with an empty Type is not sent.
type HandlerFunc func(ctx context.Context, pID uuid.UUID, raw []byte) protocol.Message

type Conn struct {
	hub      *Hub
	ws       *websocket.Conn
	playerID uuid.UUID

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(h *Hub, ws *websocket.Conn, pID uuid.UUID) *Conn {
	return &Conn{
		hub:      h,
		ws:       ws,
		playerID: pID,
		send:     make(chan []byte, outboxSize),
		done:     make(chan struct{}),
	}
}

func (c *Conn) enqueue(bz []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- bz:
		return true
	default:
		return false
	}
}

// Close detaches the connection from the hub and shuts the socket. It is safe
// to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.detach(c)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Run pumps the connection until the client goes away or ctx ends. Every frame
// read is passed to handle and its reply is queued back to the client.
func (c *Conn) Run(ctx context.Context, handle HandlerFunc) {
	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	log := c.hub.log.With().Str("player_id", c.playerID.String()).Logger()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		reply := handle(ctx, c.playerID, raw)
		if reply.Type == "" {
			continue
		}
		bz, err := reply.MarshalBinary()
		if err != nil {
			log.Error().Err(err).Msg("failed to encode reply")
			continue
		}
		if !c.enqueue(bz) {
			log.Warn().Str("type", reply.Type).Msg("outbox full, dropping reply")
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case bz := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, bz); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

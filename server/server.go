// Package server exposes the matchmaker over HTTP: the /ws websocket endpoint
// that carries the message protocol, a few read-only JSON endpoints and
// /metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/TeamRekursion/matchmaker/models/player"
	"github.com/TeamRekursion/matchmaker/models/room"
	"github.com/TeamRekursion/matchmaker/transport"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Players is the identity store as the server uses it.
type Players interface {
	Get(ctx context.Context, id uuid.UUID) (player.Player, error)
	Create(ctx context.Context) (player.Player, error)
}

type Rooms interface {
	Get(ctx context.Context, id uuid.UUID) (room.Room, error)
}

type Queue interface {
	Size(ctx context.Context) (int, error)
}

// Handler answers one inbound websocket frame. *router.Router.Handle fits.
type Handler = transport.HandlerFunc

// Deps are the collaborators a Server is wired to.
type Deps struct {
	Players Players
	Rooms   Rooms
	Queue   Queue
	Hub     *transport.Hub
	Handle  Handler
	// Disconnect runs once a player's last connection closes.
	Disconnect func(ctx context.Context, pID uuid.UUID) error
	Gatherer   prometheus.Gatherer
	Logger     zerolog.Logger
}

type Server struct {
	deps     Deps
	base     context.Context
	upgrader websocket.Upgrader
	log      zerolog.Logger
	srv      *http.Server
}

// New builds a server listening on addr. Websocket connections live until
// base is cancelled or the client leaves.
func New(base context.Context, addr string, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		deps: deps,
		base: base,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: deps.Logger,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the routed handler with logging, recovery and CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWS)
	r.HandleFunc("/players/{id}", s.getPlayer).Methods(http.MethodGet)
	r.HandleFunc("/players/{id}/versus/{other}", s.getVersus).Methods(http.MethodGet)
	r.HandleFunc("/queue", s.getQueue).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{id}", s.getRoom).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})

	var h http.Handler = r
	h = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}).Handler(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.log}), handlers.PrintRecoveryStack(false))(h)
	h = handlers.LoggingHandler(s.log.With().Str("stream", "access").Logger(), h)
	return h
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("listening")
	if err := s.srv.ListenAndServe(); err != nil && !eris.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return eris.Wrap(err, "http shutdown failed")
	}
	return nil
}

type recoveryLogger struct {
	log zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Interface("panic", v).Msg("recovered from panic")
}

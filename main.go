package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/TeamRekursion/matchmaker/config"
	"github.com/TeamRekursion/matchmaker/matchmaking"
	"github.com/TeamRekursion/matchmaker/metrics"
	"github.com/TeamRekursion/matchmaker/queue"
	"github.com/TeamRekursion/matchmaker/router"
	"github.com/TeamRekursion/matchmaker/server"
	"github.com/TeamRekursion/matchmaker/store"
	"github.com/TeamRekursion/matchmaker/telemetry"
	"github.com/TeamRekursion/matchmaker/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("matchmaker stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	queueDB := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.QueueDB})
	defer queueDB.Close()
	storeDB := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.StoreDB})
	defer storeDB.Close()

	for name, c := range map[string]*redis.Client{"queue": queueDB, "store": storeDB} {
		if err := c.Ping(ctx).Err(); err != nil {
			return eris.Wrapf(err, "failed to reach %s redis at %s", name, cfg.RedisAddr)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	q := queue.New(queueDB, cfg.QueueName, cfg.QueueTTL, telemetry.Component(logger, "queue"))
	players := store.NewPlayerStore(storeDB)
	rooms := store.NewRoomStore(storeDB, cfg.RoomTTL)
	hub := transport.NewHub(telemetry.Component(logger, "hub"))

	coord := matchmaking.NewCoordinator(players, rooms, hub, m, telemetry.Component(logger, "coordinator"))
	searcher := matchmaking.NewSearcher(q, rooms, coord, matchmaking.SearchConfig{
		Interval:      cfg.SearchInterval,
		BaseThreshold: cfg.BaseThreshold,
		ThresholdStep: cfg.ThresholdStep,
		MaxFailures:   cfg.SearchMaxFailures,
	}, m, telemetry.Component(logger, "search"))

	handlers := matchmaking.NewHandlers(ctx, players, q, searcher, coord, hub, nil, telemetry.Component(logger, "handlers"))
	rt := router.New(telemetry.Component(logger, "router"))
	if err := handlers.Register(rt); err != nil {
		return err
	}
	logger.Info().
		Strs("message_types", rt.Types()).
		Str("queue", q.Name()).
		Dur("search_interval", cfg.SearchInterval).
		Msg("matchmaker ready")

	srv := server.New(ctx, cfg.HTTPAddr, server.Deps{
		Players:    players,
		Rooms:      rooms,
		Queue:      q,
		Hub:        hub,
		Handle:     rt.Handle,
		Disconnect: handlers.Disconnect,
		Gatherer:   reg,
		Logger:     telemetry.Component(logger, "server"),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.Warn().Err(err).Msg("unclean http shutdown")
	}
	handlers.Wait()
	return nil
}

package matchmaking

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TeamRekursion/matchmaker/metrics"
	"github.com/TeamRekursion/matchmaker/queue"
	"github.com/TeamRekursion/matchmaker/rating"
	"github.com/TeamRekursion/matchmaker/store"
)

const cleanupTimeout = 2 * time.Second

type SearchConfig struct {
	// Interval is the pause between two polls of the queue.
	Interval time.Duration
	// A candidate is accepted when its quality exceeds
	// BaseThreshold - ThresholdStep*polls, floored at 0.
	BaseThreshold float64
	ThresholdStep float64
	// MaxFailures consecutive queue errors end the loop.
	MaxFailures int
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Interval:      time.Second,
		BaseThreshold: 0.5,
		ThresholdStep: 0.01,
		MaxFailures:   10,
	}
}

// Searcher runs search loops against a shared queue.
type Searcher struct {
	queue   Queue
	rooms   Rooms
	coord   *Coordinator
	cfg     SearchConfig
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewSearcher(q Queue, rooms Rooms, coord *Coordinator, cfg SearchConfig, m *metrics.Metrics, logger zerolog.Logger) *Searcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSearchConfig().Interval
	}
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	return &Searcher{
		queue:   q,
		rooms:   rooms,
		coord:   coord,
		cfg:     cfg,
		metrics: m,
		log:     logger,
	}
}

// Threshold is the minimum quality accepted after searchTimes fruitless polls.
func (s *Searcher) Threshold(searchTimes int) float64 {
	return math.Max(0, s.cfg.BaseThreshold-s.cfg.ThresholdStep*float64(searchTimes))
}

// Search enqueues self and polls until it is matched or leaves the queue. It
// returns one of the metrics.Result* values. A player that is already waiting
// gets ResultDuplicate and no second loop.
//
// The loop stops when self is no longer in the queue (matched by another loop,
// removed on disconnect, or lost with an expired queue), when it claims a pair
// itself, after MaxFailures consecutive queue errors, or when ctx ends. A
// claimed enemy that turns out to be disconnected puts self back in the queue.
func (s *Searcher) Search(ctx context.Context, self queue.Entry) (string, error) {
	log := s.log.With().Str("player_id", self.PlayerID.String()).Logger()

	added, err := s.queue.AddIfAbsent(ctx, self)
	if err != nil {
		return s.end(log, metrics.ResultFailed), err
	}
	if !added {
		log.Debug().Msg("already searching")
		return s.end(log, metrics.ResultDuplicate), nil
	}
	s.metrics.SearchesStarted.Inc()
	log.Debug().Msg("search started")

	var searchTimes, failures int
	for {
		result, scanned, err := s.poll(ctx, log, self, searchTimes)
		if result != "" {
			return s.end(log, result), err
		}
		if err != nil {
			if ctx.Err() != nil {
				s.leave(ctx, log, self)
				return s.end(log, metrics.ResultAbandoned), ctx.Err()
			}
			failures++
			log.Warn().Err(err).Int("failures", failures).Msg("search poll failed")
			if failures >= s.cfg.MaxFailures {
				s.leave(ctx, log, self)
				return s.end(log, metrics.ResultFailed), eris.Wrapf(err, "search gave up after %d failures", failures)
			}
		} else {
			failures = 0
			if scanned {
				searchTimes++
			}
		}

		timer := time.NewTimer(s.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.leave(ctx, log, self)
			return s.end(log, metrics.ResultAbandoned), ctx.Err()
		case <-timer.C:
		}
	}
}

// poll runs one iteration. A non-empty result ends the loop; an error with an
// empty result is retried. scanned reports whether candidates were compared,
// which is what relaxes the threshold.
func (s *Searcher) poll(ctx context.Context, log zerolog.Logger, self queue.Entry, searchTimes int) (result string, scanned bool, err error) {
	s.metrics.SearchIterations.Inc()

	present, err := s.queue.Contains(ctx, self.PlayerID)
	if err != nil {
		return "", false, err
	}
	if !present {
		return s.gone(ctx, self), false, nil
	}

	size, err := s.queue.Size(ctx)
	if err != nil {
		return "", false, err
	}
	s.metrics.QueueSize.Set(float64(size))
	if size <= 1 {
		return "", false, nil
	}

	entries, err := s.queue.ScanAll(ctx)
	if err != nil {
		return "", false, err
	}
	threshold := s.Threshold(searchTimes)
	for _, cand := range entries {
		if cand.PlayerID == self.PlayerID {
			continue
		}
		quality := rating.MatchQuality(self.Mu, self.Sigma, cand.Mu, cand.Sigma)
		if quality <= threshold {
			continue
		}

		claimed, err := s.queue.Claim(ctx, self.PlayerID, cand.PlayerID)
		if err != nil {
			return "", false, err
		}
		if !claimed {
			// The candidate or self was taken since the scan.
			s.metrics.ClaimsLost.Inc()
			log.Debug().Str("candidate", cand.PlayerID.String()).Msg("claim lost")
			return "", true, nil
		}

		s.metrics.MatchQuality.Observe(quality)
		log.Debug().
			Str("candidate", cand.PlayerID.String()).
			Float64("quality", quality).
			Float64("threshold", threshold).
			Int("search_times", searchTimes).
			Msg("candidate accepted")
		if _, err := s.coord.StartMatch(ctx, self.PlayerID, cand.PlayerID); err != nil {
			if !eris.Is(err, ErrEnemyUnavailable) {
				return metrics.ResultFailed, true, eris.Wrap(err, "failed to start match")
			}
			// The candidate left after the claim; self goes back to waiting.
			s.metrics.ClaimsLost.Inc()
			log.Info().Err(err).Str("candidate", cand.PlayerID.String()).Msg("candidate vanished, searching again")
			if _, err := s.queue.AddIfAbsent(ctx, self); err != nil {
				return metrics.ResultFailed, true, eris.Wrap(err, "failed to re-enqueue after vanished candidate")
			}
			return "", true, nil
		}
		return metrics.ResultMatched, true, nil
	}
	log.Debug().Int("queue_size", size).Float64("threshold", threshold).Msg("no candidate")
	return "", true, nil
}

// gone tells a pairing made by another loop apart from a removal.
func (s *Searcher) gone(ctx context.Context, self queue.Entry) string {
	_, err := s.rooms.ByPlayer(ctx, self.PlayerID)
	if err == nil {
		return metrics.ResultMatched
	}
	if !eris.Is(err, store.ErrRoomNotFound) {
		s.log.Warn().Err(err).Str("player_id", self.PlayerID.String()).Msg("failed to look up room")
	}
	return metrics.ResultAbandoned
}

// leave drops self from the queue on the way out. It runs even if ctx is done.
func (s *Searcher) leave(ctx context.Context, log zerolog.Logger, self queue.Entry) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.queue.Remove(cctx, self.PlayerID); err != nil {
		log.Warn().Err(err).Msg("failed to leave queue")
	}
}

func (s *Searcher) end(log zerolog.Logger, result string) string {
	s.metrics.SearchesEnded.WithLabelValues(result).Inc()
	log.Debug().Str("result", result).Msg("search ended")
	return result
}

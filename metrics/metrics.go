package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Search outcomes recorded in SearchesEnded.
const (
	ResultMatched   = "matched"
	ResultAbandoned = "abandoned"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

type Metrics struct {
	SearchesStarted  prometheus.Counter
	SearchIterations prometheus.Counter
	SearchesEnded    *prometheus.CounterVec
	ClaimsLost       prometheus.Counter
	MatchesStarted   prometheus.Counter
	MatchesFinished  prometheus.Counter
	QueueSize        prometheus.Gauge
	MatchQuality     prometheus.Histogram
}

// New registers the matchmaker collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SearchesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "matchmaker_searches_started_total",
			Help: "Search loops admitted to the queue",
		}),
		SearchIterations: f.NewCounter(prometheus.CounterOpts{
			Name: "matchmaker_search_iterations_total",
			Help: "Queue polls performed by all search loops",
		}),
		SearchesEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_searches_ended_total",
			Help: "Search loops that terminated, by result",
		}, []string{"result"}),
		ClaimsLost: f.NewCounter(prometheus.CounterOpts{
			Name: "matchmaker_claims_lost_total",
			Help: "Accepted candidates that vanished before the claim committed",
		}),
		MatchesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "matchmaker_matches_started_total",
			Help: "Rooms formed",
		}),
		MatchesFinished: f.NewCounter(prometheus.CounterOpts{
			Name: "matchmaker_matches_finished_total",
			Help: "Rooms finished and rated",
		}),
		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "matchmaker_queue_size",
			Help: "Waiting players observed by the last poll",
		}),
		MatchQuality: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchmaker_match_quality",
			Help:    "Quality of accepted pairings",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}

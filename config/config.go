package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TeamRekursion/matchmaker/telemetry"
)

// Config holds environment-based configuration for the matchmaker.
type Config struct {
	HTTPAddr string `env:"MATCHMAKER_HTTP_ADDR" envDefault:":8080"`

	RedisAddr     string `env:"MATCHMAKER_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"MATCHMAKER_REDIS_PASSWORD" envDefault:""`
	// QueueDB is the redis database holding the waiting queue.
	QueueDB int `env:"MATCHMAKER_QUEUE_DB" envDefault:"1"`
	// StoreDB is the redis database holding players and rooms.
	StoreDB int `env:"MATCHMAKER_STORE_DB" envDefault:"0"`

	QueueName string        `env:"MATCHMAKER_QUEUE_NAME" envDefault:"matchmaking:queue"`
	QueueTTL  time.Duration `env:"MATCHMAKER_QUEUE_TTL" envDefault:"180s"`

	SearchInterval    time.Duration `env:"MATCHMAKER_SEARCH_INTERVAL" envDefault:"1s"`
	BaseThreshold     float64       `env:"MATCHMAKER_BASE_THRESHOLD" envDefault:"0.5"`
	ThresholdStep     float64       `env:"MATCHMAKER_THRESHOLD_STEP" envDefault:"0.01"`
	SearchMaxFailures int           `env:"MATCHMAKER_SEARCH_MAX_FAILURES" envDefault:"10"`

	RoomTTL time.Duration `env:"MATCHMAKER_ROOM_TTL" envDefault:"1h"`

	LogLevel  string `env:"MATCHMAKER_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"MATCHMAKER_LOG_FORMAT" envDefault:"json"`
}

// Load parses and validates the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse matchmaker config")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate matchmaker config")
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	if cfg.HTTPAddr == "" {
		return eris.New("http address cannot be empty")
	}
	if cfg.RedisAddr == "" {
		return eris.New("redis address cannot be empty")
	}
	if cfg.QueueName == "" {
		return eris.New("queue name cannot be empty")
	}
	if cfg.QueueTTL < time.Second {
		return eris.Errorf("queue ttl %s must be at least 1s", cfg.QueueTTL)
	}
	if cfg.SearchInterval <= 0 {
		return eris.Errorf("search interval %s must be positive", cfg.SearchInterval)
	}
	if cfg.BaseThreshold < 0 || cfg.BaseThreshold > 1 {
		return eris.Errorf("base threshold %v must be between 0 and 1", cfg.BaseThreshold)
	}
	if cfg.ThresholdStep < 0 || cfg.ThresholdStep > 1 {
		return eris.Errorf("threshold step %v must be between 0 and 1", cfg.ThresholdStep)
	}
	if cfg.SearchMaxFailures < 1 {
		return eris.New("search max failures must be at least 1")
	}
	if cfg.RoomTTL <= 0 {
		return eris.Errorf("room ttl %s must be positive", cfg.RoomTTL)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return eris.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if telemetry.ParseLogFormat(cfg.LogFormat) == telemetry.LogFormatUndefined {
		return eris.Errorf("invalid log format: %s (must be 'json' or 'pretty')", cfg.LogFormat)
	}
	return nil
}

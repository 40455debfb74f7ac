package config

import (
	"fmt"
	"strings"
	"time"

	"arena-duels/internal/domain"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	DBPath       string        `env:"DB_PATH" envDefault:"duels.db"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`

	BaseTolerance         int           `env:"MATCHMAKING_BASE_TOLERANCE" envDefault:"100"`
	ToleranceStep         int           `env:"MATCHMAKING_TOLERANCE_STEP" envDefault:"50"`
	ToleranceStepInterval time.Duration `env:"MATCHMAKING_TOLERANCE_STEP_INTERVAL" envDefault:"10s"`
	MaxTolerance          int           `env:"MATCHMAKING_MAX_TOLERANCE" envDefault:"500"`

	SeedRating         int `env:"RATING_SEED" envDefault:"1000"`
	KFactorProvisional int `env:"RATING_K_PROVISIONAL" envDefault:"40"`
	KFactorEstablished int `env:"RATING_K_ESTABLISHED" envDefault:"32"`
	ProvisionalMatches int `env:"RATING_PROVISIONAL_MATCHES" envDefault:"30"`

	RoundsToWin       int           `env:"DUEL_ROUNDS_TO_WIN" envDefault:"2"`
	CountdownTicks    int           `env:"DUEL_COUNTDOWN_TICKS" envDefault:"5"`
	IntermissionDelay time.Duration `env:"DUEL_INTERMISSION_DELAY" envDefault:"3s"`
	MatchEndDelay     time.Duration `env:"DUEL_MATCH_END_DELAY" envDefault:"5s"`
	ChallengeTimeout  time.Duration `env:"DUEL_CHALLENGE_TIMEOUT" envDefault:"60s"`

	InstanceMaxMatches int           `env:"ARENA_INSTANCE_MAX_MATCHES" envDefault:"10"`
	InstanceMaxAge     time.Duration `env:"ARENA_INSTANCE_MAX_AGE" envDefault:"1h"`

	Kits           []string        `env:"KITS" envSeparator:"," envDefault:"sword,axe,uhc,potion"`
	FallbackSpawn1 domain.Location `env:"FALLBACK_SPAWN_A" envDefault:"world,0,64,0"`
	FallbackSpawn2 domain.Location `env:"FALLBACK_SPAWN_B" envDefault:"world,20,64,0"`
	Lobby          domain.Location `env:"LOBBY" envDefault:"world,0,64,0"`
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for i, k := range cfg.Kits {
		cfg.Kits[i] = strings.ToLower(strings.TrimSpace(k))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("log_level", cfg.LogLevel).
		Dur("tick_interval", cfg.TickInterval).
		Int("base_tolerance", cfg.BaseTolerance).
		Int("max_tolerance", cfg.MaxTolerance).
		Int("rounds_to_win", cfg.RoundsToWin).
		Strs("kits", cfg.Kits).
		Msg("configuration loaded")

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.TickInterval <= 0:
		return fmt.Errorf("TICK_INTERVAL must be positive")
	case c.BaseTolerance < 0:
		return fmt.Errorf("MATCHMAKING_BASE_TOLERANCE must not be negative")
	case c.MaxTolerance < c.BaseTolerance:
		return fmt.Errorf("MATCHMAKING_MAX_TOLERANCE must be at least MATCHMAKING_BASE_TOLERANCE")
	case c.ToleranceStepInterval <= 0:
		return fmt.Errorf("MATCHMAKING_TOLERANCE_STEP_INTERVAL must be positive")
	case c.RoundsToWin < 1:
		return fmt.Errorf("DUEL_ROUNDS_TO_WIN must be at least 1")
	case c.CountdownTicks < 0:
		return fmt.Errorf("DUEL_COUNTDOWN_TICKS must not be negative")
	case c.KFactorProvisional <= 0 || c.KFactorEstablished <= 0:
		return fmt.Errorf("rating K-factors must be positive")
	case c.SeedRating < 0:
		return fmt.Errorf("RATING_SEED must not be negative")
	case c.InstanceMaxMatches < 1:
		return fmt.Errorf("ARENA_INSTANCE_MAX_MATCHES must be at least 1")
	case len(c.Kits) == 0:
		return fmt.Errorf("KITS must list at least one kit")
	}
	return nil
}

func (c *Config) HasKit(kit string) bool {
	kit = strings.ToLower(strings.TrimSpace(kit))
	for _, k := range c.Kits {
		if k == kit {
			return true
		}
	}
	return false
}

var Module = fx.Provide(Load)

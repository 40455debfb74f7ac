package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type Ticker interface {
	Tick(ctx context.Context)
}

// Scheduler drives the game tick. A tick that overruns the interval makes the
// next one wait instead of running concurrently.
type Scheduler struct {
	sched  gocron.Scheduler
	cancel context.CancelFunc
	logger zerolog.Logger
}

func New(ticker Ticker, interval time.Duration, clock clockwork.Clock, logger zerolog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLogger(gocronLogger{logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ticker.Tick(ctx)
		}),
		gocron.WithName("duel-tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return nil, fmt.Errorf("failed to schedule tick: %w", err)
	}

	return &Scheduler{sched: sched, cancel: cancel, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	s.logger.Info().Msg("tick scheduler started")
}

func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.logger.Info().Msg("tick scheduler stopped")
	return nil
}

type gocronLogger struct {
	log zerolog.Logger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.log.Debug().Fields(args).Msg(msg) }
func (l gocronLogger) Info(msg string, args ...any)  { l.log.Info().Fields(args).Msg(msg) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.log.Warn().Fields(args).Msg(msg) }
func (l gocronLogger) Error(msg string, args ...any) { l.log.Error().Fields(args).Msg(msg) }

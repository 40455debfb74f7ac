package main

import (
	"context"

	"arena-duels/internal/arena"
	"arena-duels/internal/constants"
	fxmodules "arena-duels/internal/fx"
	"arena-duels/internal/rating"
	"arena-duels/internal/scheduler"
	"arena-duels/internal/server"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	host *server.Host,
	ratings *rating.Service,
	pool *arena.Pool,
	sched *scheduler.Scheduler,
	db *sqlx.DB,
	logger zerolog.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return ratings.Load(gctx) })
			g.Go(func() error { return pool.LoadTemplates(gctx) })
			if err := g.Wait(); err != nil {
				return err
			}

			sched.Start()
			status := host.Status()
			logger.Info().
				Int("templates", status.Arenas.Templates).
				Int("enabled_templates", status.Arenas.EnabledTemplates).
				Msg("duel server started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down duel server")
			if err := sched.Stop(); err != nil {
				logger.Error().Err(err).Msg("scheduler shutdown failed")
			}

			drainCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := host.Drain(drainCtx); err != nil {
				logger.Warn().Err(err).Msg("ratings not fully flushed")
			}

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			logger.Info().Msg("duel server stopped gracefully")
			return nil
		},
	})
}

package fx

import (
	"arena-duels/internal/adapters/logsession"
	"arena-duels/internal/adapters/memworld"
	"arena-duels/internal/arena"
	"arena-duels/internal/challenge"
	"arena-duels/internal/config"
	"arena-duels/internal/database"
	"arena-duels/internal/duel"
	"arena-duels/internal/logger"
	"arena-duels/internal/matchmaking"
	"arena-duels/internal/presence"
	"arena-duels/internal/rating"
	"arena-duels/internal/repository"
	"arena-duels/internal/scheduler"
	"arena-duels/internal/server"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

func ProvideWorld(log zerolog.Logger) *memworld.World {
	return memworld.New(logger.Component(log, "world"))
}

func ProvideSession(log zerolog.Logger) *logsession.Session {
	return logsession.New(logger.Component(log, "session"))
}

func ProvideBracketRelay(log zerolog.Logger) *server.BracketRelay {
	return server.NewBracketRelay(logger.Component(log, "bracket"))
}

func ProvideRatingService(cfg *config.Config, repo *repository.RatingRepository, clock clockwork.Clock, log zerolog.Logger) *rating.Service {
	calc := rating.Calculator{
		KProvisional:       cfg.KFactorProvisional,
		KEstablished:       cfg.KFactorEstablished,
		ProvisionalMatches: cfg.ProvisionalMatches,
	}
	return rating.NewService(calc, cfg.SeedRating, repo, clock, logger.Component(log, "rating"))
}

func ProvideArenaPool(cfg *config.Config, world *memworld.World, repo *repository.ArenaTemplateRepository, clock clockwork.Clock, log zerolog.Logger) *arena.Pool {
	return arena.NewPool(world, repo, clock, cfg.InstanceMaxMatches, cfg.InstanceMaxAge, logger.Component(log, "arena"))
}

func ProvideDuelService(
	cfg *config.Config,
	registry *presence.Registry,
	pool *arena.Pool,
	ratings *rating.Service,
	session *logsession.Session,
	bracket *server.BracketRelay,
	clock clockwork.Clock,
	log zerolog.Logger,
) *duel.Service {
	return duel.NewService(registry, pool, ratings, session, bracket, duel.Options{
		RoundsToWin:       cfg.RoundsToWin,
		CountdownTicks:    cfg.CountdownTicks,
		IntermissionDelay: cfg.IntermissionDelay,
		MatchEndDelay:     cfg.MatchEndDelay,
		FallbackSpawn1:    cfg.FallbackSpawn1,
		FallbackSpawn2:    cfg.FallbackSpawn2,
		Lobby:             cfg.Lobby,
	}, clock, logger.Component(log, "duel"))
}

func ProvideEngine(
	cfg *config.Config,
	ratings *rating.Service,
	registry *presence.Registry,
	duels *duel.Service,
	clock clockwork.Clock,
	log zerolog.Logger,
) *matchmaking.Engine {
	return matchmaking.NewEngine(cfg, ratings, registry, duels, matchmaking.Tolerance{
		Base:         cfg.BaseTolerance,
		Step:         cfg.ToleranceStep,
		StepInterval: cfg.ToleranceStepInterval,
		Max:          cfg.MaxTolerance,
	}, clock, logger.Component(log, "matchmaking"))
}

func ProvideChallengeService(
	cfg *config.Config,
	registry *presence.Registry,
	duels *duel.Service,
	session *logsession.Session,
	clock clockwork.Clock,
	log zerolog.Logger,
) *challenge.Service {
	return challenge.NewService(registry, cfg, duels, session, cfg.ChallengeTimeout, clock, logger.Component(log, "challenge"))
}

func ProvideHost(
	cfg *config.Config,
	registry *presence.Registry,
	queue *matchmaking.Engine,
	duels *duel.Service,
	challenges *challenge.Service,
	ratings *rating.Service,
	pool *arena.Pool,
	bracket *server.BracketRelay,
	session *logsession.Session,
	log zerolog.Logger,
) *server.Host {
	return server.NewHost(cfg, registry, queue, duels, challenges, ratings, pool, bracket, session, logger.Component(log, "host"))
}

func ProvideScheduler(cfg *config.Config, host *server.Host, clock clockwork.Clock, log zerolog.Logger) (*scheduler.Scheduler, error) {
	return scheduler.New(host, cfg.TickInterval, clock, logger.Component(log, "scheduler"))
}

var Module = fx.Options(
	logger.Module,
	config.Module,
	fx.Provide(database.New),
	fx.Provide(ProvideClock),
	// repos
	fx.Provide(repository.NewRatingRepository),
	fx.Provide(repository.NewArenaTemplateRepository),
	// adapters
	fx.Provide(ProvideWorld),
	fx.Provide(ProvideSession),
	fx.Provide(ProvideBracketRelay),
	// svc
	fx.Provide(presence.NewRegistry),
	fx.Provide(ProvideRatingService),
	fx.Provide(ProvideArenaPool),
	fx.Provide(ProvideDuelService),
	fx.Provide(ProvideEngine),
	fx.Provide(ProvideChallengeService),
	// server
	fx.Provide(ProvideHost),
	fx.Provide(ProvideScheduler),
)

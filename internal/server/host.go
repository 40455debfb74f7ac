package server

import (
	"context"
	"sync"

	"arena-duels/internal/arena"
	"arena-duels/internal/challenge"
	"arena-duels/internal/domain"
	"arena-duels/internal/duel"
	"arena-duels/internal/matchmaking"
	"arena-duels/internal/presence"
	"arena-duels/internal/rating"

	"github.com/rs/zerolog"
)

type KitCatalog interface {
	HasKit(kit string) bool
}

// PlayerDirectory is notified when a player leaves the session.
type PlayerDirectory interface {
	Forget(playerID string)
}

type Status struct {
	Queue         matchmaking.Stats
	ActiveDuels   int
	QueuedPlayers int
	BusyPlayers   int
	Arenas        arena.Stats
}

type PlayerRating struct {
	domain.EloRating
	Rank int
}

// BracketRelay forwards finished tournament duels to whatever bracket
// implementation registers a handler. Without one the result is only logged.
type BracketRelay struct {
	mu      sync.RWMutex
	handler func(ctx context.Context, tournamentMatchID, winnerID string)
	logger  zerolog.Logger
}

func NewBracketRelay(logger zerolog.Logger) *BracketRelay {
	return &BracketRelay{logger: logger}
}

func (b *BracketRelay) SetHandler(fn func(ctx context.Context, tournamentMatchID, winnerID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

func (b *BracketRelay) MatchCompleted(ctx context.Context, tournamentMatchID, winnerID string) {
	b.mu.RLock()
	fn := b.handler
	b.mu.RUnlock()

	b.logger.Info().Str("tournament_match_id", tournamentMatchID).Str("winner", winnerID).Msg("tournament duel completed")
	if fn != nil {
		fn(ctx, tournamentMatchID, winnerID)
	}
}

// Host is the single entry point the game session talks to.
type Host struct {
	kits       KitCatalog
	registry   *presence.Registry
	queue      *matchmaking.Engine
	duels      *duel.Service
	challenges *challenge.Service
	ratings    *rating.Service
	arenas     *arena.Pool
	bracket    *BracketRelay
	players    PlayerDirectory
	logger     zerolog.Logger
}

func NewHost(
	kits KitCatalog,
	registry *presence.Registry,
	queue *matchmaking.Engine,
	duels *duel.Service,
	challenges *challenge.Service,
	ratings *rating.Service,
	arenas *arena.Pool,
	bracket *BracketRelay,
	players PlayerDirectory,
	logger zerolog.Logger,
) *Host {
	return &Host{
		kits:       kits,
		registry:   registry,
		queue:      queue,
		duels:      duels,
		challenges: challenges,
		ratings:    ratings,
		arenas:     arenas,
		bracket:    bracket,
		players:    players,
		logger:     logger,
	}
}

// Tick drives matchmaking, duel timers and challenge expiry.
func (h *Host) Tick(ctx context.Context) {
	if n := h.queue.Tick(ctx); n > 0 {
		h.logger.Debug().Int("matches", n).Msg("queue tick paired players")
	}
	h.duels.Tick(ctx)
	h.challenges.Sweep(ctx)
}

func (h *Host) Enqueue(ctx context.Context, playerID, playerName, kit string) error {
	return h.queue.Enqueue(ctx, playerID, playerName, kit)
}

func (h *Host) Dequeue(playerID string) bool {
	return h.queue.Dequeue(playerID)
}

func (h *Host) QueuePosition(playerID string) (int, bool) {
	return h.queue.Position(playerID)
}

func (h *Host) Challenge(ctx context.Context, challenger, target domain.Participant, kit string) (domain.DuelChallenge, error) {
	return h.challenges.Challenge(ctx, challenger, target, kit)
}

func (h *Host) OnChallengeAccepted(ctx context.Context, targetID, challengerID string) (domain.DuelMatch, error) {
	return h.challenges.Accept(ctx, targetID, challengerID)
}

func (h *Host) OnChallengeDenied(ctx context.Context, targetID, challengerID string) bool {
	return h.challenges.Deny(ctx, targetID, challengerID)
}

func (h *Host) OnChallengeCancelled(ctx context.Context, challengerID string) bool {
	return h.challenges.Cancel(ctx, challengerID)
}

func (h *Host) OnEliminated(ctx context.Context, matchID, victimID string) error {
	return h.duels.OnEliminated(ctx, matchID, victimID)
}

// OnDisconnected removes every trace of the player: queue entry, live match
// (forfeited) and challenges.
func (h *Host) OnDisconnected(ctx context.Context, playerID string) {
	dequeued := h.queue.Dequeue(playerID)
	forfeited := h.duels.Forfeit(ctx, playerID)
	challenges := h.challenges.CleanupPlayer(ctx, playerID)
	if h.players != nil {
		h.players.Forget(playerID)
	}

	h.logger.Info().
		Str("player", playerID).
		Bool("dequeued", dequeued).
		Bool("forfeited", forfeited).
		Int("challenges_dropped", challenges).
		Msg("player disconnected")
}

func (h *Host) StartTournamentMatch(ctx context.Context, tournamentMatchID string, p1, p2 domain.Participant, kit string) (domain.DuelMatch, error) {
	kit = domain.NormalizeKit(kit)
	if !h.kits.HasKit(kit) {
		return domain.DuelMatch{}, domain.ErrUnknownKit
	}
	return h.duels.Start(ctx, duel.Request{
		Player1:           p1,
		Player2:           p2,
		Kit:               kit,
		TournamentMatchID: tournamentMatchID,
	})
}

func (h *Host) OnTournamentMatchCompleted(fn func(ctx context.Context, tournamentMatchID, winnerID string)) {
	h.bracket.SetHandler(fn)
}

func (h *Host) Rating(playerID string) PlayerRating {
	return PlayerRating{
		EloRating: h.ratings.GetRating(playerID),
		Rank:      h.ratings.GetRank(playerID),
	}
}

func (h *Host) Leaderboard(limit int) []PlayerRating {
	top := h.ratings.GetTopPlayers(limit)
	out := make([]PlayerRating, len(top))
	for i, r := range top {
		out[i] = PlayerRating{EloRating: r, Rank: h.ratings.GetRank(r.PlayerID)}
	}
	return out
}

func (h *Host) Match(playerID string) (domain.DuelMatch, bool) {
	return h.duels.MatchOf(playerID)
}

func (h *Host) Status() Status {
	queued, busy := h.registry.Counts()
	return Status{
		Queue:         h.queue.Stats(),
		ActiveDuels:   h.duels.ActiveCount(),
		QueuedPlayers: queued,
		BusyPlayers:   busy,
		Arenas:        h.arenas.Stats(),
	}
}

// Drain waits for background terrain work and flushes pending ratings.
func (h *Host) Drain(ctx context.Context) error {
	h.arenas.Wait()
	h.ratings.Wait()
	return h.ratings.Flush(ctx)
}

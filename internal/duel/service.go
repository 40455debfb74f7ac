package duel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"arena-duels/internal/domain"
	"arena-duels/internal/matchmaking"
	"arena-duels/internal/presence"
	"arena-duels/internal/rating"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Session is the game-side collaborator that moves and equips players.
type Session interface {
	Teleport(ctx context.Context, playerID string, loc domain.Location) error
	ResetVitals(ctx context.Context, playerID string) error
	GrantLoadout(ctx context.Context, playerID, kit string) error
	Broadcast(ctx context.Context, playerIDs []string, message string)
	CurrentLocation(ctx context.Context, playerID string) (domain.Location, bool)
}

type Arenas interface {
	Acquire(kit string) (domain.ArenaInstance, error)
	BeginUse(instanceID, matchID string) error
	Release(instanceID string)
}

type Ratings interface {
	RecordMatch(winnerID, loserID string) rating.MatchResult
}

type BracketNotifier interface {
	MatchCompleted(ctx context.Context, tournamentMatchID, winnerID string)
}

type Options struct {
	RoundsToWin       int
	CountdownTicks    int
	IntermissionDelay time.Duration
	MatchEndDelay     time.Duration
	FallbackSpawn1    domain.Location
	FallbackSpawn2    domain.Location
	Lobby             domain.Location
}

type Request struct {
	Player1           domain.Participant
	Player2           domain.Participant
	Kit               string
	TournamentMatchID string
}

type match struct {
	mu sync.Mutex
	domain.DuelMatch

	countdown   int
	countdownAt time.Time
	resumeAt    time.Time
	cleanupAt   time.Time
	returnTo    map[string]domain.Location
	finished    bool
}

// Service runs every live duel. Each match has its own lock; Tick and the
// inbound game events serialize on it.
type Service struct {
	registry *presence.Registry
	arenas   Arenas
	ratings  Ratings
	session  Session
	bracket  BracketNotifier
	opts     Options
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu      sync.RWMutex
	matches map[string]*match
}

func NewService(
	registry *presence.Registry,
	arenas Arenas,
	ratings Ratings,
	session Session,
	bracket BracketNotifier,
	opts Options,
	clock clockwork.Clock,
	logger zerolog.Logger,
) *Service {
	return &Service{
		registry: registry,
		arenas:   arenas,
		ratings:  ratings,
		session:  session,
		bracket:  bracket,
		opts:     opts,
		clock:    clock,
		logger:   logger,
		matches:  make(map[string]*match),
	}
}

// MaxRounds is the longest a best-of match can run.
func (s *Service) MaxRounds() int {
	return 2*s.opts.RoundsToWin - 1
}

// Start claims two idle players and starts a duel. Used by accepted
// challenges and tournament brackets.
func (s *Service) Start(ctx context.Context, req Request) (domain.DuelMatch, error) {
	matchID := uuid.NewString()
	if err := s.registry.ReserveIdle(matchID, req.Player1.ID, req.Player2.ID); err != nil {
		return domain.DuelMatch{}, err
	}
	return s.launch(ctx, matchID, req), nil
}

// StartReserved starts a duel for a pair the queue engine already moved into
// the matched state.
func (s *Service) StartReserved(ctx context.Context, p matchmaking.Pairing) error {
	if p.Player1.PlayerID == p.Player2.PlayerID {
		s.registry.Release(p.MatchID, p.Player1.PlayerID)
		return domain.ErrSamePlayer
	}

	s.launch(ctx, p.MatchID, Request{
		Player1: domain.Participant{ID: p.Player1.PlayerID, Name: p.Player1.PlayerName},
		Player2: domain.Participant{ID: p.Player2.PlayerID, Name: p.Player2.PlayerName},
		Kit:     p.Kit,
	})
	return nil
}

func (s *Service) launch(ctx context.Context, matchID string, req Request) domain.DuelMatch {
	m := &match{
		DuelMatch: domain.DuelMatch{
			ID:                matchID,
			Player1:           req.Player1,
			Player2:           req.Player2,
			Kit:               req.Kit,
			RoundsToWin:       s.opts.RoundsToWin,
			State:             domain.StateWaiting,
			StartedAt:         s.clock.Now(),
			TournamentMatchID: req.TournamentMatchID,
		},
		returnTo: make(map[string]domain.Location, 2),
	}

	// Registered before any collaborator call so a forfeit during setup finds
	// the match and waits on its lock.
	m.mu.Lock()
	defer m.mu.Unlock()

	s.mu.Lock()
	s.matches[matchID] = m
	s.mu.Unlock()

	s.assignArena(m)

	for _, id := range m.PlayerIDs() {
		if loc, ok := s.session.CurrentLocation(ctx, id); ok {
			m.returnTo[id] = loc
		} else {
			m.returnTo[id] = s.opts.Lobby
		}
	}

	s.logger.Info().
		Str("match_id", matchID).
		Str("player1", req.Player1.ID).
		Str("player2", req.Player2.ID).
		Str("kit", req.Kit).
		Str("arena", m.ArenaInstanceID).
		Str("tournament_match_id", req.TournamentMatchID).
		Msg("duel created")

	s.broadcast(ctx, m, fmt.Sprintf("Duel found: %s vs %s (%s, first to %d)", req.Player1.Name, req.Player2.Name, req.Kit, m.RoundsToWin))
	s.enterCountdownUnlocked(ctx, m)
	return m.DuelMatch
}

// assignArena leases an instance or falls back to the configured spawn pair.
func (s *Service) assignArena(m *match) {
	inst, err := s.arenas.Acquire(m.Kit)
	if err != nil {
		ev := s.logger.Warn()
		if !errors.Is(err, domain.ErrNoArenaAvailable) {
			ev = s.logger.Error()
		}
		ev.Err(err).Str("match_id", m.ID).Str("kit", m.Kit).Msg("no arena leased, using fallback spawns")
		m.Spawn1, m.Spawn2 = s.opts.FallbackSpawn1, s.opts.FallbackSpawn2
		return
	}

	if err := s.arenas.BeginUse(inst.ID, m.ID); err != nil {
		s.logger.Error().Err(err).Str("match_id", m.ID).Str("instance", inst.ID).Msg("failed to begin arena use, using fallback spawns")
		s.arenas.Release(inst.ID)
		m.Spawn1, m.Spawn2 = s.opts.FallbackSpawn1, s.opts.FallbackSpawn2
		return
	}

	m.ArenaInstanceID = inst.ID
	m.Spawn1, m.Spawn2 = inst.Template.Spawn1, inst.Template.Spawn2
}

func (s *Service) enterCountdownUnlocked(ctx context.Context, m *match) {
	m.State = domain.StateCountdown
	m.CurrentRound++
	m.countdown = s.opts.CountdownTicks
	m.countdownAt = s.clock.Now()

	for _, id := range m.PlayerIDs() {
		if err := s.session.Teleport(ctx, id, m.Spawn(id)); err != nil {
			s.logger.Warn().Err(err).Str("match_id", m.ID).Str("player", id).Msg("failed to teleport to spawn")
		}
		if err := s.session.ResetVitals(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("match_id", m.ID).Str("player", id).Msg("failed to reset vitals")
		}
		if err := s.session.GrantLoadout(ctx, id, m.Kit); err != nil {
			s.logger.Warn().Err(err).Str("match_id", m.ID).Str("player", id).Msg("failed to grant loadout")
		}
	}

	s.broadcast(ctx, m, fmt.Sprintf("Round %d/%d starts in %d", m.CurrentRound, s.MaxRounds(), m.countdown))
	if m.countdown <= 0 {
		s.beginRoundUnlocked(ctx, m)
	}
}

func (s *Service) beginRoundUnlocked(ctx context.Context, m *match) {
	m.State = domain.StateInProgress
	s.broadcast(ctx, m, "Fight!")
	s.logger.Debug().Str("match_id", m.ID).Int("round", m.CurrentRound).Msg("round started")
}

// Tick advances countdowns, intermissions and end-of-match cleanup.
func (s *Service) Tick(ctx context.Context) {
	s.mu.RLock()
	live := make([]*match, 0, len(s.matches))
	for _, m := range s.matches {
		live = append(live, m)
	}
	s.mu.RUnlock()

	now := s.clock.Now()
	for _, m := range live {
		m.mu.Lock()
		notify := s.advanceUnlocked(ctx, m, now)
		m.mu.Unlock()

		if notify != nil {
			notify()
		}
	}
}

// advanceUnlocked returns the bracket notification of a match it cleaned up;
// the caller fires it after releasing the match lock.
func (s *Service) advanceUnlocked(ctx context.Context, m *match, now time.Time) func() {
	if m.finished {
		return nil
	}

	switch m.State {
	case domain.StateCountdown:
		// a countdown entered during this tick starts counting on the next one
		if !now.After(m.countdownAt) {
			return nil
		}
		m.countdown--
		if m.countdown > 0 {
			s.broadcast(ctx, m, fmt.Sprintf("%d", m.countdown))
			return nil
		}
		s.beginRoundUnlocked(ctx, m)
	case domain.StateRoundEnd:
		if !now.Before(m.resumeAt) {
			s.enterCountdownUnlocked(ctx, m)
		}
	case domain.StateMatchEnd:
		if !now.Before(m.cleanupAt) {
			return s.finishUnlocked(ctx, m)
		}
	}
	return nil
}

// OnEliminated records a round loss for victimID.
func (s *Service) OnEliminated(ctx context.Context, matchID, victimID string) error {
	m, ok := s.lookup(matchID)
	if !ok {
		return domain.ErrMatchNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished {
		return domain.ErrMatchNotFound
	}
	if !m.IsPlayer(victimID) {
		return domain.ErrNotInMatch
	}
	if m.State != domain.StateInProgress {
		return domain.ErrRoundNotRunning
	}

	winner := m.Opponent(victimID)
	m.AddWin(winner.ID)

	s.logger.Info().
		Str("match_id", m.ID).
		Int("round", m.CurrentRound).
		Str("round_winner", winner.ID).
		Str("score", m.Score()).
		Msg("round finished")

	m.State = domain.StateRoundEnd
	s.broadcast(ctx, m, fmt.Sprintf("%s wins round %d (%s)", winner.Name, m.CurrentRound, m.Score()))

	if m.IsOver() || m.CurrentRound >= s.MaxRounds() {
		s.endMatchUnlocked(ctx, m, domain.EndReasonRounds)
		return nil
	}

	m.resumeAt = s.clock.Now().Add(s.opts.IntermissionDelay)
	return nil
}

// Forfeit ends the player's live match in favour of the opponent. It reports
// false when there is nothing left to forfeit.
func (s *Service) Forfeit(ctx context.Context, playerID string) bool {
	matchID, ok := s.registry.MatchOf(playerID)
	if !ok {
		return false
	}
	m, ok := s.lookup(matchID)
	if !ok {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished || m.State == domain.StateMatchEnd || !m.IsPlayer(playerID) {
		return false
	}

	winner := m.Opponent(playerID)
	if winner.ID == m.Player1.ID {
		m.Player1Wins = m.RoundsToWin
	} else {
		m.Player2Wins = m.RoundsToWin
	}

	s.logger.Info().Str("match_id", m.ID).Str("player", playerID).Str("winner", winner.ID).Msg("duel forfeited")
	s.endMatchUnlocked(ctx, m, domain.EndReasonForfeit)

	s.registry.Release(m.ID, playerID)
	return true
}

func (s *Service) endMatchUnlocked(ctx context.Context, m *match, reason domain.EndReason) {
	m.State = domain.StateMatchEnd
	m.EndReason = reason
	m.cleanupAt = s.clock.Now().Add(s.opts.MatchEndDelay)

	winner, _ := m.Winner()
	loser, _ := m.Loser()

	msg := fmt.Sprintf("%s wins the duel (%s)", winner.Name, m.Score())
	if reason == domain.EndReasonForfeit {
		msg = fmt.Sprintf("%s wins by forfeit", winner.Name)
	}
	s.broadcast(ctx, m, msg)

	result := s.ratings.RecordMatch(winner.ID, loser.ID)
	s.session.Broadcast(ctx, []string{winner.ID}, fmt.Sprintf("Rating: %d (%+d)", result.Winner.Rating, result.WinnerDelta))
	s.session.Broadcast(ctx, []string{loser.ID}, fmt.Sprintf("Rating: %d (%+d)", result.Loser.Rating, result.LoserDelta))

	if m.ArenaInstanceID != "" {
		s.arenas.Release(m.ArenaInstanceID)
	}

	s.logger.Info().
		Str("match_id", m.ID).
		Str("winner", winner.ID).
		Str("loser", loser.ID).
		Str("score", m.Score()).
		Str("reason", string(reason)).
		Dur("duration", s.clock.Since(m.StartedAt)).
		Msg("duel ended")
}

// finishUnlocked sends players back and drops all match bookkeeping. Bracket
// results go out only from here, once both players are free to be paired
// again; the returned func must run without the match lock held.
func (s *Service) finishUnlocked(ctx context.Context, m *match) func() {
	m.finished = true

	for _, id := range m.PlayerIDs() {
		if err := s.session.Teleport(ctx, id, m.returnTo[id]); err != nil {
			s.logger.Warn().Err(err).Str("match_id", m.ID).Str("player", id).Msg("failed to return player")
		}
	}
	s.registry.Release(m.ID, m.PlayerIDs()...)

	s.mu.Lock()
	delete(s.matches, m.ID)
	s.mu.Unlock()

	s.logger.Debug().Str("match_id", m.ID).Msg("duel cleaned up")

	winner, ok := m.Winner()
	if !ok || m.TournamentMatchID == "" || s.bracket == nil {
		return nil
	}
	tournamentMatchID := m.TournamentMatchID
	return func() {
		s.bracket.MatchCompleted(ctx, tournamentMatchID, winner.ID)
	}
}

func (s *Service) broadcast(ctx context.Context, m *match, message string) {
	s.session.Broadcast(ctx, m.PlayerIDs(), message)
}

func (s *Service) lookup(matchID string) (*match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[matchID]
	return m, ok
}

func (s *Service) Get(matchID string) (domain.DuelMatch, bool) {
	m, ok := s.lookup(matchID)
	if !ok {
		return domain.DuelMatch{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DuelMatch, true
}

func (s *Service) MatchOf(playerID string) (domain.DuelMatch, bool) {
	matchID, ok := s.registry.MatchOf(playerID)
	if !ok {
		return domain.DuelMatch{}, false
	}
	return s.Get(matchID)
}

func (s *Service) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}

func (s *Service) Active() []domain.DuelMatch {
	s.mu.RLock()
	live := make([]*match, 0, len(s.matches))
	for _, m := range s.matches {
		live = append(live, m)
	}
	s.mu.RUnlock()

	out := make([]domain.DuelMatch, 0, len(live))
	for _, m := range live {
		m.mu.Lock()
		out = append(out, m.DuelMatch)
		m.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

package challenge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"arena-duels/internal/domain"
	"arena-duels/internal/duel"
	"arena-duels/internal/presence"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type Starter interface {
	Start(ctx context.Context, req duel.Request) (domain.DuelMatch, error)
}

type KitCatalog interface {
	HasKit(kit string) bool
}

type Notifier interface {
	Broadcast(ctx context.Context, playerIDs []string, message string)
}

type pairKey struct {
	challenger string
	target     string
}

// Service holds direct duel invitations, at most one outgoing per challenger.
// Expired invitations leave a tombstone for one more timeout period so a late
// accept gets ErrChallengeExpired instead of ErrNoChallenge.
type Service struct {
	registry *presence.Registry
	kits     KitCatalog
	starter  Starter
	notifier Notifier
	timeout  time.Duration
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu           sync.Mutex
	byChallenger map[string]domain.DuelChallenge
	expired      map[pairKey]time.Time
}

func NewService(
	registry *presence.Registry,
	kits KitCatalog,
	starter Starter,
	notifier Notifier,
	timeout time.Duration,
	clock clockwork.Clock,
	logger zerolog.Logger,
) *Service {
	return &Service{
		registry:     registry,
		kits:         kits,
		starter:      starter,
		notifier:     notifier,
		timeout:      timeout,
		clock:        clock,
		logger:       logger,
		byChallenger: make(map[string]domain.DuelChallenge),
		expired:      make(map[pairKey]time.Time),
	}
}

func (s *Service) isExpired(c domain.DuelChallenge, now time.Time) bool {
	return now.Sub(c.CreatedAt) > s.timeout
}

func (s *Service) tombstoneUnlocked(c domain.DuelChallenge, now time.Time) {
	delete(s.byChallenger, c.ChallengerID)
	s.expired[pairKey{c.ChallengerID, c.TargetID}] = now
}

func (s *Service) Challenge(ctx context.Context, challenger, target domain.Participant, kit string) (domain.DuelChallenge, error) {
	kit = domain.NormalizeKit(kit)

	if challenger.ID == target.ID {
		return domain.DuelChallenge{}, domain.ErrChallengeSelf
	}
	if !s.kits.HasKit(kit) {
		return domain.DuelChallenge{}, domain.ErrUnknownKit
	}
	if s.registry.IsInMatch(challenger.ID) {
		return domain.DuelChallenge{}, domain.ErrAlreadyInMatch
	}
	if s.registry.IsQueued(challenger.ID) {
		return domain.DuelChallenge{}, domain.ErrAlreadyQueued
	}
	if s.registry.IsBusy(target.ID) {
		return domain.DuelChallenge{}, domain.ErrTargetBusy
	}

	now := s.clock.Now()

	s.mu.Lock()
	if existing, ok := s.byChallenger[challenger.ID]; ok {
		if !s.isExpired(existing, now) {
			s.mu.Unlock()
			return domain.DuelChallenge{}, domain.ErrChallengePending
		}
		s.tombstoneUnlocked(existing, now)
	}

	c := domain.DuelChallenge{
		ChallengerID:   challenger.ID,
		ChallengerName: challenger.Name,
		TargetID:       target.ID,
		TargetName:     target.Name,
		Kit:            kit,
		CreatedAt:      now,
	}
	s.byChallenger[challenger.ID] = c
	delete(s.expired, pairKey{challenger.ID, target.ID})
	s.mu.Unlock()

	s.logger.Info().Str("challenger", challenger.ID).Str("target", target.ID).Str("kit", kit).Msg("duel challenge sent")
	s.notifier.Broadcast(ctx, []string{target.ID},
		fmt.Sprintf("%s challenged you to a %s duel (expires in %s)", challenger.Name, kit, s.timeout))
	return c, nil
}

// Accept consumes the challenge and starts the duel.
func (s *Service) Accept(ctx context.Context, targetID, challengerID string) (domain.DuelMatch, error) {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.byChallenger[challengerID]
	if !ok || c.TargetID != targetID {
		_, wasExpired := s.expired[pairKey{challengerID, targetID}]
		s.mu.Unlock()
		if wasExpired {
			return domain.DuelMatch{}, domain.ErrChallengeExpired
		}
		return domain.DuelMatch{}, domain.ErrNoChallenge
	}
	if s.isExpired(c, now) {
		s.tombstoneUnlocked(c, now)
		s.mu.Unlock()
		return domain.DuelMatch{}, domain.ErrChallengeExpired
	}
	delete(s.byChallenger, challengerID)
	s.mu.Unlock()

	m, err := s.starter.Start(ctx, duel.Request{
		Player1: domain.Participant{ID: c.ChallengerID, Name: c.ChallengerName},
		Player2: domain.Participant{ID: c.TargetID, Name: c.TargetName},
		Kit:     c.Kit,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("challenger", challengerID).Str("target", targetID).Msg("accepted challenge could not start")
		return domain.DuelMatch{}, err
	}

	s.logger.Info().Str("challenger", challengerID).Str("target", targetID).Str("match_id", m.ID).Msg("duel challenge accepted")
	return m, nil
}

// Deny is a no-op when the challenge is already gone.
func (s *Service) Deny(ctx context.Context, targetID, challengerID string) bool {
	s.mu.Lock()
	c, ok := s.byChallenger[challengerID]
	if !ok || c.TargetID != targetID {
		s.mu.Unlock()
		return false
	}
	delete(s.byChallenger, challengerID)
	s.mu.Unlock()

	s.notifier.Broadcast(ctx, []string{challengerID}, fmt.Sprintf("%s denied your duel challenge", c.TargetName))
	s.logger.Info().Str("challenger", challengerID).Str("target", targetID).Msg("duel challenge denied")
	return true
}

// Cancel withdraws the challenger's outgoing challenge, if any.
func (s *Service) Cancel(ctx context.Context, challengerID string) bool {
	s.mu.Lock()
	c, ok := s.byChallenger[challengerID]
	if ok {
		delete(s.byChallenger, challengerID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.notifier.Broadcast(ctx, []string{c.TargetID}, fmt.Sprintf("%s cancelled their duel challenge", c.ChallengerName))
	s.logger.Info().Str("challenger", challengerID).Str("target", c.TargetID).Msg("duel challenge cancelled")
	return true
}

// CleanupPlayer drops every challenge the player sent or received.
func (s *Service) CleanupPlayer(ctx context.Context, playerID string) int {
	s.mu.Lock()
	var dropped []domain.DuelChallenge
	for id, c := range s.byChallenger {
		if c.ChallengerID == playerID || c.TargetID == playerID {
			dropped = append(dropped, c)
			delete(s.byChallenger, id)
		}
	}
	for k := range s.expired {
		if k.challenger == playerID || k.target == playerID {
			delete(s.expired, k)
		}
	}
	s.mu.Unlock()

	for _, c := range dropped {
		other := c.TargetID
		if other == playerID {
			other = c.ChallengerID
		}
		s.notifier.Broadcast(ctx, []string{other}, "Duel challenge cancelled: player left")
	}
	return len(dropped)
}

func (s *Service) Pending(targetID string) []domain.DuelChallenge {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.DuelChallenge
	for _, c := range s.byChallenger {
		if c.TargetID == targetID && !s.isExpired(c, now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Service) Outgoing(challengerID string) (domain.DuelChallenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byChallenger[challengerID]
	if !ok || s.isExpired(c, s.clock.Now()) {
		return domain.DuelChallenge{}, false
	}
	return c, true
}

// Sweep expires stale challenges and forgets old tombstones.
func (s *Service) Sweep(ctx context.Context) []domain.DuelChallenge {
	now := s.clock.Now()

	s.mu.Lock()
	var expired []domain.DuelChallenge
	for _, c := range s.byChallenger {
		if s.isExpired(c, now) {
			expired = append(expired, c)
			s.tombstoneUnlocked(c, now)
		}
	}
	for k, at := range s.expired {
		if now.Sub(at) > s.timeout {
			delete(s.expired, k)
		}
	}
	s.mu.Unlock()

	for _, c := range expired {
		s.notifier.Broadcast(ctx, []string{c.ChallengerID, c.TargetID},
			fmt.Sprintf("Duel challenge from %s to %s expired", c.ChallengerName, c.TargetName))
	}
	if len(expired) > 0 {
		s.logger.Debug().Int("count", len(expired)).Msg("duel challenges expired")
	}
	return expired
}

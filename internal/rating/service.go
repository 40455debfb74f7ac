package rating

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"arena-duels/internal/constants"
	"arena-duels/internal/domain"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	LoadAll(ctx context.Context) ([]domain.EloRating, error)
	UpsertBatch(ctx context.Context, ratings []domain.EloRating) error
}

type MatchResult struct {
	Winner      domain.EloRating
	Loser       domain.EloRating
	WinnerDelta int
	LoserDelta  int
}

// Service keeps every known rating in memory and persists changes in the
// background. The in-memory record is authoritative; records whose write
// failed stay dirty and go out with the next write.
type Service struct {
	calc       Calculator
	seedRating int
	store      Store
	clock      clockwork.Clock
	logger     zerolog.Logger

	mu       sync.RWMutex
	ratings  map[string]*domain.EloRating
	versions map[string]uint64
	dirty    map[string]uint64

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewService(calc Calculator, seedRating int, store Store, clock clockwork.Clock, logger zerolog.Logger) *Service {
	return &Service{
		calc:       calc,
		seedRating: seedRating,
		store:      store,
		clock:      clock,
		logger:     logger,
		ratings:    make(map[string]*domain.EloRating),
		versions:   make(map[string]uint64),
		dirty:      make(map[string]uint64),
	}
}

func (s *Service) Calculator() Calculator {
	return s.calc
}

func (s *Service) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	records, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ratings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range records {
		r := records[i]
		if _, ok := s.ratings[r.PlayerID]; ok {
			continue
		}
		r.Tier = domain.TierFor(r.Rating).Name
		s.ratings[r.PlayerID] = &r
	}

	s.logger.Info().Int("count", len(records)).Msg("ratings loaded")
	return nil
}

func (s *Service) defaultRating(playerID string) domain.EloRating {
	return domain.EloRating{
		PlayerID:    playerID,
		Rating:      s.seedRating,
		Tier:        domain.TierFor(s.seedRating).Name,
		LastUpdated: s.clock.Now(),
	}
}

// GetRating never fails: unknown players get the seed record.
func (s *Service) GetRating(playerID string) domain.EloRating {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.ratings[playerID]; ok {
		return *r
	}
	return s.defaultRating(playerID)
}

func (s *Service) recordUnlocked(playerID string) *domain.EloRating {
	r, ok := s.ratings[playerID]
	if !ok {
		d := s.defaultRating(playerID)
		r = &d
		s.ratings[playerID] = r
	}
	return r
}

func (s *Service) touchUnlocked(playerID string) {
	s.versions[playerID]++
	s.dirty[playerID] = s.versions[playerID]
}

// RecordMatch applies a result in memory and schedules persistence.
func (s *Service) RecordMatch(winnerID, loserID string) MatchResult {
	s.mu.Lock()

	winner := s.recordUnlocked(winnerID)
	loser := s.recordUnlocked(loserID)

	newWinner, newLoser := s.calc.Calculate(winner.Rating, loser.Rating, winner.TotalMatches(), loser.TotalMatches())
	result := MatchResult{
		WinnerDelta: newWinner - winner.Rating,
		LoserDelta:  newLoser - loser.Rating,
	}

	now := s.clock.Now()

	winner.Rating = newWinner
	winner.Wins++
	winner.WinStreak++
	if winner.WinStreak > winner.BestWinStreak {
		winner.BestWinStreak = winner.WinStreak
	}
	winner.Tier = domain.TierFor(newWinner).Name
	winner.LastUpdated = now

	loser.Rating = newLoser
	loser.Losses++
	loser.WinStreak = 0
	loser.Tier = domain.TierFor(newLoser).Name
	loser.LastUpdated = now

	s.touchUnlocked(winnerID)
	s.touchUnlocked(loserID)

	result.Winner = *winner
	result.Loser = *loser
	s.mu.Unlock()

	s.logger.Info().
		Str("winner", winnerID).
		Int("winner_rating", result.Winner.Rating).
		Int("winner_delta", result.WinnerDelta).
		Str("loser", loserID).
		Int("loser_rating", result.Loser.Rating).
		Int("loser_delta", result.LoserDelta).
		Msg("match rated")

	s.persistAsync()
	return result
}

func (s *Service) persistAsync() {
	s.wg.Add(1)

	g := new(errgroup.Group)
	g.Go(func() error {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.PersistTimeout)
		defer cancel()
		return s.Flush(ctx)
	})

	go func() {
		if err := g.Wait(); err != nil {
			s.logger.Error().Err(err).Msg("background rating persistence failed")
		}
	}()
}

// Flush writes every dirty record. A record is only marked clean if it did not
// change while the write was in flight.
func (s *Service) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	if len(s.dirty) == 0 {
		s.mu.RUnlock()
		return nil
	}
	batch := make([]domain.EloRating, 0, len(s.dirty))
	written := make(map[string]uint64, len(s.dirty))
	for id, ver := range s.dirty {
		batch = append(batch, *s.ratings[id])
		written[id] = ver
	}
	s.mu.RUnlock()

	if err := s.store.UpsertBatch(ctx, batch); err != nil {
		s.logger.Warn().Err(err).Int("pending", len(batch)).Msg("failed to persist ratings, will retry")
		return fmt.Errorf("failed to persist ratings: %w", err)
	}

	s.mu.Lock()
	for id, ver := range written {
		if s.dirty[id] == ver {
			delete(s.dirty, id)
		}
	}
	s.mu.Unlock()

	s.logger.Debug().Int("count", len(batch)).Msg("ratings persisted")
	return nil
}

// Wait blocks until background writes scheduled so far have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) PendingWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty)
}

func (s *Service) GetTopPlayers(limit int) []domain.EloRating {
	s.mu.RLock()
	out := make([]domain.EloRating, 0, len(s.ratings))
	for _, r := range s.ratings {
		out = append(out, *r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].PlayerID < out[j].PlayerID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetRank is one plus the number of players with a strictly higher rating.
func (s *Service) GetRank(playerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rating := s.seedRating
	if r, ok := s.ratings[playerID]; ok {
		rating = r.Rating
	}

	rank := 1
	for id, r := range s.ratings {
		if id != playerID && r.Rating > rating {
			rank++
		}
	}
	return rank
}

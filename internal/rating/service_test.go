package rating

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arena-duels/internal/domain"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	rows    map[string]domain.EloRating
	fail    bool
	upserts int
}

func newMemStore(rows ...domain.EloRating) *memStore {
	s := &memStore{rows: make(map[string]domain.EloRating)}
	for _, r := range rows {
		s.rows[r.PlayerID] = r
	}
	return s
}

func (s *memStore) LoadAll(ctx context.Context) ([]domain.EloRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EloRating, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) UpsertBatch(ctx context.Context, ratings []domain.EloRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.fail {
		return errors.New("disk full")
	}
	for _, r := range ratings {
		s.rows[r.PlayerID] = r
	}
	return nil
}

func (s *memStore) get(id string) (domain.EloRating, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	return r, ok
}

func (s *memStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func newTestService(store Store) *Service {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewService(standardCalculator, 1000, store, clock, zerolog.Nop())
}

func TestGetRatingDefaultsUnknownPlayer(t *testing.T) {
	svc := newTestService(newMemStore())

	r := svc.GetRating("ghost")
	assert.Equal(t, "ghost", r.PlayerID)
	assert.Equal(t, 1000, r.Rating)
	assert.Equal(t, "Silver", r.Tier)
	assert.Zero(t, r.TotalMatches())
	assert.Zero(t, svc.PendingWrites())
}

func TestRecordMatchSymmetricProvisional(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	res := svc.RecordMatch("alice", "bob")
	svc.Wait()

	assert.Equal(t, 20, res.WinnerDelta)
	assert.Equal(t, -20, res.LoserDelta)
	assert.Equal(t, 1020, res.Winner.Rating)
	assert.Equal(t, 980, res.Loser.Rating)

	assert.Equal(t, 1, res.Winner.Wins)
	assert.Equal(t, 1, res.Winner.WinStreak)
	assert.Equal(t, 1, res.Winner.BestWinStreak)
	assert.Equal(t, 1, res.Loser.Losses)
	assert.Zero(t, res.Loser.WinStreak)

	stored, ok := store.get("alice")
	require.True(t, ok)
	assert.Equal(t, 1020, stored.Rating)
	assert.Zero(t, svc.PendingWrites())
}

func TestRecordMatchStreaks(t *testing.T) {
	svc := newTestService(newMemStore())

	svc.RecordMatch("alice", "bob")
	svc.RecordMatch("alice", "bob")
	svc.RecordMatch("bob", "alice")
	svc.RecordMatch("alice", "bob")
	svc.Wait()

	a := svc.GetRating("alice")
	assert.Equal(t, 3, a.Wins)
	assert.Equal(t, 1, a.Losses)
	assert.Equal(t, 1, a.WinStreak)
	assert.Equal(t, 2, a.BestWinStreak)
	assert.InDelta(t, 75.0, a.WinRate(), 0.001)
}

func TestRecordMatchFloorsAtZero(t *testing.T) {
	svc := newTestService(newMemStore(
		domain.EloRating{PlayerID: "high", Rating: 5},
		domain.EloRating{PlayerID: "low", Rating: 5},
	))
	require.NoError(t, svc.Load(context.Background()))

	res := svc.RecordMatch("high", "low")
	svc.Wait()

	assert.Equal(t, 25, res.Winner.Rating)
	assert.Zero(t, res.Loser.Rating)
	assert.Equal(t, "Unranked", res.Loser.Tier)
}

func TestPersistenceFailureKeepsRecordsDirty(t *testing.T) {
	store := newMemStore()
	store.setFail(true)
	svc := newTestService(store)

	svc.RecordMatch("alice", "bob")
	svc.Wait()

	assert.Equal(t, 2, svc.PendingWrites())
	assert.Equal(t, 1020, svc.GetRating("alice").Rating)

	store.setFail(false)
	svc.RecordMatch("carol", "dave")
	svc.Wait()

	assert.Zero(t, svc.PendingWrites())
	_, ok := store.get("alice")
	assert.True(t, ok)
}

func TestFlushRetriesPendingWrites(t *testing.T) {
	store := newMemStore()
	store.setFail(true)
	svc := newTestService(store)

	svc.RecordMatch("alice", "bob")
	svc.Wait()
	require.Error(t, svc.Flush(context.Background()))

	store.setFail(false)
	require.NoError(t, svc.Flush(context.Background()))
	assert.Zero(t, svc.PendingWrites())
}

func TestLoadRecomputesTier(t *testing.T) {
	store := newMemStore(
		domain.EloRating{PlayerID: "a", Rating: 2300, Wins: 40},
		domain.EloRating{PlayerID: "b", Rating: 1250},
	)
	svc := newTestService(store)
	require.NoError(t, svc.Load(context.Background()))

	assert.Equal(t, "Legend", svc.GetRating("a").Tier)
	assert.Equal(t, "Gold", svc.GetRating("b").Tier)
}

func TestLeaderboardAndRank(t *testing.T) {
	store := newMemStore(
		domain.EloRating{PlayerID: "a", Rating: 1500},
		domain.EloRating{PlayerID: "b", Rating: 1200},
		domain.EloRating{PlayerID: "c", Rating: 1200},
		domain.EloRating{PlayerID: "d", Rating: 900},
	)
	svc := newTestService(store)
	require.NoError(t, svc.Load(context.Background()))

	top := svc.GetTopPlayers(3)
	require.Len(t, top, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{top[0].PlayerID, top[1].PlayerID, top[2].PlayerID})

	assert.Equal(t, 1, svc.GetRank("a"))
	assert.Equal(t, 2, svc.GetRank("b"))
	assert.Equal(t, 2, svc.GetRank("c"))
	assert.Equal(t, 4, svc.GetRank("d"))
	assert.Equal(t, 4, svc.GetRank("newcomer"))
}

func TestRecordMatchConcurrent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				svc.RecordMatch("alice", "bob")
			} else {
				svc.RecordMatch("bob", "alice")
			}
		}(i)
	}
	wg.Wait()
	svc.Wait()

	a, b := svc.GetRating("alice"), svc.GetRating("bob")
	assert.Equal(t, 40, a.TotalMatches())
	assert.Equal(t, 40, b.TotalMatches())
	assert.Zero(t, svc.PendingWrites())

	stored, ok := store.get("alice")
	require.True(t, ok)
	assert.Equal(t, a.Rating, stored.Rating)
}

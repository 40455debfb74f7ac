package duel

import (
	"context"
	"sync"
	"testing"
	"time"

	"arena-duels/internal/adapters/memworld"
	"arena-duels/internal/arena"
	"arena-duels/internal/domain"
	"arena-duels/internal/matchmaking"
	"arena-duels/internal/presence"
	"arena-duels/internal/rating"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu         sync.Mutex
	teleports  map[string][]domain.Location
	loadouts   map[string]int
	messages   []string
	whereabout map[string]domain.Location
	onLocate   func(playerID string)
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		teleports:  make(map[string][]domain.Location),
		loadouts:   make(map[string]int),
		whereabout: make(map[string]domain.Location),
	}
}

func (f *fakeSession) Teleport(ctx context.Context, playerID string, loc domain.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teleports[playerID] = append(f.teleports[playerID], loc)
	return nil
}

func (f *fakeSession) ResetVitals(ctx context.Context, playerID string) error { return nil }

func (f *fakeSession) GrantLoadout(ctx context.Context, playerID, kit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadouts[playerID]++
	return nil
}

func (f *fakeSession) Broadcast(ctx context.Context, playerIDs []string, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeSession) CurrentLocation(ctx context.Context, playerID string) (domain.Location, bool) {
	if f.onLocate != nil {
		f.onLocate(playerID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, ok := f.whereabout[playerID]
	return loc, ok
}

func (f *fakeSession) lastTeleport(playerID string) domain.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.teleports[playerID]
	return t[len(t)-1]
}

type fakeRatings struct {
	mu      sync.Mutex
	results [][2]string
}

func (f *fakeRatings) RecordMatch(winnerID, loserID string) rating.MatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, [2]string{winnerID, loserID})
	return rating.MatchResult{
		Winner:      domain.EloRating{PlayerID: winnerID, Rating: 1020},
		Loser:       domain.EloRating{PlayerID: loserID, Rating: 980},
		WinnerDelta: 20,
		LoserDelta:  -20,
	}
}

type fakeBracket struct {
	completed  map[string]string
	onComplete func(tournamentMatchID, winnerID string)
}

func (f *fakeBracket) MatchCompleted(ctx context.Context, tournamentMatchID, winnerID string) {
	f.completed[tournamentMatchID] = winnerID
	if f.onComplete != nil {
		f.onComplete(tournamentMatchID, winnerID)
	}
}

type memTemplates struct{ rows []domain.ArenaTemplate }

func (m *memTemplates) List(ctx context.Context) ([]domain.ArenaTemplate, error) { return m.rows, nil }
func (m *memTemplates) Upsert(ctx context.Context, tpl *domain.ArenaTemplate) error {
	return nil
}
func (m *memTemplates) Delete(ctx context.Context, name string) error { return nil }

var (
	fallback1 = domain.Location{World: "lobby", X: -5}
	fallback2 = domain.Location{World: "lobby", X: 5}
	lobby     = domain.Location{World: "lobby"}
	alice     = domain.Participant{ID: "alice", Name: "Alice"}
	bob       = domain.Participant{ID: "bob", Name: "Bob"}
)

type fixture struct {
	svc      *Service
	registry *presence.Registry
	pool     *arena.Pool
	session  *fakeSession
	ratings  *fakeRatings
	bracket  *fakeBracket
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T, templates ...domain.ArenaTemplate) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	pool := arena.NewPool(memworld.New(zerolog.Nop()), &memTemplates{rows: templates}, clock, 10, time.Hour, zerolog.Nop())
	require.NoError(t, pool.LoadTemplates(context.Background()))

	f := &fixture{
		registry: presence.NewRegistry(),
		pool:     pool,
		session:  newFakeSession(),
		ratings:  &fakeRatings{},
		bracket:  &fakeBracket{completed: make(map[string]string)},
		clock:    clock,
	}
	f.svc = NewService(f.registry, pool, f.ratings, f.session, f.bracket, Options{
		RoundsToWin:       2,
		CountdownTicks:    5,
		IntermissionDelay: 3 * time.Second,
		MatchEndDelay:     5 * time.Second,
		FallbackSpawn1:    fallback1,
		FallbackSpawn2:    fallback2,
		Lobby:             lobby,
	}, clock, zerolog.Nop())
	return f
}

func forestTemplate() domain.ArenaTemplate {
	return domain.ArenaTemplate{
		Name:    "forest",
		Spawn1:  domain.Location{World: "duels", X: 1},
		Spawn2:  domain.Location{World: "duels", X: 9},
		Bounds:  domain.Region{World: "duels", Max: domain.BlockPos{X: 2, Y: 2, Z: 2}},
		Enabled: true,
	}
}

func (f *fixture) participant(id string) domain.Participant {
	for _, p := range []domain.Participant{alice, bob} {
		if p.ID == id {
			return p
		}
	}
	return domain.Participant{ID: id}
}

// tick advances the clock one second and runs a duel tick.
func (f *fixture) tick(n int) {
	for i := 0; i < n; i++ {
		f.clock.Advance(time.Second)
		f.svc.Tick(context.Background())
	}
}

func (f *fixture) state(t *testing.T, matchID string) domain.DuelState {
	t.Helper()
	m, ok := f.svc.Get(matchID)
	require.True(t, ok)
	return m.State
}

func (f *fixture) startRound(t *testing.T, matchID string) {
	t.Helper()
	require.Equal(t, domain.StateCountdown, f.state(t, matchID))
	f.tick(4)
	require.Equal(t, domain.StateCountdown, f.state(t, matchID))
	f.tick(1)
	require.Equal(t, domain.StateInProgress, f.state(t, matchID))
}

func TestStartUsesArenaSpawns(t *testing.T) {
	f := newFixture(t, forestTemplate())
	f.session.whereabout["alice"] = domain.Location{World: "hub", X: 42}

	m, err := f.svc.Start(context.Background(), Request{Player1: alice, Player2: bob, Kit: "sword"})
	require.NoError(t, err)

	assert.Equal(t, domain.StateCountdown, m.State)
	assert.Equal(t, 1, m.CurrentRound)
	assert.NotEmpty(t, m.ArenaInstanceID)
	assert.Equal(t, float64(1), f.session.lastTeleport("alice").X)
	assert.Equal(t, float64(9), f.session.lastTeleport("bob").X)
	assert.Equal(t, 1, f.session.loadouts["alice"])

	inst, ok := f.pool.Instance(m.ArenaInstanceID)
	require.True(t, ok)
	assert.True(t, inst.InUse)
	assert.Equal(t, m.ID, inst.MatchID)

	assert.True(t, f.registry.IsInMatch("alice"))
	assert.Equal(t, 1, f.svc.ActiveCount())
	f.pool.Wait()
}

func TestStartFallsBackWithoutArena(t *testing.T) {
	f := newFixture(t)

	m, err := f.svc.Start(context.Background(), Request{Player1: alice, Player2: bob, Kit: "sword"})
	require.NoError(t, err)

	assert.Empty(t, m.ArenaInstanceID)
	assert.Equal(t, fallback1, m.Spawn1)
	assert.Equal(t, fallback2, f.session.lastTeleport("bob"))
}

func TestStartRejectsBusyPlayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword"})
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, Request{Player1: alice, Player2: domain.Participant{ID: "carol"}, Kit: "sword"})
	assert.ErrorIs(t, err, domain.ErrAlreadyInMatch)
	assert.False(t, f.registry.IsInMatch("carol"))

	_, err = f.svc.Start(ctx, Request{Player1: bob, Player2: bob, Kit: "sword"})
	assert.ErrorIs(t, err, domain.ErrSamePlayer)
}

func TestRoundSequences(t *testing.T) {
	tests := []struct {
		name   string
		rounds []string // round winners
		winner string
	}{
		{"A A", []string{"alice", "alice"}, "alice"},
		{"A B A", []string{"alice", "bob", "alice"}, "alice"},
		{"B A A", []string{"bob", "alice", "alice"}, "alice"},
		{"B A B", []string{"bob", "alice", "bob"}, "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, forestTemplate())
			ctx := context.Background()

			m, err := f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword"})
			require.NoError(t, err)

			for i, w := range tt.rounds {
				f.startRound(t, m.ID)
				victim := "bob"
				if w == "bob" {
					victim = "alice"
				}
				require.NoError(t, f.svc.OnEliminated(ctx, m.ID, victim))

				got, _ := f.svc.Get(m.ID)
				if i < len(tt.rounds)-1 {
					require.Equal(t, domain.StateRoundEnd, got.State, "ended early after round %d", i+1)
					f.tick(2)
					require.Equal(t, domain.StateRoundEnd, f.state(t, m.ID))
					f.tick(1)
				} else {
					require.Equal(t, domain.StateMatchEnd, got.State)
					winner, ok := got.Winner()
					require.True(t, ok)
					assert.Equal(t, tt.winner, winner.ID)
					assert.Equal(t, len(tt.rounds), got.CurrentRound)
				}
			}

			require.Len(t, f.ratings.results, 1)
			assert.Equal(t, tt.winner, f.ratings.results[0][0])
		})
	}
}

func TestMatchEndCleanup(t *testing.T) {
	f := newFixture(t, forestTemplate())
	ctx := context.Background()
	f.session.whereabout["alice"] = domain.Location{World: "hub", X: 42}

	m, err := f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		f.startRound(t, m.ID)
		require.NoError(t, f.svc.OnEliminated(ctx, m.ID, "bob"))
		if i == 0 {
			f.tick(3)
		}
	}

	inst, _ := f.pool.Instance(m.ArenaInstanceID)
	assert.False(t, inst.InUse)
	assert.True(t, f.registry.IsInMatch("alice"))

	f.tick(4)
	assert.Equal(t, 1, f.svc.ActiveCount())
	f.tick(1)
	assert.Zero(t, f.svc.ActiveCount())

	assert.False(t, f.registry.IsBusy("alice"))
	assert.False(t, f.registry.IsBusy("bob"))
	assert.Equal(t, float64(42), f.session.lastTeleport("alice").X)
	assert.Equal(t, lobby, f.session.lastTeleport("bob"))

	assert.ErrorIs(t, f.svc.OnEliminated(ctx, m.ID, "bob"), domain.ErrMatchNotFound)
	f.pool.Wait()
}

func TestOnEliminatedRejectsOutOfPhaseSignals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.OnEliminated(ctx, m.ID, "alice"), domain.ErrRoundNotRunning)
	assert.ErrorIs(t, f.svc.OnEliminated(ctx, m.ID, "carol"), domain.ErrNotInMatch)
	assert.ErrorIs(t, f.svc.OnEliminated(ctx, "missing", "alice"), domain.ErrMatchNotFound)

	f.startRound(t, m.ID)
	require.NoError(t, f.svc.OnEliminated(ctx, m.ID, "alice"))
	assert.ErrorIs(t, f.svc.OnEliminated(ctx, m.ID, "alice"), domain.ErrRoundNotRunning)

	got, _ := f.svc.Get(m.ID)
	assert.Equal(t, 1, got.Player2Wins)
}

func TestForfeitMatchesNormalEnd(t *testing.T) {
	f := newFixture(t, forestTemplate())
	ctx := context.Background()

	m, err := f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword", TournamentMatchID: "t-1"})
	require.NoError(t, err)
	f.startRound(t, m.ID)

	assert.True(t, f.svc.Forfeit(ctx, "bob"))
	assert.False(t, f.svc.Forfeit(ctx, "bob"))
	assert.False(t, f.svc.Forfeit(ctx, "alice"))

	got, _ := f.svc.Get(m.ID)
	assert.Equal(t, domain.StateMatchEnd, got.State)
	assert.Equal(t, domain.EndReasonForfeit, got.EndReason)
	winner, _ := got.Winner()
	assert.Equal(t, "alice", winner.ID)

	require.Len(t, f.ratings.results, 1)
	assert.Equal(t, [2]string{"alice", "bob"}, f.ratings.results[0])
	inst, _ := f.pool.Instance(m.ArenaInstanceID)
	assert.False(t, inst.InUse)
	assert.Empty(t, f.bracket.completed, "bracket hears about the result at cleanup")

	assert.False(t, f.registry.IsBusy("bob"))
	f.tick(5)
	assert.Zero(t, f.svc.ActiveCount())
	assert.False(t, f.registry.IsBusy("alice"))
	assert.Equal(t, "alice", f.bracket.completed["t-1"])
	f.pool.Wait()
}

func TestForfeitDuringSetupIsNotLost(t *testing.T) {
	f := newFixture(t, forestTemplate())
	ctx := context.Background()

	forfeited := make(chan bool, 1)
	f.session.onLocate = func(playerID string) {
		if playerID == "bob" {
			f.session.onLocate = nil
			go func() { forfeited <- f.svc.Forfeit(ctx, "bob") }()
			// give the disconnect a chance to race the rest of setup
			time.Sleep(10 * time.Millisecond)
		}
	}

	m, err := f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword"})
	require.NoError(t, err)

	select {
	case ok := <-forfeited:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("forfeit never returned")
	}

	got, ok := f.svc.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StateMatchEnd, got.State)
	assert.Equal(t, domain.EndReasonForfeit, got.EndReason)
	assert.False(t, f.registry.IsBusy("bob"))

	inst, _ := f.pool.Instance(m.ArenaInstanceID)
	assert.False(t, inst.InUse)

	f.tick(5)
	assert.Zero(t, f.svc.ActiveCount())
	assert.False(t, f.registry.IsBusy("alice"))
	f.pool.Wait()
}

func TestCountdownEnteredDuringTickWaitsForNextTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Advance(time.Second)
	m, err := f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword"})
	require.NoError(t, err)

	// same instant as the start, as when the queue pairs inside a tick
	f.svc.Tick(ctx)
	f.startRound(t, m.ID)
}

func TestBracketHandlerCanAdvanceWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := domain.Participant{ID: "carol", Name: "Carol"}

	var next domain.DuelMatch
	var nextErr error
	var seen bool
	f.bracket.onComplete = func(tournamentMatchID, winnerID string) {
		_, seen = f.svc.MatchOf(winnerID)
		next, nextErr = f.svc.Start(ctx, Request{
			Player1:           f.participant(winnerID),
			Player2:           carol,
			Kit:               "sword",
			TournamentMatchID: "final",
		})
	}

	m, err := f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword", TournamentMatchID: "semi"})
	require.NoError(t, err)
	f.startRound(t, m.ID)
	require.True(t, f.svc.Forfeit(ctx, "bob"))

	done := make(chan struct{})
	go func() {
		f.tick(5)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bracket handler blocked the tick")
	}

	assert.False(t, seen, "finished match is gone before the bracket hears of it")
	require.NoError(t, nextErr)
	assert.Equal(t, "final", next.TournamentMatchID)
	assert.Equal(t, "alice", next.Player1.ID)
	assert.True(t, f.registry.IsInMatch("carol"))
}

func TestForfeitDuringCountdownAndIntermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword"})
	require.NoError(t, err)
	assert.True(t, f.svc.Forfeit(ctx, "alice"))
	got, _ := f.svc.Get(m.ID)
	assert.Equal(t, domain.StateMatchEnd, got.State)

	f.tick(5)

	m, err = f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword"})
	require.NoError(t, err)
	f.startRound(t, m.ID)
	require.NoError(t, f.svc.OnEliminated(ctx, m.ID, "alice"))
	assert.True(t, f.svc.Forfeit(ctx, "bob"))

	got, _ = f.svc.Get(m.ID)
	winner, _ := got.Winner()
	assert.Equal(t, "alice", winner.ID)
	assert.Len(t, f.ratings.results, 2)
}

func TestStartReservedFromQueue(t *testing.T) {
	f := newFixture(t, forestTemplate())
	ctx := context.Background()

	require.NoError(t, f.registry.MarkQueued("alice", "sword"))
	require.NoError(t, f.registry.MarkQueued("bob", "sword"))
	require.NoError(t, f.registry.ReserveFromQueue("match-1", "sword", "alice", "bob"))

	err := f.svc.StartReserved(ctx, matchmaking.Pairing{
		MatchID: "match-1",
		Kit:     "sword",
		Player1: domain.QueueEntry{PlayerID: "alice", PlayerName: "Alice"},
		Player2: domain.QueueEntry{PlayerID: "bob", PlayerName: "Bob"},
	})
	require.NoError(t, err)

	m, ok := f.svc.MatchOf("bob")
	require.True(t, ok)
	assert.Equal(t, "match-1", m.ID)
	assert.Equal(t, "Alice", m.Player1.Name)
	assert.Len(t, f.svc.Active(), 1)
	f.pool.Wait()
}

func TestConcurrentEliminationsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Start(ctx, Request{Player1: alice, Player2: bob, Kit: "sword"})
	require.NoError(t, err)
	f.startRound(t, m.ID)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.OnEliminated(ctx, m.ID, "bob")
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)

	got, _ := f.svc.Get(m.ID)
	assert.Equal(t, 1, got.Player1Wins)
}

package matchmaking

import (
	"context"
	"sort"
	"sync"

	"arena-duels/internal/domain"
	"arena-duels/internal/presence"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type KitCatalog interface {
	HasKit(kit string) bool
}

type RatingSource interface {
	GetRating(playerID string) domain.EloRating
}

// Pairing is two queue entries already moved from queued to matched.
type Pairing struct {
	MatchID string
	Kit     string
	Player1 domain.QueueEntry
	Player2 domain.QueueEntry
}

type MatchStarter interface {
	StartReserved(ctx context.Context, p Pairing) error
}

type Stats struct {
	TotalQueued int
	PerKit      map[string]int
}

type kitQueue struct {
	mu      sync.Mutex
	entries []domain.QueueEntry
}

// Engine keeps one waiting list per kit. Operations on a kit are serialized
// by that kit's lock; different kits never contend.
type Engine struct {
	kits      KitCatalog
	ratings   RatingSource
	presence  *presence.Registry
	starter   MatchStarter
	tolerance Tolerance
	clock     clockwork.Clock
	logger    zerolog.Logger

	mu     sync.Mutex
	queues map[string]*kitQueue
}

func NewEngine(
	kits KitCatalog,
	ratings RatingSource,
	registry *presence.Registry,
	starter MatchStarter,
	tolerance Tolerance,
	clock clockwork.Clock,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		kits:      kits,
		ratings:   ratings,
		presence:  registry,
		starter:   starter,
		tolerance: tolerance,
		clock:     clock,
		logger:    logger,
		queues:    make(map[string]*kitQueue),
	}
}

func (e *Engine) queue(kit string) *kitQueue {
	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.queues[kit]
	if !ok {
		q = &kitQueue{}
		e.queues[kit] = q
	}
	return q
}

// lookup never creates a queue, so reads with arbitrary kit names leave no trace.
func (e *Engine) lookup(kit string) (*kitQueue, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[kit]
	return q, ok
}

func (e *Engine) kitNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.queues))
	for k := range e.queues {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Enqueue adds the player to the kit queue and tries to pair them right away.
func (e *Engine) Enqueue(ctx context.Context, playerID, playerName, kit string) error {
	kit = domain.NormalizeKit(kit)
	if !e.kits.HasKit(kit) {
		return domain.ErrUnknownKit
	}

	entry := domain.QueueEntry{
		PlayerID:   playerID,
		PlayerName: playerName,
		Rating:     e.ratings.GetRating(playerID).Rating,
		QueuedAt:   e.clock.Now(),
		Kit:        kit,
	}

	q := e.queue(kit)
	q.mu.Lock()

	if err := e.presence.MarkQueued(playerID, kit); err != nil {
		q.mu.Unlock()
		return err
	}
	q.entries = append(q.entries, entry)

	e.logger.Info().
		Str("player", playerID).
		Str("kit", kit).
		Int("rating", entry.Rating).
		Int("queue_size", len(q.entries)).
		Msg("player queued")

	var pairing *Pairing
	if opponent, ok := e.bestOpponentUnlocked(q.entries, entry); ok {
		pairing = e.reserveUnlocked(q, kit, entry, opponent)
	}
	q.mu.Unlock()

	if pairing != nil {
		e.start(ctx, *pairing)
	}
	return nil
}

// Dequeue reports whether the player was removed from a queue.
func (e *Engine) Dequeue(playerID string) bool {
	kit, ok := e.presence.QueuedKit(playerID)
	if !ok {
		return false
	}

	q := e.queue(kit)
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := indexOf(q.entries, playerID)
	if idx < 0 {
		return false
	}
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	e.presence.ClearQueued(playerID, kit)

	e.logger.Info().Str("player", playerID).Str("kit", kit).Msg("player left queue")
	return true
}

// Tick runs one pairing pass over every kit queue and returns how many
// matches it started.
func (e *Engine) Tick(ctx context.Context) int {
	started := 0
	for _, kit := range e.kitNames() {
		for _, p := range e.pairKit(kit) {
			e.start(ctx, p)
			started++
		}
	}
	return started
}

func (e *Engine) pairKit(kit string) []Pairing {
	q := e.queue(kit)
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) < 2 {
		return nil
	}

	sortByWait(q.entries)

	now := e.clock.Now()
	paired := make([]bool, len(q.entries))
	var pairs [][2]int

	for i, entry := range q.entries {
		if paired[i] {
			continue
		}
		tolerance := e.tolerance.At(now.Sub(entry.QueuedAt))

		best, bestDiff := -1, 0
		for j, cand := range q.entries {
			if j == i || paired[j] {
				continue
			}
			diff := abs(cand.Rating - entry.Rating)
			if diff > tolerance {
				continue
			}
			// entries are oldest first, so strict < keeps the earliest on ties
			if best < 0 || diff < bestDiff {
				best, bestDiff = j, diff
			}
		}
		if best < 0 {
			continue
		}
		paired[i], paired[best] = true, true
		pairs = append(pairs, [2]int{i, best})
	}

	if len(pairs) == 0 {
		return nil
	}

	out := make([]Pairing, 0, len(pairs))
	matched := make([]domain.QueueEntry, 0, 2*len(pairs))
	for _, pr := range pairs {
		matched = append(matched, q.entries[pr[0]], q.entries[pr[1]])
	}
	for i := 0; i < len(matched); i += 2 {
		if p := e.reserveUnlocked(q, kit, matched[i], matched[i+1]); p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// bestOpponentUnlocked picks the closest-rated entrant within entry's current
// tolerance, earliest enqueue first on equal difference.
func (e *Engine) bestOpponentUnlocked(entries []domain.QueueEntry, entry domain.QueueEntry) (domain.QueueEntry, bool) {
	tolerance := e.tolerance.At(e.clock.Now().Sub(entry.QueuedAt))

	var best domain.QueueEntry
	found := false
	bestDiff := 0
	for _, cand := range entries {
		if cand.PlayerID == entry.PlayerID {
			continue
		}
		diff := abs(cand.Rating - entry.Rating)
		if diff > tolerance {
			continue
		}
		if !found || diff < bestDiff || (diff == bestDiff && cand.QueuedAt.Before(best.QueuedAt)) {
			best, bestDiff, found = cand, diff, true
		}
	}
	return best, found
}

// reserveUnlocked removes both entries and moves them to matched in the
// registry. Caller holds q.mu.
func (e *Engine) reserveUnlocked(q *kitQueue, kit string, a, b domain.QueueEntry) *Pairing {
	matchID := uuid.NewString()
	if err := e.presence.ReserveFromQueue(matchID, kit, a.PlayerID, b.PlayerID); err != nil {
		e.logger.Error().Err(err).Str("kit", kit).Str("player1", a.PlayerID).Str("player2", b.PlayerID).Msg("queue and registry disagree")
		return nil
	}

	q.entries = removeEntries(q.entries, a.PlayerID, b.PlayerID)

	return &Pairing{MatchID: matchID, Kit: kit, Player1: a, Player2: b}
}

func (e *Engine) start(ctx context.Context, p Pairing) {
	e.logger.Info().
		Str("match_id", p.MatchID).
		Str("kit", p.Kit).
		Str("player1", p.Player1.PlayerID).
		Int("rating1", p.Player1.Rating).
		Str("player2", p.Player2.PlayerID).
		Int("rating2", p.Player2.Rating).
		Msg("pair found")

	if err := e.starter.StartReserved(ctx, p); err != nil {
		e.presence.Release(p.MatchID, p.Player1.PlayerID, p.Player2.PlayerID)
		e.logger.Error().Err(err).Str("match_id", p.MatchID).Msg("failed to start matched duel")
	}
}

// Position is the 1-based place of the player in their queue, oldest first.
func (e *Engine) Position(playerID string) (int, bool) {
	kit, ok := e.presence.QueuedKit(playerID)
	if !ok {
		return 0, false
	}

	q, ok := e.lookup(kit)
	if !ok {
		return 0, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	sortByWait(q.entries)
	idx := indexOf(q.entries, playerID)
	if idx < 0 {
		return 0, false
	}
	return idx + 1, true
}

func (e *Engine) QueueSize(kit string) int {
	q, ok := e.lookup(domain.NormalizeKit(kit))
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (e *Engine) Entries(kit string) []domain.QueueEntry {
	q, ok := e.lookup(domain.NormalizeKit(kit))
	if !ok {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	sortByWait(q.entries)
	out := make([]domain.QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

func (e *Engine) Stats() Stats {
	s := Stats{PerKit: make(map[string]int)}
	for _, kit := range e.kitNames() {
		n := e.QueueSize(kit)
		if n == 0 {
			continue
		}
		s.PerKit[kit] = n
		s.TotalQueued += n
	}
	return s
}

func sortByWait(entries []domain.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].QueuedAt.Before(entries[j].QueuedAt)
	})
}

func indexOf(entries []domain.QueueEntry, playerID string) int {
	for i, e := range entries {
		if e.PlayerID == playerID {
			return i
		}
	}
	return -1
}

func removeEntries(entries []domain.QueueEntry, ids ...string) []domain.QueueEntry {
	out := entries[:0]
	for _, e := range entries {
		drop := false
		for _, id := range ids {
			if e.PlayerID == id {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, e)
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

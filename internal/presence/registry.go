package presence

import (
	"sync"

	"arena-duels/internal/domain"
)

// Registry is the authoritative player -> queue / match index. A player is in
// at most one of the two maps at any time. Its lock is a leaf: callers may hold
// a kit or match lock while calling in, never the other way around.
type Registry struct {
	mu      sync.Mutex
	queued  map[string]string // player -> kit
	matched map[string]string // player -> match id
}

func NewRegistry() *Registry {
	return &Registry{
		queued:  make(map[string]string),
		matched: make(map[string]string),
	}
}

func (r *Registry) busyUnlocked(playerID string) error {
	if _, ok := r.matched[playerID]; ok {
		return domain.ErrAlreadyInMatch
	}
	if _, ok := r.queued[playerID]; ok {
		return domain.ErrAlreadyQueued
	}
	return nil
}

func (r *Registry) MarkQueued(playerID, kit string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.busyUnlocked(playerID); err != nil {
		return err
	}
	r.queued[playerID] = kit
	return nil
}

// ClearQueued removes the queue mark only if it still points at kit.
func (r *Registry) ClearQueued(playerID, kit string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if k, ok := r.queued[playerID]; ok && k == kit {
		delete(r.queued, playerID)
		return true
	}
	return false
}

// ReserveFromQueue moves two queued players of kit into matchID atomically.
func (r *Registry) ReserveFromQueue(matchID, kit, a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range []string{a, b} {
		if k, ok := r.queued[p]; !ok || k != kit {
			return domain.ErrNotQueued
		}
	}
	delete(r.queued, a)
	delete(r.queued, b)
	r.matched[a] = matchID
	r.matched[b] = matchID
	return nil
}

// ReserveIdle claims two players that are neither queued nor matched.
func (r *Registry) ReserveIdle(matchID, a, b string) error {
	if a == b {
		return domain.ErrSamePlayer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.busyUnlocked(a); err != nil {
		return err
	}
	if err := r.busyUnlocked(b); err != nil {
		return err
	}
	r.matched[a] = matchID
	r.matched[b] = matchID
	return nil
}

// Release clears the match mark of every player still bound to matchID.
func (r *Registry) Release(matchID string, playerIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range playerIDs {
		if m, ok := r.matched[p]; ok && m == matchID {
			delete(r.matched, p)
		}
	}
}

func (r *Registry) IsQueued(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queued[playerID]
	return ok
}

func (r *Registry) IsInMatch(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.matched[playerID]
	return ok
}

func (r *Registry) IsBusy(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busyUnlocked(playerID) != nil
}

func (r *Registry) QueuedKit(playerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.queued[playerID]
	return k, ok
}

func (r *Registry) MatchOf(playerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matched[playerID]
	return m, ok
}

// Counts reports how many players are queued and matched.
func (r *Registry) Counts() (queued, matched int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queued), len(r.matched)
}

// Overlap lists players present in both maps. It is empty unless a bug broke
// the exclusivity of the registry.
func (r *Registry) Overlap() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for p := range r.queued {
		if _, ok := r.matched[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

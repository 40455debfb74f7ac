package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Location struct {
	World string
	X     float64
	Y     float64
	Z     float64
	Yaw   float32
	Pitch float32
}

// UnmarshalText parses "world,x,y,z" with optional ",yaw,pitch".
func (l *Location) UnmarshalText(text []byte) error {
	parts := strings.Split(strings.TrimSpace(string(text)), ",")
	if len(parts) != 4 && len(parts) != 6 {
		return fmt.Errorf("invalid location %q: want world,x,y,z[,yaw,pitch]", string(text))
	}

	loc := Location{World: strings.TrimSpace(parts[0])}
	if loc.World == "" {
		return fmt.Errorf("invalid location %q: empty world", string(text))
	}

	coords := make([]float64, 0, 5)
	for _, p := range parts[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("invalid location %q: %w", string(text), err)
		}
		coords = append(coords, v)
	}

	loc.X, loc.Y, loc.Z = coords[0], coords[1], coords[2]
	if len(coords) == 5 {
		loc.Yaw, loc.Pitch = float32(coords[3]), float32(coords[4])
	}

	*l = loc
	return nil
}

func (l Location) String() string {
	return fmt.Sprintf("%s,%g,%g,%g,%g,%g", l.World, l.X, l.Y, l.Z, l.Yaw, l.Pitch)
}

type BlockPos struct {
	X int
	Y int
	Z int
}

type Material string

// Region is an inclusive block box inside one world.
type Region struct {
	World string
	Min   BlockPos
	Max   BlockPos
}

func (r Region) Contains(p BlockPos) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X &&
		p.Y >= r.Min.Y && p.Y <= r.Max.Y &&
		p.Z >= r.Min.Z && p.Z <= r.Max.Z
}

func (r Region) Volume() int {
	dx := r.Max.X - r.Min.X + 1
	dy := r.Max.Y - r.Min.Y + 1
	dz := r.Max.Z - r.Min.Z + 1
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return 0
	}
	return dx * dy * dz
}

type ArenaTemplate struct {
	Name        string
	DisplayName string
	Spawn1      Location
	Spawn2      Location
	Bounds      Region
	AllowedKits []string // empty = every kit
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeKit is the canonical form kit names are compared and stored in.
func NormalizeKit(kit string) string {
	return strings.ToLower(strings.TrimSpace(kit))
}

func (t *ArenaTemplate) IsKitAllowed(kit string) bool {
	if len(t.AllowedKits) == 0 {
		return true
	}
	for _, k := range t.AllowedKits {
		if strings.EqualFold(k, kit) {
			return true
		}
	}
	return false
}

type ArenaInstance struct {
	ID         string
	Template   *ArenaTemplate
	InUse      bool
	MatchID    string
	LastUsedAt time.Time
	MatchCount int
}

type QueueEntry struct {
	PlayerID   string
	PlayerName string
	Rating     int
	QueuedAt   time.Time
	Kit        string
}

type Participant struct {
	ID   string
	Name string
}

type DuelState string

const (
	StateWaiting    DuelState = "waiting"
	StateCountdown  DuelState = "countdown"
	StateInProgress DuelState = "in_progress"
	StateRoundEnd   DuelState = "round_end"
	StateMatchEnd   DuelState = "match_end"
)

type EndReason string

const (
	EndReasonRounds  EndReason = "rounds"
	EndReasonForfeit EndReason = "forfeit"
)

type DuelMatch struct {
	ID                string
	Player1           Participant
	Player2           Participant
	Kit               string
	Spawn1            Location
	Spawn2            Location
	ArenaInstanceID   string // empty when running on fallback spawns
	CurrentRound      int
	RoundsToWin       int
	Player1Wins       int
	Player2Wins       int
	State             DuelState
	StartedAt         time.Time
	TournamentMatchID string
	EndReason         EndReason
}

func (m *DuelMatch) IsPlayer(id string) bool {
	return id == m.Player1.ID || id == m.Player2.ID
}

func (m *DuelMatch) Opponent(id string) Participant {
	if id == m.Player1.ID {
		return m.Player2
	}
	return m.Player1
}

func (m *DuelMatch) Participant(id string) Participant {
	if id == m.Player1.ID {
		return m.Player1
	}
	return m.Player2
}

func (m *DuelMatch) Wins(id string) int {
	if id == m.Player1.ID {
		return m.Player1Wins
	}
	return m.Player2Wins
}

func (m *DuelMatch) AddWin(id string) {
	if id == m.Player1.ID {
		m.Player1Wins++
	} else {
		m.Player2Wins++
	}
}

func (m *DuelMatch) IsOver() bool {
	return m.Player1Wins >= m.RoundsToWin || m.Player2Wins >= m.RoundsToWin
}

// Winner returns the participant that reached RoundsToWin, if any.
func (m *DuelMatch) Winner() (Participant, bool) {
	switch {
	case m.Player1Wins >= m.RoundsToWin:
		return m.Player1, true
	case m.Player2Wins >= m.RoundsToWin:
		return m.Player2, true
	}
	return Participant{}, false
}

func (m *DuelMatch) Loser() (Participant, bool) {
	w, ok := m.Winner()
	if !ok {
		return Participant{}, false
	}
	return m.Opponent(w.ID), true
}

func (m *DuelMatch) Spawn(id string) Location {
	if id == m.Player1.ID {
		return m.Spawn1
	}
	return m.Spawn2
}

func (m *DuelMatch) PlayerIDs() []string {
	return []string{m.Player1.ID, m.Player2.ID}
}

func (m *DuelMatch) Score() string {
	return fmt.Sprintf("%d - %d", m.Player1Wins, m.Player2Wins)
}

type EloRating struct {
	PlayerID      string    `db:"player_id"`
	Rating        int       `db:"rating"`
	Wins          int       `db:"wins"`
	Losses        int       `db:"losses"`
	WinStreak     int       `db:"win_streak"`
	BestWinStreak int       `db:"best_win_streak"`
	Tier          string    `db:"tier"`
	LastUpdated   time.Time `db:"last_updated"`
}

func (r *EloRating) TotalMatches() int {
	return r.Wins + r.Losses
}

// WinRate is a percentage in [0, 100].
func (r *EloRating) WinRate() float64 {
	total := r.TotalMatches()
	if total == 0 {
		return 0
	}
	return float64(r.Wins) / float64(total) * 100
}

type DuelChallenge struct {
	ChallengerID   string
	ChallengerName string
	TargetID       string
	TargetName     string
	Kit            string
	CreatedAt      time.Time
}

func (c *DuelChallenge) ExpiresAt(timeout time.Duration) time.Time {
	return c.CreatedAt.Add(timeout)
}

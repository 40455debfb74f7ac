package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationText(t *testing.T) {
	var loc Location
	require.NoError(t, loc.UnmarshalText([]byte(" duels, 0.5,65,-3 ")))
	assert.Equal(t, Location{World: "duels", X: 0.5, Y: 65, Z: -3}, loc)

	require.NoError(t, loc.UnmarshalText([]byte("duels,1,2,3,90,-45")))
	assert.Equal(t, float32(90), loc.Yaw)
	assert.Equal(t, float32(-45), loc.Pitch)

	var again Location
	require.NoError(t, again.UnmarshalText([]byte(loc.String())))
	assert.Equal(t, loc, again)

	for _, bad := range []string{"", "duels,1,2", ",1,2,3", "duels,1,2,3,4", "duels,x,2,3"} {
		assert.Error(t, new(Location).UnmarshalText([]byte(bad)), bad)
	}
}

func TestRegion(t *testing.T) {
	r := Region{World: "duels", Min: BlockPos{X: 0, Y: 64, Z: 0}, Max: BlockPos{X: 2, Y: 65, Z: 3}}
	assert.Equal(t, 24, r.Volume())
	assert.True(t, r.Contains(BlockPos{X: 2, Y: 65, Z: 3}))
	assert.False(t, r.Contains(BlockPos{X: 3, Y: 65, Z: 3}))

	inverted := Region{Min: BlockPos{X: 5}, Max: BlockPos{X: 1}}
	assert.Zero(t, inverted.Volume())
}

func TestNormalizeKit(t *testing.T) {
	assert.Equal(t, "sword", NormalizeKit("  Sword "))
	assert.Empty(t, NormalizeKit(" "))
}

func TestTemplateKitFilter(t *testing.T) {
	open := ArenaTemplate{}
	assert.True(t, open.IsKitAllowed("anything"))

	restricted := ArenaTemplate{AllowedKits: []string{"Sword"}}
	assert.True(t, restricted.IsKitAllowed("sword"))
	assert.False(t, restricted.IsKitAllowed("axe"))
}

func TestDuelMatchScoring(t *testing.T) {
	m := DuelMatch{
		Player1:     Participant{ID: "a", Name: "A"},
		Player2:     Participant{ID: "b", Name: "B"},
		RoundsToWin: 2,
	}

	_, ok := m.Winner()
	assert.False(t, ok)

	m.AddWin("b")
	m.AddWin("a")
	assert.False(t, m.IsOver())
	assert.Equal(t, "1 - 1", m.Score())

	m.AddWin("a")
	require.True(t, m.IsOver())
	winner, _ := m.Winner()
	loser, _ := m.Loser()
	assert.Equal(t, "a", winner.ID)
	assert.Equal(t, "b", loser.ID)
	assert.Equal(t, "A", m.Opponent("b").Name)
	assert.Equal(t, 2, m.Wins("a"))
}

func TestEloRatingStats(t *testing.T) {
	r := EloRating{Wins: 3, Losses: 1}
	assert.Equal(t, 4, r.TotalMatches())
	assert.InDelta(t, 75.0, r.WinRate(), 0.001)
	assert.Zero(t, (&EloRating{}).WinRate())
}

func TestChallengeExpiry(t *testing.T) {
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := DuelChallenge{CreatedAt: created}
	assert.Equal(t, created.Add(time.Minute), c.ExpiresAt(time.Minute))
}

func TestRejectionsCompare(t *testing.T) {
	wrapped := fmt.Errorf("queue: %w", ErrAlreadyQueued)
	assert.True(t, errors.Is(wrapped, ErrAlreadyQueued))
	assert.False(t, errors.Is(wrapped, ErrAlreadyInMatch))
}

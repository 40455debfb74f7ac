package rating

import (
	"testing"

	"arena-duels/internal/domain"

	"github.com/stretchr/testify/assert"
)

var standardCalculator = Calculator{KProvisional: 40, KEstablished: 32, ProvisionalMatches: 30}

func TestExpectedScore(t *testing.T) {
	c := standardCalculator

	assert.InDelta(t, 0.5, c.ExpectedScore(1000, 1000), 1e-9)
	assert.InDelta(t, 0.909, c.ExpectedScore(1400, 1000), 0.001)
	assert.InDelta(t, 1.0, c.ExpectedScore(1400, 1000)+c.ExpectedScore(1000, 1400), 1e-9)
}

func TestKFactor(t *testing.T) {
	c := standardCalculator

	assert.Equal(t, 40, c.KFactor(0))
	assert.Equal(t, 40, c.KFactor(29))
	assert.Equal(t, 32, c.KFactor(30))
}

func TestCalculate(t *testing.T) {
	c := standardCalculator

	tests := []struct {
		name                        string
		winner, loser               int
		winnerMatches, loserMatches int
		wantWinner, wantLoser       int
	}{
		{"equal provisional", 1000, 1000, 0, 0, 1020, 980},
		{"equal established", 1000, 1000, 50, 50, 1016, 984},
		{"mixed k", 1000, 1000, 0, 50, 1020, 984},
		{"upset", 1000, 1400, 50, 50, 1029, 1370},
		{"floor", 10, 10, 0, 0, 30, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, l := c.Calculate(tt.winner, tt.loser, tt.winnerMatches, tt.loserMatches)
			assert.Equal(t, tt.wantWinner, w)
			assert.Equal(t, tt.wantLoser, l)
		})
	}
}

func TestChange(t *testing.T) {
	c := standardCalculator

	assert.Equal(t, 20, c.Change(1000, 1000, 0, true))
	assert.Equal(t, -20, c.Change(1000, 1000, 0, false))
	assert.Equal(t, 16, c.Change(1000, 1000, 30, true))
}

func TestTierFor(t *testing.T) {
	cases := map[int]string{
		0:    "Unranked",
		799:  "Unranked",
		800:  "Bronze",
		1000: "Silver",
		1199: "Silver",
		1200: "Gold",
		1400: "Platinum",
		1600: "Diamond",
		1800: "Master",
		2000: "Grandmaster",
		2200: "Legend",
		3000: "Legend",
	}
	for rating, want := range cases {
		assert.Equal(t, want, domain.TierFor(rating).Name, "rating %d", rating)
	}
}

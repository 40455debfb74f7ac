package rating

import "math"

// Calculator implements Elo with a K-factor that drops once a player leaves
// the provisional period.
type Calculator struct {
	KProvisional       int
	KEstablished       int
	ProvisionalMatches int
}

// ExpectedScore is E_A = 1 / (1 + 10^((R_B - R_A)/400)).
func (c Calculator) ExpectedScore(ratingA, ratingB int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(ratingB-ratingA)/400.0))
}

func (c Calculator) KFactor(totalMatches int) int {
	if totalMatches < c.ProvisionalMatches {
		return c.KProvisional
	}
	return c.KEstablished
}

// Calculate returns the post-match ratings of winner and loser. Each side uses
// its own K-factor; results are truncated and floored at 0.
func (c Calculator) Calculate(winnerRating, loserRating, winnerMatches, loserMatches int) (int, int) {
	expectedWinner := c.ExpectedScore(winnerRating, loserRating)
	expectedLoser := c.ExpectedScore(loserRating, winnerRating)

	newWinner := int(float64(winnerRating) + float64(c.KFactor(winnerMatches))*(1-expectedWinner))
	newLoser := int(float64(loserRating) + float64(c.KFactor(loserMatches))*(0-expectedLoser))

	return max(newWinner, 0), max(newLoser, 0)
}

// Change previews the delta a single player would get from one result.
func (c Calculator) Change(rating, opponentRating, totalMatches int, won bool) int {
	actual := 0.0
	if won {
		actual = 1.0
	}
	expected := c.ExpectedScore(rating, opponentRating)
	return int(float64(c.KFactor(totalMatches)) * (actual - expected))
}

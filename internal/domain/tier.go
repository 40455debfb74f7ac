package domain

type Tier struct {
	Name      string
	MinRating int
}

// Tiers is ordered by ascending MinRating.
var Tiers = []Tier{
	{Name: "Unranked", MinRating: 0},
	{Name: "Bronze", MinRating: 800},
	{Name: "Silver", MinRating: 1000},
	{Name: "Gold", MinRating: 1200},
	{Name: "Platinum", MinRating: 1400},
	{Name: "Diamond", MinRating: 1600},
	{Name: "Master", MinRating: 1800},
	{Name: "Grandmaster", MinRating: 2000},
	{Name: "Legend", MinRating: 2200},
}

func TierFor(rating int) Tier {
	tier := Tiers[0]
	for _, t := range Tiers {
		if rating >= t.MinRating {
			tier = t
		}
	}
	return tier
}

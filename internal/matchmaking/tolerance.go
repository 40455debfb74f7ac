package matchmaking

import "time"

// Tolerance is the rating window an entrant accepts after waiting a while.
type Tolerance struct {
	Base         int
	Step         int
	StepInterval time.Duration
	Max          int
}

// At grows by Step for every full StepInterval waited, capped at Max.
func (t Tolerance) At(wait time.Duration) int {
	if wait < 0 || t.StepInterval <= 0 {
		return min(t.Base, t.Max)
	}
	steps := int(wait / t.StepInterval)
	return min(t.Base+steps*t.Step, t.Max)
}

package domain

// rejection is a comparable error type so errors.Is works on the values below.
type rejection string

func (e rejection) Error() string { return string(e) }

var (
	ErrAlreadyQueued  = rejection("player is already queued")
	ErrAlreadyInMatch = rejection("player is already in a match")
	ErrNotQueued      = rejection("player is not queued")
	ErrUnknownKit     = rejection("unknown kit")
	ErrSamePlayer     = rejection("a match needs two different players")

	ErrNoArenaAvailable = rejection("no arena template accepts this kit")
	ErrInstanceNotFound = rejection("arena instance not found")
	ErrTemplateNotFound = rejection("arena template not found")
	ErrInvalidTemplate  = rejection("invalid arena template")

	ErrMatchNotFound   = rejection("match not found")
	ErrNotInMatch      = rejection("player is not part of this match")
	ErrRoundNotRunning = rejection("no round is in progress")

	ErrChallengeSelf    = rejection("cannot challenge yourself")
	ErrChallengePending = rejection("challenger already has an outstanding challenge")
	ErrTargetBusy       = rejection("target is already queued or in a match")
	ErrNoChallenge      = rejection("no such challenge")
	ErrChallengeExpired = rejection("challenge has expired")
)

package protocol

// Action error kinds reported by the server.
const (
	// Movement.
	ErrCannotPassThroughWall     = "CannotPassThroughWall"
	ErrCannotPassThroughOpponent = "CannotPassThroughOpponent"

	// Challenges.
	ErrNoRunningChallenge       = "NoRunningChallenge"
	ErrSolveChallengeFirst      = "SolveChallengeFirst"
	ErrInvalidChallengeSolution = "InvalidChallengeSolution"
)

var knownActionErrors = map[string]struct{}{
	ErrCannotPassThroughWall:     {},
	ErrCannotPassThroughOpponent: {},
	ErrNoRunningChallenge:        {},
	ErrSolveChallengeFirst:       {},
	ErrInvalidChallengeSolution:  {},
}

func IsKnownActionError(kind string) bool {
	_, ok := knownActionErrors[kind]
	return ok
}

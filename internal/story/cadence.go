package story

import "fmt"

// Phase buckets overall progress into an act. Prompts use the phase to steer
// tone without exposing the raw number.
type Phase string

const (
	PhaseEarly Phase = "early"
	PhaseMid   Phase = "mid"
	PhaseLate  Phase = "late"
)

// PhaseFor returns the act for a progress value. Progress at the ceiling never
// reaches callers because milestone handling resets it first.
func PhaseFor(progress int) Phase {
	switch {
	case progress < 34:
		return PhaseEarly
	case progress < 67:
		return PhaseMid
	default:
		return PhaseLate
	}
}

// ShouldAskQuestion reports whether the upcoming beat should end with a direct
// question to the player. Key events always do; otherwise every third turn.
func ShouldAskQuestion(turnCount int, keyEvent bool) bool {
	return keyEvent || turnCount%3 == 0
}

// AllowNewProperNoun reports whether the upcoming beat may introduce a new
// named character or place. Key events always may; otherwise every other turn.
func AllowNewProperNoun(turnCount int, keyEvent bool) bool {
	return keyEvent || turnCount%2 == 0
}

// ShouldIllustrate reports whether this turn produces an image. Key events
// always illustrate; otherwise every third turn on a different stride than
// questions so the two cadences interleave.
func ShouldIllustrate(turnCount int, keyEvent bool) bool {
	return keyEvent || turnCount%3 == 1
}

// LengthRule returns the sentence-count instruction for the narration prompt.
func LengthRule(keyEvent, isContinue bool) string {
	switch {
	case keyEvent:
		return "Write 12 to 18 sentences. This is a milestone scene, give it room to breathe."
	case isContinue:
		return "Write 2 to 3 sentences. A brief connective beat, nothing more."
	default:
		return "Write 5 to 6 sentences."
	}
}

// paceBrief renders the cadence flags as plain prose for the storyteller
// prompt.
func paceBrief(turnCount int, keyEvent bool) string {
	q := "Do not end with a question; close the beat declaratively."
	if ShouldAskQuestion(turnCount, keyEvent) {
		q = "End the beat with one direct question to the player."
	}
	n := "Do not introduce any new named character or place this turn."
	if AllowNewProperNoun(turnCount, keyEvent) {
		n = "You may introduce at most one new named character or place this turn."
	}
	return fmt.Sprintf("%s %s", q, n)
}

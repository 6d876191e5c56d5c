// Package session owns the lifetime of play sessions: creation, turn
// submission, continuation, rewind, and teardown. The turn state itself is
// owned by the engine; this package only resumes the machine and records what
// each step added so it can be undone.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/dshaw/fablefriend/internal/story"
)

var (
	// ErrUnknownSession means the id is absent or evicted. Callers translate
	// it into a return-to-menu signal, not a failure page.
	ErrUnknownSession = errors.New("session: unknown session")

	// ErrTurnInFlight means a step is already running for this session.
	ErrTurnInFlight = errors.New("session: a turn is already in progress")
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	EntryText  = "text"
	EntryImage = "image"
)

// TranscriptEntry is one user-visible turn element. Image entries carry the
// artifact hash, never the bytes.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// turnRecord describes exactly what one applied turn did to the transcript
// and the checkpoint cursor, sufficient to undo it.
type turnRecord struct {
	entriesAdded int

	// appendedTo / appendedLen describe a continue-merge: text appended to an
	// existing assistant entry instead of a new entry. appendedTo is -1 when
	// no merge happened.
	appendedTo  int
	appendedLen int

	prevCursor    string
	prevStepIndex int
	prevGrace     bool
	wasGameOver   bool
}

type Session struct {
	mu   sync.Mutex
	busy bool

	ID      string
	Created time.Time

	// starter is the state at creation, kept for the replay rewind path.
	starter story.TurnState

	// inputs logs every resume value submitted, grace marker excluded.
	inputs []string

	state      story.TurnState
	cursor     string
	stepIndex  int
	transcript []TranscriptEntry
	records    []turnRecord

	gracePending bool
	terminated   bool
	lastActive   time.Time
}

// beginStep marks the session busy for one step. The caller must call endStep
// exactly once after a successful beginStep.
func (s *Session) beginStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrTurnInFlight
	}
	s.busy = true
	return nil
}

func (s *Session) endStep() {
	s.mu.Lock()
	s.busy = false
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// TurnOutput is what one operation hands back to the caller: the transcript
// entries it added (or the full transcript after a rewind) plus the raw image
// bytes when a new illustration was produced.
type TurnOutput struct {
	SessionID  string
	Entries    []TranscriptEntry
	Image      []byte
	ImageHash  string
	Terminated bool
	GameOver   bool
}

// Snapshot is a read-only view of a session for status endpoints.
type Snapshot struct {
	ID         string
	Transcript []TranscriptEntry
	TurnCount  int
	Tension    int
	Progress   int
	Terminated bool
	Created    time.Time
	LastActive time.Time
}

// Package checkpoint persists whole-step snapshots of a session's turn state.
// A snapshot is taken only at the machine's suspension point, so history is a
// sequence of whole turns and rewind never lands mid-step.
package checkpoint

import (
	"errors"
	"time"

	"github.com/dshaw/fablefriend/internal/story"
)

var ErrNotFound = errors.New("checkpoint: not found")

type Snapshot struct {
	Ref       string
	SessionID string

	// StepIndex increases by one per saved step and orders History
	// deterministically even when wall clocks collide.
	StepIndex int
	State     story.TurnState
	CreatedAt time.Time
}

type Store interface {
	// Save records state as the snapshot for stepIndex and returns its ref.
	Save(sessionID string, stepIndex int, state story.TurnState) (string, error)

	// Load returns the snapshot with the given ref.
	Load(ref string) (Snapshot, error)

	// History returns all snapshots for a session, newest first by step index.
	History(sessionID string) ([]Snapshot, error)

	// DeleteSession removes every snapshot for a session. Unknown sessions
	// are a no-op.
	DeleteSession(sessionID string) error

	Close() error
}

package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dshaw/fablefriend/internal/artifacts"
	"github.com/dshaw/fablefriend/internal/checkpoint"
	"github.com/dshaw/fablefriend/internal/engine"
	"github.com/dshaw/fablefriend/internal/story"
)

// Manager runs sessions against one machine and one checkpoint store.
// Different sessions step in parallel; within a session steps are strictly
// sequential, enforced by the per-session busy flag.
type Manager struct {
	machine *engine.Machine
	store   checkpoint.Store

	// art holds image bytes out of band; nil disables image transcript
	// entries (the bytes still come back on the TurnOutput).
	art *artifacts.Store

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(machine *engine.Machine, store checkpoint.Store, art *artifacts.Store) *Manager {
	return &Manager{
		machine:  machine,
		store:    store,
		art:      art,
		sessions: map[string]*Session{},
	}
}

// Begin creates a session: generates the one-time intro, runs the machine to
// its first suspension point, and pins the first checkpoint. Intro generation
// failure degrades to a canned opening rather than failing creation.
func (m *Manager) Begin(ctx context.Context, charName, theme, role string) (string, TurnOutput, error) {
	charName = strings.TrimSpace(charName)
	theme = strings.TrimSpace(theme)
	role = strings.TrimSpace(role)
	if charName == "" || theme == "" {
		return "", TurnOutput{}, fmt.Errorf("session: name and theme are required")
	}

	starter := story.TurnState{Theme: theme, CharName: charName, Role: role}
	intro, err := m.machine.Text.GenerateText(ctx, story.IntroPrompt(theme, charName, role))
	intro = strings.TrimSpace(intro)
	if err != nil || intro == "" {
		intro = cannedIntro(charName, theme)
	}
	starter.IntroText = intro

	res, err := m.machine.Start(ctx, starter)
	if err != nil {
		return "", TurnOutput{}, err
	}

	id := ulid.Make().String()
	ref, err := m.store.Save(id, 1, res.State)
	if err != nil {
		return "", TurnOutput{}, err
	}

	now := time.Now()
	sess := &Session{
		ID:         id,
		Created:    now,
		lastActive: now,
		starter:    starter,
		state:      res.State,
		cursor:     ref,
		stepIndex:  1,
	}
	out := m.appendStep(sess, res, "", false)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return id, out, nil
}

// SubmitAction resumes the session with the player's text. Empty input is a
// no-op. A terminated session answers with its terminal entry instead of a
// new beat.
func (m *Manager) SubmitAction(ctx context.Context, id, text string) (TurnOutput, error) {
	return m.step(ctx, id, text, false)
}

// ContinueTurn advances the story without player input. The narration merges
// into the most recent assistant entry so continuation reads as one flowing
// beat, not a new exchange.
func (m *Manager) ContinueTurn(ctx context.Context, id string) (TurnOutput, error) {
	return m.step(ctx, id, story.ContinueSentinel, true)
}

func (m *Manager) step(ctx context.Context, id, text string, isContinue bool) (TurnOutput, error) {
	sess, err := m.lookup(id)
	if err != nil {
		return TurnOutput{}, err
	}
	if err := sess.beginStep(); err != nil {
		return TurnOutput{}, err
	}
	defer sess.endStep()

	// The busy flag excludes concurrent steps; the mutex below only fences
	// readers (Get) from in-progress field writes.
	sess.mu.Lock()
	terminated := sess.terminated
	state := sess.state
	gracePending := sess.gracePending
	sess.mu.Unlock()

	if terminated {
		return m.terminalOutput(sess), nil
	}
	if !isContinue && strings.TrimSpace(text) == "" {
		return TurnOutput{SessionID: sess.ID}, nil
	}

	raw := text
	consumedGrace := false
	if gracePending {
		raw = story.GraceMarker + raw
		consumedGrace = true
	}

	res, err := m.machine.Resume(ctx, state, raw)
	if err != nil {
		// Cursor unchanged; the same input is retryable.
		return TurnOutput{}, err
	}

	ref, err := m.store.Save(sess.ID, sess.stepIndex+1, res.State)
	if err != nil {
		return TurnOutput{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if consumedGrace {
		sess.gracePending = false
	}
	record := turnRecord{
		appendedTo:    -1,
		prevCursor:    sess.cursor,
		prevStepIndex: sess.stepIndex,
		prevGrace:     consumedGrace,
		wasGameOver:   res.GameOver,
	}
	userText := text
	if isContinue {
		userText = ""
	}
	out, applied := m.applyTranscript(sess, res, userText, isContinue)
	record.entriesAdded = applied.entriesAdded
	record.appendedTo = applied.appendedTo
	record.appendedLen = applied.appendedLen

	sess.records = append(sess.records, record)
	sess.inputs = append(sess.inputs, text)
	sess.state = res.State
	sess.cursor = ref
	sess.stepIndex++
	if res.Terminated {
		sess.terminated = true
	}
	return out, nil
}

// Rewind undoes the most recent turn. With checkpoint history available the
// cursor pin moves back and the transcript is surgically reverted; when the
// popped snapshot is gone the session is replayed from its starter through
// every input except the last. Rewinding a session with no turns is a no-op.
func (m *Manager) Rewind(ctx context.Context, id string) (TurnOutput, error) {
	sess, err := m.lookup(id)
	if err != nil {
		return TurnOutput{}, err
	}
	if err := sess.beginStep(); err != nil {
		return TurnOutput{}, err
	}
	defer sess.endStep()

	if len(sess.records) == 0 {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return TurnOutput{SessionID: sess.ID, Entries: cloneEntries(sess.transcript)}, nil
	}

	record := sess.records[len(sess.records)-1]

	snap, loadErr := m.store.Load(record.prevCursor)
	if loadErr == nil {
		// Pin-based: exact and cheap.
		sess.mu.Lock()
		sess.transcript = sess.transcript[:len(sess.transcript)-record.entriesAdded]
		if record.appendedTo >= 0 {
			entry := &sess.transcript[record.appendedTo]
			entry.Content = entry.Content[:len(entry.Content)-record.appendedLen]
		}
		sess.state = snap.State
		sess.cursor = record.prevCursor
		sess.stepIndex = record.prevStepIndex
		sess.records = sess.records[:len(sess.records)-1]
		sess.inputs = sess.inputs[:len(sess.inputs)-1]
		sess.terminated = false
		sess.mu.Unlock()
	} else if err := m.replay(ctx, sess); err != nil {
		return TurnOutput{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.gracePending = !sess.terminated && (record.wasGameOver || record.prevGrace)
	return TurnOutput{SessionID: sess.ID, Entries: cloneEntries(sess.transcript)}, nil
}

// replay rebuilds the session from its starter, resuming through every input
// except the last. Generation is non-deterministic, so the result is an
// equivalent trajectory rather than the exact prior one. The rebuild happens
// on a scratch session and commits in one shot at the end, so a mid-replay
// failure leaves the session exactly as it was and the rewind retryable.
func (m *Manager) replay(ctx context.Context, sess *Session) error {
	// Stale rows above the rebuilt range would pin a retention-bound
	// store's eviction to the wrong end of history.
	if err := m.store.DeleteSession(sess.ID); err != nil {
		return err
	}
	res, err := m.machine.Start(ctx, sess.starter)
	if err != nil {
		return err
	}
	ref, err := m.store.Save(sess.ID, 1, res.State)
	if err != nil {
		return err
	}

	inputs := append([]string{}, sess.inputs[:len(sess.inputs)-1]...)
	scratch := &Session{ID: sess.ID, state: res.State, cursor: ref, stepIndex: 1}
	m.appendStep(scratch, res, "", false)

	terminated := false
	consumed := 0
	for _, input := range inputs {
		stepRes, err := m.machine.Resume(ctx, scratch.state, input)
		if err != nil {
			return err
		}
		stepRef, err := m.store.Save(sess.ID, scratch.stepIndex+1, stepRes.State)
		if err != nil {
			return err
		}
		record := turnRecord{
			appendedTo:    -1,
			prevCursor:    scratch.cursor,
			prevStepIndex: scratch.stepIndex,
			wasGameOver:   stepRes.GameOver,
		}
		isContinue := input == story.ContinueSentinel
		userText := input
		if isContinue {
			userText = ""
		}
		_, applied := m.applyTranscript(scratch, stepRes, userText, isContinue)
		record.entriesAdded = applied.entriesAdded
		record.appendedTo = applied.appendedTo
		record.appendedLen = applied.appendedLen

		scratch.records = append(scratch.records, record)
		scratch.state = stepRes.State
		scratch.cursor = stepRef
		scratch.stepIndex++
		consumed++
		// Re-adjudication can rule an old input fatal this time around.
		if stepRes.Terminated {
			terminated = true
			break
		}
	}

	sess.mu.Lock()
	sess.state = scratch.state
	sess.cursor = scratch.cursor
	sess.stepIndex = scratch.stepIndex
	sess.transcript = scratch.transcript
	sess.records = scratch.records
	sess.inputs = inputs[:consumed]
	sess.terminated = terminated
	sess.mu.Unlock()
	return nil
}

// Reset destroys the session and its checkpoints. Unknown ids are a no-op.
func (m *Manager) Reset(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return m.store.DeleteSession(id)
}

// Get returns a read-only snapshot of the session for status callers.
func (m *Manager) Get(id string) (Snapshot, error) {
	sess, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return Snapshot{
		ID:         sess.ID,
		Transcript: cloneEntries(sess.transcript),
		TurnCount:  sess.state.TurnCount,
		Tension:    sess.state.Tension,
		Progress:   sess.state.Progress,
		Terminated: sess.terminated,
		Created:    sess.Created,
		LastActive: sess.lastActive,
	}, nil
}

// EvictIdle drops sessions whose last activity is older than ttl and returns
// the evicted ids.
func (m *Manager) EvictIdle(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)
	var evicted []string

	m.mu.Lock()
	for id, sess := range m.sessions {
		sess.mu.Lock()
		idle := !sess.busy && sess.lastActive.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			evicted = append(evicted, id)
		}
	}
	m.mu.Unlock()

	for _, id := range evicted {
		_ = m.store.DeleteSession(id)
	}
	return evicted
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess, nil
}

// appendStep applies a step's transcript effect and returns the output. Used
// for the Begin/replay opening step where no record is kept.
func (m *Manager) appendStep(sess *Session, res engine.StepResult, userText string, isContinue bool) TurnOutput {
	out, _ := m.applyTranscript(sess, res, userText, isContinue)
	return out
}

type appliedTranscript struct {
	entriesAdded int
	appendedTo   int
	appendedLen  int
}

func (m *Manager) applyTranscript(sess *Session, res engine.StepResult, userText string, isContinue bool) (TurnOutput, appliedTranscript) {
	applied := appliedTranscript{appendedTo: -1}
	out := TurnOutput{
		SessionID:  sess.ID,
		Terminated: res.Terminated,
		GameOver:   res.GameOver,
	}

	if userText != "" {
		sess.transcript = append(sess.transcript, TranscriptEntry{Role: RoleUser, Type: EntryText, Content: userText})
		applied.entriesAdded++
	}

	if isContinue {
		if idx := lastAssistantText(sess.transcript); idx >= 0 {
			addition := "\n\n" + res.Beat
			sess.transcript[idx].Content += addition
			applied.appendedTo = idx
			applied.appendedLen = len(addition)
			out.Entries = append(out.Entries, sess.transcript[idx])
		} else {
			sess.transcript = append(sess.transcript, TranscriptEntry{Role: RoleAssistant, Type: EntryText, Content: res.Beat})
			applied.entriesAdded++
			out.Entries = append(out.Entries, sess.transcript[len(sess.transcript)-1])
		}
	} else {
		entry := TranscriptEntry{Role: RoleAssistant, Type: EntryText, Content: res.Beat}
		sess.transcript = append(sess.transcript, entry)
		applied.entriesAdded++
		out.Entries = append(out.Entries, entry)
	}

	if len(res.Image) > 0 {
		out.Image = res.Image
		out.ImageHash = artifacts.Hash(res.Image)
		if m.art != nil {
			if hash, err := m.art.Put(res.Image); err == nil {
				entry := TranscriptEntry{Role: RoleAssistant, Type: EntryImage, Content: hash}
				sess.transcript = append(sess.transcript, entry)
				applied.entriesAdded++
				out.Entries = append(out.Entries, entry)
			}
		}
	}

	if userText != "" {
		out.Entries = append([]TranscriptEntry{{Role: RoleUser, Type: EntryText, Content: userText}}, out.Entries...)
	}
	return out, applied
}

func (m *Manager) terminalOutput(sess *Session) TurnOutput {
	out := TurnOutput{SessionID: sess.ID, Terminated: true}
	for i := len(sess.transcript) - 1; i >= 0; i-- {
		if sess.transcript[i].Type == EntryText && sess.transcript[i].Role == RoleAssistant {
			out.Entries = []TranscriptEntry{sess.transcript[i]}
			break
		}
	}
	return out
}

func lastAssistantText(entries []TranscriptEntry) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == RoleAssistant && entries[i].Type == EntryText {
			return i
		}
	}
	return -1
}

func cloneEntries(entries []TranscriptEntry) []TranscriptEntry {
	out := make([]TranscriptEntry, len(entries))
	copy(out, entries)
	return out
}

func cannedIntro(charName, theme string) string {
	return fmt.Sprintf(
		"The world of %s takes shape around you, %s. The air is sharp, the light uncertain, and somewhere ahead something is already moving toward you. What do you do?",
		theme, charName)
}

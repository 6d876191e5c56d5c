package checkpoint

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dshaw/fablefriend/internal/story"
)

// MemoryStore keeps snapshots in process memory. Retention bounds how many
// snapshots survive per session; 0 keeps everything. With Retention 1 only the
// latest step survives, which forces the session manager onto its replay
// rewind path.
type MemoryStore struct {
	mu        sync.Mutex
	Retention int
	bySession map[string][]Snapshot
	byRef     map[string]Snapshot
}

func NewMemoryStore(retention int) *MemoryStore {
	return &MemoryStore{
		Retention: retention,
		bySession: map[string][]Snapshot{},
		byRef:     map[string]Snapshot{},
	}
}

func (m *MemoryStore) Save(sessionID string, stepIndex int, state story.TurnState) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Ref:       ulid.Make().String(),
		SessionID: sessionID,
		StepIndex: stepIndex,
		State:     state.Clone(),
		CreatedAt: time.Now().UTC(),
	}

	snaps := m.bySession[sessionID]
	for i, old := range snaps {
		if old.StepIndex == stepIndex {
			delete(m.byRef, old.Ref)
			snaps = append(snaps[:i], snaps[i+1:]...)
			break
		}
	}
	snaps = append(snaps, snap)
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].StepIndex > snaps[j].StepIndex })
	if m.Retention > 0 && len(snaps) > m.Retention {
		for _, evicted := range snaps[m.Retention:] {
			delete(m.byRef, evicted.Ref)
		}
		snaps = snaps[:m.Retention]
	}
	m.bySession[sessionID] = snaps
	m.byRef[snap.Ref] = snap
	return snap.Ref, nil
}

func (m *MemoryStore) Load(ref string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.byRef[ref]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	snap.State = snap.State.Clone()
	return snap, nil
}

func (m *MemoryStore) History(sessionID string) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := m.bySession[sessionID]
	out := make([]Snapshot, len(snaps))
	for i, snap := range snaps {
		snap.State = snap.State.Clone()
		out[i] = snap
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range m.bySession[sessionID] {
		delete(m.byRef, snap.Ref)
	}
	delete(m.bySession, sessionID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

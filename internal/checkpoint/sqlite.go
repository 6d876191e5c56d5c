package checkpoint

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/dshaw/fablefriend/internal/story"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	ref         TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	step_index  INTEGER NOT NULL,
	state       BLOB NOT NULL,
	created_at  TEXT NOT NULL,
	UNIQUE (session_id, step_index)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_session
	ON checkpoints (session_id, step_index DESC);
`

// SQLiteStore keeps snapshots in a SQLite database, one row per step.
// Snapshots are msgpack blobs; image bytes ride inside the blob.
type SQLiteStore struct {
	db *sql.DB

	// Retention caps snapshots kept per session; 0 keeps everything.
	// Trimmed history pushes older rewinds onto the replay path.
	Retention int
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(sessionID string, stepIndex int, state story.TurnState) (string, error) {
	blob, err := msgpack.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	ref := ulid.Make().String()
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// A retried step overwrites its own index rather than forking history.
	if _, err := tx.Exec(
		`DELETE FROM checkpoints WHERE session_id = ? AND step_index = ?`,
		sessionID, stepIndex,
	); err != nil {
		return "", fmt.Errorf("clear step: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO checkpoints (ref, session_id, step_index, state, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ref, sessionID, stepIndex, blob, now.Format(time.RFC3339Nano),
	); err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	if s.Retention > 0 {
		if _, err := tx.Exec(
			`DELETE FROM checkpoints WHERE session_id = ? AND ref NOT IN (
				SELECT ref FROM checkpoints WHERE session_id = ?
				ORDER BY step_index DESC LIMIT ?)`,
			sessionID, sessionID, s.Retention,
		); err != nil {
			return "", fmt.Errorf("trim history: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return ref, nil
}

func (s *SQLiteStore) Load(ref string) (Snapshot, error) {
	var snap Snapshot
	var blob []byte
	var createdStr string
	err := s.db.QueryRow(
		`SELECT ref, session_id, step_index, state, created_at
		 FROM checkpoints WHERE ref = ?`, ref,
	).Scan(&snap.Ref, &snap.SessionID, &snap.StepIndex, &blob, &createdStr)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", ref, err)
	}
	if err := msgpack.Unmarshal(blob, &snap.State); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal state: %w", err)
	}
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return snap, nil
}

func (s *SQLiteStore) History(sessionID string) ([]Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT ref, session_id, step_index, state, created_at
		 FROM checkpoints WHERE session_id = ? ORDER BY step_index DESC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		var blob []byte
		var createdStr string
		if err := rows.Scan(&snap.Ref, &snap.SessionID, &snap.StepIndex, &blob, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := msgpack.Unmarshal(blob, &snap.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *SQLiteStore) DeleteSession(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

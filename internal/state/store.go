// Package state persists the last-known-good snapshot of each editing
// session, with an append-only revision trail.
package state

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/tandem/internal/controller"
)

const DefaultMaxSnapshotBytes = 4 << 20 // 4 MiB

var ErrSessionNotFound = errors.New("session not found")

type Store struct {
	db               *sql.DB
	maxSnapshotBytes int
	now              func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:               db,
		maxSnapshotBytes: DefaultMaxSnapshotBytes,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Record is a stored session.
type Record struct {
	ID          string              `json:"id"`
	Flavor      controller.Flavor   `json:"flavor"`
	Revision    string              `json:"revision"`
	Fingerprint string              `json:"fingerprint"`
	Snapshot    controller.Snapshot `json:"snapshot"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Revision is one entry of a session's history, newest first when listed.
type Revision struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// Save stores snap as the session's current state. A snapshot identical to
// the stored one is not written again; the returned revision is then the
// existing one and saved is false.
func (s *Store) Save(ctx context.Context, snap controller.Snapshot) (revision string, saved bool, err error) {
	if snap.Session == "" {
		return "", false, fmt.Errorf("session id is empty")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", false, fmt.Errorf("marshal snapshot: %w", err)
	}
	if len(raw) > s.maxSnapshotBytes {
		return "", false, fmt.Errorf("snapshot exceeds max size (%d bytes)", s.maxSnapshotBytes)
	}
	sum := blake3.Sum256(raw)
	fingerprint := hex.EncodeToString(sum[:])

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curRevision, curFingerprint string
	err = tx.QueryRowContext(ctx, "SELECT revision, fingerprint FROM sessions WHERE id = ?;", snap.Session).Scan(&curRevision, &curFingerprint)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return "", false, fmt.Errorf("read session: %w", err)
	case curFingerprint == fingerprint:
		return curRevision, false, nil
	}

	revision = uuid.NewString()
	now := s.now().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions(id, flavor, revision, fingerprint, snapshot, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  revision = excluded.revision,
  fingerprint = excluded.fingerprint,
  snapshot = excluded.snapshot,
  updated_at = excluded.updated_at;
`, snap.Session, string(snap.Flavor), revision, fingerprint, string(raw), now, now)
	if err != nil {
		return "", false, fmt.Errorf("upsert session: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO session_revisions(id, session_id, fingerprint, snapshot, created_at)
VALUES(?, ?, ?, ?, ?);
`, revision, snap.Session, fingerprint, string(raw), now)
	if err != nil {
		return "", false, fmt.Errorf("insert revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit tx: %w", err)
	}
	return revision, true, nil
}

// Load returns the current state of session id.
func (s *Store) Load(ctx context.Context, id string) (*Record, error) {
	var (
		rec                  Record
		flavor, raw          string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, flavor, revision, fingerprint, snapshot, created_at, updated_at
FROM sessions WHERE id = ?;
`, id).Scan(&rec.ID, &flavor, &rec.Revision, &rec.Fingerprint, &raw, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	rec.Flavor = controller.Flavor(flavor)
	if err := json.Unmarshal([]byte(raw), &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("stored snapshot is invalid JSON for session=%q: %w", id, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &rec, nil
}

// LoadRevision returns the snapshot stored under one revision of session id.
func (s *Store) LoadRevision(ctx context.Context, id, revision string) (*controller.Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot FROM session_revisions WHERE session_id = ? AND id = ?;", id, revision).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s@%s", ErrSessionNotFound, id, revision)
	}
	if err != nil {
		return nil, fmt.Errorf("read revision: %w", err)
	}
	var snap controller.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("stored revision is invalid JSON: %w", err)
	}
	return &snap, nil
}

// Revisions lists the history of session id, newest first.
func (s *Store) Revisions(ctx context.Context, id string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, fingerprint, created_at FROM session_revisions
WHERE session_id = ? ORDER BY created_at DESC, rowid DESC;
`, id)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Fingerprint, &createdAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes session id and its history.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?;", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Package checkpoint persists OrchestrationState snapshots so a build run
// can be inspected or resumed after a crash. The default Store writes
// one JSON file per run under a checkpoint directory; an optional sqlite3
// backend is provided for callers that want queryable history instead of a
// directory of files.
package checkpoint

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

// Snapshot is the on-disk representation of an OrchestrationState at a
// point in time, plus a content digest for tamper/corruption detection.
type Snapshot struct {
	RunID     string              `json:"run_id"`
	SavedAt   time.Time           `json:"saved_at"`
	Phase     models.Phase        `json:"phase"`
	Progress  int                 `json:"progress"`
	Hardware  models.HardwareInfo `json:"hardware"`
	Config    models.KernelConfig `json:"config"`
	PatchOK   int                 `json:"patches_applied"`
	PatchFail int                 `json:"patches_failed"`
	LastError string              `json:"last_error,omitempty"`
	Digest    string              `json:"digest"`
}

// digest computes a blake2b-256 hash over the snapshot's semantic fields
// (everything but the digest itself), so a corrupted or hand-edited
// checkpoint file can be detected on load.
func digest(s Snapshot) (string, error) {
	s.Digest = ""
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("digest marshal: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Store persists and retrieves Snapshots. Two implementations are provided:
// a plain-JSON-file Store and a sqlite3-backed Store.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, runID string) (Snapshot, error)
	List(ctx context.Context) ([]string, error)
}

// FileStore writes one JSON file per run under dir.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(runID string) string {
	return filepath.Join(f.dir, runID+".json")
}

// Save writes snap to <dir>/<run_id>.json, normalising SavedAt to UTC and
// stamping Digest.
func (f *FileStore) Save(_ context.Context, snap Snapshot) error {
	snap.SavedAt = snap.SavedAt.UTC()
	d, err := digest(snap)
	if err != nil {
		return err
	}
	snap.Digest = d

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := f.path(snap.RunID) + ".tmp-" + randSuffix()
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp, f.path(snap.RunID))
}

// Load reads and verifies a checkpoint by run ID.
func (f *FileStore) Load(_ context.Context, runID string) (Snapshot, error) {
	raw, err := os.ReadFile(f.path(runID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read checkpoint %s: %w", runID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	want := snap.Digest
	got, err := digest(snap)
	if err != nil {
		return Snapshot{}, err
	}
	if got != want {
		return Snapshot{}, fmt.Errorf("checkpoint %s failed integrity check", runID)
	}
	return snap, nil
}

// List returns every run ID with a checkpoint on disk.
func (f *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint dir: %w", err)
	}
	runIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			runIDs = append(runIDs, name[:len(name)-len(".json")])
		}
	}
	return runIDs, nil
}

func randSuffix() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// SQLStore persists Snapshots to a sqlite3 database, for callers that want
// to query run history rather than glob a directory of JSON files.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (creating if necessary) a sqlite3 database at path and
// ensures its schema exists.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     TEXT PRIMARY KEY,
	saved_at   TEXT NOT NULL,
	payload    TEXT NOT NULL,
	digest     TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Save upserts snap keyed by RunID.
func (s *SQLStore) Save(ctx context.Context, snap Snapshot) error {
	snap.SavedAt = snap.SavedAt.UTC()
	d, err := digest(snap)
	if err != nil {
		return err
	}
	snap.Digest = d

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO checkpoints (run_id, saved_at, payload, digest) VALUES (?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET saved_at = excluded.saved_at, payload = excluded.payload, digest = excluded.digest`,
		snap.RunID, snap.SavedAt.Format(time.RFC3339Nano), string(raw), snap.Digest)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", snap.RunID, err)
	}
	return nil
}

// Load fetches and verifies a checkpoint by run ID.
func (s *SQLStore) Load(ctx context.Context, runID string) (Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM checkpoints WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	want := snap.Digest
	got, err := digest(snap)
	if err != nil {
		return Snapshot{}, err
	}
	if got != want {
		return Snapshot{}, fmt.Errorf("checkpoint %s failed integrity check", runID)
	}
	return snap, nil
}

// List returns every run ID with a stored checkpoint.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var runIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		runIDs = append(runIDs, id)
	}
	return runIDs, rows.Err()
}

// FromState builds a Snapshot from a live OrchestrationState. st has no
// internal locking (models.OrchestrationState's doc comment); the caller
// must hold the orchestrator's guard while this runs.
func FromState(st *models.OrchestrationState) Snapshot {
	var cfg models.KernelConfig
	if st.Config != nil {
		cfg = *st.Config
	}
	return Snapshot{
		RunID:     st.RunID,
		SavedAt:   time.Now(),
		Phase:     st.Phase,
		Progress:  st.Progress,
		Hardware:  st.Hardware,
		Config:    cfg,
		PatchOK:   st.PatchesApplied,
		PatchFail: st.PatchesFailed,
		LastError: st.Error,
	}
}

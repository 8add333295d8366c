// Package journal records pipeline stage runs in SQLite so an
// interrupted document can resume: a stage whose input hash matches a
// completed run, and whose artifact still exists on disk, is skipped.
// Journal writes are advisory. A failure to record never stops a
// document, it only costs the resume optimization.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS stage_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	doc_fp TEXT NOT NULL,
	stage TEXT NOT NULL,
	input_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	artifact TEXT,
	detail TEXT,
	started_at INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_stage_runs_doc ON stage_runs(doc_fp, stage, input_hash);
`

// Journal is a stage-run journal backed by one SQLite file.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the journal database at path with the usual
// production pragmas. Parent directories are created as needed.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}

	return &Journal{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Run scopes journal entries to one processing run of one document.
type Run struct {
	j     *Journal
	runID string
	docFP string
}

// Begin starts a journal run for the document with the given
// fingerprint.
func (j *Journal) Begin(docFP string) *Run {
	return &Run{j: j, runID: uuid.NewString(), docFP: docFP}
}

// Completed reports whether a prior run completed the stage with the
// same input hash, and returns that run's artifact path. An artifact
// that no longer exists on disk does not count: the stage must rerun.
func (r *Run) Completed(stage, inputHash string) (string, bool) {
	var artifact sql.NullString
	err := r.j.db.QueryRow(`
		SELECT artifact FROM stage_runs
		WHERE doc_fp = ? AND stage = ? AND input_hash = ? AND status = 'completed'
		ORDER BY id DESC LIMIT 1`,
		r.docFP, stage, inputHash).Scan(&artifact)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		r.j.logger.Warn("journal: lookup failed", "stage", stage, "error", err)
		return "", false
	}
	if artifact.String == "" {
		return "", true
	}
	if _, err := os.Stat(artifact.String); err != nil {
		r.j.logger.Debug("journal: completed artifact gone, rerunning",
			"stage", stage, "artifact", artifact.String)
		return "", false
	}
	return artifact.String, true
}

// StageStarted records that the stage began.
func (r *Run) StageStarted(stage, inputHash string) {
	r.exec(`INSERT INTO stage_runs (run_id, doc_fp, stage, input_hash, status, started_at)
		VALUES (?, ?, ?, ?, 'started', ?)`,
		r.runID, r.docFP, stage, inputHash, time.Now().UnixMilli())
}

// StageCompleted records a successful stage run and its artifact.
func (r *Run) StageCompleted(stage, inputHash, artifact string) {
	r.exec(`UPDATE stage_runs SET status = 'completed', artifact = ?, finished_at = ?
		WHERE run_id = ? AND stage = ? AND input_hash = ?`,
		artifact, time.Now().UnixMilli(), r.runID, stage, inputHash)
}

// StageFailed records a failed stage run with the error detail.
func (r *Run) StageFailed(stage, inputHash, detail string) {
	r.exec(`UPDATE stage_runs SET status = 'failed', detail = ?, finished_at = ?
		WHERE run_id = ? AND stage = ? AND input_hash = ?`,
		detail, time.Now().UnixMilli(), r.runID, stage, inputHash)
}

func (r *Run) exec(query string, args ...any) {
	if _, err := r.j.db.Exec(query, args...); err != nil {
		r.j.logger.Warn("journal: write failed", "error", err)
	}
}

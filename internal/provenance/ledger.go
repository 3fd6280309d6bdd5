// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package provenance records every pipeline run in a SQLite ledger: which
// files it read and wrote, their sha256 digests and sizes, and which
// computations failed. The ledger lives apart from the output tables so
// that those stay byte-identical across reruns.
package provenance

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/resurgence/pkg/types"
)

// Run status values.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Artifact roles.
const (
	RoleInput  = "input"
	RoleOutput = "output"
)

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Artifact is one file a run read or wrote. A file that could not be
// hashed has an empty SHA256 and a Size of -1.
type Artifact struct {
	Role   string `json:"role" yaml:"role"`
	Path   string `json:"path" yaml:"path"`
	SHA256 string `json:"sha256" yaml:"sha256"`
	Size   int64  `json:"size" yaml:"size"`
}

// Run is one ledger entry.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	Pipeline   string     `json:"pipeline" yaml:"pipeline"`
	Status     string     `json:"status" yaml:"status"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	Failures   []string   `json:"failures,omitempty" yaml:"failures,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time  `json:"finished_at" yaml:"finished_at"`
	Artifacts  []Artifact `json:"artifacts" yaml:"artifacts"`
}

// Ledger is an open provenance database.
type Ledger struct {
	db   *sql.DB
	path string

	now   func() time.Time
	newID func() string
}

// Open opens or creates the ledger at path, creating parent directories and
// the schema as needed.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	l := &Ledger{
		db:    db,
		path:  path,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return l, nil
}

// Path returns the database file location.
func (l *Ledger) Path() string { return l.path }

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			failures TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			path TEXT NOT NULL,
			sha256 TEXT,
			size INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run_id ON artifacts(run_id)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record stores a finished run. runErr is the error that aborted the
// pipeline, if any; sum may then be partially filled. The status is failed
// when runErr is set, partial when sum lists failures, ok otherwise.
func (l *Ledger) Record(ctx context.Context, sum types.RunSummary, started time.Time, runErr error) (*Run, error) {
	run := &Run{
		ID:         l.newID(),
		Pipeline:   sum.Pipeline,
		Status:     StatusOK,
		StartedAt:  started.UTC(),
		FinishedAt: l.now(),
	}
	for _, f := range sum.Failures {
		run.Failures = append(run.Failures, f.String())
	}
	switch {
	case runErr != nil:
		run.Status = StatusFailed
		run.Error = runErr.Error()
	case len(run.Failures) > 0:
		run.Status = StatusPartial
	}
	for _, p := range sum.Inputs {
		run.Artifacts = append(run.Artifacts, describe(RoleInput, p))
	}
	for _, p := range sum.Outputs {
		run.Artifacts = append(run.Artifacts, describe(RoleOutput, p))
	}

	failuresJSON, _ := json.Marshal(run.Failures)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, status, error, failures, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Pipeline, run.Status, run.Error, string(failuresJSON),
		run.StartedAt.Format(timeLayout), run.FinishedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO artifacts (run_id, role, path, sha256, size) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range run.Artifacts {
		if _, err := stmt.ExecContext(ctx, run.ID, a.Role, a.Path, a.SHA256, a.Size); err != nil {
			return nil, fmt.Errorf("inserting artifact %s: %w", a.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing run: %w", err)
	}
	return run, nil
}

func describe(role, path string) Artifact {
	a := Artifact{Role: role, Path: path, Size: -1}
	sum, size, err := HashFile(path)
	if err == nil {
		a.SHA256, a.Size = sum, size
	}
	return a
}

// HashFile returns the hex sha256 digest and size of the file at path.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ListOptions filters List.
type ListOptions struct {
	// Pipeline restricts results to one pipeline name.
	Pipeline string

	// Limit caps the number of runs. Zero means no limit.
	Limit int
}

// List returns runs newest first, each with its artifacts.
func (l *Ledger) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if opts.Pipeline != "" {
		query += ` WHERE pipeline = ?`
		args = append(args, opts.Pipeline)
	}
	query += ` ORDER BY started_at DESC, finished_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	for i := range runs {
		if runs[i].Artifacts, err = l.artifacts(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (l *Ledger) artifacts(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT role, path, sha256, size FROM artifacts WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var (
			a   Artifact
			sum sql.NullString
		)
		if err := rows.Scan(&a.Role, &a.Path, &sum, &a.Size); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		a.SHA256 = sum.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get returns the run with the given id.
func (l *Ledger) Get(ctx context.Context, id string) (*Run, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if r.Artifacts, err = l.artifacts(ctx, r.ID); err != nil {
		return nil, err
	}
	return &r, nil
}

const runColumns = `id, pipeline, status, error, failures, started_at, finished_at`

// scanRun reads one row selected with runColumns. Artifacts are left empty.
func scanRun(sc interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		r                 Run
		errText, failures sql.NullString
		started, finished string
	)
	if err := sc.Scan(&r.ID, &r.Pipeline, &r.Status, &errText, &failures, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scanning run: %w", err)
	}
	r.Error = errText.String
	if failures.Valid && failures.String != "" {
		if err := json.Unmarshal([]byte(failures.String), &r.Failures); err != nil {
			return r, fmt.Errorf("decoding failures of run %s: %w", r.ID, err)
		}
	}
	var err error
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return r, fmt.Errorf("parsing started_at of run %s: %w", r.ID, err)
	}
	if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return r, fmt.Errorf("parsing finished_at of run %s: %w", r.ID, err)
	}
	return r, nil
}

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("not found")

// Mismatch is an artifact whose current state differs from the ledger.
type Mismatch struct {
	Artifact
	CurrentSHA256 string
	Missing       bool
}

// Verify rehashes every artifact of run and reports the ones that changed
// or disappeared since the run was recorded.
func Verify(run *Run) ([]Mismatch, error) {
	var out []Mismatch
	for _, a := range run.Artifacts {
		sum, _, err := HashFile(a.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			out = append(out, Mismatch{Artifact: a, Missing: true})
		case err != nil:
			return nil, err
		case sum != a.SHA256:
			out = append(out, Mismatch{Artifact: a, CurrentSHA256: sum})
		}
	}
	return out, nil
}

// CLAUDE:SUMMARY SQLite run ledger: one row per ETL run (status, counts, years) and one row per input file (encoding, rows, error).
package runlog

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// Run represents a row from the etl_runs table.
type Run struct {
	ID            string  `json:"id"`
	Command       string  `json:"command"`
	StartedAt     int64   `json:"started_at"`
	FinishedAt    *int64  `json:"finished_at,omitempty"`
	Status        string  `json:"status"`
	Years         []int   `json:"years"`
	FilesIngested int     `json:"files_ingested"`
	FilesSkipped  int     `json:"files_skipped"`
	Rows          int     `json:"rows"`
	Fallbacks     int     `json:"numeric_fallbacks"`
	Error         *string `json:"error,omitempty"`
}

// File represents a row from the etl_run_files table.
type File struct {
	RunID    string  `json:"run_id"`
	Path     string  `json:"path"`
	Encoding string  `json:"encoding"`
	Rows     int     `json:"rows"`
	Error    *string `json:"error,omitempty"`
}

// Summary carries the counters recorded when a run finishes.
type Summary struct {
	Years         []int
	FilesIngested int
	FilesSkipped  int
	Rows          int
	Fallbacks     int
}

// Ledger manages the run ledger tables.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and ensures the ledger
// tables exist.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}

	const ddl = `CREATE TABLE IF NOT EXISTS etl_runs (
		run_id          TEXT PRIMARY KEY,
		command         TEXT NOT NULL,
		started_at      INTEGER NOT NULL,
		finished_at     INTEGER,
		status          TEXT NOT NULL,
		years           TEXT NOT NULL DEFAULT '',
		files_ingested  INTEGER NOT NULL DEFAULT 0,
		files_skipped   INTEGER NOT NULL DEFAULT 0,
		rows_unified    INTEGER NOT NULL DEFAULT 0,
		fallbacks       INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT
	)`
	const fileDDL = `CREATE TABLE IF NOT EXISTS etl_run_files (
		run_id     TEXT NOT NULL REFERENCES etl_runs(run_id),
		path       TEXT NOT NULL,
		encoding   TEXT NOT NULL DEFAULT '',
		row_count  INTEGER NOT NULL DEFAULT 0,
		error      TEXT,
		PRIMARY KEY (run_id, path)
	)`
	for _, stmt := range []string{ddl, fileDDL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create ledger tables: %w", err)
		}
	}

	return &Ledger{db: db}, nil
}

// Close closes the SQLite connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Start records a new running run and returns its id.
func (l *Ledger) Start(command string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.Exec(
		`INSERT INTO etl_runs (run_id, command, started_at, status) VALUES (?, ?, ?, ?)`,
		id, command, time.Now().Unix(), StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// RecordFile stores the outcome of reading one input file. Recording the same
// path twice for a run replaces the earlier entry.
func (l *Ledger) RecordFile(runID, path, encoding string, rows int, readErr error) error {
	var errPtr *string
	if readErr != nil {
		msg := readErr.Error()
		errPtr = &msg
	}
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO etl_run_files (run_id, path, encoding, row_count, error) VALUES (?, ?, ?, ?, ?)`,
		runID, path, encoding, rows, errPtr,
	)
	if err != nil {
		return fmt.Errorf("record file %s: %w", path, err)
	}
	return nil
}

// Finish marks a run as done. A nil runErr means success.
func (l *Ledger) Finish(runID string, s Summary, runErr error) error {
	status := StatusOK
	var errPtr *string
	if runErr != nil {
		status = StatusFailed
		msg := runErr.Error()
		errPtr = &msg
	}
	res, err := l.db.Exec(
		`UPDATE etl_runs SET finished_at = ?, status = ?, years = ?, files_ingested = ?,
			files_skipped = ?, rows_unified = ?, fallbacks = ?, last_error = ?
		WHERE run_id = ?`,
		time.Now().Unix(), status, joinYears(s.Years), s.FilesIngested,
		s.FilesSkipped, s.Rows, s.Fallbacks, errPtr, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found in etl_runs", runID)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (l *Ledger) ListRuns(limit int) ([]Run, error) {
	q := `SELECT run_id, command, started_at, finished_at, status, years,
		files_ingested, files_skipped, rows_unified, fallbacks, last_error
		FROM etl_runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r     Run
			years string
		)
		if err := rows.Scan(&r.ID, &r.Command, &r.StartedAt, &r.FinishedAt, &r.Status, &years,
			&r.FilesIngested, &r.FilesSkipped, &r.Rows, &r.Fallbacks, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Years = splitYears(years)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Files returns the files recorded for a run ordered by path.
func (l *Ledger) Files(runID string) ([]File, error) {
	rows, err := l.db.Query(`SELECT run_id, path, encoding, row_count, error
		FROM etl_run_files WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("list files for %s: %w", runID, err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.RunID, &f.Path, &f.Encoding, &f.Rows, &f.Error); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func joinYears(years []int) string {
	parts := make([]string, len(years))
	for i, y := range years {
		parts[i] = strconv.Itoa(y)
	}
	return strings.Join(parts, ",")
}

func splitYears(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		if y, err := strconv.Atoi(p); err == nil {
			out = append(out, y)
		}
	}
	return out
}

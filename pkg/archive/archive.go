// Package archive keeps a queryable history of completed runs in SQLite.
// Archival is best effort: a failed insert is logged and never fails the
// run that produced it.
package archive

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite driver

	"conductor/pkg/logx"
	"conductor/pkg/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id        TEXT NOT NULL,
    session_key   TEXT NOT NULL,
    mode          TEXT NOT NULL,
    input_kind    TEXT NOT NULL DEFAULT '',
    instruction   TEXT NOT NULL DEFAULT '',
    output        TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    review_round  INTEGER NOT NULL DEFAULT 0,
    review_result TEXT NOT NULL DEFAULT '',
    latency_ms    INTEGER NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_key);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// Run is one archived execution.
type Run struct {
	JobID        string
	SessionKey   string
	Mode         session.Mode
	InputKind    string
	Instruction  string
	Output       string
	Status       string
	ReviewRound  int
	ReviewResult session.ReviewResult
	LatencyMS    int64
	Error        string
	CreatedAt    time.Time
}

// Summary aggregates archived runs for /stats.
type Summary struct {
	TotalRuns     int
	SucceededRuns int
	FailedRuns    int
	AvgLatencyMS  int64
	ByMode        map[session.Mode]int
}

// Store wraps the SQLite connection.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (or creates) the archive database at path.
func Open(path string) (*Store, error) {
	// WAL mode and a busy timeout keep the single writer responsive.
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{
		db:     db,
		logger: logx.NewLogger("archive"),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close archive database: %w", err)
	}
	return nil
}

// Record inserts a completed run.
func (s *Store) Record(run *Run) error {
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (job_id, session_key, mode, input_kind, instruction, output,
		                  status, review_round, review_result, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID, run.SessionKey, string(run.Mode), run.InputKind, run.Instruction,
		run.Output, run.Status, run.ReviewRound, string(run.ReviewResult),
		run.LatencyMS, run.Error, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to archive run %s: %w", run.JobID, err)
	}
	return nil
}

// RecordBestEffort archives a run and only logs on failure.
func (s *Store) RecordBestEffort(run *Run) {
	if err := s.Record(run); err != nil {
		s.logger.Warn("Run archive failed: %v", err)
	}
}

// Recent returns the newest runs for a session, most recent first.
func (s *Store) Recent(sessionKey string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT job_id, session_key, mode, input_kind, instruction, output,
		       status, review_round, review_result, latency_ms, error, created_at
		FROM runs WHERE session_key = ?
		ORDER BY id DESC LIMIT ?`, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var mode, reviewResult, createdAt string
		if err := rows.Scan(&run.JobID, &run.SessionKey, &mode, &run.InputKind,
			&run.Instruction, &run.Output, &run.Status, &run.ReviewRound,
			&reviewResult, &run.LatencyMS, &run.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.Mode = session.Mode(mode)
		run.ReviewResult = session.ReviewResult(reviewResult)
		if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			run.CreatedAt = t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run rows: %w", err)
	}
	return runs, nil
}

// Summarize aggregates all archived runs for a session. An empty
// sessionKey aggregates across sessions.
func (s *Store) Summarize(sessionKey string) (*Summary, error) {
	where := ""
	args := []any{}
	if sessionKey != "" {
		where = "WHERE session_key = ?"
		args = append(args, sessionKey)
	}

	row := s.db.QueryRow(fmt.Sprintf(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM runs %s`, where), args...)

	summary := &Summary{ByMode: make(map[session.Mode]int)}
	var avgLatency float64
	if err := row.Scan(&summary.TotalRuns, &summary.SucceededRuns, &summary.FailedRuns, &avgLatency); err != nil {
		return nil, fmt.Errorf("failed to summarize runs: %w", err)
	}
	summary.AvgLatencyMS = int64(avgLatency)

	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT mode, COUNT(*) FROM runs %s GROUP BY mode", where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize runs by mode: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mode string
		var count int
		if err := rows.Scan(&mode, &count); err != nil {
			return nil, fmt.Errorf("failed to scan mode row: %w", err)
		}
		summary.ByMode[session.Mode(mode)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mode rows: %w", err)
	}
	return summary, nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS generation_records (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    stage TEXT NOT NULL,
    unit TEXT NOT NULL,
    round INTEGER NOT NULL DEFAULT 0,
    attempt INTEGER NOT NULL DEFAULT 0,
    prompt TEXT NOT NULL,
    response TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    cached INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_generation_records_run ON generation_records(run_id, seq);
`

// ledgerMigrations bring ledgers created by older builds up to the current
// schema. A duplicate column means the step already applied.
var ledgerMigrations = []string{
	`ALTER TABLE generation_records ADD COLUMN cached INTEGER NOT NULL DEFAULT 0`,
}

// Ledger is a durable, append-only copy of every generation record, kept
// across runs in one sqlite file. It implements core.RecordSink.
type Ledger struct {
	db *sql.DB
}

// RunSummary describes one run found in the ledger.
type RunSummary struct {
	RunID    string
	Calls    int
	Failures int
	First    time.Time
	Last     time.Time
}

func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; chapter workers append concurrently
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	for _, stmt := range ledgerMigrations {
		if _, err := db.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			_ = db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Write(ctx context.Context, rec core.GenerationRecord) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM generation_records WHERE run_id = ?`, rec.RunID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO generation_records(id, run_id, seq, stage, unit, round, attempt, prompt, response, error, cached, started_at, finished_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID,
		rec.RunID,
		seq,
		rec.Stage,
		rec.Unit,
		rec.Round,
		rec.Attempt,
		rec.Prompt,
		rec.Response,
		rec.Error,
		rec.Cached,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Records returns a run's records in the order they were written.
func (l *Ledger) Records(ctx context.Context, runID string) ([]core.GenerationRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, stage, unit, round, attempt, prompt, response, error, cached, started_at, finished_at
		 FROM generation_records WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []core.GenerationRecord
	for rows.Next() {
		var rec core.GenerationRecord
		var started, finished string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Stage, &rec.Unit, &rec.Round, &rec.Attempt,
			&rec.Prompt, &rec.Response, &rec.Error, &rec.Cached, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Runs lists every run in the ledger, most recent first.
func (l *Ledger) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, COUNT(*), SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), MIN(started_at), MAX(finished_at)
		 FROM generation_records GROUP BY run_id ORDER BY MAX(finished_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var first, last string
		if err := rows.Scan(&s.RunID, &s.Calls, &s.Failures, &first, &last); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		s.First, _ = time.Parse(time.RFC3339Nano, first)
		s.Last, _ = time.Parse(time.RFC3339Nano, last)
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ core.RecordSink = (*Ledger)(nil)

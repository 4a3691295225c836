package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GenerationRecord is one model call. Records are immutable once appended.
type GenerationRecord struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Unit       string    `json:"unit"`
	Round      int       `json:"round,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	Error      string    `json:"error,omitempty"`
	// Cached is set when the response was replayed instead of generated.
	Cached     bool      `json:"cached,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration of the call the record describes.
func (r GenerationRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordSink receives every record as it is appended, e.g. a durable ledger.
type RecordSink interface {
	Write(ctx context.Context, record GenerationRecord) error
}

// RecordLog is an append-only, concurrency-safe list of generation records.
type RecordLog struct {
	mu      sync.Mutex
	runID   string
	records []GenerationRecord
	sink    RecordSink
	logger  *slog.Logger
}

func NewRecordLog(runID string, sink RecordSink) *RecordLog {
	return &RecordLog{
		runID:  runID,
		sink:   sink,
		logger: slog.Default().With("component", "records", "run_id", runID),
	}
}

// Restore seeds the log with records from an earlier run. It is only valid
// before the first Append.
func (l *RecordLog) Restore(records []GenerationRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(make([]GenerationRecord, 0, len(records)), records...)
}

// Append stores a copy of rec, assigning its ID and run. Sink failures are
// logged; the in-memory log stays authoritative.
func (l *RecordLog) Append(ctx context.Context, rec GenerationRecord) GenerationRecord {
	rec.ID = uuid.NewString()
	rec.RunID = l.runID

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, rec)
	if l.sink != nil {
		if err := l.sink.Write(context.WithoutCancel(ctx), rec); err != nil {
			l.logger.Error("record sink write failed",
				"record_id", rec.ID,
				"stage", rec.Stage,
				"error", err)
		}
	}
	return rec
}

func (l *RecordLog) All() []GenerationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]GenerationRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Stage returns the records for one stage, in append order.
func (l *RecordLog) Stage(stage string) []GenerationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []GenerationRecord
	for _, rec := range l.records {
		if rec.Stage == stage {
			out = append(out, rec)
		}
	}
	return out
}

func (l *RecordLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *RecordLog) RunID() string {
	return l.runID
}

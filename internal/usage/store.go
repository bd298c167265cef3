// Package usage implements the Usage Ledger: one durable record per
// Agent Loop invocation, carrying the token counts and cost the LLM
// Adapter reported for that turn. The ledger never updates or deletes a
// row — it only appends and aggregates — so cost history survives across
// sessions even though each session's task/history data lives in the
// same SQLite file.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one Agent Loop invocation's token usage and cost, written
// once the loop finishes its turn — never per streaming iteration, since
// a turn's iterations accumulate into a single running total before the
// loop reports it.
type Record struct {
	ID               string
	Timestamp        time.Time
	RequestID        string
	SessionID        string
	ConversationID   string
	Model            string
	Provider         string // "anthropic"
	InputTokens      int
	CacheWriteTokens int
	CacheReadTokens  int
	OutputTokens     int
	CostUSD          float64
	Role             string // "interactive" for this service; reserved for future roles
	TaskName         string
}

// Summary holds aggregated token usage and cost totals over some window
// of usage_records rows.
type Summary struct {
	TotalRecords      int
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalCostUSD      float64
}

// Store is the Usage Ledger's SQLite-backed storage. Like the Task and
// History stores, it opens its own *sql.DB against the shared database
// file rather than a connection pool handed in from outside; SQLite's WAL
// mode serializes writers at the file level regardless of which Go
// process-local handle issued them.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates, if needed) the usage ledger at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	return s, nil
}

// Close releases the ledger's database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the ledger table on first use. There is no migration
// history to version here — the schema has grown by additive columns
// with DEFAULT clauses, so re-running this against an existing database
// is always a no-op.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id                 TEXT PRIMARY KEY,
		timestamp          TEXT NOT NULL,
		request_id         TEXT NOT NULL,
		session_id         TEXT,
		conversation_id    TEXT,
		model              TEXT NOT NULL,
		provider           TEXT NOT NULL,
		input_tokens       INTEGER NOT NULL,
		cache_write_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens      INTEGER NOT NULL,
		cost_usd           REAL NOT NULL,
		role               TEXT NOT NULL,
		task_name          TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(session_id);
	CREATE INDEX IF NOT EXISTS idx_usage_conversation ON usage_records(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one invocation's usage to the ledger. An empty rec.ID
// gets a fresh UUIDv7 so records sort chronologically by ID as well as
// by timestamp; ctx only governs cancellation of the insert itself.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, timestamp, request_id, session_id, conversation_id, model, provider,
			 input_tokens, cache_write_tokens, cache_read_tokens, output_tokens, cost_usd, role, task_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.RequestID,
		rec.SessionID,
		rec.ConversationID,
		rec.Model,
		rec.Provider,
		rec.InputTokens,
		rec.CacheWriteTokens,
		rec.CacheReadTokens,
		rec.OutputTokens,
		rec.CostUSD,
		rec.Role,
		rec.TaskName,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary totals every record timestamped within [start, end), across
// all models, sessions, and conversations.
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel breaks the [start, end) window down per model, useful
// for spotting a model swap's effect on cost.
func (s *Store) SummaryByModel(start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy("model", start, end)
}

// SummaryByRole breaks the [start, end) window down per role. Every
// record this service writes carries role "interactive" today, so this
// mostly exists to keep the aggregation path symmetric for whenever a
// non-interactive role is introduced.
func (s *Store) SummaryByRole(start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy("role", start, end)
}

// SummaryByTask breaks the [start, end) window down per task_name.
// Records with an empty task_name are grouped under the key "".
func (s *Store) SummaryByTask(start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy("task_name", start, end)
}

func (s *Store) summaryGroupedBy(column string, start, end time.Time) (map[string]*Summary, error) {
	// column only ever comes from the three methods above, never from a
	// caller-supplied string, so interpolating it into the query is safe.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s
		 ORDER BY SUM(cost_usd) DESC`,
		column, column,
	)

	rows, err := s.db.Query(query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}

// Cost computation lives in internal/llm (Usage.Cost): the four-component
// pricing table needs cache-write and cache-read rates that a 2-column
// helper here could not express, so that responsibility moved to the
// package that already knows the provider's usage shape.

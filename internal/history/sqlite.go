package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the History Store Gateway. It shares its database file with
// the Task Store Gateway, keeping the assistant's state in a single
// file per the original implementation's single-SQLite-file layout.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if absent) the conversation log at dbPath.
// Callers typically pass the same dbPath used for task.NewStore.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversation_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_results TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_messages_created_at
		ON conversation_messages(created_at);
	`)
	return err
}

// Append writes the next message onto the end of the log. toolCalls is
// non-nil only for assistant turns that invoked tools; toolResults is
// non-nil only for the synthetic user turns that carry tool outputs
// back to the model. Append never rewrites or reorders prior rows: the
// log is append-only by construction.
func (s *Store) Append(role Role, content string, toolCalls []ToolCallRecord, toolResults []ToolResultRecord) (Message, error) {
	now := time.Now().UTC()

	var toolCallsJSON, toolResultsJSON sql.NullString
	if len(toolCalls) > 0 {
		b, err := json.Marshal(toolCalls)
		if err != nil {
			return Message{}, fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCallsJSON = sql.NullString{String: string(b), Valid: true}
	}
	if len(toolResults) > 0 {
		b, err := json.Marshal(toolResults)
		if err != nil {
			return Message{}, fmt.Errorf("marshal tool results: %w", err)
		}
		toolResultsJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.Exec(
		`INSERT INTO conversation_messages (role, content, tool_calls, tool_results, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(role), content, toolCallsJSON, toolResultsJSON, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	return Message{
		ID:          id,
		Role:        role,
		Content:     content,
		ToolCalls:   toolCalls,
		ToolResults: toolResults,
		CreatedAt:   now,
	}, nil
}

// Tail returns the most recent n messages in chronological order. The
// agent loop uses this to load a bounded context window (k most recent
// turns) rather than the entire log.
func (s *Store) Tail(n int) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, role, content, tool_calls, tool_results, created_at
		 FROM conversation_messages
		 ORDER BY id DESC
		 LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("tail: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("tail scan: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tail: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Search finds messages matching any of terms by content substring, or
// whose attached tool calls/results mention one of toolNames. Matches
// are returned most-recent-first, capped at limit. A matched tool call
// carries its original arguments and recorded result, so a caller can
// recover a pre-delete snapshot to answer "restore deleted X".
func (s *Store) Search(terms []string, toolNames []string, limit int) ([]SearchMatch, error) {
	rows, err := s.db.Query(
		`SELECT id, role, content, tool_calls, tool_results, created_at
		 FROM conversation_messages
		 ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var matches []SearchMatch
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("search scan: %w", err)
		}
		if messageMatches(msg, terms, toolNames) {
			matches = append(matches, SearchMatch{Message: msg})
			if limit > 0 && len(matches) >= limit {
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return matches, nil
}

func messageMatches(msg Message, terms []string, toolNames []string) bool {
	lowerContent := strings.ToLower(msg.Content)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(lowerContent, strings.ToLower(term)) {
			return true
		}
	}
	for _, name := range toolNames {
		for _, tc := range msg.ToolCalls {
			if tc.Name == name {
				return true
			}
		}
		for _, tr := range msg.ToolResults {
			if tr.Name == name {
				return true
			}
		}
	}
	return false
}

// Clear wipes the entire log. The agent loop uses this as a
// corruption-recovery escape hatch when stored tool-call/result JSON
// fails to decode: rather than fail every future turn on the same
// malformed row, it clears and starts fresh.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM conversation_messages`)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		id                        int64
		role, content, createdAt string
		toolCallsJSON             sql.NullString
		toolResultsJSON           sql.NullString
	)
	if err := row.Scan(&id, &role, &content, &toolCallsJSON, &toolResultsJSON, &createdAt); err != nil {
		return Message{}, err
	}

	msg := Message{ID: id, Role: Role(role), Content: content}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Message{}, fmt.Errorf("parse created_at: %w", err)
	}
	msg.CreatedAt = created

	if toolCallsJSON.Valid {
		if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
			return Message{}, fmt.Errorf("decode tool_calls: %w", err)
		}
	}
	if toolResultsJSON.Valid {
		if err := json.Unmarshal([]byte(toolResultsJSON.String), &msg.ToolResults); err != nil {
			return Message{}, fmt.Errorf("decode tool_results: %w", err)
		}
	}
	return msg, nil
}

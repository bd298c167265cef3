package task

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed Task Store Gateway. All public methods are
// safe for concurrent use; SQLite serializes writes and WAL mode lets
// reads proceed concurrently with a writer.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) a task store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open task database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate task schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id             TEXT PRIMARY KEY,
		title          TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		notes          TEXT NOT NULL DEFAULT '',
		priority       TEXT NOT NULL,
		status         TEXT NOT NULL,
		scheduled_date TEXT NOT NULL,
		deadline       TEXT,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		completed_at   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);
	CREATE INDEX IF NOT EXISTS idx_tasks_scheduled ON tasks(scheduled_date);
	CREATE INDEX IF NOT EXISTS idx_tasks_deadline ON tasks(deadline);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new task. ScheduledDate defaults to today at noon
// local when left zero.
func (s *Store) Create(ctx context.Context, f Fields) (Task, error) {
	if f.Priority == "" {
		f.Priority = PriorityMedium
	}
	if !ValidPriority(f.Priority) {
		return Task{}, fmt.Errorf("invalid priority %q", f.Priority)
	}
	if f.Status == "" {
		f.Status = StatusTodo
	}
	if !ValidStatus(f.Status) {
		return Task{}, fmt.Errorf("invalid status %q", f.Status)
	}

	now := time.Now()
	if f.ScheduledDate.IsZero() {
		f.ScheduledDate = time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location())
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Task{}, fmt.Errorf("generate task id: %w", err)
	}

	t := Task{
		ID:            id.String(),
		Title:         f.Title,
		Description:   f.Description,
		Notes:         f.Notes,
		Priority:      f.Priority,
		Status:        f.Status,
		ScheduledDate: f.ScheduledDate,
		Deadline:      f.Deadline,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.Status == StatusCompleted {
		t.CompletedAt = &now
	}

	if err := s.insert(ctx, t); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Store) insert(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, notes, priority, status, scheduled_date, deadline, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.Notes, string(t.Priority), string(t.Status),
		formatTime(t.ScheduledDate), formatTimePtr(t.Deadline),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), formatTimePtr(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// CreateMany inserts each of fields independently. A failure on one item
// does not block or roll back the others.
func (s *Store) CreateMany(ctx context.Context, fields []Fields) []BulkResult {
	results := make([]BulkResult, len(fields))
	for i, f := range fields {
		t, err := s.Create(ctx, f)
		results[i] = BulkResult{Index: i, Task: t, Err: err}
	}
	return results
}

// Get retrieves a task by id.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// Update applies patch to the task with the given id and returns the
// post-mutation entity. A transition to StatusCompleted sets
// CompletedAt to now; a transition away from StatusCompleted clears it.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (Task, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}

	updated := applyPatch(existing, patch)
	if !ValidPriority(updated.Priority) {
		return Task{}, fmt.Errorf("invalid priority %q", updated.Priority)
	}
	if !ValidStatus(updated.Status) {
		return Task{}, fmt.Errorf("invalid status %q", updated.Status)
	}
	now := time.Now()
	if updated.Status == StatusCompleted && existing.Status != StatusCompleted {
		updated.CompletedAt = &now
	} else if updated.Status != StatusCompleted {
		updated.CompletedAt = nil
	}
	updated.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET title=?, description=?, notes=?, priority=?, status=?, scheduled_date=?, deadline=?, updated_at=?, completed_at=?
		 WHERE id=?`,
		updated.Title, updated.Description, updated.Notes, string(updated.Priority), string(updated.Status),
		formatTime(updated.ScheduledDate), formatTimePtr(updated.Deadline), formatTime(updated.UpdatedAt), formatTimePtr(updated.CompletedAt),
		id,
	)
	if err != nil {
		return Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	return updated, nil
}

func applyPatch(t Task, p Patch) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.ScheduledDate != nil {
		t.ScheduledDate = *p.ScheduledDate
	}
	if p.ClearDeadline {
		t.Deadline = nil
	} else if p.Deadline != nil {
		t.Deadline = p.Deadline
	}
	return t
}

// IDPatch pairs a task id with the patch to apply, for UpdateMany.
type IDPatch struct {
	ID    string
	Patch Patch
}

// UpdateMany applies each patch independently. A failure on one item
// does not block or roll back the others.
func (s *Store) UpdateMany(ctx context.Context, patches []IDPatch) []BulkResult {
	results := make([]BulkResult, len(patches))
	for i, ip := range patches {
		t, err := s.Update(ctx, ip.ID, ip.Patch)
		results[i] = BulkResult{Index: i, Task: t, Err: err}
	}
	return results
}

// Delete removes the task with the given id and returns the pre-delete
// snapshot so the caller (the History Gateway, via a tool handler) can
// retain enough state to later restore it.
func (s *Store) Delete(ctx context.Context, id string) (Task, error) {
	snapshot, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return Task{}, fmt.Errorf("delete task %s: %w", id, err)
	}
	return snapshot, nil
}

// DeleteMany removes each task independently, returning the pre-delete
// snapshot for each. A failure on one item does not block the others.
func (s *Store) DeleteMany(ctx context.Context, ids []string) []BulkResult {
	results := make([]BulkResult, len(ids))
	for i, id := range ids {
		t, err := s.Delete(ctx, id)
		results[i] = BulkResult{Index: i, Task: t, Err: err}
	}
	return results
}

// List returns tasks matching filters, most recently updated first.
func (s *Store) List(ctx context.Context, f Filters) ([]Task, error) {
	var conds []string
	var args []any

	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, string(f.Priority))
	}
	if !f.ScheduledFrom.IsZero() {
		conds = append(conds, "scheduled_date >= ?")
		args = append(args, formatTime(f.ScheduledFrom))
	}
	if !f.ScheduledTo.IsZero() {
		conds = append(conds, "scheduled_date < ?")
		args = append(args, formatTime(f.ScheduledTo))
	}
	if f.TextContains != "" {
		conds = append(conds, "(LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(notes) LIKE ?)")
		needle := "%" + strings.ToLower(f.TextContains) + "%"
		args = append(args, needle, needle, needle)
	}

	query := selectColumns + " FROM tasks"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Search performs a case-insensitive OR-across-terms substring search
// over title, description, and notes, ranked by match count then
// recency.
func (s *Store) Search(ctx context.Context, terms []string) ([]SearchResult, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	all, err := s.List(ctx, Filters{})
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, t := range all {
		haystack := strings.ToLower(t.Title + " " + t.Description + " " + t.Notes)
		matched := 0
		for _, term := range terms {
			if term == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(term)) {
				matched++
			}
		}
		if matched > 0 {
			results = append(results, SearchResult{Task: t, MatchedBy: matched})
		}
	}

	sortSearchResults(results)
	return results, nil
}

func sortSearchResults(results []SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0; j-- {
			a, b := results[j-1], results[j]
			if a.MatchedBy < b.MatchedBy ||
				(a.MatchedBy == b.MatchedBy && a.Task.UpdatedAt.Before(b.Task.UpdatedAt)) {
				results[j-1], results[j] = results[j], results[j-1]
				continue
			}
			break
		}
	}
}

// Stats returns aggregate counts across all tasks.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	all, err := s.List(ctx, Filters{})
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		ByStatus:   make(map[Status]int),
		ByPriority: make(map[Priority]int),
	}
	now := time.Now()
	weekOut := now.Add(7 * 24 * time.Hour)

	for _, t := range all {
		st.Total++
		st.ByStatus[t.Status]++
		st.ByPriority[t.Priority]++
		if t.Missed(now) {
			st.MissedCount++
		}
		if t.Deadline != nil && t.Status != StatusCompleted && t.Deadline.After(now) && t.Deadline.Before(weekOut) {
			st.UpcomingWeek++
		}
	}
	return st, nil
}

const selectColumns = `SELECT id, title, description, notes, priority, status, scheduled_date, deadline, created_at, updated_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (Task, error) {
	var t Task
	var priority, status string
	var scheduledDate string
	var deadline, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Notes, &priority, &status,
		&scheduledDate, &deadline, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Task{}, fmt.Errorf("task not found")
		}
		return Task{}, fmt.Errorf("scan task: %w", err)
	}

	t.Priority = Priority(priority)
	t.Status = Status(status)
	t.ScheduledDate = parseTime(scheduledDate)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if deadline.Valid && deadline.String != "" {
		d := parseTime(deadline.String)
		t.Deadline = &d
	}
	if completedAt.Valid && completedAt.String != "" {
		c := parseTime(completedAt.String)
		t.CompletedAt = &c
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

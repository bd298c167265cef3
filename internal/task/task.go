// Package task implements the Task Store Gateway: a SQLite-backed
// repository of durable task records, with filtering, substring search,
// bulk mutation, and aggregate stats.
package task

import "time"

// Priority is one of the four levels a task may carry.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p is one of the recognized priority
// levels.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Status is one of the four states a task moves through.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ValidStatus reports whether s is one of the recognized statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a durable task record. ScheduledDate is always set on a
// persisted task; Deadline is optional. CompletedAt is set iff Status is
// StatusCompleted.
type Task struct {
	ID            string
	Title         string
	Description   string
	Notes         string
	Priority      Priority
	Status        Status
	ScheduledDate time.Time
	Deadline      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Missed reports whether t's deadline has passed without completion.
// This is derived, never stored.
func (t Task) Missed(now time.Time) bool {
	return t.Deadline != nil && t.Deadline.Before(now) && t.Status != StatusCompleted
}

// Fields is the input to Create: everything the caller may specify for
// a new task. ScheduledDate, if zero, defaults to today at noon local.
type Fields struct {
	Title         string
	Description   string
	Notes         string
	Priority      Priority
	Status        Status
	ScheduledDate time.Time
	Deadline      *time.Time
}

// Patch is a partial update: nil fields are left untouched. A true
// ClearDeadline removes an existing deadline even though Deadline itself
// is nil, since a nil Deadline field alone is ambiguous between "don't
// touch" and "clear".
type Patch struct {
	Title         *string
	Description   *string
	Notes         *string
	Priority      *Priority
	Status        *Status
	ScheduledDate *time.Time
	Deadline      *time.Time
	ClearDeadline bool
}

// Filters narrows List results. Zero values mean "no filter" for that
// dimension.
type Filters struct {
	Status           Status
	Priority         Priority
	ScheduledFrom    time.Time
	ScheduledTo      time.Time
	TextContains     string
	Limit            int
}

// Stats holds aggregate counts for a Stats() call.
type Stats struct {
	Total          int
	ByStatus       map[Status]int
	ByPriority     map[Priority]int
	MissedCount    int
	UpcomingWeek   int // deadline within the next 7 days, not completed
}

// SearchResult pairs a matched task with MatchedBy, the number of query
// terms it matched (higher is better). Search orders results by that
// count, then by recency.
type SearchResult struct {
	Task      Task
	MatchedBy int
}

// BulkResult reports the per-item outcome of a bulk operation. Bulk
// operations are best-effort: one item's failure never rolls back or
// blocks the others.
type BulkResult struct {
	Index int
	Task  Task
	Err   error
}

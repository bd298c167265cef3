package tools

import (
	"fmt"
	"time"

	"github.com/taskvoice/taskvoice/internal/task"
)

// fieldsFromArgs builds a task.Fields from a create-style argument
// map. Title is the only required field; every other field defaults
// exactly as task.Store.Create defaults it when left unset.
func fieldsFromArgs(args map[string]any, now time.Time) (task.Fields, error) {
	title, err := requireString(args, "title")
	if err != nil {
		return task.Fields{}, err
	}

	f := task.Fields{
		Title:       title,
		Description: firstString(args, "description"),
		Notes:       firstString(args, "notes"),
	}
	if priority, ok := argString(args, "priority"); ok {
		f.Priority = task.Priority(priority)
	}
	if status, ok := argString(args, "status"); ok {
		f.Status = task.Status(status)
	}
	if scheduled, ok := argString(args, "scheduled_date"); ok {
		t, err := task.ParseDeadline(scheduled, now)
		if err != nil {
			return task.Fields{}, fmt.Errorf("invalid scheduled_date: %w", err)
		}
		f.ScheduledDate = t
	}
	if deadline, ok := argString(args, "deadline"); ok {
		t, err := task.ParseDeadline(deadline, now)
		if err != nil {
			return task.Fields{}, fmt.Errorf("invalid deadline: %w", err)
		}
		f.Deadline = &t
	}
	return f, nil
}

func firstString(args map[string]any, key string) string {
	s, _ := argString(args, key)
	return s
}

// patchFromArgs builds a task.Patch from an update-style argument map.
// Only fields present in args are set on the patch; an explicit
// clear_deadline=true sets Patch.ClearDeadline rather than a bare
// "deadline" omission, so "don't touch" and "clear" stay distinguishable.
func patchFromArgs(args map[string]any, now time.Time) (task.Patch, error) {
	var p task.Patch

	if title, ok := argString(args, "title"); ok {
		p.Title = &title
	}
	if desc, ok := argString(args, "description"); ok {
		p.Description = &desc
	}
	if notes, ok := argString(args, "notes"); ok {
		p.Notes = &notes
	}
	if priority, ok := argString(args, "priority"); ok {
		pr := task.Priority(priority)
		p.Priority = &pr
	}
	if status, ok := argString(args, "status"); ok {
		st := task.Status(status)
		p.Status = &st
	}
	if scheduled, ok := argString(args, "scheduled_date"); ok {
		t, err := task.ParseDeadline(scheduled, now)
		if err != nil {
			return task.Patch{}, fmt.Errorf("invalid scheduled_date: %w", err)
		}
		p.ScheduledDate = &t
	}
	if clear, ok := args["clear_deadline"].(bool); ok && clear {
		p.ClearDeadline = true
	} else if deadline, ok := argString(args, "deadline"); ok {
		t, err := task.ParseDeadline(deadline, now)
		if err != nil {
			return task.Patch{}, fmt.Errorf("invalid deadline: %w", err)
		}
		p.Deadline = &t
	}
	return p, nil
}

// taskSummary reduces a task.Task to the payload shape handlers embed
// in their envelopes.
func taskSummary(t task.Task) map[string]any {
	m := map[string]any{
		"id":             t.ID,
		"title":          t.Title,
		"description":    t.Description,
		"notes":          t.Notes,
		"priority":       string(t.Priority),
		"status":         string(t.Status),
		"scheduled_date": t.ScheduledDate.Format(time.RFC3339),
	}
	if t.Deadline != nil {
		m["deadline"] = t.Deadline.Format(time.RFC3339)
	}
	if t.CompletedAt != nil {
		m["completed_at"] = t.CompletedAt.Format(time.RFC3339)
	}
	return m
}

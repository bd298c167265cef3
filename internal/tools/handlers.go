package tools

import (
	"context"
	"time"

	"github.com/taskvoice/taskvoice/internal/task"
)

func (r *Registry) registerBuiltins() {
	r.Register(Tool{
		Name:        "create_task",
		Description: "Create a single task. Title is required; everything else is optional and defaults sensibly.",
		Parameters: objectSchema(map[string]any{
			"title":          stringProp("The task title"),
			"description":    stringProp("Optional longer description"),
			"notes":          stringProp("Optional free-form notes"),
			"priority":       stringProp("One of low, medium, high, urgent"),
			"status":         stringProp("One of todo, in_progress, completed, cancelled"),
			"scheduled_date": stringProp("ISO date/time or bare date this task is scheduled for"),
			"deadline":       stringProp("ISO date/time or bare date this task is due"),
		}, "title"),
		Handler: handleCreateTask,
	})

	r.Register(Tool{
		Name:        "create_multiple_tasks",
		Description: "Create several tasks in one call. Each entry uses the same fields as create_task.",
		Parameters: objectSchema(map[string]any{
			"tasks": map[string]any{
				"type":        "array",
				"description": "List of task field objects, each shaped like create_task's arguments",
				"items":       map[string]any{"type": "object"},
			},
		}, "tasks"),
		Handler: handleCreateMultipleTasks,
	})

	r.Register(Tool{
		Name:        "update_task",
		Description: "Patch one task, identified by id or by a search query; with a query, the best-ranked match is the task patched.",
		Parameters: objectSchema(map[string]any{
			"id":             stringProp("The task id to update"),
			"query":          stringProp("A search query identifying the task, used when id is not known"),
			"title":          stringProp("New title"),
			"description":    stringProp("New description"),
			"notes":          stringProp("New notes"),
			"priority":       stringProp("New priority: low, medium, high, urgent"),
			"status":         stringProp("New status: todo, in_progress, completed, cancelled"),
			"scheduled_date": stringProp("New scheduled date/time"),
			"deadline":       stringProp("New deadline date/time"),
			"clear_deadline": map[string]any{"type": "boolean", "description": "Remove the existing deadline"},
		}),
		Handler: handleUpdateTask,
	})

	r.Register(Tool{
		Name:        "update_multiple_tasks",
		Description: "Patch several tasks at once, identified by ids or a search query. Supports shifting each matched task's deadline by a number of days instead of replacing it.",
		Parameters: objectSchema(map[string]any{
			"ids":                 map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Task ids to update"},
			"query":               stringProp("A search query identifying the tasks to update, used when ids is not given"),
			"priority":            stringProp("New priority applied to every matched task"),
			"status":              stringProp("New status applied to every matched task"),
			"deadline_shift_days": map[string]any{"type": "integer", "description": "Shift each matched task's existing deadline by this many days (can be negative)"},
		}),
		Handler: handleUpdateMultipleTasks,
	})

	r.Register(Tool{
		Name:        "delete_task",
		Description: "Delete one task, identified by id or by a search query; with a query, the best-ranked match is the task deleted.",
		Parameters: objectSchema(map[string]any{
			"id":    stringProp("The task id to delete"),
			"query": stringProp("A search query identifying the task, used when id is not known"),
		}),
		Handler: handleDeleteTask,
	})

	r.Register(Tool{
		Name:        "delete_multiple_tasks",
		Description: "Delete several tasks at once, identified by ids or a search query.",
		Parameters: objectSchema(map[string]any{
			"ids":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"query": stringProp("A search query identifying the tasks to delete, used when ids is not given"),
		}),
		Handler: handleDeleteMultipleTasks,
	})

	r.Register(Tool{
		Name:        "list_tasks",
		Description: "List tasks, optionally filtered by status, priority, or a scheduled-date range.",
		Parameters: objectSchema(map[string]any{
			"status":         stringProp("Filter to one status"),
			"priority":       stringProp("Filter to one priority"),
			"scheduled_from": stringProp("Only tasks scheduled on or after this date"),
			"scheduled_to":   stringProp("Only tasks scheduled on or before this date"),
			"limit":          map[string]any{"type": "integer", "description": "Maximum number of tasks to return"},
		}),
		Handler: handleListTasks,
	})

	r.Register(Tool{
		Name:        "search_tasks",
		Description: "Search tasks by a free-text query against title, description, and notes. Switches the client view to the matching results.",
		Parameters: objectSchema(map[string]any{
			"query": stringProp("One or more words to search for"),
		}, "query"),
		Handler: handleSearchTasks,
	})

	r.Register(Tool{
		Name:        "get_task_stats",
		Description: "Return aggregate counts of tasks by status and priority, plus how many are missed or upcoming this week.",
		Parameters:  objectSchema(map[string]any{}),
		Handler:     handleGetTaskStats,
	})

	r.Register(Tool{
		Name:        "change_ui_view",
		Description: "Change the client's view without touching any task data: switch calendar granularity, jump to a date, sort, or filter.",
		Parameters: objectSchema(map[string]any{
			"view_mode":       stringProp("One of daily, weekly, monthly, list"),
			"target_date":     stringProp("ISO date to navigate to"),
			"sort_by":         stringProp("Field to sort by"),
			"sort_order":      stringProp("asc or desc"),
			"filter_status":   stringProp("Status to filter the view to"),
			"filter_priority": stringProp("Priority to filter the view to"),
		}, "view_mode"),
		Handler: handleChangeUIView,
	})

	r.Register(Tool{
		Name:        "show_choices",
		Description: "Present the user with a small set of labeled choices to pick from by voice.",
		Parameters: objectSchema(map[string]any{
			"title": stringProp("Prompt shown above the choices"),
			"choices": map[string]any{
				"type":        "array",
				"description": "Each choice: {id, label, description, value}",
				"items":       map[string]any{"type": "object"},
			},
		}, "title", "choices"),
		Handler: handleShowChoices,
	})

	r.Register(Tool{
		Name:        "load_full_history",
		Description: "Search the full conversation history for prior turns mentioning given terms or tool names. Use this to recover context across turns, e.g. to restore a task that was just deleted.",
		Parameters: objectSchema(map[string]any{
			"search_terms": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"tools":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"limit":        map[string]any{"type": "integer"},
		}),
		Handler: handleLoadFullHistory,
	})
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func handleCreateTask(ctx context.Context, deps Deps, args map[string]any) Envelope {
	now := time.Now()
	fields, err := fieldsFromArgs(args, now)
	if err != nil {
		return fail("%v", err)
	}
	t, err := deps.Tasks.Create(ctx, fields)
	if err != nil {
		return fail("could not create task: %v", err)
	}
	return ok("Created "+t.Title, map[string]any{"task": taskSummary(t)})
}

func handleCreateMultipleTasks(ctx context.Context, deps Deps, args map[string]any) Envelope {
	now := time.Now()
	entries := argMapSlice(args, "tasks")
	if len(entries) == 0 {
		return fail("tasks is required and must be non-empty")
	}

	fieldsList := make([]task.Fields, 0, len(entries))
	for _, entry := range entries {
		f, err := fieldsFromArgs(entry, now)
		if err != nil {
			return fail("%v", err)
		}
		fieldsList = append(fieldsList, f)
	}

	results := deps.Tasks.CreateMany(ctx, fieldsList)
	return bulkEnvelope(results, func(t task.Task) map[string]any { return taskSummary(t) })
}

func handleUpdateTask(ctx context.Context, deps Deps, args map[string]any) Envelope {
	id, err := resolveSingleTaskID(ctx, deps, args)
	if err != nil {
		return fail("%v", err)
	}
	now := time.Now()
	patch, err := patchFromArgs(args, now)
	if err != nil {
		return fail("%v", err)
	}

	before, err := deps.Tasks.Get(ctx, id)
	if err != nil {
		return fail("task not found: %v", err)
	}
	t, err := deps.Tasks.Update(ctx, id, patch)
	if err != nil {
		return fail("could not update task: %v", err)
	}

	env := ok("Updated "+t.Title, map[string]any{"task": taskSummary(t)})
	if patch.Deadline != nil && before.Deadline != nil {
		shiftDays := calendarDayDelta(*before.Deadline, *patch.Deadline)
		if cmd := deadlineShiftUICommand(shiftDays, *patch.Deadline); cmd != nil {
			env.UICommand = cmd
		}
	}
	return env
}

func handleUpdateMultipleTasks(ctx context.Context, deps Deps, args map[string]any) Envelope {
	ids, err := resolveMultipleTaskIDs(ctx, deps, args)
	if err != nil {
		return fail("%v", err)
	}

	var patchTemplate task.Patch
	if priority, ok := argString(args, "priority"); ok {
		pr := task.Priority(priority)
		patchTemplate.Priority = &pr
	}
	if status, ok := argString(args, "status"); ok {
		st := task.Status(status)
		patchTemplate.Status = &st
	}

	shiftDays, hasShift := argInt(args, "deadline_shift_days")

	patches := make([]task.IDPatch, 0, len(ids))
	var firstShiftedDeadline *time.Time
	for _, id := range ids {
		p := patchTemplate
		if hasShift {
			existing, err := deps.Tasks.Get(ctx, id)
			if err != nil || existing.Deadline == nil {
				continue
			}
			shifted := existing.Deadline.AddDate(0, 0, shiftDays)
			p.Deadline = &shifted
			if firstShiftedDeadline == nil {
				firstShiftedDeadline = &shifted
			}
		}
		patches = append(patches, task.IDPatch{ID: id, Patch: p})
	}

	results := deps.Tasks.UpdateMany(ctx, patches)
	env := bulkEnvelope(results, func(t task.Task) map[string]any { return taskSummary(t) })
	if hasShift && firstShiftedDeadline != nil {
		if cmd := deadlineShiftUICommand(shiftDays, *firstShiftedDeadline); cmd != nil {
			env.UICommand = cmd
		}
	}
	return env
}

// calendarDayDelta returns the signed whole-day difference between two
// timestamps' calendar dates, ignoring time-of-day.
func calendarDayDelta(from, to time.Time) int {
	fromDate := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	toDate := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())
	return int(toDate.Sub(fromDate).Hours() / 24)
}

// deadlineShiftUICommand builds the navigation UI command for a
// significant deadline shift, or nil if the shift is too small to
// warrant one.
func deadlineShiftUICommand(shiftDays int, newDeadline time.Time) *UICommand {
	abs := shiftDays
	if abs < 0 {
		abs = -abs
	}
	gran, significant := task.SignificantShift(abs)
	if !significant {
		return nil
	}
	viewMode := map[task.ShiftGranularity]string{
		task.GranularityDaily:   "daily",
		task.GranularityWeekly:  "weekly",
		task.GranularityMonthly: "monthly",
	}[gran]
	cmd := ChangeView(viewMode)
	cmd.TargetDate = newDeadline.Format("2006-01-02")
	return cmd
}

func handleDeleteTask(ctx context.Context, deps Deps, args map[string]any) Envelope {
	id, err := resolveSingleTaskID(ctx, deps, args)
	if err != nil {
		return fail("%v", err)
	}
	snapshot, err := deps.Tasks.Delete(ctx, id)
	if err != nil {
		return fail("could not delete task: %v", err)
	}
	return ok("Deleted "+snapshot.Title, map[string]any{"task": taskSummary(snapshot)})
}

func handleDeleteMultipleTasks(ctx context.Context, deps Deps, args map[string]any) Envelope {
	ids, err := resolveMultipleTaskIDs(ctx, deps, args)
	if err != nil {
		return fail("%v", err)
	}
	results := deps.Tasks.DeleteMany(ctx, ids)
	return bulkEnvelope(results, func(t task.Task) map[string]any { return taskSummary(t) })
}

func handleListTasks(ctx context.Context, deps Deps, args map[string]any) Envelope {
	now := time.Now()
	var f task.Filters
	if status, ok := argString(args, "status"); ok {
		f.Status = task.Status(status)
	}
	if priority, ok := argString(args, "priority"); ok {
		f.Priority = task.Priority(priority)
	}
	if from, ok := argString(args, "scheduled_from"); ok {
		t, err := task.ParseDeadline(from, now)
		if err != nil {
			return fail("invalid scheduled_from: %v", err)
		}
		if day, derr := time.ParseInLocation("2006-01-02", from, now.Location()); derr == nil {
			t = day
		}
		f.ScheduledFrom = t
	}
	if to, ok := argString(args, "scheduled_to"); ok {
		t, err := task.ParseDeadline(to, now)
		if err != nil {
			return fail("invalid scheduled_to: %v", err)
		}
		if day, derr := time.ParseInLocation("2006-01-02", to, now.Location()); derr == nil {
			t = day.AddDate(0, 0, 1)
		}
		f.ScheduledTo = t
	}
	if limit, ok := argInt(args, "limit"); ok {
		f.Limit = limit
	}

	tasks, err := deps.Tasks.List(ctx, f)
	if err != nil {
		return fail("could not list tasks: %v", err)
	}
	summaries := make([]map[string]any, len(tasks))
	for i, t := range tasks {
		summaries[i] = taskSummary(t)
	}
	return ok("", map[string]any{"tasks": summaries, "count": len(summaries)})
}

func handleSearchTasks(ctx context.Context, deps Deps, args map[string]any) Envelope {
	query, err := requireString(args, "query")
	if err != nil {
		return fail("%v", err)
	}
	results, err := deps.Tasks.Search(ctx, splitTerms(query))
	if err != nil {
		return fail("search failed: %v", err)
	}

	ids := make([]string, len(results))
	summaries := make([]map[string]any, len(results))
	for i, r := range results {
		ids[i] = r.Task.ID
		summaries[i] = taskSummary(r.Task)
	}

	cmd := ChangeView("list")
	cmd.SearchResults = ids
	cmd.SearchQuery = query

	return okWithUI("", map[string]any{"tasks": summaries, "count": len(summaries)}, cmd)
}

func handleGetTaskStats(ctx context.Context, deps Deps, args map[string]any) Envelope {
	stats, err := deps.Tasks.Stats(ctx)
	if err != nil {
		return fail("could not compute stats: %v", err)
	}
	byStatus := make(map[string]int, len(stats.ByStatus))
	for k, v := range stats.ByStatus {
		byStatus[string(k)] = v
	}
	byPriority := make(map[string]int, len(stats.ByPriority))
	for k, v := range stats.ByPriority {
		byPriority[string(k)] = v
	}
	return ok("", map[string]any{
		"total":         stats.Total,
		"by_status":     byStatus,
		"by_priority":   byPriority,
		"missed_count":  stats.MissedCount,
		"upcoming_week": stats.UpcomingWeek,
	})
}

func handleChangeUIView(ctx context.Context, deps Deps, args map[string]any) Envelope {
	viewMode, err := requireString(args, "view_mode")
	if err != nil {
		return fail("%v", err)
	}
	cmd := ChangeView(viewMode)
	cmd.TargetDate, _ = argString(args, "target_date")
	cmd.SortBy, _ = argString(args, "sort_by")
	cmd.SortOrder, _ = argString(args, "sort_order")
	cmd.FilterStatus, _ = argString(args, "filter_status")
	cmd.FilterPriority, _ = argString(args, "filter_priority")

	message := "Showing " + viewMode
	return okWithUI(message, nil, cmd)
}

func handleShowChoices(ctx context.Context, deps Deps, args map[string]any) Envelope {
	title, err := requireString(args, "title")
	if err != nil {
		return fail("%v", err)
	}
	rawChoices := argMapSlice(args, "choices")
	if len(rawChoices) == 0 {
		return fail("choices is required and must be non-empty")
	}
	choices := make([]Choice, 0, len(rawChoices))
	for _, c := range rawChoices {
		id, _ := argString(c, "id")
		label, _ := argString(c, "label")
		if id == "" || label == "" {
			return fail("each choice requires id and label")
		}
		desc, _ := argString(c, "description")
		value, _ := argString(c, "value")
		choices = append(choices, Choice{ID: id, Label: label, Description: desc, Value: value})
	}
	return okWithUI("", nil, ShowChoices(title, choices))
}

func handleLoadFullHistory(ctx context.Context, deps Deps, args map[string]any) Envelope {
	terms := argStringSlice(args, "search_terms")
	toolNames := argStringSlice(args, "tools")
	limit, hasLimit := argInt(args, "limit")
	if !hasLimit || limit <= 0 {
		limit = 10
	}

	matches, err := deps.History.Search(terms, toolNames, limit)
	if err != nil {
		return fail("history search failed: %v", err)
	}

	out := make([]map[string]any, len(matches))
	for i, m := range matches {
		entry := map[string]any{
			"role":    string(m.Message.Role),
			"content": m.Message.Content,
		}
		if m.Message.HasToolCalls() {
			entry["tool_calls"] = m.Message.ToolCalls
		}
		if m.Message.HasToolResults() {
			entry["tool_results"] = m.Message.ToolResults
		}
		out[i] = entry
	}
	return ok("", map[string]any{"matches": out, "count": len(out)})
}

// resolveSingleTaskID returns the task id named by args["id"], or, if id
// is absent, the best-ranked match of args["query"]; other matches are
// ignored.
func resolveSingleTaskID(ctx context.Context, deps Deps, args map[string]any) (string, error) {
	if id, ok := argString(args, "id"); ok {
		return id, nil
	}
	query, ok := argString(args, "query")
	if !ok {
		return "", errRequireIDOrQuery
	}
	results, err := deps.Tasks.Search(ctx, splitTerms(query))
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", errNoMatch
	}
	return results[0].Task.ID, nil
}

// resolveMultipleTaskIDs returns args["ids"], or every match of
// args["query"] if ids is absent.
func resolveMultipleTaskIDs(ctx context.Context, deps Deps, args map[string]any) ([]string, error) {
	if ids := argStringSlice(args, "ids"); len(ids) > 0 {
		return ids, nil
	}
	query, ok := argString(args, "query")
	if !ok {
		return nil, errRequireIDOrQuery
	}
	results, err := deps.Tasks.Search(ctx, splitTerms(query))
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Task.ID
	}
	return ids, nil
}

func bulkEnvelope(results []task.BulkResult, toPayload func(task.Task) map[string]any) Envelope {
	items := make([]map[string]any, len(results))
	succeeded, failed := 0, 0
	for i, r := range results {
		if r.Err != nil {
			items[i] = map[string]any{"index": r.Index, "success": false, "error": r.Err.Error()}
			failed++
			continue
		}
		items[i] = map[string]any{"index": r.Index, "success": true, "task": toPayload(r.Task)}
		succeeded++
	}
	return ok("", map[string]any{"results": items, "succeeded": succeeded, "failed": failed})
}

func splitTerms(query string) []string {
	var terms []string
	start := -1
	for i, r := range query {
		if r == ' ' || r == '\t' || r == '\n' {
			if start >= 0 {
				terms = append(terms, query[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		terms = append(terms, query[start:])
	}
	if len(terms) == 0 {
		return []string{query}
	}
	return terms
}

var (
	errRequireIDOrQuery = toolErr("either id (or ids) or query is required")
	errNoMatch          = toolErr("no task matched the query")
)

type toolErr string

func (e toolErr) Error() string { return string(e) }


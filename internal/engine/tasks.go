package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"opsline/internal/domain"
	"opsline/internal/events"
	"opsline/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	Category    string
	AssignedTo  string
	Deadline    time.Time
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, domain.Invalid("title", "title is required")
	}
	if !domain.ValidCategory(opts.Category) {
		return domain.Task{}, domain.Invalid("category", "category must be one of %s", strings.Join(domain.TaskCategories, ", "))
	}
	if opts.Deadline.IsZero() {
		return domain.Task{}, domain.Invalid("deadline", "deadline is required")
	}
	now := e.now()
	t := domain.Task{
		ID:          newID(),
		Title:       title,
		Description: strings.TrimSpace(opts.Description),
		Category:    opts.Category,
		AssignedTo:  opts.AssignedTo,
		Deadline:    opts.Deadline,
		Status:      domain.TaskTodo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetUserTx(ctx, tx, opts.AssignedTo); err != nil {
		return domain.Task{}, notFound(err, "user", opts.AssignedTo)
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.record(ctx, tx, domain.EventTaskCreated, "task", t.ID, opts.ActorID, events.EventPayload{
		"title":       t.Title,
		"assigned_to": t.AssignedTo,
		"deadline":    repo.FormatTime(t.Deadline),
	}); err != nil {
		return domain.Task{}, err
	}
	evt := domain.Event{
		Kind:        domain.EventTaskCreated,
		EntityType:  "task",
		EntityID:    t.ID,
		TargetUsers: without([]string{t.AssignedTo}, opts.ActorID),
		Title:       "New task",
		Message:     fmt.Sprintf("You have been assigned %q, due %s", t.Title, t.Deadline.Format("2006-01-02")),
		ActorID:     opts.ActorID,
		Status:      t.Status,
	}
	if err := e.commit(tx, evt); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTaskStatus moves a task to any status. No ordering is enforced.
func (e Engine) UpdateTaskStatus(ctx context.Context, taskID, status, actorID string) (domain.Task, error) {
	if !domain.ValidTaskStatus(status) {
		return domain.Task{}, domain.Invalid("status", "status must be one of %s", strings.Join(domain.TaskStatuses, ", "))
	}
	return e.mutateTask(ctx, taskID, func(t *domain.Task) (*domain.Event, error) {
		if t.Status == status {
			return nil, nil
		}
		prev := t.Status
		t.Status = status
		return &domain.Event{
			Kind:        domain.EventTaskStatusChanged,
			TargetUsers: without([]string{t.AssignedTo}, actorID),
			Title:       "Task update",
			Message:     fmt.Sprintf("%q moved from %s to %s", t.Title, label(prev), label(status)),
			Status:      status,
		}, nil
	}, actorID)
}

// BlockTask flags a task as blocked without touching its status and alerts
// the assignee and every manager.
func (e Engine) BlockTask(ctx context.Context, taskID, reason, actorID string) (domain.Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Task{}, domain.Invalid("reason", "a block reason is required")
	}
	return e.mutateTask(ctx, taskID, func(t *domain.Task) (*domain.Event, error) {
		t.IsBlocked = true
		t.BlockReason = reason
		return &domain.Event{
			Kind:    domain.EventTaskBlocked,
			Title:   "Task blocked",
			Message: fmt.Sprintf("%q is blocked: %s", t.Title, reason),
			Status:  t.Status,
		}, nil
	}, actorID)
}

// UnblockTask clears the blocked flag. Unblocking an unblocked task is a no-op.
func (e Engine) UnblockTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.mutateTask(ctx, taskID, func(t *domain.Task) (*domain.Event, error) {
		if !t.IsBlocked {
			return nil, nil
		}
		t.IsBlocked = false
		t.BlockReason = ""
		return &domain.Event{
			Kind:        domain.EventTaskUnblocked,
			TargetUsers: without([]string{t.AssignedTo}, actorID),
			Title:       "Task unblocked",
			Message:     fmt.Sprintf("%q is no longer blocked", t.Title),
			Status:      t.Status,
		}, nil
	}, actorID)
}

// mutateTask loads a task under its lock, applies fn and persists the result.
// fn returns nil to signal that nothing changed.
func (e Engine) mutateTask(ctx context.Context, taskID string, fn func(*domain.Task) (*domain.Event, error), actorID string) (domain.Task, error) {
	unlock := e.lock("task", taskID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, notFound(err, "task", taskID)
	}
	evt, err := fn(&t)
	if err != nil {
		return domain.Task{}, err
	}
	if evt == nil {
		return t, nil
	}
	t.UpdatedAt = e.now()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if evt.Kind == domain.EventTaskBlocked {
		managers, err := e.managers(ctx, tx)
		if err != nil {
			return domain.Task{}, err
		}
		evt.TargetUsers = unionIDs([]string{t.AssignedTo}, managers)
	}
	payload := events.EventPayload{"status": t.Status, "is_blocked": t.IsBlocked}
	if t.BlockReason != "" {
		payload["block_reason"] = t.BlockReason
	}
	if err := e.record(ctx, tx, evt.Kind, "task", t.ID, actorID, payload); err != nil {
		return domain.Task{}, err
	}
	evt.EntityType = "task"
	evt.EntityID = t.ID
	evt.ActorID = actorID
	if err := e.commit(tx, *evt); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// AddComment appends a comment to a task. Comments never change task state.
func (e Engine) AddComment(ctx context.Context, taskID, userID, content string) (domain.TaskComment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.TaskComment{}, domain.Invalid("content", "comment content is required")
	}
	unlock := e.lock("task", taskID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskComment{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.TaskComment{}, notFound(err, "task", taskID)
	}
	author, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.TaskComment{}, notFound(err, "user", userID)
	}
	c := domain.TaskComment{
		ID:        newID(),
		TaskID:    t.ID,
		UserID:    author.ID,
		Content:   content,
		CreatedAt: e.now(),
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.TaskComment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := e.record(ctx, tx, domain.EventTaskCommented, "task", t.ID, userID, events.EventPayload{"comment_id": c.ID}); err != nil {
		return domain.TaskComment{}, err
	}
	evt := domain.Event{
		Kind:        domain.EventTaskCommented,
		EntityType:  "task",
		EntityID:    t.ID,
		TargetUsers: without([]string{t.AssignedTo}, userID),
		Title:       "New comment",
		Message:     fmt.Sprintf("%s commented on %q", author.FullName, t.Title),
		ActorID:     userID,
		Status:      t.Status,
	}
	if err := e.commit(tx, evt); err != nil {
		return domain.TaskComment{}, err
	}
	return c, nil
}

func (e Engine) ListComments(ctx context.Context, taskID string) ([]domain.TaskComment, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, notFound(err, "task", taskID)
	}
	return e.Repo.ListComments(ctx, taskID)
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	return t, notFound(err, "task", id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

func label(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}

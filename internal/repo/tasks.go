package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"opsline/internal/domain"
)

const taskColumns = `id,title,COALESCE(description,''),category,assigned_to,deadline,status,is_blocked,COALESCE(block_reason,''),created_at,updated_at`

type TaskFilters struct {
	AssignedTo string
	Status     string
	Category   string
	Blocked    *bool
	Limit      int
}

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var deadline, created, updated string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Category, &t.AssignedTo, &deadline, &t.Status, &t.IsBlocked, &t.BlockReason, &created, &updated)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if t.Deadline, err = parseTime(deadline); err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	t.UpdatedAt, err = parseTime(updated)
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,description,category,assigned_to,deadline,status,is_blocked,block_reason,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Category, t.AssignedTo, FormatTime(t.Deadline), t.Status,
		boolInt(t.IsBlocked), nullable(t.BlockReason), FormatTime(t.CreatedAt), FormatTime(t.UpdatedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, category=?, assigned_to=?, deadline=?, status=?, is_blocked=?, block_reason=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Category, t.AssignedTo, FormatTime(t.Deadline), t.Status,
		boolInt(t.IsBlocked), nullable(t.BlockReason), FormatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// ListTasks returns tasks ordered by ascending deadline.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.Blocked != nil {
		clauses = append(clauses, "is_blocked=?")
		args = append(args, boolInt(*f.Blocked))
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY deadline, id`, taskColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskCounts returns the number of tasks assigned to userID and how many of
// those are past deadline at now without being done.
func (r Repo) TaskCounts(ctx context.Context, userID string, now time.Time) (total, overdue int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN deadline<? AND status<>? THEN 1 ELSE 0 END),0) FROM tasks WHERE assigned_to=?`,
		FormatTime(now), domain.TaskDone, userID).Scan(&total, &overdue)
	return total, overdue, err
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.TaskComment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_comments(id,task_id,user_id,content,created_at,seq)
VALUES (?,?,?,?,?,(SELECT COALESCE(MAX(seq),0)+1 FROM task_comments WHERE task_id=?))`,
		c.ID, c.TaskID, c.UserID, c.Content, FormatTime(c.CreatedAt), c.TaskID)
	return err
}

// ListComments returns a task's comments in the order they were added.
func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.TaskComment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id,content,created_at FROM task_comments WHERE task_id=? ORDER BY seq`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskComment
	for rows.Next() {
		var c domain.TaskComment
		var created string
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Content, &created); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

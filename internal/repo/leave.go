package repo

import (
	"context"
	"database/sql"

	"opsline/internal/domain"
)

const leaveColumns = `id,user_id,start_date,end_date,COALESCE(reason,''),status,COALESCE(decided_by,''),decided_at,created_at`

func scanLeave(row interface{ Scan(...any) error }) (domain.LeaveRequest, error) {
	var l domain.LeaveRequest
	var start, end, created string
	var decidedAt sql.NullString
	err := row.Scan(&l.ID, &l.UserID, &start, &end, &l.Reason, &l.Status, &l.DecidedBy, &decidedAt, &created)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if l.StartDate, err = parseTime(start); err != nil {
		return l, err
	}
	if l.EndDate, err = parseTime(end); err != nil {
		return l, err
	}
	if l.CreatedAt, err = parseTime(created); err != nil {
		return l, err
	}
	l.DecidedAt, err = parseNullTime(decidedAt)
	return l, err
}

func (r Repo) InsertLeaveRequest(ctx context.Context, tx *sql.Tx, l domain.LeaveRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leave_requests(id,user_id,start_date,end_date,reason,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.UserID, FormatTime(l.StartDate), FormatTime(l.EndDate), nullable(l.Reason), l.Status, FormatTime(l.CreatedAt))
	return err
}

// DecideLeaveRequest records a terminal status, guarded on the row still being pending.
func (r Repo) DecideLeaveRequest(ctx context.Context, tx *sql.Tx, l domain.LeaveRequest) error {
	res, err := tx.ExecContext(ctx, `UPDATE leave_requests SET status=?, decided_by=?, decided_at=? WHERE id=? AND status=?`,
		l.Status, nullable(l.DecidedBy), nullableTime(l.DecidedAt), l.ID, domain.LeavePending)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) GetLeaveRequest(ctx context.Context, id string) (domain.LeaveRequest, error) {
	return scanLeave(r.DB.QueryRowContext(ctx, `SELECT `+leaveColumns+` FROM leave_requests WHERE id=?`, id))
}

func (r Repo) GetLeaveRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.LeaveRequest, error) {
	return scanLeave(tx.QueryRowContext(ctx, `SELECT `+leaveColumns+` FROM leave_requests WHERE id=?`, id))
}

// ListLeaveRequests returns requests newest first. An empty userID lists everyone's.
func (r Repo) ListLeaveRequests(ctx context.Context, userID, status string) ([]domain.LeaveRequest, error) {
	query := `SELECT ` + leaveColumns + ` FROM leave_requests WHERE 1=1`
	var args []any
	if userID != "" {
		query += ` AND user_id=?`
		args = append(args, userID)
	}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeaveRequest
	for rows.Next() {
		l, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

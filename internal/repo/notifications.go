package repo

import (
	"context"
	"database/sql"

	"opsline/internal/domain"
)

const notificationColumns = `id,user_id,title,message,priority,read,COALESCE(event_kind,''),COALESCE(entity_type,''),COALESCE(entity_id,''),created_at`

// InsertNotifications stores a batch in one transaction.
func (r Repo) InsertNotifications(ctx context.Context, items []domain.Notification) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, n := range items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,user_id,title,message,priority,read,event_kind,entity_type,entity_id,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			n.ID, n.UserID, n.Title, n.Message, n.Priority, boolInt(n.Read), nullable(n.EventKind), nullable(n.EntityType), nullable(n.EntityID), FormatTime(n.CreatedAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListNotifications returns userID's notifications newest first.
func (r Repo) ListNotifications(ctx context.Context, userID string, limit int, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id=?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	return scanNotification(r.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id))
}

// MarkNotificationRead flips read for a notification owned by userID.
func (r Repo) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=? AND read=0`, userID).Scan(&n)
	return n, err
}

func scanNotification(row interface{ Scan(...any) error }) (domain.Notification, error) {
	var n domain.Notification
	var created string
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Priority, &n.Read, &n.EventKind, &n.EntityType, &n.EntityID, &created)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.CreatedAt, err = parseTime(created)
	return n, err
}

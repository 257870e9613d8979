package repo

import (
	"context"
	"database/sql"

	"opsline/internal/domain"
)

const userColumns = `id,full_name,email,role,created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	var created string
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.Role, &created)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.CreatedAt, err = parseTime(created)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,full_name,email,role,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.FullName, u.Email, u.Role, FormatTime(u.CreatedAt))
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return getUser(ctx, r.DB, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return getUser(ctx, tx, id)
}

func getUser(ctx context.Context, q querier, id string) (domain.User, error) {
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmailTx(ctx context.Context, tx *sql.Tx, email string) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
}

func (r Repo) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY full_name, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UserIDsByRole returns ids of every user holding role, ordered by id.
func (r Repo) UserIDsByRole(ctx context.Context, role string) ([]string, error) {
	return userIDsByRole(ctx, r.DB, role)
}

func (r Repo) UserIDsByRoleTx(ctx context.Context, tx *sql.Tx, role string) ([]string, error) {
	return userIDsByRole(ctx, tx, role)
}

func userIDsByRole(ctx context.Context, q querier, role string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM users WHERE role=? ORDER BY id`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MissingUsers returns the ids from ids that have no user row.
func (r Repo) MissingUsers(ctx context.Context, tx *sql.Tx, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		var n int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=?`, id).Scan(&n)
		if err == sql.ErrNoRows {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

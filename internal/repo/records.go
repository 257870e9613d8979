package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"opsline/internal/domain"
)

func (r Repo) InsertEquipment(ctx context.Context, tx *sql.Tx, eq domain.Equipment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO equipment(id,name,assigned_to,assigned_date) VALUES (?,?,?,?)`,
		eq.ID, eq.Name, nullable(eq.AssignedTo), FormatTime(eq.AssignedDate))
	return err
}

func (r Repo) GetEquipment(ctx context.Context, id string) (domain.Equipment, error) {
	var eq domain.Equipment
	var assigned string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(assigned_to,''),assigned_date FROM equipment WHERE id=?`, id).
		Scan(&eq.ID, &eq.Name, &eq.AssignedTo, &assigned)
	if err == sql.ErrNoRows {
		return eq, ErrNotFound
	}
	if err != nil {
		return eq, err
	}
	eq.AssignedDate, err = parseTime(assigned)
	return eq, err
}

func (r Repo) ListEquipment(ctx context.Context) ([]domain.Equipment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(assigned_to,''),assigned_date FROM equipment ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Equipment
	for rows.Next() {
		var eq domain.Equipment
		var assigned string
		if err := rows.Scan(&eq.ID, &eq.Name, &eq.AssignedTo, &assigned); err != nil {
			return nil, err
		}
		if eq.AssignedDate, err = parseTime(assigned); err != nil {
			return nil, err
		}
		res = append(res, eq)
	}
	return res, rows.Err()
}

const messageColumns = `id,channel,user_id,content,is_decision,COALESCE(decision_meeting_id,''),created_at`

func scanMessage(row interface{ Scan(...any) error }) (domain.Message, error) {
	var m domain.Message
	var created string
	err := row.Scan(&m.ID, &m.Channel, &m.UserID, &m.Content, &m.IsDecision, &m.DecisionMeetingID, &created)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.CreatedAt, err = parseTime(created)
	return m, err
}

func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO messages(id,channel,user_id,content,is_decision,decision_meeting_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.Channel, m.UserID, m.Content, boolInt(m.IsDecision), nullable(m.DecisionMeetingID), FormatTime(m.CreatedAt))
	return err
}

func (r Repo) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	return scanMessage(r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=?`, id))
}

// ListMessages returns a channel's messages oldest first.
func (r Repo) ListMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+messageColumns+` FROM (
SELECT * FROM messages WHERE channel=? ORDER BY created_at DESC, rowid DESC LIMIT ?
) ORDER BY created_at, rowid`, channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// AppendMeetingDecision adds text to the end of a meeting's decision list.
func (r Repo) AppendMeetingDecision(ctx context.Context, tx *sql.Tx, meetingID, text, updatedAt string) error {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT decisions_json FROM meetings WHERE id=?`, meetingID).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var decisions []string
	if err := json.Unmarshal([]byte(raw), &decisions); err != nil {
		return fmt.Errorf("decode decisions for meeting %s: %w", meetingID, err)
	}
	decisions = append(decisions, text)
	encoded, err := marshalStrings(decisions)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE meetings SET decisions_json=?, updated_at=? WHERE id=?`, encoded, updatedAt, meetingID)
	return err
}

func (r Repo) InsertComplianceReport(ctx context.Context, tx *sql.Tx, c domain.ComplianceReport) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO compliance_reports(id,content,created_at) VALUES (?,?,?)`,
		c.ID, c.Content, FormatTime(c.CreatedAt))
	return err
}

func (r Repo) GetComplianceReport(ctx context.Context, id string) (domain.ComplianceReport, error) {
	var c domain.ComplianceReport
	var created string
	err := r.DB.QueryRowContext(ctx, `SELECT id,content,created_at FROM compliance_reports WHERE id=?`, id).Scan(&c.ID, &c.Content, &created)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.CreatedAt, err = parseTime(created)
	return c, err
}

// ListComplianceReports returns reports newest first.
func (r Repo) ListComplianceReports(ctx context.Context) ([]domain.ComplianceReport, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,content,created_at FROM compliance_reports ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ComplianceReport
	for rows.Next() {
		var c domain.ComplianceReport
		var created string
		if err := rows.Scan(&c.ID, &c.Content, &created); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

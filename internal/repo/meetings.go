package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"opsline/internal/domain"
)

const (
	meetingColumns       = `id,title,agenda,date,status,decisions_json,COALESCE(minutes,''),created_at,updated_at`
	meetingColumnsJoined = `m.id,m.title,m.agenda,m.date,m.status,m.decisions_json,COALESCE(m.minutes,''),m.created_at,m.updated_at`
)

func (r Repo) InsertMeeting(ctx context.Context, tx *sql.Tx, m domain.Meeting) error {
	decisions, err := marshalStrings(m.Decisions)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO meetings(id,title,agenda,date,status,decisions_json,minutes,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Title, m.Agenda, FormatTime(m.Date), m.Status, decisions, nullable(m.Minutes), FormatTime(m.CreatedAt), FormatTime(m.UpdatedAt)); err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	for i, p := range m.Participants {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meeting_participants(meeting_id,user_id,position,confirmed) VALUES (?,?,?,0)`, m.ID, p, i); err != nil {
			return fmt.Errorf("insert participant %s: %w", p, err)
		}
	}
	return nil
}

// UpdateMeeting writes the mutable meeting columns. Participants are not touched.
func (r Repo) UpdateMeeting(ctx context.Context, tx *sql.Tx, m domain.Meeting) error {
	decisions, err := marshalStrings(m.Decisions)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE meetings SET status=?, decisions_json=?, minutes=?, updated_at=? WHERE id=?`,
		m.Status, decisions, nullable(m.Minutes), FormatTime(m.UpdatedAt), m.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// ConfirmParticipant marks userID confirmed. It reports whether the row changed.
func (r Repo) ConfirmParticipant(ctx context.Context, tx *sql.Tx, meetingID, userID string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE meeting_participants SET confirmed=1, confirmed_at=? WHERE meeting_id=? AND user_id=? AND confirmed=0`,
		FormatTime(at), meetingID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) GetMeeting(ctx context.Context, id string) (domain.Meeting, error) {
	return getMeeting(ctx, r.DB, id)
}

func (r Repo) GetMeetingTx(ctx context.Context, tx *sql.Tx, id string) (domain.Meeting, error) {
	return getMeeting(ctx, tx, id)
}

func getMeeting(ctx context.Context, q querier, id string) (domain.Meeting, error) {
	m, err := scanMeeting(q.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id=?`, id))
	if err != nil {
		return m, err
	}
	if err := loadParticipants(ctx, q, &m); err != nil {
		return m, err
	}
	return m, nil
}

// ListMeetings returns meetings ordered by date. An empty status lists all.
func (r Repo) ListMeetings(ctx context.Context, status string) ([]domain.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY date, id`
	return r.queryMeetings(ctx, query, args...)
}

// MeetingsForUserBetween returns meetings userID participates in with date in [from, to), by date.
func (r Repo) MeetingsForUserBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.Meeting, error) {
	return r.queryMeetings(ctx, `SELECT `+meetingColumnsJoined+` FROM meetings m
JOIN meeting_participants mp ON mp.meeting_id=m.id
WHERE mp.user_id=? AND m.date>=? AND m.date<?
ORDER BY m.date, m.id`, userID, FormatTime(from), FormatTime(to))
}

// ScheduledMeetingsBefore returns ids of scheduled meetings starting before until.
func (r Repo) ScheduledMeetingsBefore(ctx context.Context, until time.Time) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM meetings WHERE status=? AND date<? ORDER BY date, id`, domain.MeetingScheduled, FormatTime(until))
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

// NextOpenMeetingTx returns the id of the earliest scheduled or at_risk meeting dated at or after now.
func (r Repo) NextOpenMeetingTx(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM meetings WHERE status IN (?,?) AND date>=? ORDER BY date, id LIMIT 1`,
		domain.MeetingScheduled, domain.MeetingAtRisk, FormatTime(now)).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

func (r Repo) queryMeetings(ctx context.Context, query string, args ...any) ([]domain.Meeting, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if err := loadParticipants(ctx, r.DB, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func scanMeeting(row interface{ Scan(...any) error }) (domain.Meeting, error) {
	var m domain.Meeting
	var date, decisions, created, updated string
	err := row.Scan(&m.ID, &m.Title, &m.Agenda, &date, &m.Status, &decisions, &m.Minutes, &created, &updated)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if m.Date, err = parseTime(date); err != nil {
		return m, err
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return m, err
	}
	if m.UpdatedAt, err = parseTime(updated); err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(decisions), &m.Decisions); err != nil {
		return m, fmt.Errorf("decode decisions for meeting %s: %w", m.ID, err)
	}
	if m.Decisions == nil {
		m.Decisions = []string{}
	}
	return m, nil
}

func loadParticipants(ctx context.Context, q querier, m *domain.Meeting) error {
	rows, err := q.QueryContext(ctx, `SELECT user_id,confirmed FROM meeting_participants WHERE meeting_id=? ORDER BY position`, m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	m.Participants = []string{}
	m.ConfirmedParticipants = []string{}
	for rows.Next() {
		var userID string
		var confirmed bool
		if err := rows.Scan(&userID, &confirmed); err != nil {
			return err
		}
		m.Participants = append(m.Participants, userID)
		if confirmed {
			m.ConfirmedParticipants = append(m.ConfirmedParticipants, userID)
		}
	}
	return rows.Err()
}

func marshalStrings(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

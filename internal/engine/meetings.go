package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsline/internal/domain"
	"opsline/internal/engine/auth"
	"opsline/internal/events"
	"opsline/internal/repo"
)

// MeetingCreateOptions are parameters for scheduling a meeting.
type MeetingCreateOptions struct {
	Title        string
	Agenda       string
	Date         time.Time
	Participants []string
	ActorID      string
}

func (e Engine) CreateMeeting(ctx context.Context, opts MeetingCreateOptions) (domain.Meeting, error) {
	title := strings.TrimSpace(opts.Title)
	agenda := strings.TrimSpace(opts.Agenda)
	if title == "" {
		return domain.Meeting{}, domain.Invalid("title", "title is required")
	}
	if agenda == "" {
		return domain.Meeting{}, domain.Invalid("agenda", "agenda is required")
	}
	if opts.Date.IsZero() {
		return domain.Meeting{}, domain.Invalid("date", "date is required")
	}
	participants := unionIDs(opts.Participants)
	if len(participants) == 0 {
		return domain.Meeting{}, domain.Invalid("participants", "at least one participant is required")
	}
	now := e.now()
	m := domain.Meeting{
		ID:                    newID(),
		Title:                 title,
		Agenda:                agenda,
		Date:                  opts.Date,
		Participants:          participants,
		ConfirmedParticipants: []string{},
		Status:                domain.MeetingScheduled,
		Decisions:             []string{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Meeting{}, err
	}
	defer tx.Rollback()

	missing, err := e.Repo.MissingUsers(ctx, tx, participants)
	if err != nil {
		return domain.Meeting{}, err
	}
	if len(missing) > 0 {
		return domain.Meeting{}, domain.Invalid("participants", "unknown participants: %s", strings.Join(missing, ", "))
	}
	if err := e.Repo.InsertMeeting(ctx, tx, m); err != nil {
		return domain.Meeting{}, err
	}
	if err := e.record(ctx, tx, domain.EventMeetingCreated, "meeting", m.ID, opts.ActorID, events.EventPayload{
		"title":        m.Title,
		"date":         repo.FormatTime(m.Date),
		"participants": m.Participants,
	}); err != nil {
		return domain.Meeting{}, err
	}
	evt := domain.Event{
		Kind:        domain.EventMeetingCreated,
		EntityType:  "meeting",
		EntityID:    m.ID,
		TargetUsers: m.Participants,
		Title:       "New meeting",
		Message:     fmt.Sprintf("You are invited to %q on %s", m.Title, m.Date.Format("2006-01-02 15:04")),
		ActorID:     opts.ActorID,
		Status:      m.Status,
	}
	if err := e.commit(tx, evt); err != nil {
		return domain.Meeting{}, err
	}
	return m, nil
}

// ConfirmAttendance records userID's confirmation. Confirming twice is a
// no-op. The last outstanding confirmation moves the meeting to confirmed.
func (e Engine) ConfirmAttendance(ctx context.Context, meetingID, userID string) (domain.Meeting, error) {
	unlock := e.lock("meeting", meetingID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Meeting{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMeetingTx(ctx, tx, meetingID)
	if err != nil {
		return domain.Meeting{}, notFound(err, "meeting", meetingID)
	}
	if m.Status == domain.MeetingCompleted {
		return domain.Meeting{}, domain.ConflictError{Entity: "meeting", ID: m.ID, State: m.Status, Message: "meeting is already completed"}
	}
	if !m.IsParticipant(userID) {
		return domain.Meeting{}, domain.ConflictError{Entity: "meeting", ID: m.ID, State: m.Status, Message: fmt.Sprintf("user %s is not a participant", userID)}
	}
	if m.HasConfirmed(userID) {
		return m, nil
	}
	now := e.now()
	if _, err := e.Repo.ConfirmParticipant(ctx, tx, m.ID, userID, now); err != nil {
		return domain.Meeting{}, fmt.Errorf("confirm participant: %w", err)
	}
	if err := e.record(ctx, tx, "meeting.attendance_confirmed", "meeting", m.ID, userID, nil); err != nil {
		return domain.Meeting{}, err
	}
	m, err = e.Repo.GetMeetingTx(ctx, tx, meetingID)
	if err != nil {
		return domain.Meeting{}, err
	}
	var evts []domain.Event
	if m.FullyConfirmed() && ensureMeetingTransition(m, domain.MeetingConfirmed) == nil {
		prev := m.Status
		m.Status = domain.MeetingConfirmed
		m.UpdatedAt = now
		if err := e.Repo.UpdateMeeting(ctx, tx, m); err != nil {
			return domain.Meeting{}, err
		}
		evt, err := e.meetingStatusChanged(ctx, tx, m, prev, userID)
		if err != nil {
			return domain.Meeting{}, err
		}
		evts = append(evts, evt)
	}
	if err := e.commit(tx, evts...); err != nil {
		return domain.Meeting{}, err
	}
	return m, nil
}

// CloseMeeting records minutes and completes the meeting. Only secretaries may close.
func (e Engine) CloseMeeting(ctx context.Context, meetingID, closedBy, minutes string) (domain.Meeting, error) {
	if _, err := e.authorize(ctx, closedBy, auth.ActionCloseMeeting, domain.RoleSecretary); err != nil {
		return domain.Meeting{}, err
	}
	minutes = strings.TrimSpace(minutes)
	if minutes == "" {
		return domain.Meeting{}, domain.Invalid("minutes", "minutes are required to close a meeting")
	}
	unlock := e.lock("meeting", meetingID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Meeting{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMeetingTx(ctx, tx, meetingID)
	if err != nil {
		return domain.Meeting{}, notFound(err, "meeting", meetingID)
	}
	if err := ensureMeetingTransition(m, domain.MeetingCompleted); err != nil {
		return domain.Meeting{}, err
	}
	prev := m.Status
	m.Status = domain.MeetingCompleted
	m.Minutes = minutes
	m.UpdatedAt = e.now()
	if err := e.Repo.UpdateMeeting(ctx, tx, m); err != nil {
		return domain.Meeting{}, err
	}
	evt, err := e.meetingStatusChanged(ctx, tx, m, prev, closedBy)
	if err != nil {
		return domain.Meeting{}, err
	}
	if err := e.commit(tx, evt); err != nil {
		return domain.Meeting{}, err
	}
	return m, nil
}

func (e Engine) GetMeeting(ctx context.Context, id string) (domain.Meeting, error) {
	m, err := e.Repo.GetMeeting(ctx, id)
	return m, notFound(err, "meeting", id)
}

func (e Engine) ListMeetings(ctx context.Context, status string) ([]domain.Meeting, error) {
	return e.Repo.ListMeetings(ctx, status)
}

// meetingStatusChanged logs a status change and builds the event for its participants.
func (e Engine) meetingStatusChanged(ctx context.Context, tx *sql.Tx, m domain.Meeting, prev, actorID string) (domain.Event, error) {
	if err := e.record(ctx, tx, domain.EventMeetingStatusChanged, "meeting", m.ID, actorID, events.EventPayload{"from": prev, "to": m.Status}); err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		Kind:        domain.EventMeetingStatusChanged,
		EntityType:  "meeting",
		EntityID:    m.ID,
		TargetUsers: m.Participants,
		Title:       "Meeting update",
		Message:     fmt.Sprintf("%q is now %s", m.Title, label(m.Status)),
		ActorID:     actorID,
		Status:      m.Status,
	}, nil
}

// ensureMeetingTransition allows forward moves and the scheduled/at_risk pair.
// completed is terminal.
func ensureMeetingTransition(m domain.Meeting, to string) error {
	from := m.Status
	switch from {
	case domain.MeetingScheduled:
		if to == domain.MeetingAtRisk || to == domain.MeetingConfirmed || to == domain.MeetingCompleted {
			return nil
		}
	case domain.MeetingAtRisk:
		if to == domain.MeetingScheduled || to == domain.MeetingConfirmed || to == domain.MeetingCompleted {
			return nil
		}
	case domain.MeetingConfirmed:
		if to == domain.MeetingCompleted {
			return nil
		}
	case domain.MeetingCompleted:
		return domain.ConflictError{Entity: "meeting", ID: m.ID, State: from, Message: "meeting is already completed"}
	default:
		return errors.New("unknown meeting status " + from)
	}
	return domain.ConflictError{Entity: "meeting", ID: m.ID, State: from, Message: fmt.Sprintf("meeting cannot move from %s to %s", from, to)}
}

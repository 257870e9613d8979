// Package escalation turns explicit escalation requests, and meetings that
// slip to at_risk, into urgent notices for every manager.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"opsline/internal/domain"
	"opsline/internal/events"
	"opsline/internal/repo"
)

// Publisher is the event sink escalations are sent to.
type Publisher interface {
	Publish(evt domain.Event)
}

// Router resolves managers and emits one event per manager. It never mutates
// the escalated entity.
type Router struct {
	Repo       repo.Repo
	Events     events.Writer
	Bus        Publisher
	Log        zerolog.Logger
	Now        func() time.Time
	AutoAtRisk bool
}

// EntityTypes lists what can be escalated.
var EntityTypes = []string{"meeting", "task", "leave_request", "equipment", "message", "compliance_report"}

func New(r repo.Repo, bus Publisher, log zerolog.Logger) *Router {
	return &Router{
		Repo: r,
		Bus:  bus,
		Log:  log.With().Str("component", "escalation").Logger(),
		Now:  time.Now,
	}
}

// Escalate publishes one urgent event per manager referencing the entity.
// Repeat calls produce repeat notices.
func (r *Router) Escalate(ctx context.Context, entityType, entityID, reason, requestedBy string) ([]domain.Event, error) {
	entityType = strings.TrimSpace(entityType)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Invalid("reason", "an escalation reason is required")
	}
	label, err := r.describe(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	requester, err := r.Repo.GetUser(ctx, requestedBy)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, domain.NotFoundError{Entity: "user", ID: requestedBy}
		}
		return nil, err
	}
	managers, err := r.Repo.UserIDsByRole(ctx, domain.RoleManager)
	if err != nil {
		return nil, fmt.Errorf("resolve managers: %w", err)
	}
	if err := r.audit(ctx, entityType, entityID, requestedBy, reason); err != nil {
		return nil, err
	}
	now := r.now()
	out := make([]domain.Event, 0, len(managers))
	for _, m := range managers {
		evt := domain.Event{
			Kind:        domain.EventEscalation,
			EntityType:  entityType,
			EntityID:    entityID,
			TargetUsers: []string{m},
			Title:       "Escalation: " + label,
			Message:     fmt.Sprintf("%s escalated %s: %s", requester.FullName, label, reason),
			ActorID:     requestedBy,
			OccurredAt:  now,
		}
		r.Bus.Publish(evt)
		out = append(out, evt)
	}
	r.Log.Info().Str("entity_type", entityType).Str("entity_id", entityID).Int("managers", len(managers)).Msg("escalated")
	return out, nil
}

// Run watches the bus for meetings entering at_risk and alerts managers when
// AutoAtRisk is set. It returns when the subscription closes.
func (r *Router) Run(ctx context.Context, sub events.Subscription) error {
	for evt := range sub.Events {
		if !r.AutoAtRisk {
			continue
		}
		if evt.Kind != domain.EventMeetingStatusChanged || evt.Status != domain.MeetingAtRisk {
			continue
		}
		if err := r.meetingAtRisk(context.WithoutCancel(ctx), evt); err != nil {
			r.Log.Error().Err(err).Str("meeting_id", evt.EntityID).Msg("at-risk escalation failed")
		}
	}
	return nil
}

func (r *Router) meetingAtRisk(ctx context.Context, evt domain.Event) error {
	m, err := r.Repo.GetMeeting(ctx, evt.EntityID)
	if err != nil {
		return err
	}
	managers, err := r.Repo.UserIDsByRole(ctx, domain.RoleManager)
	if err != nil {
		return err
	}
	pending := len(m.Participants) - len(m.ConfirmedParticipants)
	r.Bus.Publish(domain.Event{
		Kind:        domain.EventMeetingAtRisk,
		EntityType:  "meeting",
		EntityID:    m.ID,
		TargetUsers: managers,
		Title:       "Meeting at risk",
		Message:     fmt.Sprintf("%q on %s is missing %d confirmation(s)", m.Title, m.Date.Format("2006-01-02 15:04"), pending),
		Status:      m.Status,
		OccurredAt:  r.now(),
	})
	return nil
}

// describe checks the entity exists and returns a short human label for it.
func (r *Router) describe(ctx context.Context, entityType, entityID string) (string, error) {
	var (
		label string
		err   error
	)
	switch entityType {
	case "meeting":
		var m domain.Meeting
		m, err = r.Repo.GetMeeting(ctx, entityID)
		label = fmt.Sprintf("meeting %q", m.Title)
	case "task":
		var t domain.Task
		t, err = r.Repo.GetTask(ctx, entityID)
		label = fmt.Sprintf("task %q", t.Title)
	case "leave_request":
		_, err = r.Repo.GetLeaveRequest(ctx, entityID)
		label = "leave request " + entityID
	case "equipment":
		var eq domain.Equipment
		eq, err = r.Repo.GetEquipment(ctx, entityID)
		label = fmt.Sprintf("equipment %q", eq.Name)
	case "message":
		_, err = r.Repo.GetMessage(ctx, entityID)
		label = "message " + entityID
	case "compliance_report":
		_, err = r.Repo.GetComplianceReport(ctx, entityID)
		label = "compliance report " + entityID
	default:
		return "", domain.Invalid("entity_type", "entity type must be one of %s", strings.Join(EntityTypes, ", "))
	}
	if errors.Is(err, repo.ErrNotFound) {
		return "", domain.NotFoundError{Entity: entityType, ID: entityID}
	}
	return label, err
}

func (r *Router) audit(ctx context.Context, entityType, entityID, requestedBy, reason string) error {
	tx, err := r.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	w := r.Events
	if w.Now == nil {
		w.Now = r.now
	}
	if err := w.Append(ctx, tx, "escalation.requested", entityType, entityID, requestedBy, events.EventPayload{"reason": reason}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Router) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

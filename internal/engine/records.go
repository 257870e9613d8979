package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"opsline/internal/domain"
	"opsline/internal/engine/auth"
	"opsline/internal/events"
	"opsline/internal/repo"
)

// DecisionMarker tags a channel message as a decision.
const DecisionMarker = "[DECISION]"

// AnonymousActor is written to the event log for compliance submissions.
const AnonymousActor = "anonymous"

func (e Engine) RegisterEquipment(ctx context.Context, name, assignedTo, actorID string) (domain.Equipment, error) {
	if _, err := e.authorize(ctx, actorID, auth.ActionRegisterEquip, domain.RoleManager); err != nil {
		return domain.Equipment{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Equipment{}, domain.Invalid("name", "equipment name is required")
	}
	eq := domain.Equipment{
		ID:           newID(),
		Name:         name,
		AssignedTo:   strings.TrimSpace(assignedTo),
		AssignedDate: e.now(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Equipment{}, err
	}
	defer tx.Rollback()

	if eq.AssignedTo != "" {
		if _, err := e.Repo.GetUserTx(ctx, tx, eq.AssignedTo); err != nil {
			return domain.Equipment{}, notFound(err, "user", eq.AssignedTo)
		}
	}
	if err := e.Repo.InsertEquipment(ctx, tx, eq); err != nil {
		return domain.Equipment{}, fmt.Errorf("insert equipment: %w", err)
	}
	if err := e.record(ctx, tx, domain.EventEquipmentAssigned, "equipment", eq.ID, actorID, events.EventPayload{"name": eq.Name, "assigned_to": eq.AssignedTo}); err != nil {
		return domain.Equipment{}, err
	}
	var evts []domain.Event
	if eq.AssignedTo != "" {
		evts = append(evts, domain.Event{
			Kind:        domain.EventEquipmentAssigned,
			EntityType:  "equipment",
			EntityID:    eq.ID,
			TargetUsers: []string{eq.AssignedTo},
			Title:       "Equipment assigned",
			Message:     fmt.Sprintf("%s has been assigned to you", eq.Name),
			ActorID:     actorID,
		})
	}
	if err := e.commit(tx, evts...); err != nil {
		return domain.Equipment{}, err
	}
	return eq, nil
}

func (e Engine) ListEquipment(ctx context.Context) ([]domain.Equipment, error) {
	return e.Repo.ListEquipment(ctx)
}

// PostMessage appends a channel message. Messages carrying DecisionMarker are
// also attached to the nearest upcoming scheduled or at_risk meeting when
// one exists; otherwise the decision lives on the message alone.
func (e Engine) PostMessage(ctx context.Context, channel, userID, content string) (domain.Message, error) {
	channel = strings.TrimSpace(channel)
	if !domain.ValidChannel(channel) {
		return domain.Message{}, domain.Invalid("channel", "channel must be one of %s", strings.Join(domain.Channels, ", "))
	}
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, domain.Invalid("content", "message content is required")
	}
	now := e.now()
	msg := domain.Message{
		ID:         newID(),
		Channel:    channel,
		UserID:     userID,
		Content:    content,
		IsDecision: strings.Contains(content, DecisionMarker),
		CreatedAt:  now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetUserTx(ctx, tx, userID); err != nil {
		return domain.Message{}, notFound(err, "user", userID)
	}
	var evts []domain.Event
	if msg.IsDecision {
		meetingID, err := e.Repo.NextOpenMeetingTx(ctx, tx, now)
		switch {
		case err == nil:
			if err := e.Repo.AppendMeetingDecision(ctx, tx, meetingID, decisionText(content), repo.FormatTime(now)); err != nil {
				return domain.Message{}, fmt.Errorf("attach decision: %w", err)
			}
			msg.DecisionMeetingID = meetingID
			m, err := e.Repo.GetMeetingTx(ctx, tx, meetingID)
			if err != nil {
				return domain.Message{}, err
			}
			if err := e.record(ctx, tx, domain.EventMeetingDecisionAdded, "meeting", m.ID, userID, events.EventPayload{"message_id": msg.ID}); err != nil {
				return domain.Message{}, err
			}
			evts = append(evts, domain.Event{
				Kind:        domain.EventMeetingDecisionAdded,
				EntityType:  "meeting",
				EntityID:    m.ID,
				TargetUsers: without(m.Participants, userID),
				Title:       "Decision recorded",
				Message:     fmt.Sprintf("A decision was added to %q", m.Title),
				ActorID:     userID,
				Status:      m.Status,
			})
		case errors.Is(err, repo.ErrNotFound):
			e.Log.Info().Str("message_id", msg.ID).Msg("decision has no upcoming meeting; kept on message only")
		default:
			return domain.Message{}, err
		}
	}
	if err := e.Repo.InsertMessage(ctx, tx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := e.record(ctx, tx, domain.EventMessagePosted, "message", msg.ID, userID, events.EventPayload{
		"channel":     msg.Channel,
		"is_decision": msg.IsDecision,
	}); err != nil {
		return domain.Message{}, err
	}
	if err := e.commit(tx, evts...); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func (e Engine) ListMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error) {
	if !domain.ValidChannel(channel) {
		return nil, domain.Invalid("channel", "channel must be one of %s", strings.Join(domain.Channels, ", "))
	}
	if limit <= 0 {
		limit = 100
	}
	return e.Repo.ListMessages(ctx, channel, limit)
}

// decisionText strips the marker, falling back to the raw content when
// nothing else remains.
func decisionText(content string) string {
	text := strings.TrimSpace(strings.ReplaceAll(content, DecisionMarker, ""))
	if text == "" {
		return strings.TrimSpace(content)
	}
	return text
}

// SubmitComplianceReport stores a report with no link to its author. Nothing
// about the submitter reaches the store, the event log or the notifications.
func (e Engine) SubmitComplianceReport(ctx context.Context, content string) (domain.ComplianceReport, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ComplianceReport{}, domain.Invalid("content", "report content is required")
	}
	c := domain.ComplianceReport{
		ID:        newID(),
		Content:   content,
		CreatedAt: e.now(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ComplianceReport{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertComplianceReport(ctx, tx, c); err != nil {
		return domain.ComplianceReport{}, fmt.Errorf("insert compliance report: %w", err)
	}
	if err := e.record(ctx, tx, domain.EventComplianceReportFiled, "compliance_report", c.ID, AnonymousActor, nil); err != nil {
		return domain.ComplianceReport{}, err
	}
	managers, err := e.managers(ctx, tx)
	if err != nil {
		return domain.ComplianceReport{}, err
	}
	evt := domain.Event{
		Kind:        domain.EventComplianceReportFiled,
		EntityType:  "compliance_report",
		EntityID:    c.ID,
		TargetUsers: managers,
		Title:       "Compliance report",
		Message:     "A new anonymous compliance report was filed",
		ActorID:     AnonymousActor,
	}
	if err := e.commit(tx, evt); err != nil {
		return domain.ComplianceReport{}, err
	}
	return c, nil
}

// ListComplianceReports is the only read path for reports. Managers only.
func (e Engine) ListComplianceReports(ctx context.Context, actorID string) ([]domain.ComplianceReport, error) {
	if _, err := e.authorize(ctx, actorID, auth.ActionReadCompliance, domain.RoleManager); err != nil {
		return nil, err
	}
	return e.Repo.ListComplianceReports(ctx)
}

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"opsline/internal/domain"
	"opsline/internal/engine/auth"
	"opsline/internal/events"
	"opsline/internal/repo"
)

// LeaveLeadTime is the minimum notice between submission and the first day of leave.
const LeaveLeadTime = 15 * 24 * time.Hour

// LeaveRequestOptions are parameters for submitting a leave request.
type LeaveRequestOptions struct {
	UserID string
	Start  time.Time
	End    time.Time
	Reason string
}

func (e Engine) SubmitLeaveRequest(ctx context.Context, opts LeaveRequestOptions) (domain.LeaveRequest, error) {
	if opts.Start.IsZero() || opts.End.IsZero() {
		return domain.LeaveRequest{}, domain.Invalid("start_date", "start and end dates are required")
	}
	if opts.End.Before(opts.Start) {
		return domain.LeaveRequest{}, domain.Invalid("end_date", "end date cannot be before start date")
	}
	now := e.now()
	if opts.Start.Sub(now) < LeaveLeadTime {
		return domain.LeaveRequest{}, domain.Invalid("start_date", "leave must be requested at least 15 days in advance")
	}
	l := domain.LeaveRequest{
		ID:        newID(),
		UserID:    opts.UserID,
		StartDate: opts.Start,
		EndDate:   opts.End,
		Reason:    strings.TrimSpace(opts.Reason),
		Status:    domain.LeavePending,
		CreatedAt: now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LeaveRequest{}, err
	}
	defer tx.Rollback()

	requester, err := e.Repo.GetUserTx(ctx, tx, opts.UserID)
	if err != nil {
		return domain.LeaveRequest{}, notFound(err, "user", opts.UserID)
	}
	if err := e.Repo.InsertLeaveRequest(ctx, tx, l); err != nil {
		return domain.LeaveRequest{}, fmt.Errorf("insert leave request: %w", err)
	}
	if err := e.record(ctx, tx, domain.EventLeaveSubmitted, "leave_request", l.ID, l.UserID, events.EventPayload{
		"start_date": repo.FormatTime(l.StartDate),
		"end_date":   repo.FormatTime(l.EndDate),
	}); err != nil {
		return domain.LeaveRequest{}, err
	}
	managers, err := e.managers(ctx, tx)
	if err != nil {
		return domain.LeaveRequest{}, err
	}
	evt := domain.Event{
		Kind:        domain.EventLeaveSubmitted,
		EntityType:  "leave_request",
		EntityID:    l.ID,
		TargetUsers: without(managers, l.UserID),
		Title:       "Leave request",
		Message:     fmt.Sprintf("%s requested leave from %s to %s", requester.FullName, l.StartDate.Format("2006-01-02"), l.EndDate.Format("2006-01-02")),
		ActorID:     l.UserID,
		Status:      l.Status,
	}
	if err := e.commit(tx, evt); err != nil {
		return domain.LeaveRequest{}, err
	}
	return l, nil
}

func (e Engine) ApproveLeaveRequest(ctx context.Context, requestID, actorID string) (domain.LeaveRequest, error) {
	return e.decideLeave(ctx, requestID, actorID, domain.LeaveApproved)
}

func (e Engine) RejectLeaveRequest(ctx context.Context, requestID, actorID string) (domain.LeaveRequest, error) {
	return e.decideLeave(ctx, requestID, actorID, domain.LeaveRejected)
}

func (e Engine) decideLeave(ctx context.Context, requestID, actorID, status string) (domain.LeaveRequest, error) {
	if _, err := e.authorize(ctx, actorID, auth.ActionDecideLeave, domain.RoleManager); err != nil {
		return domain.LeaveRequest{}, err
	}
	unlock := e.lock("leave_request", requestID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LeaveRequest{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeaveRequestTx(ctx, tx, requestID)
	if err != nil {
		return domain.LeaveRequest{}, notFound(err, "leave_request", requestID)
	}
	if l.Status != domain.LeavePending {
		return domain.LeaveRequest{}, domain.ConflictError{Entity: "leave_request", ID: l.ID, State: l.Status, Message: fmt.Sprintf("leave request is already %s", l.Status)}
	}
	decidedAt := e.now()
	l.Status = status
	l.DecidedBy = actorID
	l.DecidedAt = &decidedAt
	if err := e.Repo.DecideLeaveRequest(ctx, tx, l); err != nil {
		return domain.LeaveRequest{}, err
	}
	if err := e.record(ctx, tx, domain.EventLeaveDecision, "leave_request", l.ID, actorID, events.EventPayload{"status": status}); err != nil {
		return domain.LeaveRequest{}, err
	}
	evt := domain.Event{
		Kind:        domain.EventLeaveDecision,
		EntityType:  "leave_request",
		EntityID:    l.ID,
		TargetUsers: []string{l.UserID},
		Title:       "Leave request " + status,
		Message:     fmt.Sprintf("Your leave from %s to %s was %s", l.StartDate.Format("2006-01-02"), l.EndDate.Format("2006-01-02"), status),
		ActorID:     actorID,
		Status:      status,
	}
	if err := e.commit(tx, evt); err != nil {
		return domain.LeaveRequest{}, err
	}
	return l, nil
}

// ListLeaveRequests returns every request for managers and only the actor's own otherwise.
func (e Engine) ListLeaveRequests(ctx context.Context, actorID, status string) ([]domain.LeaveRequest, error) {
	actor, err := e.Repo.GetUser(ctx, actorID)
	if err != nil {
		return nil, notFound(err, "user", actorID)
	}
	owner := actor.ID
	if auth.IsManager(actor) {
		owner = ""
	}
	return e.Repo.ListLeaveRequests(ctx, owner, status)
}

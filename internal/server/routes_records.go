package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/escalation"
)

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "post-message",
		Method:        http.MethodPost,
		Path:          "/messages",
		Summary:       "Post channel message; [DECISION] attaches it to the next meeting",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body PostMessageRequest `json:"body"`
	}) (*bodyOutput[domain.Message], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.PostMessage(ctx, input.Body.Channel, actorID, input.Body.Content)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/messages/{channel}",
		Summary:     "List channel messages, oldest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Channel string `path:"channel"`
		Limit   int    `query:"limit" default:"100"`
	}) (*bodyOutput[listResponse[domain.Message]], error) {
		list, err := e.ListMessages(ctx, input.Channel, input.Limit)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(items(list)), nil
	})
}

// registerCompliance never passes the caller's identity to the engine.
func registerCompliance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-compliance-report",
		Method:        http.MethodPost,
		Path:          "/compliance-reports",
		Summary:       "File an anonymous compliance report",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ComplianceReportRequest `json:"body"`
	}) (*bodyOutput[ComplianceReceipt], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		c, err := e.SubmitComplianceReport(ctx, input.Body.Content)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(ComplianceReceipt{ID: c.ID, CreatedAt: c.CreatedAt}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-compliance-reports",
		Method:      http.MethodGet,
		Path:        "/compliance-reports",
		Summary:     "List compliance reports (managers)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[listResponse[domain.ComplianceReport]], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		list, err := e.ListComplianceReports(ctx, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(items(list)), nil
	})
}

func registerEscalation(api huma.API, r *escalation.Router) {
	huma.Register(api, huma.Operation{
		OperationID: "escalate",
		Method:      http.MethodPost,
		Path:        "/escalate",
		Summary:     "Escalate an entity to every manager",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body EscalateRequest `json:"body"`
	}) (*bodyOutput[EscalateResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evts, err := r.Escalate(ctx, input.Body.EntityType, input.Body.EntityID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := EscalateResponse{Notified: len(evts), Managers: []string{}}
		for _, evt := range evts {
			resp.Managers = append(resp.Managers, evt.TargetUsers...)
		}
		return reply(resp), nil
	})
}

func registerDashboard(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Per-user dashboard summary",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Now string `query:"now" doc:"RFC3339 instant; defaults to server time"`
	}) (*bodyOutput[domain.Dashboard], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		now := cfg.now()
		if input.Now != "" {
			parsed, err := time.Parse(time.RFC3339, input.Now)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "validation_failed", "now must be an RFC3339 timestamp", map[string]any{"field": "now"})
			}
			now = parsed
		}
		d, err := cfg.Dashboard.Compute(ctx, actorID, now)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(d), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events (managers)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*bodyOutput[paginatedEvents], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		list, err := e.EventLog(ctx, actorID, limit+1, cursorID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(list) > limit {
			resp.NextCursor = fmt.Sprintf("%d", list[limit-1].ID)
			list = list[:limit]
		}
		for _, evt := range list {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}

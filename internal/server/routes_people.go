package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"opsline/internal/domain"
	"opsline/internal/engine"
)

func registerMe(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[WhoAmIResponse], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := cfg.Engine.GetUser(ctx, p.UserID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(WhoAmIResponse{UserID: u.ID, FullName: u.FullName, Role: u.Role}), nil
	})
}

func registerDevAuth(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an existing user",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*bodyOutput[DevLoginResponse], error) {
		if !cfg.Auth.DevLogin {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "user_id is required", map[string]any{"field": "user_id"})
		}
		u, err := cfg.Engine.GetUser(ctx, userID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		token, expires, err := signDevToken(cfg.Auth.JWTSecret, u.ID, cfg.now())
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(DevLoginResponse{Token: token, ExpiresAt: expires}), nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*bodyOutput[domain.User], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateUser(ctx, engine.UserCreateOptions{
			ID:       input.Body.ID,
			FullName: input.Body.FullName,
			Email:    input.Body.Email,
			Role:     input.Body.Role,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*bodyOutput[listResponse[domain.User]], error) {
		users, err := e.ListUsers(ctx, input.Role)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(items(users)), nil
	})
}

func registerLeave(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-leave-request",
		Method:        http.MethodPost,
		Path:          "/leave-requests",
		Summary:       "Submit leave request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body LeaveRequestBody `json:"body"`
	}) (*bodyOutput[domain.LeaveRequest], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.SubmitLeaveRequest(ctx, engine.LeaveRequestOptions{
			UserID: actorID,
			Start:  input.Body.StartDate,
			End:    input.Body.EndDate,
			Reason: input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(l), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leave-requests",
		Method:      http.MethodGet,
		Path:        "/leave-requests",
		Summary:     "List leave requests (managers see all)",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,approved,rejected"`
	}) (*bodyOutput[listResponse[domain.LeaveRequest]], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		list, err := e.ListLeaveRequests(ctx, actorID, input.Status)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(items(list)), nil
	})

	decide := func(id, summary string, fn func(context.Context, string, string) (domain.LeaveRequest, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPut,
			Path:        "/leave-requests/{id}/" + strings.TrimSuffix(id, "-leave-request"),
			Summary:     summary,
			Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*bodyOutput[domain.LeaveRequest], error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			l, err := fn(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(ctx, err)
			}
			return reply(l), nil
		})
	}
	decide("approve-leave-request", "Approve leave request", e.ApproveLeaveRequest)
	decide("reject-leave-request", "Reject leave request", e.RejectLeaveRequest)
}

func registerEquipment(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-equipment",
		Method:        http.MethodPost,
		Path:          "/equipment",
		Summary:       "Register equipment (managers)",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body RegisterEquipmentRequest `json:"body"`
	}) (*bodyOutput[domain.Equipment], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eq, err := e.RegisterEquipment(ctx, input.Body.Name, input.Body.AssignedTo, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(eq), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-equipment",
		Method:      http.MethodGet,
		Path:        "/equipment",
		Summary:     "List equipment",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[listResponse[domain.Equipment]], error) {
		list, err := e.ListEquipment(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(items(list)), nil
	})
}

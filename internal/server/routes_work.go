package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/repo"
)

type idPath struct {
	ID string `path:"id"`
}

func registerMeetings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-meeting",
		Method:        http.MethodPost,
		Path:          "/meetings",
		Summary:       "Schedule meeting",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateMeetingRequest `json:"body"`
	}) (*bodyOutput[domain.Meeting], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMeeting(ctx, engine.MeetingCreateOptions{
			Title:        input.Body.Title,
			Agenda:       input.Body.Agenda,
			Date:         input.Body.Date,
			Participants: input.Body.Participants,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-meetings",
		Method:      http.MethodGet,
		Path:        "/meetings",
		Summary:     "List meetings",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"scheduled,at_risk,confirmed,completed"`
	}) (*bodyOutput[listResponse[domain.Meeting]], error) {
		list, err := e.ListMeetings(ctx, input.Status)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(items(list)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-meeting",
		Method:      http.MethodGet,
		Path:        "/meetings/{id}",
		Summary:     "Get meeting",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.Meeting], error) {
		m, err := e.GetMeeting(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-meeting",
		Method:      http.MethodPost,
		Path:        "/meetings/{id}/confirm",
		Summary:     "Confirm attendance",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.Meeting], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ConfirmAttendance(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-meeting",
		Method:      http.MethodPost,
		Path:        "/meetings/{id}/close",
		Summary:     "Close meeting with minutes (secretary)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CloseMeetingRequest `json:"body"`
	}) (*bodyOutput[domain.Meeting], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CloseMeeting(ctx, input.ID, actorID, input.Body.Minutes)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(m), nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Category:    input.Body.Category,
			AssignedTo:  input.Body.AssignedTo,
			Deadline:    input.Body.Deadline,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks ordered by deadline",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		AssignedTo string `query:"assigned_to"`
		Status     string `query:"status" enum:"todo,in_progress,review,done"`
		Category   string `query:"category" enum:"web,mobile,other"`
		Blocked    string `query:"blocked"`
		Limit      int    `query:"limit" default:"50"`
	}) (*bodyOutput[listResponse[domain.Task]], error) {
		blocked, qErr := parseBoolQuery("blocked", input.Blocked)
		if qErr != nil {
			return nil, qErr
		}
		list, err := e.ListTasks(ctx, repo.TaskFilters{
			AssignedTo: input.AssignedTo,
			Status:     input.Status,
			Category:   input.Category,
			Blocked:    blocked,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(items(list)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.Task], error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Update task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTaskStatus(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "block-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/block",
		Summary:     "Block task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body BlockTaskRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.BlockTask(ctx, input.ID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unblock-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/unblock",
		Summary:     "Unblock task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UnblockTask(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-task-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/comments",
		Summary:       "Comment on task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CommentRequest `json:"body"`
	}) (*bodyOutput[domain.TaskComment], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.ID, actorID, input.Body.Content)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/comments",
		Summary:     "List task comments, oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[listResponse[domain.TaskComment]], error) {
		list, err := e.ListComments(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(items(list)), nil
	})
}

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/rs/zerolog"

	"opsline/internal/domain"
	"opsline/internal/notify"
)

func registerNotifications(api huma.API, hub *notify.Hub) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Notification history, newest first",
	}, func(ctx context.Context, input *struct {
		Limit  int  `query:"limit"`
		Unread bool `query:"unread"`
	}) (*bodyOutput[listResponse[domain.Notification]], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		list := hub.History
		if input.Unread {
			list = hub.Unread
		}
		out, err := list(ctx, actorID, input.Limit)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(items(out)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-count",
		Method:      http.MethodGet,
		Path:        "/notifications/unread-count",
		Summary:     "Number of unread notifications",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[UnreadCountResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := hub.UnreadCount(ctx, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(UnreadCountResponse{Unread: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "mark-notification-read",
		Method:        http.MethodPost,
		Path:          "/notifications/{id}/read",
		Summary:       "Mark notification read",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := hub.MarkRead(ctx, input.ID, actorID); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})
}

// registerStream pushes live notifications over Server-Sent Events. Opening a
// stream replaces the user's previous one; the old stream ends.
func registerStream(api huma.API, hub *notify.Hub, log zerolog.Logger) {
	sse.Register(api, huma.Operation{
		OperationID: "notification-stream",
		Method:      http.MethodGet,
		Path:        "/notifications/stream",
		Summary:     "Live notification stream",
	}, map[string]any{
		"notification": NotificationPush{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return
		}
		sink := hub.Connect(p.UserID)
		defer sink.Close()
		log.Debug().Str("user_id", p.UserID).Msg("stream opened")
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-sink.C():
				if !ok {
					return
				}
				if err := send.Data(notificationPush(n)); err != nil {
					log.Debug().Err(err).Str("user_id", p.UserID).Msg("stream write failed")
					return
				}
			}
		}
	})
}

package server

import (
	"encoding/json"
	"time"

	"opsline/internal/domain"
)

// Request payloads. Fields are optional at the schema level so the engine
// reports missing values with its own messages.

type DevLoginRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type CreateUserRequest struct {
	ID       string `json:"id,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

type CreateMeetingRequest struct {
	Title        string    `json:"title,omitempty"`
	Agenda       string    `json:"agenda,omitempty"`
	Date         time.Time `json:"date,omitempty"`
	Participants []string  `json:"participants,omitempty"`
}

type CloseMeetingRequest struct {
	Minutes string `json:"minutes,omitempty"`
}

type CreateTaskRequest struct {
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	AssignedTo  string    `json:"assigned_to,omitempty"`
	Deadline    time.Time `json:"deadline,omitempty"`
}

type UpdateTaskRequest struct {
	Status string `json:"status,omitempty"`
}

type BlockTaskRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CommentRequest struct {
	Content string `json:"content,omitempty"`
}

type LeaveRequestBody struct {
	StartDate time.Time `json:"start_date,omitempty"`
	EndDate   time.Time `json:"end_date,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

type RegisterEquipmentRequest struct {
	Name       string `json:"name,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

type PostMessageRequest struct {
	Channel string `json:"channel,omitempty"`
	Content string `json:"content,omitempty"`
}

type ComplianceReportRequest struct {
	Content string `json:"content,omitempty"`
}

type EscalateRequest struct {
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// ComplianceReceipt is all a reporter gets back.
type ComplianceReceipt struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type EscalateResponse struct {
	Notified int      `json:"notified"`
	Managers []string `json:"managers"`
}

type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

// NotificationPush is the payload of a "notification" stream event.
type NotificationPush struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func items[T any](in []T) listResponse[T] {
	if in == nil {
		in = []T{}
	}
	return listResponse[T]{Items: in}
}

func notificationPush(n domain.Notification) NotificationPush {
	return NotificationPush{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Priority:  n.Priority,
		CreatedAt: n.CreatedAt,
	}
}

func eventResponse(evt domain.EventRecord) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

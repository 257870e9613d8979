package opslinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal opsline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for an API mounted at baseURL (including the base path, e.g. http://host:8080/api).
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Meeting represents the API meeting model.
type Meeting struct {
	ID                    string    `json:"id"`
	Title                 string    `json:"title"`
	Agenda                string    `json:"agenda"`
	Date                  time.Time `json:"date"`
	Participants          []string  `json:"participants"`
	ConfirmedParticipants []string  `json:"confirmed_participants"`
	Status                string    `json:"status"`
	Decisions             []string  `json:"decisions"`
	Minutes               string    `json:"minutes,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	AssignedTo  string    `json:"assigned_to"`
	Deadline    time.Time `json:"deadline"`
	Status      string    `json:"status"`
	IsBlocked   bool      `json:"is_blocked"`
	BlockReason string    `json:"block_reason,omitempty"`
}

// Notification is one stored notification.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given envelope code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// DevLogin exchanges a user id for a bearer token and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, userID string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"user_id": userID}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CreateMeeting schedules a meeting.
func (c *Client) CreateMeeting(ctx context.Context, title, agenda string, date time.Time, participants []string) (Meeting, error) {
	body := map[string]any{
		"title":        title,
		"agenda":       agenda,
		"date":         date.UTC().Format(time.RFC3339),
		"participants": participants,
	}
	var resp Meeting
	err := c.do(ctx, http.MethodPost, "meetings", body, &resp)
	return resp, err
}

// ConfirmAttendance confirms the caller for a meeting.
func (c *Client) ConfirmAttendance(ctx context.Context, meetingID string) (Meeting, error) {
	var resp Meeting
	err := c.do(ctx, http.MethodPost, "meetings/"+url.PathEscape(meetingID)+"/confirm", nil, &resp)
	return resp, err
}

// CloseMeeting records minutes and completes a meeting.
func (c *Client) CloseMeeting(ctx context.Context, meetingID, minutes string) (Meeting, error) {
	var resp Meeting
	err := c.do(ctx, http.MethodPost, "meetings/"+url.PathEscape(meetingID)+"/close", map[string]any{"minutes": minutes}, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, category, assignedTo string, deadline time.Time) (Task, error) {
	body := map[string]any{
		"title":       title,
		"category":    category,
		"assigned_to": assignedTo,
		"deadline":    deadline.UTC().Format(time.RFC3339),
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task to status.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, "tasks/"+url.PathEscape(taskID), map[string]any{"status": status}, &resp)
	return resp, err
}

// BlockTask flags a task as blocked.
func (c *Client) BlockTask(ctx context.Context, taskID, reason string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/block", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Notifications returns the caller's history, newest first.
func (c *Client) Notifications(ctx context.Context, limit int, unreadOnly bool) ([]Notification, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if unreadOnly {
		q.Set("unread", "true")
	}
	var resp struct {
		Items []Notification `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("notifications", q), nil, &resp)
	return resp.Items, err
}

// UnreadCount returns the caller's unread notification count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Unread int `json:"unread"`
	}
	err := c.do(ctx, http.MethodGet, "notifications/unread-count", nil, &resp)
	return resp.Unread, err
}

// MarkRead marks one of the caller's notifications read.
func (c *Client) MarkRead(ctx context.Context, notificationID string) error {
	return c.do(ctx, http.MethodPost, "notifications/"+url.PathEscape(notificationID)+"/read", nil, nil)
}

// Escalate sends an urgent notice about an entity to every manager. It returns the managers notified.
func (c *Client) Escalate(ctx context.Context, entityType, entityID, reason string) ([]string, error) {
	body := map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
		"reason":      reason,
	}
	var resp struct {
		Managers []string `json:"managers"`
	}
	err := c.do(ctx, http.MethodPost, "escalate", body, &resp)
	return resp.Managers, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// Package notify persists notifications and pushes them to connected users.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"opsline/internal/domain"
	"opsline/internal/events"
	"opsline/internal/repo"
)

const (
	defaultSinkBuffer   = 32
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Options tunes a Hub.
type Options struct {
	SinkBuffer   int
	HistoryLimit int
}

// Hub owns notification creation, the read flag, and the registry of live
// per-user sinks. A user has at most one sink; connecting again replaces it.
type Hub struct {
	repo         repo.Repo
	log          zerolog.Logger
	sinkBuffer   int
	historyLimit int

	// Now is the clock used for created_at.
	Now func() time.Time

	mu    sync.Mutex
	sinks map[string]*Sink
}

func NewHub(r repo.Repo, log zerolog.Logger, opts Options) *Hub {
	h := &Hub{
		repo:         r,
		log:          log.With().Str("component", "notify").Logger(),
		sinkBuffer:   opts.SinkBuffer,
		historyLimit: opts.HistoryLimit,
		Now:          time.Now,
		sinks:        map[string]*Sink{},
	}
	if h.sinkBuffer <= 0 {
		h.sinkBuffer = defaultSinkBuffer
	}
	if h.historyLimit <= 0 {
		h.historyLimit = defaultHistoryLimit
	}
	return h
}

// Priority maps an event kind to the priority of the notifications it creates.
func Priority(kind string) string {
	switch kind {
	case domain.EventEscalation:
		return domain.PriorityUrgent
	case domain.EventLeaveDecision, domain.EventTaskBlocked, domain.EventComplianceReportFiled, domain.EventMeetingAtRisk:
		return domain.PriorityHigh
	default:
		return domain.PriorityNormal
	}
}

// Connect registers a live sink for userID, closing any previous one.
func (h *Hub) Connect(userID string) *Sink {
	s := newSink(h, userID, h.sinkBuffer)
	h.mu.Lock()
	prev := h.sinks[userID]
	h.sinks[userID] = s
	h.mu.Unlock()
	if prev != nil {
		prev.shutdown()
		h.log.Debug().Str("user_id", userID).Msg("previous connection replaced")
	}
	return s
}

// Disconnect closes and deregisters userID's sink. Persisted history is untouched.
func (h *Hub) Disconnect(userID string) {
	h.mu.Lock()
	s := h.sinks[userID]
	delete(h.sinks, userID)
	h.mu.Unlock()
	if s != nil {
		s.shutdown()
	}
}

// Connected reports whether userID currently has a live sink.
func (h *Hub) Connected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sinks[userID]
	return ok
}

// Connections returns the number of live sinks.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}

// CloseAll shuts every live sink. Subsequent pushes find no sink and only persist.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sinks := h.sinks
	h.sinks = map[string]*Sink{}
	h.mu.Unlock()
	for _, s := range sinks {
		s.shutdown()
	}
}

func (h *Hub) release(s *Sink) {
	h.mu.Lock()
	if h.sinks[s.userID] == s {
		delete(h.sinks, s.userID)
	}
	h.mu.Unlock()
}

// Publish persists one notification per target and then offers each to the
// target's sink without blocking. A failed or missing push leaves the
// notification in History.
func (h *Hub) Publish(ctx context.Context, evt domain.Event) ([]domain.Notification, error) {
	targets := dedupe(evt.TargetUsers)
	if len(targets) == 0 {
		return nil, nil
	}
	created := evt.OccurredAt
	if created.IsZero() {
		created = h.now()
	}
	priority := Priority(evt.Kind)
	items := make([]domain.Notification, 0, len(targets))
	for _, userID := range targets {
		items = append(items, domain.Notification{
			ID:         uuid.NewString(),
			UserID:     userID,
			Title:      evt.Title,
			Message:    evt.Message,
			Priority:   priority,
			EventKind:  evt.Kind,
			EntityType: evt.EntityType,
			EntityID:   evt.EntityID,
			CreatedAt:  created,
		})
	}
	if err := h.repo.InsertNotifications(ctx, items); err != nil {
		return nil, fmt.Errorf("persist notifications: %w", err)
	}
	for _, n := range items {
		h.push(n)
	}
	return items, nil
}

func (h *Hub) push(n domain.Notification) {
	h.mu.Lock()
	s := h.sinks[n.UserID]
	h.mu.Unlock()
	if s == nil {
		return
	}
	delivered, dropped := s.deliver(n)
	if dropped > 0 {
		h.log.Warn().Str("user_id", n.UserID).Int("dropped", dropped).Msg("sink full; dropped oldest notifications")
	}
	if !delivered {
		h.log.Debug().Str("user_id", n.UserID).Str("notification_id", n.ID).Msg("sink closed before delivery")
	}
}

// Run publishes every bus event until the subscription closes. Persistence
// outlives ctx cancellation so events queued at shutdown are still stored.
func (h *Hub) Run(ctx context.Context, sub events.Subscription) error {
	ctx = context.WithoutCancel(ctx)
	for evt := range sub.Events {
		if _, err := h.Publish(ctx, evt); err != nil {
			h.log.Error().Err(err).Str("kind", evt.Kind).Str("entity_id", evt.EntityID).Msg("publish failed")
		}
	}
	return nil
}

// History returns userID's notifications, newest first.
func (h *Hub) History(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return h.repo.ListNotifications(ctx, userID, h.clampLimit(limit), false)
}

// Unread returns userID's unread notifications, newest first.
func (h *Hub) Unread(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return h.repo.ListNotifications(ctx, userID, h.clampLimit(limit), true)
}

// MarkRead sets read on a notification owned by userID. Notifications of
// other users look the same as missing ones.
func (h *Hub) MarkRead(ctx context.Context, notificationID, userID string) error {
	err := h.repo.MarkNotificationRead(ctx, notificationID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundError{Entity: "notification", ID: notificationID}
	}
	return err
}

func (h *Hub) UnreadCount(ctx context.Context, userID string) (int, error) {
	return h.repo.UnreadCount(ctx, userID)
}

func (h *Hub) clampLimit(limit int) int {
	if limit <= 0 {
		return h.historyLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func (h *Hub) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

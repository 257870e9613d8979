package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"opsline/internal/db"
	"opsline/internal/domain"
	"opsline/internal/events"
	"opsline/internal/migrate"
	"opsline/internal/repo"
)

func newTestHub(t *testing.T, opts Options, users ...string) *Hub {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, id := range users {
		if err := r.InsertUser(ctx, tx, domain.User{ID: id, FullName: id, Email: id + "@example.com", Role: domain.RoleManager}); err != nil {
			tx.Rollback()
			t.Fatalf("insert user: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	h := NewHub(r, zerolog.Nop(), opts)
	t.Cleanup(h.CloseAll)
	return h
}

func event(kind string, at time.Time, targets ...string) domain.Event {
	return domain.Event{
		Kind:        kind,
		EntityType:  "task",
		EntityID:    "t1",
		TargetUsers: targets,
		Title:       kind,
		Message:     "something happened",
		OccurredAt:  at,
	}
}

func TestPublishPersistsForOfflineUsers(t *testing.T) {
	h := newTestHub(t, Options{}, "alice", "bob")
	ctx := context.Background()
	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	items, err := h.Publish(ctx, event(domain.EventTaskCreated, base, "alice", "bob", "alice"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected one notification per distinct target, got %d", len(items))
	}
	if _, err := h.Publish(ctx, event(domain.EventTaskBlocked, base.Add(time.Minute), "alice")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	history, err := h.History(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].EventKind != domain.EventTaskBlocked || history[0].Priority != domain.PriorityHigh {
		t.Fatalf("expected newest first with high priority block, got %+v", history)
	}
	if history[1].Priority != domain.PriorityNormal || history[0].Read {
		t.Fatalf("unexpected older notification: %+v", history[1])
	}
	n, err := h.UnreadCount(ctx, "alice")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 unread, got %d %v", n, err)
	}
}

func TestPublishWithoutTargetsIsNoop(t *testing.T) {
	h := newTestHub(t, Options{}, "alice")
	items, err := h.Publish(context.Background(), event(domain.EventMessagePosted, time.Now()))
	if err != nil || len(items) != 0 {
		t.Fatalf("expected nothing created, got %v %v", items, err)
	}
}

func TestMarkReadIsScopedToOwner(t *testing.T) {
	h := newTestHub(t, Options{}, "alice", "bob")
	ctx := context.Background()
	items, err := h.Publish(ctx, event(domain.EventLeaveDecision, time.Now(), "alice"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	var nf domain.NotFoundError
	if err := h.MarkRead(ctx, items[0].ID, "bob"); !errors.As(err, &nf) {
		t.Fatalf("expected not found for foreign notification, got %v", err)
	}
	if err := h.MarkRead(ctx, items[0].ID, "alice"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := h.MarkRead(ctx, items[0].ID, "alice"); err != nil {
		t.Fatalf("mark read twice: %v", err)
	}
	unread, err := h.Unread(ctx, "alice", 10)
	if err != nil || len(unread) != 0 {
		t.Fatalf("expected no unread, got %v %v", unread, err)
	}
}

func TestConnectReplacesPreviousSink(t *testing.T) {
	h := newTestHub(t, Options{}, "alice")
	ctx := context.Background()
	first := h.Connect("alice")
	second := h.Connect("alice")
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatalf("previous sink should be closed")
	}
	if h.Connections() != 1 {
		t.Fatalf("expected one connection, got %d", h.Connections())
	}
	if _, err := h.Publish(ctx, event(domain.EventEscalation, time.Now(), "alice")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case n := <-second.C():
		if n.Priority != domain.PriorityUrgent {
			t.Fatalf("expected urgent escalation, got %s", n.Priority)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected push on the newest sink")
	}
	first.Close()
	if !h.Connected("alice") {
		t.Fatalf("closing a stale sink must not drop the newer one")
	}
	second.Close()
	if h.Connected("alice") {
		t.Fatalf("expected alice disconnected")
	}
}

func TestFullSinkDropsOldest(t *testing.T) {
	h := newTestHub(t, Options{SinkBuffer: 2}, "alice")
	ctx := context.Background()
	sink := h.Connect("alice")
	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 4; i++ {
		items, err := h.Publish(ctx, event(domain.EventTaskCommented, base.Add(time.Duration(i)*time.Second), "alice"))
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		ids = append(ids, items[0].ID)
	}
	got := []string{(<-sink.C()).ID, (<-sink.C()).ID}
	if got[0] != ids[2] || got[1] != ids[3] {
		t.Fatalf("expected the two newest in the sink, got %v want %v", got, ids[2:])
	}
	history, err := h.History(ctx, "alice", 10)
	if err != nil || len(history) != 4 {
		t.Fatalf("dropped pushes must stay in history: %d %v", len(history), err)
	}
}

func TestRunDrainsBusOnClose(t *testing.T) {
	h := newTestHub(t, Options{}, "alice")
	bus := events.NewBus(zerolog.Nop())
	sub := bus.Subscribe("notify")
	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background(), sub) }()
	for i := 0; i < 5; i++ {
		bus.Publish(event(domain.EventTaskStatusChanged, time.Now(), "alice"))
	}
	bus.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after bus close")
	}
	n, err := h.UnreadCount(context.Background(), "alice")
	if err != nil || n != 5 {
		t.Fatalf("expected all queued events persisted, got %d %v", n, err)
	}
}


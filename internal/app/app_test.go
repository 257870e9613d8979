package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"opsline/internal/config"
	"opsline/internal/domain"
	"opsline/internal/engine"
)

func TestCloseKeepsAtRiskAlertsFromSweep(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		dir := t.TempDir()
		a, err := Open(ctx, dir, config.Default(), zerolog.Nop())
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		a.StartConsumers(ctx)
		for _, u := range []engine.UserCreateOptions{
			{ID: "mgr", FullName: "Mona Manager", Email: "mgr@example.com", Role: domain.RoleManager},
			{ID: "sec", FullName: "Sam Secretary", Email: "sec@example.com", Role: domain.RoleSecretary},
		} {
			if _, err := a.Engine.CreateUser(ctx, u); err != nil {
				t.Fatalf("create user %s: %v", u.ID, err)
			}
		}
		now := time.Now()
		m, err := a.Engine.CreateMeeting(ctx, engine.MeetingCreateOptions{
			Title:        "Standup",
			Agenda:       "status",
			Date:         now.Add(time.Hour),
			Participants: []string{"sec"},
			ActorID:      "sec",
		})
		if err != nil {
			t.Fatalf("create meeting: %v", err)
		}
		moved, err := a.Engine.SweepAtRisk(ctx, now, 24*time.Hour)
		if err != nil || moved != 1 {
			t.Fatalf("sweep moved=%d err=%v", moved, err)
		}
		if err := a.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		reopened, err := Open(ctx, dir, config.Default(), zerolog.Nop())
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		items, err := reopened.Hub.History(ctx, "mgr", 50)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		found := false
		for _, n := range items {
			if n.EventKind == domain.EventMeetingAtRisk && n.EntityID == m.ID {
				found = true
			}
		}
		if err := reopened.Close(); err != nil {
			t.Fatalf("close reopened: %v", err)
		}
		if !found {
			t.Fatalf("run %d: manager alert for %s missing after close, history=%+v", i, m.ID, items)
		}
	}
}

func TestCloseWithoutConsumers(t *testing.T) {
	a, err := Open(context.Background(), t.TempDir(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// Package app assembles the runtime: database, engine, event bus and the
// consumers that fan committed events out to notifications and escalations.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"opsline/internal/config"
	"opsline/internal/dashboard"
	"opsline/internal/db"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/escalation"
	"opsline/internal/events"
	"opsline/internal/migrate"
	"opsline/internal/notify"
)

type App struct {
	Config    *config.Config
	DB        *sql.DB
	Log       zerolog.Logger
	Bus       *events.Bus
	Engine    engine.Engine
	Hub       *notify.Hub
	Router    *escalation.Router
	Dashboard dashboard.Aggregator

	started   bool
	hubSub    events.Subscription
	routerSub events.Subscription
	hub       errgroup.Group
	router    errgroup.Group
}

// Open opens and migrates the workspace database, seeds configured users and
// wires the components together. Consumers are not started.
func Open(ctx context.Context, workspace string, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	bus := events.NewBus(log)
	eng := engine.New(conn, bus, log)
	router := escalation.New(eng.Repo, bus, log)
	router.AutoAtRisk = cfg.Escalation.AutoAtRisk
	a := &App{
		Config: cfg,
		DB:     conn,
		Log:    log,
		Bus:    bus,
		Engine: eng,
		Hub: notify.NewHub(eng.Repo, log, notify.Options{
			SinkBuffer:   cfg.Notifications.SinkBuffer,
			HistoryLimit: cfg.Notifications.HistoryLimit,
		}),
		Router:    router,
		Dashboard: dashboard.Aggregator{Repo: eng.Repo},
	}
	if err := a.seedUsers(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) seedUsers(ctx context.Context) error {
	for _, u := range a.Config.Users {
		_, err := a.Engine.CreateUser(ctx, engine.UserCreateOptions{
			ID:       u.ID,
			FullName: u.FullName,
			Email:    u.Email,
			Role:     u.Role,
		})
		var conflict domain.ConflictError
		if errors.As(err, &conflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		a.Log.Info().Str("user_id", u.ID).Str("role", u.Role).Msg("seeded user")
	}
	return nil
}

// StartConsumers subscribes the notification hub and the escalation router
// to the bus. They run until Close.
func (a *App) StartConsumers(ctx context.Context) {
	if a.started {
		return
	}
	a.started = true
	a.hubSub = a.Bus.Subscribe("notify")
	a.routerSub = a.Bus.Subscribe("escalation")
	a.hub.Go(func() error { return a.Hub.Run(ctx, a.hubSub) })
	a.router.Go(func() error { return a.Router.Run(ctx, a.routerSub) })
}

// Close shuts consumers down in order and closes the database. The router
// publishes derived events back onto the bus, so it drains first while the
// hub is still subscribed; the bus closes only after that.
func (a *App) Close() error {
	a.Hub.CloseAll()
	var errs []error
	if a.started {
		a.routerSub.Drain()
		errs = append(errs, a.router.Wait())
	}
	a.Bus.Close()
	if a.started {
		errs = append(errs, a.hub.Wait())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}

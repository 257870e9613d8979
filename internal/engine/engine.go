package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"opsline/internal/domain"
	"opsline/internal/engine/auth"
	"opsline/internal/events"
	"opsline/internal/repo"
)

// Publisher receives events after the mutation that produced them commits.
type Publisher interface {
	Publish(evt domain.Event)
}

// Engine is the only writer of workflow entities. Every operation runs in a
// single transaction under the lock of the entity it mutates and publishes
// its events only after commit.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Bus    Publisher
	Log    zerolog.Logger
	Now    func() time.Time

	locks *entityLocks
}

func New(db *sql.DB, bus Publisher, log zerolog.Logger) Engine {
	return Engine{
		DB:    db,
		Repo:  repo.Repo{DB: db},
		Bus:   bus,
		Log:   log.With().Str("component", "engine").Logger(),
		locks: newEntityLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// record appends to the event log using the engine clock unless the writer has its own.
func (e Engine) record(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// sharedLocks serves engines built as literals rather than through New.
var sharedLocks = newEntityLocks()

// lock serializes mutations of one entity instance.
func (e Engine) lock(kind, id string) func() {
	l := e.locks
	if l == nil {
		l = sharedLocks
	}
	return l.lock(kind + ":" + id)
}

// commit commits tx and then publishes evts. Publishing cannot fail the operation.
func (e Engine) commit(tx *sql.Tx, evts ...domain.Event) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if e.Bus == nil {
		return nil
	}
	for _, evt := range evts {
		if evt.OccurredAt.IsZero() {
			evt.OccurredAt = e.now()
		}
		e.Bus.Publish(evt)
	}
	return nil
}

// authorize loads actorID and checks its role. Failures are logged with the
// action so the generic error returned to callers stays opaque.
func (e Engine) authorize(ctx context.Context, actorID, action string, roles ...string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.Log.Warn().Str("action", action).Str("actor_id", actorID).Msg("unknown actor denied")
			return u, domain.AuthorizationError{Action: action}
		}
		return u, err
	}
	if err := auth.Require(u, action, roles...); err != nil {
		e.Log.Warn().Str("action", action).Str("actor_id", actorID).Str("role", u.Role).Msg("role check failed")
		return u, err
	}
	return u, nil
}

func (e Engine) managers(ctx context.Context, tx *sql.Tx) ([]string, error) {
	ids, err := e.Repo.UserIDsByRoleTx(ctx, tx, domain.RoleManager)
	if err != nil {
		return nil, fmt.Errorf("resolve managers: %w", err)
	}
	return ids, nil
}

// notFound converts repo.ErrNotFound into a typed NotFoundError.
func notFound(err error, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundError{Entity: entity, ID: id}
	}
	return err
}

func newID() string {
	return uuid.NewString()
}

func unionIDs(groups ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, g := range groups {
		for _, id := range g {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

// UserCreateOptions are parameters for creating a user.
type UserCreateOptions struct {
	ID       string
	FullName string
	Email    string
	Role     string
	// ActorID must be a manager when set. Bootstrap paths leave it empty.
	ActorID string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if opts.ActorID != "" {
		if _, err := e.authorize(ctx, opts.ActorID, auth.ActionCreateUser, domain.RoleManager); err != nil {
			return domain.User{}, err
		}
	}
	u := domain.User{
		ID:       strings.TrimSpace(opts.ID),
		FullName: strings.TrimSpace(opts.FullName),
		Email:    strings.ToLower(strings.TrimSpace(opts.Email)),
		Role:     strings.TrimSpace(opts.Role),
	}
	if u.FullName == "" {
		return domain.User{}, domain.Invalid("full_name", "full name is required")
	}
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return domain.User{}, domain.Invalid("email", "a valid email is required")
	}
	if !domain.ValidRole(u.Role) {
		return domain.User{}, domain.Invalid("role", "role must be one of %s", strings.Join(domain.Roles, ", "))
	}
	if u.ID == "" {
		u.ID = newID()
	}
	u.CreatedAt = e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetUserTx(ctx, tx, u.ID); err == nil {
		return domain.User{}, domain.ConflictError{Entity: "user", ID: u.ID, State: "exists", Message: fmt.Sprintf("user %s already exists", u.ID)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	if existing, err := e.Repo.GetUserByEmailTx(ctx, tx, u.Email); err == nil {
		return domain.User{}, domain.ConflictError{Entity: "user", ID: existing.ID, State: "exists", Message: fmt.Sprintf("email %s is already registered", u.Email)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.record(ctx, tx, "user.created", "user", u.ID, opts.ActorID, events.EventPayload{"role": u.Role}); err != nil {
		return domain.User{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, id)
	return u, notFound(err, "user", id)
}

func (e Engine) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx, role)
}

// EventLog returns audit entries newest first. Managers only.
func (e Engine) EventLog(ctx context.Context, actorID string, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.EventRecord, error) {
	if _, err := e.authorize(ctx, actorID, auth.ActionReadEventLog, domain.RoleManager); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, limit, cursor, evtType, entityKind, entityID)
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskbridge/internal/config"
	"taskbridge/internal/db"
	"taskbridge/internal/domain"
	"taskbridge/internal/engine/auth"
	"taskbridge/internal/events"
	"taskbridge/internal/lock"
	"taskbridge/internal/repo"
)

// SystemActor is recorded on events written by scheduled sweeps.
var SystemActor = domain.Actor{ID: "system", Role: domain.RoleAdmin}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Locks  lock.Locker
	Now    func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config, locks lock.Locker) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if locks == nil {
		locks = lock.NewLocal()
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	return Engine{
		DB:     conn,
		Repo:   r,
		Events: events.Writer{Repo: r},
		Config: cfg,
		Locks:  locks,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Clock returns the engine's current time.
func (e Engine) Clock() time.Time {
	return e.now()
}

// emit appends one event stamped with the engine clock.
func (e Engine) emit(ctx context.Context, q repo.Queryer, evtType, orgID, entityKind, entityID string, actor domain.Actor, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	if err := w.Append(ctx, q, evtType, orgID, entityKind, entityID, actor.ID, payload); err != nil {
		return fmt.Errorf("append %s: %w", evtType, err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

// inTx runs fn in a transaction. A committed error commits before being returned.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		var c committed
		if errors.As(err, &c) {
			if cerr := tx.Commit(); cerr != nil {
				return cerr
			}
			return c.err
		}
		return err
	}
	return tx.Commit()
}

// withTask serialises fn with every other mutation of taskID. The lock is always
// taken before the transaction opens and released after it ends.
func (e Engine) withTask(ctx context.Context, taskID string, fn func(tx *sql.Tx) error) error {
	unlock, err := e.Locks.Lock(ctx, "task:"+taskID)
	if err != nil {
		return fmt.Errorf("lock task %s: %w", taskID, err)
	}
	defer unlock()
	return e.inTx(ctx, fn)
}

func (e Engine) loadTask(ctx context.Context, q repo.Queryer, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, q, id)
	if err != nil {
		return t, notFound(err, "task", id)
	}
	return t, nil
}

// transitionTask applies the task state machine to t in memory.
func transitionTask(t *domain.Task, to domain.TaskStatus) error {
	if t.Status.Terminal() {
		return ruleErr(KindTerminalState, fmt.Sprintf("task %s is %s", t.ID, t.Status),
			map[string]any{"task_id": t.ID, "status": t.Status, "target": to})
	}
	if !t.Status.CanTransition(to) {
		return ruleErr(KindInvalidTransition, fmt.Sprintf("task %s cannot move %s -> %s", t.ID, t.Status, to),
			map[string]any{"task_id": t.ID, "status": t.Status, "target": to})
	}
	t.Status = to
	return nil
}

func forbidden(err error) error {
	if err == nil {
		return nil
	}
	var (
		fe auth.ForbiddenError
		oe auth.OwnershipError
	)
	switch {
	case errors.As(err, &fe):
		return ruleErr(KindForbidden, err.Error(), map[string]any{"permission": string(fe.Permission)})
	case errors.As(err, &oe):
		return ruleErr(KindForbidden, err.Error(), map[string]any{"owner": oe.OwnerID})
	}
	return ruleErr(KindForbidden, err.Error(), nil)
}

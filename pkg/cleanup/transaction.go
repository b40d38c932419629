package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/rosiehq/rosie/pkg/engine"
)

// State is the position of a resource in its retirement.
type State string

const (
	// StatePendingDelete is the initial state: nothing has been touched.
	StatePendingDelete State = "pending_delete"

	// StateBackedUp means the description is staged in the backup store.
	StateBackedUp State = "backed_up"

	// StateDeleted means the native delete succeeded and the backup awaits commit.
	StateDeleted State = "deleted"

	// StateCommitted means the backup is committed. The resource is retired.
	StateCommitted State = "committed"

	// StateError is terminal. The resource could not be retired.
	StateError State = "error"
)

// IsTerminal returns true if no further step can run.
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateError
}

// Transaction retires one resource. Steps must run in order: Backup,
// Delete, Commit. A step called out of order fails with
// engine.ErrInvalidTransition and leaves the state unchanged.
type Transaction struct {
	Kind       engine.Kind
	Name       string
	ClassLabel string

	state  State
	staged engine.StagedBackup
	backup *engine.BackupObject
	err    error
}

// NewTransaction starts a transaction in StatePendingDelete.
func NewTransaction(kind engine.Kind, name, classLabel string) *Transaction {
	return &Transaction{Kind: kind, Name: name, ClassLabel: classLabel, state: StatePendingDelete}
}

// State returns the current state.
func (t *Transaction) State() State { return t.state }

// Err returns the failure recorded by the transaction, if any.
func (t *Transaction) Err() error { return t.err }

// Backup returns the committed backup once the transaction is committed.
func (t *Transaction) Backup() *engine.BackupObject { return t.backup }

// StagedLocation returns where the uncommitted backup data lives, or the
// committed location once the transaction is committed.
func (t *Transaction) StagedLocation() string {
	if t.backup != nil {
		return t.backup.Location
	}
	if t.staged != nil {
		return t.staged.StagingLocation()
	}
	return ""
}

func (t *Transaction) expect(want State, step string) error {
	if t.state != want {
		return fmt.Errorf("cannot %s %s %s in state %s: %w", step, t.Kind, t.Name, t.state, engine.ErrInvalidTransition)
	}
	return nil
}

func (t *Transaction) fail(err error) error {
	t.state = StateError
	t.err = err
	return err
}

// Stage describes the resource and stages its backup for date.
func (t *Transaction) Stage(ctx context.Context, c engine.Collector, store engine.BackupStore, date time.Time) error {
	if err := t.expect(StatePendingDelete, "back up"); err != nil {
		return err
	}

	desc, err := c.Describe(ctx, t.Name)
	if err != nil {
		if engine.IsNotFound(err) {
			return t.fail(engine.NewNotFoundError(t.Kind, t.Name))
		}
		return t.fail(engine.NewIsolatedError("failed to describe resource", err).
			WithCode(engine.ErrCodeDescribe).WithResource(t.Kind, t.Name))
	}
	if desc.ClassLabel == "" {
		desc.ClassLabel = t.ClassLabel
	}

	staged, err := store.Stage(ctx, desc, date)
	if err != nil {
		return t.fail(engine.NewIsolatedError("failed to stage backup", err).
			WithCode(engine.ErrCodeBackupFailed).WithResource(t.Kind, t.Name))
	}
	t.staged = staged
	t.state = StateBackedUp
	return nil
}

// Delete issues the native delete. On failure the staged backup is discarded.
func (t *Transaction) Delete(ctx context.Context, c engine.Collector) error {
	if err := t.expect(StateBackedUp, "delete"); err != nil {
		return err
	}

	if err := c.Delete(ctx, t.Name); err != nil {
		rerr := engine.NewIsolatedError("failed to delete resource", err).
			WithCode(engine.ErrCodeDeleteFailed).WithResource(t.Kind, t.Name)
		if derr := t.staged.Discard(ctx); derr != nil {
			rerr = rerr.WithDetail("discard_error", derr.Error())
		}
		t.staged = nil
		return t.fail(rerr)
	}
	t.state = StateDeleted
	return nil
}

// Commit publishes the staged backup.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.expect(StateDeleted, "commit"); err != nil {
		return err
	}

	obj, err := t.staged.Commit(ctx)
	if err != nil {
		return t.fail(engine.NewIsolatedError("failed to commit backup", err).
			WithCode(engine.ErrCodeBackupFailed).WithResource(t.Kind, t.Name).
			WithDetail("staged_location", t.staged.StagingLocation()))
	}
	t.backup = obj
	t.state = StateCommitted
	return nil
}

// Abort discards any staged backup and marks the transaction failed with err.
func (t *Transaction) Abort(ctx context.Context, err error) error {
	if t.state.IsTerminal() {
		return t.expect(StatePendingDelete, "abort")
	}
	if t.staged != nil && t.state == StateBackedUp {
		_ = t.staged.Discard(ctx)
		t.staged = nil
	}
	return t.fail(err)
}

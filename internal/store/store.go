// Package store defines the boundary between the task views and whatever
// backend persists tasks.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gurkanbulca/taskboard/internal/models"
)

var (
	// ErrUnauthenticated is returned by mutating calls when no identity is signed in.
	ErrUnauthenticated = errors.New("user not authenticated")
	// ErrNotFound is surfaced when the backend has no task with the given id.
	ErrNotFound = errors.New("task not found")
)

// BackendError wraps a transport or server failure from the persistence
// collaborator.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: backend failure: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendFailure reports whether err is a BackendError.
func IsBackendFailure(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// Unsubscribe tears down a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// SnapshotFunc receives the full current task set of the signed-in user.
type SnapshotFunc func(tasks []models.Task)

// TaskStore is the contract views use to read and write tasks.
//
// Read paths (GetTasks, GetTask, SubscribeToTasks) never return errors: they
// log failures through the implementation's own channel and degrade to an
// empty result. Mutating calls return errors to the caller.
type TaskStore interface {
	// GetTasks returns all tasks of the current identity, or an empty slice.
	GetTasks(ctx context.Context) []models.Task

	// SubscribeToTasks calls fn once with the initial snapshot and again with
	// the full set after every change. Without an identity fn is called once
	// with an empty slice and the returned Unsubscribe does nothing.
	//
	// Implementations may hold locks while fn runs, so fn must not call the
	// returned Unsubscribe or a mutating method of the store. To stop from
	// inside fn, cancel ctx; the subscription ends once fn has returned.
	SubscribeToTasks(ctx context.Context, fn SnapshotFunc) Unsubscribe

	// AddTask stores a new task. With an empty ID the store assigns an id and
	// creation time; with an ID set it upserts that id and keeps CreatedAt
	// (falling back to now when CreatedAt is zero).
	AddTask(ctx context.Context, task models.Task) (models.Task, error)

	// UpdateTask persists the mutable fields of an existing task.
	UpdateTask(ctx context.Context, task models.Task) (models.Task, error)

	// DeleteTask removes a task. Deleting a missing id is not an error.
	DeleteTask(ctx context.Context, id string) error

	// GetTask looks up one task. ok is false when the task is missing, the
	// user is signed out or the backend failed.
	GetTask(ctx context.Context, id string) (task models.Task, ok bool)
}

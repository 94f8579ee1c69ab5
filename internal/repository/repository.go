// Package repository persists users and tasks. Queries are built with the
// ent SQL builder for the connection's dialect and executed through sqlx.
package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrIDTaken is returned when an upsert targets a task id that belongs to
	// another user.
	ErrIDTaken = errors.New("task id belongs to another user")
	// ErrEmailTaken is returned when registering an address that exists.
	ErrEmailTaken = errors.New("email already registered")
)

// rollback aborts tx and keeps err as the primary error.
func rollback(tx *sqlx.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		err = fmt.Errorf("%w: %v", err, rerr)
	}
	return err
}

// dbTime normalizes timestamps before they are written. Postgres keeps
// microseconds, so finer precision would not round-trip.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func dbTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := dbTime(*t)
	return &v
}

// Package store declares the persistence boundary of the reconciliation
// engine. Implementations live in subpackages: gormstore for PostgreSQL and
// SQLite, memstore for tests and dry runs.
package store

import (
	"context"
	"errors"

	"attendcal/internal/model"
)

// ErrNotFound is returned when a session or attendance id does not exist.
var ErrNotFound = errors.New("store: not found")

// SessionStore is the persisted set of sessions and their attendance rows.
// Every method writes through immediately; WithinTx groups several calls in
// one transaction.
type SessionStore interface {
	// FindExact returns the sessions of year with exactly the slot's bounds.
	FindExact(ctx context.Context, year string, slot model.Slot) ([]model.Session, error)
	// FindMergedCovering returns merged sessions of year spanning slot.
	FindMergedCovering(ctx context.Context, year string, slot model.Slot) ([]model.Session, error)
	// FindOverlapping returns sessions of year whose window intersects slot
	// (half-open) on the same date.
	FindOverlapping(ctx context.Context, year string, slot model.Slot) ([]model.Session, error)
	// ListByYear returns every session of year ordered by date then start.
	ListByYear(ctx context.Context, year string) ([]model.Session, error)

	// HasPresent reports whether the session has a Present attendance.
	HasPresent(ctx context.Context, sessionID string) (bool, error)
	// Attendances returns the attendance rows of the session.
	Attendances(ctx context.Context, sessionID string) ([]model.Attendance, error)

	// Create inserts the session together with s.Attendances.
	Create(ctx context.Context, s *model.Session) error
	// Update applies the change set to the session.
	Update(ctx context.Context, sessionID string, c model.Changes) error
	// Delete removes the session and its attendance rows.
	Delete(ctx context.Context, sessionID string) error

	// SaveAttendance inserts or updates one attendance row by id.
	SaveAttendance(ctx context.Context, a *model.Attendance) error
	// DeleteAttendance removes one attendance row.
	DeleteAttendance(ctx context.Context, attendanceID string) error

	// WithinTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx SessionStore) error) error
}

// RosterProvider lists the students enrolled in a year.
type RosterProvider interface {
	StudentsForYear(ctx context.Context, year string) ([]model.StudentID, error)
}

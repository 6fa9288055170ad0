package reconcile

import (
	"errors"
	"fmt"
	"time"

	"attendcal/internal/model"
)

// Run modes.
const (
	ModeScheduled = "scheduled"
	ModeManual    = "manual"
)

// ReconciliationError is a store failure while processing one slot or the
// cleanup sweep. Processing continues with the next slot.
type ReconciliationError struct {
	Year string
	Slot model.Slot
	Op   string
	Err  error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s %s: %s: %v", e.Year, e.Slot, e.Op, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// Report is the structured outcome of one run for one year.
type Report struct {
	Year string
	Mode string

	Slots        int // candidates processed
	Created      int
	Recreated    int // exact matches replaced because their display changed
	Updated      int // display-only updates in place
	Unchanged    int
	Covered      int // slots already spanned by a merged session
	Deleted      int // overlap removals and cleanup deletions
	Protected    int // deletions or recreations skipped by a guard
	Consolidated int // sessions absorbed by the consolidation pass

	// Errors holds per-slot failures; they do not stop the run.
	Errors []*ReconciliationError
	// Err is the failure that aborted the run (fetch, parse, consolidation).
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether the run completed without any failure.
func (r *Report) OK() bool {
	return r.Err == nil && len(r.Errors) == 0
}

// Error joins every failure of the run, or returns nil.
func (r *Report) Error() error {
	errs := make([]error, 0, len(r.Errors)+1)
	if r.Err != nil {
		errs = append(errs, r.Err)
	}
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

func (r *Report) fail(year string, slot model.Slot, op string, err error) {
	r.Errors = append(r.Errors, &ReconciliationError{Year: year, Slot: slot, Op: op, Err: err})
}

// Package reconcile applies a year's canonical slot set to the session store.
//
// Merged sessions (model.Session.IsMerged) keep their bounds and flag forever
// and are never deleted; sessions holding a Present attendance are never
// deleted. Both rules are checked before a mutation is built.
package reconcile

import (
	"context"
	"crypto/rand"
	"fmt"
	"iter"
	"math/big"
	"slices"
	"time"

	"github.com/google/uuid"

	appLog "attendcal/internal/log"
	"attendcal/internal/model"
	"attendcal/internal/slot"
	"attendcal/internal/store"
)

// Engine reconciles candidates for one year at a time. It is not safe to run
// two reconciliations of the same year concurrently.
type Engine struct {
	Store  store.SessionStore
	Roster store.RosterProvider

	// Now and Location define "today" for the cleanup sweep.
	Now      func() time.Time
	Location *time.Location

	// StrictPresentGuard keeps an exact match that holds a Present attendance
	// and updates its display fields in place instead of recreating it.
	StrictPresentGuard bool
}

// New returns an engine using the wall clock and strict Present guard.
func New(st store.SessionStore, roster store.RosterProvider, loc *time.Location) *Engine {
	return &Engine{
		Store:              st,
		Roster:             roster,
		Now:                time.Now,
		Location:           loc,
		StrictPresentGuard: true,
	}
}

// run carries the per-call state of Reconcile.
type run struct {
	*Engine
	year     string
	report   *Report
	imported map[model.Slot]struct{}

	roster    []model.StudentID
	rosterErr error
	rosterSet bool
}

// Reconcile processes every candidate, then sweeps stale sessions. Store
// failures are collected per slot into the report; nothing is rolled back.
func (e *Engine) Reconcile(ctx context.Context, year string, candidates iter.Seq[slot.Candidate]) *Report {
	r := &run{
		Engine:   e,
		year:     year,
		report:   &Report{Year: year, StartedAt: e.now()},
		imported: make(map[model.Slot]struct{}),
	}

	// Every slot of the run is known before the first write so that one
	// candidate never removes the session of another as an overlap.
	all := slices.Collect(candidates)
	for _, c := range all {
		r.imported[c.Slot] = struct{}{}
	}
	for _, c := range all {
		r.report.Slots++
		r.reconcileSlot(ctx, c)
	}
	r.cleanup(ctx)

	r.report.FinishedAt = e.now()
	appLog.Info("reconciliation finished",
		"year", year,
		"slots", r.report.Slots,
		"created", r.report.Created,
		"recreated", r.report.Recreated,
		"updated", r.report.Updated,
		"covered", r.report.Covered,
		"deleted", r.report.Deleted,
		"protected", r.report.Protected,
		"errors", len(r.report.Errors),
	)
	return r.report
}

func (r *run) reconcileSlot(ctx context.Context, c slot.Candidate) {
	covering, err := r.Store.FindMergedCovering(ctx, r.year, c.Slot)
	if err != nil {
		r.report.fail(r.year, c.Slot, "find merged covering", err)
		return
	}
	if len(covering) > 0 {
		r.report.Covered++
		for _, m := range covering {
			if m.SameDisplay(c.Info) {
				continue
			}
			if err := r.updateDisplay(ctx, m, c.Info); err != nil {
				r.report.fail(r.year, c.Slot, "update merged display", err)
			}
		}
		return
	}

	exact, err := r.Store.FindExact(ctx, r.year, c.Slot)
	if err != nil {
		r.report.fail(r.year, c.Slot, "find exact", err)
		return
	}
	recreate := false
	if match, ok := firstUnmerged(exact); ok {
		if match.SameDisplay(c.Info) {
			if c.Merged && !match.IsMerged {
				if err := r.markMerged(ctx, match); err != nil {
					r.report.fail(r.year, c.Slot, "mark merged", err)
				}
				return
			}
			r.report.Unchanged++
			return
		}

		if r.StrictPresentGuard {
			present, err := r.Store.HasPresent(ctx, match.ID)
			if err != nil {
				r.report.fail(r.year, c.Slot, "check present", err)
				return
			}
			if present {
				appLog.Warn("session has present attendance; updating display in place",
					"year", r.year, "slot", c.Slot.String(), "session", match.ID)
				r.report.Protected++
				if err := r.updateDisplay(ctx, match, c.Info); err != nil {
					r.report.fail(r.year, c.Slot, "update display", err)
				}
				return
			}
		}

		if err := r.Store.Delete(ctx, match.ID); err != nil {
			r.report.fail(r.year, c.Slot, "delete changed session", err)
			return
		}
		recreate = true
	}

	if err := r.removeOverlapping(ctx, c.Slot); err != nil {
		r.report.fail(r.year, c.Slot, "remove overlapping", err)
		return
	}
	if err := r.create(ctx, c); err != nil {
		r.report.fail(r.year, c.Slot, "create session", err)
		return
	}
	if recreate {
		r.report.Recreated++
	} else {
		r.report.Created++
	}
}

// updateDisplay writes the display fields of info onto s. Time bounds and
// the merge flag are stripped first when s is merged.
func (r *run) updateDisplay(ctx context.Context, s model.Session, info model.MergedEventInfo) error {
	changes, stripped := model.DisplayChanges(info).Protect(s)
	if stripped {
		appLog.Warn("protected fields stripped from session update", "session", s.ID)
	}
	if changes.Empty() {
		return nil
	}
	if err := r.Store.Update(ctx, s.ID, changes); err != nil {
		return err
	}
	r.report.Updated++
	return nil
}

// markMerged flags s as merged, which freezes its bounds from now on.
func (r *run) markMerged(ctx context.Context, s model.Session) error {
	merged := true
	changes, stripped := model.Changes{IsMerged: &merged}.Protect(s)
	if stripped || changes.Empty() {
		return nil
	}
	if err := r.Store.Update(ctx, s.ID, changes); err != nil {
		return err
	}
	r.report.Updated++
	return nil
}

// removeOverlapping deletes the non-merged sessions of the same date whose
// window intersects sl, keeping those with a Present attendance and those
// holding another slot imported by this run.
func (r *run) removeOverlapping(ctx context.Context, sl model.Slot) error {
	overlapping, err := r.Store.FindOverlapping(ctx, r.year, sl)
	if err != nil {
		return err
	}
	for _, o := range overlapping {
		if _, ok := r.imported[o.Slot()]; ok && o.Slot() != sl {
			continue
		}
		deleted, err := r.deleteIfAllowed(ctx, o)
		if err != nil {
			return err
		}
		if !deleted && !o.IsMerged {
			appLog.Warn("overlapping session kept: present attendance",
				"year", r.year, "slot", sl.String(), "session", o.ID, "session_slot", o.Slot().String())
		}
	}
	return nil
}

// deleteIfAllowed removes s unless it is merged or has a Present attendance.
func (r *run) deleteIfAllowed(ctx context.Context, s model.Session) (bool, error) {
	if s.IsMerged {
		return false, nil
	}
	present, err := r.Store.HasPresent(ctx, s.ID)
	if err != nil {
		return false, err
	}
	if !model.Deletable(s, present) {
		r.report.Protected++
		return false, nil
	}
	if err := r.Store.Delete(ctx, s.ID); err != nil {
		return false, err
	}
	r.report.Deleted++
	return true, nil
}

func (r *run) create(ctx context.Context, c slot.Candidate) error {
	students, err := r.students(ctx)
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	code, err := validationCode()
	if err != nil {
		return err
	}

	sess := &model.Session{
		Year:           r.year,
		Date:           c.Date,
		StartTime:      c.Start,
		EndTime:        c.End,
		Name:           c.Info.Name,
		Room:           c.Info.Room,
		Prof1:          presenterSlot(c.Info.Primary),
		Prof2:          presenterSlot(c.Info.Secondary),
		ValidationCode: code,
		IsMerged:       c.Merged,
		Attendances:    make([]model.Attendance, 0, len(students)),
	}
	for _, id := range students {
		sess.Attendances = append(sess.Attendances, model.Attendance{
			StudentID: id,
			Status:    model.StatusAbsent,
		})
	}

	if err := r.Store.Create(ctx, sess); err != nil {
		return err
	}
	appLog.Debug("session created",
		"year", r.year, "slot", c.Slot.String(), "session", sess.ID,
		"attendances", len(sess.Attendances), "merged", sess.IsMerged)
	return nil
}

// students loads the roster once per run.
func (r *run) students(ctx context.Context) ([]model.StudentID, error) {
	if !r.rosterSet {
		r.roster, r.rosterErr = r.Roster.StudentsForYear(ctx, r.year)
		r.rosterSet = true
	}
	return r.roster, r.rosterErr
}

// cleanup deletes sessions from today on that were not imported by this run,
// unless a guard or a covering merged session keeps them.
func (r *run) cleanup(ctx context.Context) {
	sessions, err := r.Store.ListByYear(ctx, r.year)
	if err != nil {
		r.report.fail(r.year, model.Slot{}, "cleanup list", err)
		return
	}

	today := model.DateOf(r.now().In(r.location()))
	for _, s := range sessions {
		if s.Date < today || s.IsMerged {
			continue
		}
		if _, ok := r.imported[s.Slot()]; ok {
			continue
		}
		if coveredByMerged(sessions, s) {
			continue
		}
		deleted, err := r.deleteIfAllowed(ctx, s)
		if err != nil {
			r.report.fail(r.year, s.Slot(), "cleanup delete", err)
			continue
		}
		if deleted {
			appLog.Debug("stale session deleted", "year", r.year, "session", s.ID, "slot", s.Slot().String())
		} else {
			appLog.Warn("stale session kept: present attendance", "year", r.year, "session", s.ID, "slot", s.Slot().String())
		}
	}
}

// coveredByMerged reports whether a merged session of the same date spans s.
func coveredByMerged(sessions []model.Session, s model.Session) bool {
	for _, m := range sessions {
		if m.IsMerged && m.ID != s.ID && m.Slot().Covers(s.Slot()) {
			return true
		}
	}
	return false
}

func firstUnmerged(sessions []model.Session) (model.Session, bool) {
	for _, s := range sessions {
		if !s.IsMerged {
			return s, true
		}
	}
	return model.Session{}, false
}

// presenterSlot gives a present presenter a fresh signature token.
func presenterSlot(p model.Presenter) model.PresenterSlot {
	if p.IsZero() {
		return model.PresenterSlot{}
	}
	return model.PresenterSlot{
		LastName:       p.LastName,
		FirstName:      p.FirstName,
		SignatureToken: uuid.NewString(),
	}
}

// validationCode returns a random 4-digit code.
func validationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("validation code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) location() *time.Location {
	if e.Location == nil {
		return time.Local
	}
	return e.Location
}

// Package consolidate merges chronologically adjacent sessions that describe
// the same teaching block into one merged session.
package consolidate

import (
	"context"
	"fmt"

	appLog "attendcal/internal/log"
	"attendcal/internal/model"
	"attendcal/internal/store"
)

// Gap is the break between two blocks of one session.
const Gap model.TimeOfDay = 15

// ConsolidationError wraps the failure that rolled back a pass.
type ConsolidationError struct {
	Year string
	Err  error
}

func (e *ConsolidationError) Error() string {
	return fmt.Sprintf("consolidate %s: %v", e.Year, e.Err)
}

func (e *ConsolidationError) Unwrap() error { return e.Err }

// Result summarizes one committed pass.
type Result struct {
	Year string
	// Merged is the number of sessions absorbed into a predecessor.
	Merged int
	// Moved counts attendance rows re-attached to the surviving session.
	Moved int
	// Reconciled counts surviving rows updated from a duplicate.
	Reconciled int
}

// MergeSameSessions runs one pass for year in a single transaction. On error
// nothing of the pass is kept.
//
// Sessions already merged when the pass starts are never extended nor
// absorbed. A session merged by this pass may keep absorbing successors.
func MergeSameSessions(ctx context.Context, st store.SessionStore, year string) (Result, error) {
	res := Result{Year: year}
	err := st.WithinTx(ctx, func(tx store.SessionStore) error {
		var err error
		res, err = pass(ctx, tx, year)
		return err
	})
	if err != nil {
		appLog.Error("consolidation rolled back", err, "year", year)
		return Result{Year: year}, &ConsolidationError{Year: year, Err: err}
	}
	if res.Merged > 0 {
		appLog.Info("consolidation committed", "year", year, "merged", res.Merged, "moved", res.Moved, "reconciled", res.Reconciled)
	}
	return res, nil
}

func pass(ctx context.Context, tx store.SessionStore, year string) (Result, error) {
	res := Result{Year: year}

	snapshot, err := tx.ListByYear(ctx, year)
	if err != nil {
		return res, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]model.Session, len(snapshot))
	copy(sessions, snapshot)

	consumed := make([]bool, len(sessions))
	for i := range sessions {
		s := sessions[i]
		if snapshot[i].IsMerged {
			continue
		}

		j := predecessor(sessions, snapshot, consumed, i)
		if j < 0 {
			continue
		}

		end, merged := s.EndTime, true
		changes, stripped := model.Changes{EndTime: &end, IsMerged: &merged}.Protect(snapshot[j])
		if stripped {
			appLog.Warn("consolidation skipped merged session", "session", sessions[j].ID)
			continue
		}
		if err := tx.Update(ctx, sessions[j].ID, changes); err != nil {
			return res, err
		}
		changes.Apply(&sessions[j])

		moved, reconciled, err := moveAttendances(ctx, tx, s.ID, sessions[j].ID)
		if err != nil {
			return res, err
		}
		if err := tx.Delete(ctx, s.ID); err != nil {
			return res, err
		}
		consumed[i] = true

		res.Merged++
		res.Moved += moved
		res.Reconciled += reconciled
		appLog.Debug("sessions consolidated",
			"year", year, "into", sessions[j].ID, "absorbed", s.ID, "slot", sessions[j].Slot().String())
	}
	return res, nil
}

// predecessor returns the index of the earlier session that s at i extends,
// or -1. Among matches the one ending latest wins.
func predecessor(sessions, snapshot []model.Session, consumed []bool, i int) int {
	s := sessions[i]
	best := -1
	for j := range i {
		c := sessions[j]
		if consumed[j] || snapshot[j].IsMerged {
			continue
		}
		if c.Date != s.Date || c.Name != s.Name || c.Room != s.Room || c.Prof1.Presenter() != s.Prof1.Presenter() {
			continue
		}
		if c.EndTime != s.StartTime-Gap {
			continue
		}
		if best < 0 || c.EndTime > sessions[best].EndTime {
			best = j
		}
	}
	return best
}

// moveAttendances re-attaches the rows of from onto to. When to already has
// a row for the student, Present wins and a comment fills an empty one; the
// duplicate row goes away with its session.
func moveAttendances(ctx context.Context, tx store.SessionStore, from, to string) (moved, reconciled int, err error) {
	target, err := tx.Attendances(ctx, to)
	if err != nil {
		return 0, 0, err
	}
	byStudent := make(map[model.StudentID]model.Attendance, len(target))
	for _, a := range target {
		byStudent[a.StudentID] = a
	}

	rows, err := tx.Attendances(ctx, from)
	if err != nil {
		return 0, 0, err
	}
	for _, row := range rows {
		keep, ok := byStudent[row.StudentID]
		if !ok {
			row.SessionID = to
			if err := tx.SaveAttendance(ctx, &row); err != nil {
				return moved, reconciled, err
			}
			moved++
			continue
		}

		if !resolve(&keep, row) {
			continue
		}
		if err := tx.SaveAttendance(ctx, &keep); err != nil {
			return moved, reconciled, err
		}
		reconciled++
	}
	return moved, reconciled, nil
}

// resolve folds dup into keep and reports whether keep changed.
func resolve(keep *model.Attendance, dup model.Attendance) bool {
	changed := false
	if dup.Status == model.StatusPresent && keep.Status != model.StatusPresent {
		keep.Status = model.StatusPresent
		changed = true
	}
	if keep.Comment == "" && dup.Comment != "" {
		keep.Comment = dup.Comment
		changed = true
	}
	return changed
}

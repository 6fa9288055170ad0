package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendcal/internal/model"
	"attendcal/internal/slot"
	"attendcal/internal/store"
	"attendcal/internal/store/memstore"
)

var paris = time.FixedZone("CET", 60*60)

func testEngine(t *testing.T, students int) (*Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	ids := make([]model.StudentID, students)
	for i := range ids {
		ids[i] = model.StudentID(fmt.Sprintf("s%02d", i))
	}
	st.SetRoster("3A", ids...)

	e := New(st, st, paris)
	e.Now = func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, paris) }
	return e, st
}

func candidate(date model.Date, sh, sm, eh, em int, name string, presenters ...model.Presenter) slot.Candidate {
	c := slot.Candidate{
		Slot: model.Slot{Date: date, Start: model.Clock(sh, sm), End: model.Clock(eh, em)},
		Info: model.MergedEventInfo{Name: name, Room: "B12"},
	}
	if len(presenters) > 0 {
		c.Info.Primary = presenters[0]
	}
	if len(presenters) > 1 {
		c.Info.Secondary = presenters[1]
	}
	return c
}

func seed(t *testing.T, st *memstore.Store, c slot.Candidate, merged bool, students ...model.StudentID) model.Session {
	t.Helper()
	s := &model.Session{
		Year:           "3A",
		Date:           c.Date,
		StartTime:      c.Start,
		EndTime:        c.End,
		Name:           c.Info.Name,
		Room:           c.Info.Room,
		Prof1:          model.PresenterSlot{LastName: c.Info.Primary.LastName, FirstName: c.Info.Primary.FirstName},
		Prof2:          model.PresenterSlot{LastName: c.Info.Secondary.LastName, FirstName: c.Info.Secondary.FirstName},
		ValidationCode: "1234",
		IsMerged:       merged,
	}
	for _, id := range students {
		s.Attendances = append(s.Attendances, model.Attendance{StudentID: id})
	}
	require.NoError(t, st.Create(context.Background(), s))
	return *s
}

func markPresent(t *testing.T, st store.SessionStore, sessionID string, student model.StudentID) {
	t.Helper()
	ctx := context.Background()
	rows, err := st.Attendances(ctx, sessionID)
	require.NoError(t, err)
	for _, a := range rows {
		if a.StudentID == student {
			a.Status = model.StatusPresent
			require.NoError(t, st.SaveAttendance(ctx, &a))
			return
		}
	}
	t.Fatalf("no attendance for %s on %s", student, sessionID)
}

func list(t *testing.T, st store.SessionStore) []model.Session {
	t.Helper()
	all, err := st.ListByYear(context.Background(), "3A")
	require.NoError(t, err)
	return all
}

var (
	martin = model.Presenter{LastName: "Martin", FirstName: "Anne"}
	durand = model.Presenter{LastName: "Durand", FirstName: "Paul"}
)

func TestReconcile_CreatesWithAttendanceFanOut(t *testing.T) {
	ctx := context.Background()
	e, st := testEngine(t, 42)

	two := candidate("2026-10-20", 9, 0, 10, 0, "Algo", martin, durand)
	one := candidate("2026-10-20", 14, 0, 16, 0, "Réseaux", martin)

	rep := e.Reconcile(ctx, "3A", slices.Values([]slot.Candidate{two, one}))
	require.True(t, rep.OK(), rep.Error())
	assert.Equal(t, 2, rep.Created)
	assert.Equal(t, 2, rep.Slots)

	all := list(t, st)
	require.Len(t, all, 2)

	for _, s := range all {
		rows, err := st.Attendances(ctx, s.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 42)
		for _, a := range rows {
			assert.Equal(t, model.StatusAbsent, a.Status)
		}
		assert.Regexp(t, `^\d{4}$`, s.ValidationCode)
		assert.NotEmpty(t, s.Prof1.SignatureToken)
		assert.False(t, s.IsMerged)
	}

	assert.NotEmpty(t, all[0].Prof2.SignatureToken)
	assert.NotEqual(t, all[0].Prof1.SignatureToken, all[0].Prof2.SignatureToken)
	assert.Empty(t, all[1].Prof2.SignatureToken)
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, st := testEngine(t, 3)

	feed := []slot.Candidate{
		candidate("2026-10-20", 9, 0, 10, 0, "Algo", martin),
		candidate("2026-10-21", 9, 0, 12, 0, "Algo / TP", martin, durand),
	}
	feed[1].Merged = true

	first := e.Reconcile(ctx, "3A", slices.Values(feed))
	require.True(t, first.OK())
	before := list(t, st)

	second := e.Reconcile(ctx, "3A", slices.Values(feed))
	require.True(t, second.OK())
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Deleted)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 1, second.Unchanged)
	assert.Equal(t, 1, second.Covered)

	after := list(t, st)
	assert.Equal(t, before, after)
	for _, s := range after {
		rows, err := st.Attendances(ctx, s.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	}
}

func TestReconcile_MergedSessionKeepsBoundsAndFlag(t *testing.T) {
	ctx := context.Background()
	e, st := testEngine(t, 1)

	merged := seed(t, st, candidate("2026-10-20", 8, 0, 12, 0, "Algo", martin), true)
	orphanMerged := seed(t, st, candidate("2026-10-22", 8, 0, 12, 0, "Gone", martin), true)

	inside := candidate("2026-10-20", 9, 0, 10, 0, "Algo avancée", durand)
	rep := e.Reconcile(ctx, "3A", slices.Values([]slot.Candidate{inside}))
	require.True(t, rep.OK())
	assert.Equal(t, 1, rep.Covered)
	assert.Equal(t, 1, rep.Updated)
	assert.Zero(t, rep.Created)

	all := list(t, st)
	require.Len(t, all, 2)

	got := all[0]
	assert.Equal(t, merged.ID, got.ID)
	assert.Equal(t, merged.StartTime, got.StartTime)
	assert.Equal(t, merged.EndTime, got.EndTime)
	assert.True(t, got.IsMerged)
	assert.Equal(t, "Algo avancée", got.Name)
	assert.Equal(t, durand, got.Prof1.Presenter())

	assert.Equal(t, orphanMerged.ID, all[1].ID)
	assert.True(t, all[1].IsMerged)
}

func TestReconcile_StaleCleanup(t *testing.T) {
	ctx := context.Background()
	e, st := testEngine(t, 0)

	stale := seed(t, st, candidate("2026-10-20", 9, 0, 10, 0, "Algo", martin), false, "s1")
	attended := seed(t, st, candidate("2026-10-21", 9, 0, 10, 0, "Algo", martin), false, "s1")
	markPresent(t, st, attended.ID, "s1")
	past := seed(t, st, candidate("2026-10-18", 9, 0, 10, 0, "Algo", martin), false)
	today := seed(t, st, candidate("2026-10-19", 14, 0, 15, 0, "Algo", martin), false)
	mergedSpan := seed(t, st, candidate("2026-10-23", 8, 0, 12, 0, "Algo", martin), true)
	covered := seed(t, st, candidate("2026-10-23", 9, 0, 10, 0, "Algo", martin), false)

	rep := e.Reconcile(ctx, "3A", slices.Values([]slot.Candidate{}))
	require.True(t, rep.OK())
	assert.Equal(t, 2, rep.Deleted)
	assert.Equal(t, 1, rep.Protected)

	var ids []string
	for _, s := range list(t, st) {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{attended.ID, past.ID, mergedSpan.ID, covered.ID}, ids)
	assert.NotContains(t, ids, stale.ID)
	assert.NotContains(t, ids, today.ID)
}

func TestReconcile_ExactMatchWithChangedDisplay(t *testing.T) {
	ctx := context.Background()
	fresh := candidate("2026-10-20", 9, 0, 10, 0, "Algo avancée", martin)

	t.Run("recreated without present attendance", func(t *testing.T) {
		e, st := testEngine(t, 2)
		old := seed(t, st, candidate("2026-10-20", 9, 0, 10, 0, "Algo", martin), false, "s00", "s01")

		rep := e.Reconcile(ctx, "3A", slices.Values([]slot.Candidate{fresh}))
		require.True(t, rep.OK())
		assert.Equal(t, 1, rep.Recreated)

		all := list(t, st)
		require.Len(t, all, 1)
		assert.NotEqual(t, old.ID, all[0].ID)
		assert.Equal(t, "Algo avancée", all[0].Name)
	})

	t.Run("updated in place with present attendance", func(t *testing.T) {
		e, st := testEngine(t, 2)
		old := seed(t, st, candidate("2026-10-20", 9, 0, 10, 0, "Algo", martin), false, "s00", "s01")
		markPresent(t, st, old.ID, "s00")

		rep := e.Reconcile(ctx, "3A", slices.Values([]slot.Candidate{fresh}))
		require.True(t, rep.OK())
		assert.Zero(t, rep.Recreated)
		assert.Equal(t, 1, rep.Protected)
		assert.Equal(t, 1, rep.Updated)

		all := list(t, st)
		require.Len(t, all, 1)
		assert.Equal(t, old.ID, all[0].ID)
		assert.Equal(t, "Algo avancée", all[0].Name)
		has, err := st.HasPresent(ctx, old.ID)
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("recreated when the guard is off", func(t *testing.T) {
		e, st := testEngine(t, 2)
		e.StrictPresentGuard = false
		old := seed(t, st, candidate("2026-10-20", 9, 0, 10, 0, "Algo", martin), false, "s00", "s01")
		markPresent(t, st, old.ID, "s00")

		rep := e.Reconcile(ctx, "3A", slices.Values([]slot.Candidate{fresh}))
		require.True(t, rep.OK())
		assert.Equal(t, 1, rep.Recreated)

		all := list(t, st)
		require.Len(t, all, 1)
		assert.NotEqual(t, old.ID, all[0].ID)
	})
}

func TestReconcile_OverlapRemoval(t *testing.T) {
	ctx := context.Background()
	e, st := testEngine(t, 1)

	gone := seed(t, st, candidate("2026-10-20", 9, 0, 10, 0, "Algo", martin), false)
	kept := seed(t, st, candidate("2026-10-20", 10, 0, 11, 0, "TP", martin), false, "s00")
	markPresent(t, st, kept.ID, "s00")
	touching := seed(t, st, candidate("2026-10-20", 11, 0, 12, 0, "Cours", martin), false)

	moved := candidate("2026-10-20", 9, 30, 11, 0, "Algo", martin)
	rep := e.Reconcile(ctx, "3A", slices.Values([]slot.Candidate{moved, candidate("2026-10-20", 11, 0, 12, 0, "Cours", martin)}))
	require.True(t, rep.OK())
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.Unchanged)
	assert.Equal(t, 1, rep.Deleted)

	var ids []string
	for _, s := range list(t, st) {
		ids = append(ids, s.ID)
	}
	assert.NotContains(t, ids, gone.ID)
	assert.Contains(t, ids, kept.ID)
	assert.Contains(t, ids, touching.ID)
	assert.Len(t, ids, 3)
}

func TestReconcile_OverlappingCandidatesKeepEachOther(t *testing.T) {
	ctx := context.Background()
	e, st := testEngine(t, 2)

	feed := []slot.Candidate{
		candidate("2026-10-20", 9, 0, 10, 0, "Algo", martin),
		candidate("2026-10-20", 9, 30, 10, 30, "Reseaux", durand),
	}
	first := e.Reconcile(ctx, "3A", slices.Values(feed))
	require.True(t, first.OK())
	assert.Equal(t, 2, first.Created)
	assert.Zero(t, first.Deleted)
	before := list(t, st)
	require.Len(t, before, 2)

	second := e.Reconcile(ctx, "3A", slices.Values(feed))
	require.True(t, second.OK())
	assert.Equal(t, 2, second.Unchanged)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Deleted)
	assert.Equal(t, before, list(t, st))
}

func TestReconcile_MergedCandidateFlagsExactMatch(t *testing.T) {
	ctx := context.Background()
	e, st := testEngine(t, 1)

	c := candidate("2026-10-20", 9, 0, 10, 30, "A / B", martin, durand)
	c.Merged = true
	stored := seed(t, st, c, false, "s00")

	rep := e.Reconcile(ctx, "3A", slices.Values([]slot.Candidate{c}))
	require.True(t, rep.OK())
	assert.Equal(t, 1, rep.Updated)
	assert.Zero(t, rep.Unchanged)
	assert.Zero(t, rep.Created)

	all := list(t, st)
	require.Len(t, all, 1)
	assert.Equal(t, stored.ID, all[0].ID)
	assert.True(t, all[0].IsMerged)
	assert.Equal(t, "1234", all[0].ValidationCode)

	again := e.Reconcile(ctx, "3A", slices.Values([]slot.Candidate{c}))
	require.True(t, again.OK())
	assert.Equal(t, 1, again.Covered)
	assert.Zero(t, again.Updated)
}

// failingCreate rejects every Create.
type failingCreate struct {
	*memstore.Store
}

var errCreate = errors.New("disk full")

func (f failingCreate) Create(context.Context, *model.Session) error { return errCreate }

func TestReconcile_SlotErrorsAreCollected(t *testing.T) {
	ctx := context.Background()
	e, st := testEngine(t, 1)
	e.Store = failingCreate{st}

	rep := e.Reconcile(ctx, "3A", slices.Values([]slot.Candidate{
		candidate("2026-10-20", 9, 0, 10, 0, "Algo", martin),
		candidate("2026-10-21", 9, 0, 10, 0, "Algo", martin),
	}))
	assert.False(t, rep.OK())
	require.Len(t, rep.Errors, 2)
	assert.Equal(t, 2, rep.Slots)

	var rerr *ReconciliationError
	require.ErrorAs(t, rep.Error(), &rerr)
	assert.Equal(t, "3A", rerr.Year)
	assert.ErrorIs(t, rep.Errors[0], errCreate)
}

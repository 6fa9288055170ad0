// Package memstore is an in-memory SessionStore and RosterProvider. It backs
// the engine tests and `attendcal sync --dry-run`.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"attendcal/internal/model"
	"attendcal/internal/store"
)

// Store keeps sessions, attendance rows and rosters in maps. It is safe for
// concurrent use; transactions are serialized and implemented by snapshot
// and restore.
type Store struct {
	txMu sync.Mutex

	mu          sync.Mutex
	sessions    map[string]model.Session // Attendances always nil
	attendances map[string]model.Attendance
	rosters     map[string][]model.StudentID
}

var (
	_ store.SessionStore   = (*Store)(nil)
	_ store.RosterProvider = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions:    make(map[string]model.Session),
		attendances: make(map[string]model.Attendance),
		rosters:     make(map[string][]model.StudentID),
	}
}

// SetRoster replaces the students enrolled in year.
func (s *Store) SetRoster(year string, ids ...model.StudentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rosters[year] = slices.Clone(ids)
}

func (s *Store) StudentsForYear(_ context.Context, year string) ([]model.StudentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rosters[year]), nil
}

func (s *Store) FindExact(ctx context.Context, year string, slot model.Slot) ([]model.Session, error) {
	return s.filter(func(x model.Session) bool {
		return x.Year == year && x.Slot() == slot
	}), nil
}

func (s *Store) FindMergedCovering(ctx context.Context, year string, slot model.Slot) ([]model.Session, error) {
	return s.filter(func(x model.Session) bool {
		return x.Year == year && x.IsMerged && x.Slot().Covers(slot)
	}), nil
}

func (s *Store) FindOverlapping(ctx context.Context, year string, slot model.Slot) ([]model.Session, error) {
	return s.filter(func(x model.Session) bool {
		return x.Year == year && x.Slot().Overlaps(slot)
	}), nil
}

func (s *Store) ListByYear(ctx context.Context, year string) ([]model.Session, error) {
	return s.filter(func(x model.Session) bool { return x.Year == year }), nil
}

func (s *Store) HasPresent(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attendances {
		if a.SessionID == sessionID && a.Status == model.StatusPresent {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Attendances(ctx context.Context, sessionID string) ([]model.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attendancesOf(sessionID), nil
}

func (s *Store) Create(ctx context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("create session %s: duplicate id", sess.ID)
	}

	seen := make(map[model.StudentID]bool, len(sess.Attendances))
	for _, a := range sess.Attendances {
		if seen[a.StudentID] {
			return fmt.Errorf("create session %s: duplicate attendance for student %s", sess.ID, a.StudentID)
		}
		seen[a.StudentID] = true
	}

	now := time.Now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	for i := range sess.Attendances {
		a := &sess.Attendances[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.SessionID = sess.ID
		if a.Status == "" {
			a.Status = model.StatusAbsent
		}
		a.CreatedAt, a.UpdatedAt = now, now
		s.attendances[a.ID] = *a
	}

	stored := *sess
	stored.Attendances = nil
	s.sessions[sess.ID] = stored
	return nil
}

func (s *Store) Update(ctx context.Context, sessionID string, c model.Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("update session %s: %w", sessionID, store.ErrNotFound)
	}
	c.Apply(&sess)
	sess.UpdatedAt = time.Now()
	s.sessions[sessionID] = sess
	return nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("delete session %s: %w", sessionID, store.ErrNotFound)
	}
	delete(s.sessions, sessionID)
	maps.DeleteFunc(s.attendances, func(_ string, a model.Attendance) bool {
		return a.SessionID == sessionID
	})
	return nil
}

func (s *Store) SaveAttendance(ctx context.Context, a *model.Attendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[a.SessionID]; !ok {
		return fmt.Errorf("save attendance: session %s: %w", a.SessionID, store.ErrNotFound)
	}
	for id, other := range s.attendances {
		if id != a.ID && other.SessionID == a.SessionID && other.StudentID == a.StudentID {
			return fmt.Errorf("save attendance: student %s already recorded on session %s", a.StudentID, a.SessionID)
		}
	}

	now := time.Now()
	if a.ID == "" {
		a.ID = uuid.NewString()
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.attendances[a.ID] = *a
	return nil
}

func (s *Store) DeleteAttendance(ctx context.Context, attendanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attendances[attendanceID]; !ok {
		return fmt.Errorf("delete attendance %s: %w", attendanceID, store.ErrNotFound)
	}
	delete(s.attendances, attendanceID)
	return nil
}

// WithinTx serializes transactions and restores the pre-transaction state
// when fn fails. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.SessionStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	sessions, attendances := maps.Clone(s.sessions), maps.Clone(s.attendances)
	s.mu.Unlock()

	if err := fn(txView{s}); err != nil {
		s.mu.Lock()
		s.sessions, s.attendances = sessions, attendances
		s.mu.Unlock()
		return err
	}
	return nil
}

// txView is the store as seen from inside a transaction.
type txView struct{ *Store }

func (t txView) WithinTx(ctx context.Context, fn func(tx store.SessionStore) error) error {
	return fn(t)
}

func (s *Store) filter(keep func(model.Session) bool) []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Session
	for _, x := range s.sessions {
		if keep(x) {
			out = append(out, x)
		}
	}
	slices.SortFunc(out, func(a, b model.Session) int {
		return cmp.Or(
			cmp.Compare(a.Date, b.Date),
			cmp.Compare(a.StartTime, b.StartTime),
			cmp.Compare(a.EndTime, b.EndTime),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}

func (s *Store) attendancesOf(sessionID string) []model.Attendance {
	var out []model.Attendance
	for _, a := range s.attendances {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Attendance) int {
		return cmp.Or(cmp.Compare(a.StudentID, b.StudentID), cmp.Compare(a.ID, b.ID))
	})
	return out
}

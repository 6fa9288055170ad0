// Package gormstore implements store.SessionStore and store.RosterProvider on
// gorm. PostgreSQL is the production dialect; SQLite serves local runs and
// tests.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"attendcal/internal/model"
	"attendcal/internal/store"
)

const attendanceBatchSize = 200

// Store wraps a *gorm.DB, either the pool or an open transaction.
type Store struct {
	db *gorm.DB
}

var (
	_ store.SessionStore   = (*Store)(nil)
	_ store.RosterProvider = (*Store)(nil)
)

// Open connects with the given driver ("postgres" or "sqlite") and migrates
// the schema. The migration is idempotent.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("open store: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if driver == "sqlite" {
		if err := configureSQLite(db); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	if err := db.AutoMigrate(&model.Student{}, &model.Session{}, &model.Attendance{}); err != nil {
		return nil, fmt.Errorf("open store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// New wraps an existing connection. The schema is assumed to be migrated.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ensureSQLiteDir creates the parent directory of a file DSN.
func ensureSQLiteDir(dsn string) error {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(dsn), 0o700)
}

// configureSQLite mirrors the pragmas the service needs: one writer,
// enforced foreign keys, and a busy timeout for lock contention.
func configureSQLite(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) StudentsForYear(ctx context.Context, year string) ([]model.StudentID, error) {
	var ids []model.StudentID
	err := s.db.WithContext(ctx).
		Model(&model.Student{}).
		Where("student_year = ?", year).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("students for year %s: %w", year, err)
	}
	return ids, nil
}

func (s *Store) FindExact(ctx context.Context, year string, slot model.Slot) ([]model.Session, error) {
	return s.find(ctx, "find exact",
		"session_year = ? AND session_date = ? AND start_time = ? AND end_time = ?",
		year, string(slot.Date), int(slot.Start), int(slot.End))
}

func (s *Store) FindMergedCovering(ctx context.Context, year string, slot model.Slot) ([]model.Session, error) {
	return s.find(ctx, "find merged covering",
		"session_year = ? AND session_date = ? AND is_merged = ? AND start_time <= ? AND end_time >= ?",
		year, string(slot.Date), true, int(slot.Start), int(slot.End))
}

func (s *Store) FindOverlapping(ctx context.Context, year string, slot model.Slot) ([]model.Session, error) {
	return s.find(ctx, "find overlapping",
		"session_year = ? AND session_date = ? AND start_time < ? AND end_time > ?",
		year, string(slot.Date), int(slot.End), int(slot.Start))
}

func (s *Store) ListByYear(ctx context.Context, year string) ([]model.Session, error) {
	return s.find(ctx, "list by year", "session_year = ?", year)
}

func (s *Store) find(ctx context.Context, op, query string, args ...any) ([]model.Session, error) {
	var out []model.Session
	err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("session_date, start_time, end_time, id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *Store) HasPresent(ctx context.Context, sessionID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.Attendance{}).
		Where("session_id = ? AND status = ?", sessionID, string(model.StatusPresent)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("has present %s: %w", sessionID, err)
	}
	return n > 0, nil
}

func (s *Store) Attendances(ctx context.Context, sessionID string) ([]model.Attendance, error) {
	var out []model.Attendance
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("student_id, id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("attendances %s: %w", sessionID, err)
	}
	return out, nil
}

// Create inserts the session and its attendance rows in one transaction.
func (s *Store) Create(ctx context.Context, sess *model.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	for i := range sess.Attendances {
		a := &sess.Attendances[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.SessionID = sess.ID
		if a.Status == "" {
			a.Status = model.StatusAbsent
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Attendances").Create(sess).Error; err != nil {
			return err
		}
		if len(sess.Attendances) == 0 {
			return nil
		}
		return tx.CreateInBatches(sess.Attendances, attendanceBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.Slot(), err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, sessionID string, c model.Changes) error {
	cols := changeColumns(c)
	if len(cols) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("id = ?", sessionID).
		Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update session %s: %w", sessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

// changeColumns maps a change set to column updates. Signature state is
// never part of a change set.
func changeColumns(c model.Changes) map[string]any {
	cols := make(map[string]any)
	if c.Name != nil {
		cols["name"] = *c.Name
	}
	if c.Room != nil {
		cols["room"] = *c.Room
	}
	if c.Prof1 != nil {
		cols["prof1_last_name"] = c.Prof1.LastName
		cols["prof1_first_name"] = c.Prof1.FirstName
	}
	if c.Prof2 != nil {
		cols["prof2_last_name"] = c.Prof2.LastName
		cols["prof2_first_name"] = c.Prof2.FirstName
	}
	if c.StartTime != nil {
		cols["start_time"] = int(*c.StartTime)
	}
	if c.EndTime != nil {
		cols["end_time"] = int(*c.EndTime)
	}
	if c.IsMerged != nil {
		cols["is_merged"] = *c.IsMerged
	}
	return cols
}

// Delete removes the attendance rows explicitly so that the cascade does not
// depend on the dialect's foreign key settings.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.Attendance{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", sessionID).Delete(&model.Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) SaveAttendance(ctx context.Context, a *model.Attendance) error {
	db := s.db.WithContext(ctx)
	var err error
	if a.ID == "" {
		a.ID = uuid.NewString()
		err = db.Create(a).Error
	} else {
		err = db.Save(a).Error
	}
	if err != nil {
		return fmt.Errorf("save attendance %s/%s: %w", a.SessionID, a.StudentID, err)
	}
	return nil
}

func (s *Store) DeleteAttendance(ctx context.Context, attendanceID string) error {
	res := s.db.WithContext(ctx).Where("id = ?", attendanceID).Delete(&model.Attendance{})
	if res.Error != nil {
		return fmt.Errorf("delete attendance %s: %w", attendanceID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete attendance %s: %w", attendanceID, store.ErrNotFound)
	}
	return nil
}

// WithinTx runs fn in a gorm transaction. Nested calls use savepoints.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.SessionStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

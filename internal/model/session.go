package model

import (
	"time"
)

// AttendanceStatus is the presence state of one student for one session.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "Present"
	StatusAbsent  AttendanceStatus = "Absent"
	StatusLate    AttendanceStatus = "Late"
)

// StudentID identifies a student of a roster.
type StudentID string

// PresenterSlot is a presenter identity together with its signature state.
type PresenterSlot struct {
	LastName       string `gorm:"size:120" json:"last_name"`
	FirstName      string `gorm:"size:120" json:"first_name"`
	Signature      []byte `json:"-"`
	SignatureToken string `gorm:"size:64" json:"-"`
	MailSent       bool   `gorm:"not null;default:false" json:"mail_sent"`
}

// Presenter returns the identity part of the slot.
func (p PresenterSlot) Presenter() Presenter {
	return Presenter{LastName: p.LastName, FirstName: p.FirstName}
}

// Session is one persisted teaching occurrence.
//
// A merged session (IsMerged) keeps its StartTime, EndTime and IsMerged for
// the lifetime of the record and is never deleted. A session holding a
// Present attendance is never deleted either.
type Session struct {
	ID   string `gorm:"primaryKey;size:36" json:"id"`
	Year string `gorm:"column:session_year;size:32;not null;index:idx_sessions_year_date,priority:1" json:"year"`
	Date Date   `gorm:"column:session_date;size:10;not null;index:idx_sessions_year_date,priority:2" json:"date"`

	StartTime TimeOfDay `gorm:"not null" json:"start_time"`
	EndTime   TimeOfDay `gorm:"not null" json:"end_time"`

	Name string `gorm:"size:500;not null" json:"name"`
	Room string `gorm:"size:255" json:"room"`

	Prof1 PresenterSlot `gorm:"embedded;embeddedPrefix:prof1_" json:"prof1"`
	Prof2 PresenterSlot `gorm:"embedded;embeddedPrefix:prof2_" json:"prof2"`

	ValidationCode string `gorm:"size:4;not null" json:"validation_code"`
	IsMerged       bool   `gorm:"not null;default:false" json:"is_merged"`

	Attendances []Attendance `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"attendances,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// Slot returns the timetable period of the session.
func (s Session) Slot() Slot {
	return Slot{Date: s.Date, Start: s.StartTime, End: s.EndTime}
}

// Info returns the display fields of the session in MergedEventInfo form.
func (s Session) Info() MergedEventInfo {
	return MergedEventInfo{
		Name:      s.Name,
		Room:      s.Room,
		Primary:   s.Prof1.Presenter(),
		Secondary: s.Prof2.Presenter(),
	}
}

// SameDisplay reports whether the session already shows info.
func (s Session) SameDisplay(info MergedEventInfo) bool {
	return s.Info() == info
}

// Attendance is the presence record of one student for one session.
type Attendance struct {
	ID        string           `gorm:"primaryKey;size:36" json:"id"`
	SessionID string           `gorm:"size:36;not null;uniqueIndex:uq_attendance_session_student,priority:1" json:"session_id"`
	StudentID StudentID        `gorm:"size:64;not null;uniqueIndex:uq_attendance_session_student,priority:2" json:"student_id"`
	Status    AttendanceStatus `gorm:"size:16;not null;default:Absent" json:"status"`
	Comment   string           `gorm:"type:text" json:"comment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Attendance) TableName() string { return "attendances" }

// Student is the roster view of a student. Student management lives outside
// this service; the table is only read.
type Student struct {
	ID        StudentID `gorm:"primaryKey;size:64" json:"id"`
	Year      string    `gorm:"column:student_year;size:32;not null;index" json:"year"`
	LastName  string    `gorm:"size:120" json:"last_name"`
	FirstName string    `gorm:"size:120" json:"first_name"`
}

func (Student) TableName() string { return "students" }

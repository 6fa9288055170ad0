package model

import (
	"fmt"
	"time"
)

// DateLayout is the canonical layout of Date values.
const DateLayout = "2006-01-02"

// Date is a local calendar day formatted as YYYY-MM-DD. Lexicographic order
// equals chronological order.
type Date string

// DateOf returns the Date of t in t's own location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// TimeOfDay is a wall-clock time expressed in minutes since local midnight.
type TimeOfDay int

// ClockOf returns the TimeOfDay of t in t's own location. Seconds are dropped.
func ClockOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// Clock builds a TimeOfDay from hours and minutes.
func Clock(h, m int) TimeOfDay {
	return TimeOfDay(h*60 + m)
}

// String formats the time as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Slot identifies one timetable period.
type Slot struct {
	Date  Date
	Start TimeOfDay
	End   TimeOfDay
}

func (s Slot) String() string {
	return string(s.Date) + " " + s.Start.String() + "-" + s.End.String()
}

// Overlaps reports whether the half-open windows [s.Start, s.End) and
// [o.Start, o.End) intersect on the same date.
func (s Slot) Overlaps(o Slot) bool {
	return s.Date == o.Date && s.Start < o.End && o.Start < s.End
}

// Covers reports whether s fully spans o on the same date.
func (s Slot) Covers(o Slot) bool {
	return s.Date == o.Date && s.Start <= o.Start && s.End >= o.End
}

// Presenter is a teaching staff member as extracted from the feed.
type Presenter struct {
	LastName  string
	FirstName string
}

func (p Presenter) IsZero() bool {
	return p.LastName == "" && p.FirstName == ""
}

func (p Presenter) String() string {
	if p.FirstName == "" {
		return p.LastName
	}
	return p.LastName + " " + p.FirstName
}

// RawEvent is one calendar entry after timezone normalization. It is never
// persisted.
type RawEvent struct {
	Slot

	UID        string
	Title      string
	Room       string
	Presenters []Presenter // at most two
}

// MergedEventInfo is the folded view of every RawEvent sharing a slot.
type MergedEventInfo struct {
	Name      string
	Room      string
	Primary   Presenter
	Secondary Presenter
}

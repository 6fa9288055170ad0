package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeOfDay(t *testing.T) {
	assert.Equal(t, "09:05", Clock(9, 5).String())
	assert.Equal(t, "00:00", TimeOfDay(0).String())

	ts := time.Date(2026, 10, 19, 14, 30, 59, 0, time.UTC)
	assert.Equal(t, Clock(14, 30), ClockOf(ts))
	assert.Equal(t, Date("2026-10-19"), DateOf(ts))
}

func TestSlotOverlapsHalfOpen(t *testing.T) {
	a := Slot{Date: "2026-10-20", Start: Clock(9, 0), End: Clock(10, 0)}
	b := Slot{Date: "2026-10-20", Start: Clock(9, 30), End: Clock(10, 30)}
	c := Slot{Date: "2026-10-20", Start: Clock(10, 0), End: Clock(11, 0)}
	d := Slot{Date: "2026-10-21", Start: Clock(9, 0), End: Clock(10, 0)}

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
	assert.False(t, a.Overlaps(c), "touching windows do not overlap")
	assert.False(t, a.Overlaps(d), "different dates never overlap")
}

func TestSlotCovers(t *testing.T) {
	outer := Slot{Date: "2026-10-20", Start: Clock(8, 0), End: Clock(12, 0)}
	assert.True(t, outer.Covers(Slot{Date: "2026-10-20", Start: Clock(8, 0), End: Clock(12, 0)}))
	assert.True(t, outer.Covers(Slot{Date: "2026-10-20", Start: Clock(9, 0), End: Clock(10, 0)}))
	assert.False(t, outer.Covers(Slot{Date: "2026-10-20", Start: Clock(11, 0), End: Clock(12, 30)}))
}

func TestChangesProtect(t *testing.T) {
	end := Clock(12, 0)
	merged := true
	c := DisplayChanges(MergedEventInfo{Name: "Algo"})
	c.EndTime = &end
	c.IsMerged = &merged

	kept, stripped := c.Protect(Session{IsMerged: false})
	assert.False(t, stripped)
	assert.Equal(t, &end, kept.EndTime)

	kept, stripped = c.Protect(Session{IsMerged: true})
	assert.True(t, stripped)
	assert.Nil(t, kept.EndTime)
	assert.Nil(t, kept.IsMerged)
	assert.Equal(t, "Algo", *kept.Name)
}

func TestChangesApply(t *testing.T) {
	s := Session{Name: "Old", StartTime: Clock(8, 0), EndTime: Clock(9, 0)}
	s.Prof1.SignatureToken = "tok"

	c := DisplayChanges(MergedEventInfo{
		Name:    "New",
		Room:    "B12",
		Primary: Presenter{LastName: "DUPONT", FirstName: "Jean"},
	})
	c.Apply(&s)

	assert.Equal(t, "New", s.Name)
	assert.Equal(t, "B12", s.Room)
	assert.Equal(t, "DUPONT", s.Prof1.LastName)
	assert.Equal(t, "tok", s.Prof1.SignatureToken, "signature state is not a display field")
	assert.Equal(t, Clock(9, 0), s.EndTime)
}

func TestDeletable(t *testing.T) {
	assert.True(t, Deletable(Session{}, false))
	assert.False(t, Deletable(Session{IsMerged: true}, false))
	assert.False(t, Deletable(Session{}, true))
}

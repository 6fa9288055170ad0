package ics

import (
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// maxOccurrencesPerEvent caps a single RRULE expansion.
const maxOccurrencesPerEvent = 1000

type window struct {
	start time.Time
	end   time.Time
}

// expandRule lists the occurrences of an RRULE entry that start inside
// [rangeStart, rangeEnd], keeping the base duration and honoring EXDATE.
// Timetable exports normally expand recurrences themselves; this only covers
// the entries that slip through unexpanded.
func expandRule(ve *ical.VEvent, rawRule string, start, end time.Time, rangeStart, rangeEnd time.Time) ([]window, error) {
	r, err := rrule.StrToRRule(rawRule)
	if err != nil {
		return nil, err
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := start.Location()
		if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				loc = l
			}
		}
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				set.ExDate(t.In(start.Location()))
			}
		}
	}

	occ := set.Between(rangeStart.In(start.Location()), rangeEnd.In(start.Location()), true)
	if len(occ) > maxOccurrencesPerEvent {
		occ = occ[:maxOccurrencesPerEvent]
	}

	dur := end.Sub(start)
	out := make([]window, 0, len(occ))
	for _, s := range occ {
		out = append(out, window{start: s, end: s.Add(dur)})
	}
	return out, nil
}

// parseICSTime parses a DATE-TIME value (UTC "Z" form or floating in loc).
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

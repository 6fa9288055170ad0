package ics

import (
	"bytes"
	"errors"
	"iter"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "attendcal/internal/log"
	"attendcal/internal/model"
)

// DefaultTitle is used for events without a SUMMARY.
const DefaultTitle = "Sans titre"

const defaultHorizon = 180 * 24 * time.Hour

// Parser turns ICS payloads into RawEvents in a single local timezone.
type Parser struct {
	// Location is the wall-clock zone sessions are expressed in.
	Location *time.Location

	// Now returns the current instant; events dated before its local day are
	// skipped. Defaults to time.Now.
	Now func() time.Time

	// PersonalWorkMarkers disable presenter extraction (self-study entries).
	PersonalWorkMarkers []string

	// BoilerplatePrefixes are DESCRIPTION lines never read as presenters.
	BoilerplatePrefixes []string

	// Horizon bounds expansion of RRULE entries the feed did not expand.
	Horizon time.Duration
}

// NewParser returns a Parser with the given settings and default clock.
func NewParser(loc *time.Location, markers, boilerplate []string, horizon time.Duration) *Parser {
	return &Parser{
		Location:            loc,
		Now:                 time.Now,
		PersonalWorkMarkers: markers,
		BoilerplatePrefixes: boilerplate,
		Horizon:             horizon,
	}
}

// Parse decodes body and returns a lazy sequence of RawEvents. Decoding the
// calendar itself happens eagerly so that a malformed payload is reported as
// a *FeedParseError before anything is reconciled; VEVENT conversion happens
// while the sequence is consumed. The order of events is not significant.
func (p *Parser) Parse(src Source, body []byte) (iter.Seq[model.RawEvent], error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &FeedParseError{SourceID: src.ID, Err: errors.New("empty ICS body")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID)
		return nil, &FeedParseError{SourceID: src.ID, Err: err}
	}

	loc := p.location()
	now := p.now().In(loc)
	today := model.DateOf(now)
	rangeStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	rangeEnd := rangeStart.Add(p.horizon())

	vevents := cal.Events()
	appLog.Debug("ics parse completed", "id", src.ID, "vevent_count", len(vevents))

	return func(yield func(model.RawEvent) bool) {
		for _, ve := range vevents {
			for _, ev := range p.convert(src, ve, today, rangeStart, rangeEnd) {
				if !yield(ev) {
					return
				}
			}
		}
	}, nil
}

// convert returns the RawEvents of one VEVENT: none when it lacks a start or
// end instant or lies before today, several when it carries an RRULE.
func (p *Parser) convert(src Source, ve *ical.VEvent, today model.Date, rangeStart, rangeEnd time.Time) []model.RawEvent {
	uid := propValue(ve, ical.ComponentPropertyUniqueId)

	if isAllDay(ve) {
		appLog.Debug("ics skip all-day event", "id", src.ID, "uid", uid)
		return nil
	}

	start, err := ve.GetStartAt()
	if err != nil {
		appLog.Debug("ics skip event without start", "id", src.ID, "uid", uid)
		return nil
	}
	end, err := ve.GetEndAt()
	if err != nil {
		appLog.Debug("ics skip event without end", "id", src.ID, "uid", uid)
		return nil
	}

	title := strings.TrimSpace(unescapeText(propValue(ve, ical.ComponentPropertySummary)))
	if title == "" {
		title = DefaultTitle
	}
	room := strings.TrimSpace(unescapeText(propValue(ve, ical.ComponentPropertyLocation)))

	var presenters []model.Presenter
	if !isPersonalWork(title, p.PersonalWorkMarkers) {
		presenters = extractPresenters(propValue(ve, ical.ComponentPropertyDescription), p.BoilerplatePrefixes)
	}

	windows := []window{{start: start, end: end}}
	if rule := propValue(ve, ical.ComponentPropertyRrule); rule != "" {
		windows, err = expandRule(ve, rule, start, end, rangeStart, rangeEnd)
		if err != nil {
			appLog.Error("ics rrule expansion failed; skipping event", err, "id", src.ID, "uid", uid, "rrule", rule)
			return nil
		}
	}

	loc := p.location()
	out := make([]model.RawEvent, 0, len(windows))
	for _, w := range windows {
		slot, ok := localSlot(w.start.In(loc), w.end.In(loc))
		if !ok || slot.Date < today {
			continue
		}
		out = append(out, model.RawEvent{
			Slot:       slot,
			UID:        uid,
			Title:      title,
			Room:       room,
			Presenters: presenters,
		})
	}
	return out
}

// localSlot converts a local [start, end) window to a Slot. Windows ending
// on a later day are clipped at midnight; empty windows are rejected.
func localSlot(start, end time.Time) (model.Slot, bool) {
	if !end.After(start) {
		return model.Slot{}, false
	}
	slot := model.Slot{
		Date:  model.DateOf(start),
		Start: model.ClockOf(start),
		End:   model.ClockOf(end),
	}
	if model.DateOf(end) != slot.Date {
		slot.End = model.TimeOfDay(24 * 60)
	}
	if slot.End <= slot.Start {
		return model.Slot{}, false
	}
	return slot, true
}

// isAllDay detects DATE-valued DTSTART, which has no start instant.
func isAllDay(ve *ical.VEvent) bool {
	prop := ve.GetProperty(ical.ComponentPropertyDtStart)
	if prop == nil {
		return false
	}
	if vs, ok := prop.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(prop.Value, "T")
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func (p *Parser) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func (p *Parser) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p *Parser) horizon() time.Duration {
	if p.Horizon <= 0 {
		return defaultHorizon
	}
	return p.Horizon
}

// Package slot groups calendar entries that share the exact same timetable
// period and folds them into one canonical description.
//
// Several entries with identical timing are how timetable exports represent
// one slot taught to sub-groups in parallel (two lab sections, for example).
package slot

import (
	"cmp"
	"iter"
	"maps"
	"slices"
	"strings"

	appLog "attendcal/internal/log"
	"attendcal/internal/model"
)

// Separator joins distinct names and rooms.
const Separator = " / "

// Candidate is one canonical slot ready for reconciliation. Merged is set
// when the slot results from an interval merge of several slots.
type Candidate struct {
	model.Slot
	Info   model.MergedEventInfo
	Merged bool
}

// Group buckets events by their exact (date, start, end) key.
func Group(events iter.Seq[model.RawEvent]) map[model.Slot][]model.RawEvent {
	groups := make(map[model.Slot][]model.RawEvent)
	for ev := range events {
		groups[ev.Slot] = append(groups[ev.Slot], ev)
	}
	return groups
}

// Fold merges every event of one slot. A single event passes through; for
// several, titles and rooms are unioned and the first two distinct presenter
// pairs become primary and secondary. Further presenters are dropped since a
// session only has two signature places.
func Fold(events []model.RawEvent) model.MergedEventInfo {
	var info model.MergedEventInfo
	switch len(events) {
	case 0:
		return info
	case 1:
		ev := events[0]
		info.Name, info.Room = ev.Title, ev.Room
		info.Primary, info.Secondary = firstTwo(ev.Presenters)
		return info
	}

	var presenters []model.Presenter
	for _, ev := range events {
		info.Name = JoinUnique(info.Name, ev.Title)
		info.Room = JoinUnique(info.Room, ev.Room)
		presenters = AppendPresenters(presenters, ev.Presenters...)
	}

	if len(presenters) > 2 {
		appLog.Debug("slot presenters dropped", "slot", events[0].Slot.String(), "dropped", len(presenters)-2)
	}
	info.Primary, info.Secondary = firstTwo(presenters)
	return info
}

// Candidates folds each group lazily and yields them in (date, start, end)
// order.
func Candidates(groups map[model.Slot][]model.RawEvent) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		for _, key := range slices.SortedFunc(maps.Keys(groups), CompareSlots) {
			if !yield(Candidate{Slot: key, Info: Fold(groups[key])}) {
				return
			}
		}
	}
}

// CompareSlots orders slots by date, start, then end.
func CompareSlots(a, b model.Slot) int {
	return cmp.Or(
		cmp.Compare(a.Date, b.Date),
		cmp.Compare(a.Start, b.Start),
		cmp.Compare(a.End, b.End),
	)
}

// JoinUnique appends the parts of add to base with Separator, skipping empty
// parts and parts already present.
func JoinUnique(base, add string) string {
	parts := splitParts(base)
	for _, p := range splitParts(add) {
		if !slices.Contains(parts, p) {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, Separator)
}

func splitParts(s string) []string {
	var out []string
	for _, p := range strings.Split(s, Separator) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AppendPresenters appends the non-zero presenters of add to list, skipping
// pairs already present.
func AppendPresenters(list []model.Presenter, add ...model.Presenter) []model.Presenter {
	for _, p := range add {
		if p.IsZero() || slices.Contains(list, p) {
			continue
		}
		list = append(list, p)
	}
	return list
}

func firstTwo(ps []model.Presenter) (model.Presenter, model.Presenter) {
	var a, b model.Presenter
	if len(ps) > 0 {
		a = ps[0]
	}
	if len(ps) > 1 {
		b = ps[1]
	}
	return a, b
}

// Package interval pre-consolidates one day of candidate slots before they
// reach the store. It is only used by the manual import path.
package interval

import (
	"maps"
	"slices"

	"attendcal/internal/model"
	"attendcal/internal/slot"
)

// ConsecutiveGap is the break between two back-to-back blocks of the same
// teaching session.
const ConsecutiveGap model.TimeOfDay = 15

// Apply runs the overlap merge then the consecutive merge independently for
// every date of candidates. The result is sorted by (date, start, end).
func Apply(candidates []slot.Candidate) []slot.Candidate {
	byDate := make(map[model.Date][]slot.Candidate)
	for _, c := range candidates {
		byDate[c.Date] = append(byDate[c.Date], c)
	}

	out := make([]slot.Candidate, 0, len(candidates))
	for _, date := range slices.Sorted(maps.Keys(byDate)) {
		out = append(out, MergeConsecutive(MergeOverlapping(byDate[date]))...)
	}
	return out
}

// MergeOverlapping collapses candidates whose half-open windows intersect.
// The first remaining candidate absorbs every other one it overlaps; since a
// merge widens it, the scan restarts after each absorption.
func MergeOverlapping(day []slot.Candidate) []slot.Candidate {
	remaining := sortedCopy(day)
	out := make([]slot.Candidate, 0, len(remaining))

	for len(remaining) > 0 {
		current := remaining[0]
		remaining = remaining[1:]

		for absorbed := true; absorbed; {
			absorbed = false
			for i, other := range remaining {
				if current.Start < other.End && other.Start < current.End {
					current = absorb(current, other)
					remaining = slices.Delete(remaining, i, i+1)
					absorbed = true
					break
				}
			}
		}
		out = append(out, current)
	}
	return out
}

// MergeConsecutive joins a candidate to the previous one when everything
// displayed is identical and it starts exactly ConsecutiveGap after the
// previous one ends.
func MergeConsecutive(day []slot.Candidate) []slot.Candidate {
	sorted := sortedCopy(day)
	if len(sorted) == 0 {
		return sorted
	}

	out := make([]slot.Candidate, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if next.Info == current.Info && next.Start == current.End+ConsecutiveGap {
			current.End = next.End
			current.Merged = true
			continue
		}
		out = append(out, current)
		current = next
	}
	return append(out, current)
}

// absorb merges other into current: names and rooms are unioned, presenters
// de-duplicated keeping the first two, and the window widened.
func absorb(current, other slot.Candidate) slot.Candidate {
	current.Info.Name = slot.JoinUnique(current.Info.Name, other.Info.Name)
	current.Info.Room = slot.JoinUnique(current.Info.Room, other.Info.Room)

	ps := slot.AppendPresenters(nil, current.Info.Primary, current.Info.Secondary, other.Info.Primary, other.Info.Secondary)
	current.Info.Primary, current.Info.Secondary = model.Presenter{}, model.Presenter{}
	if len(ps) > 0 {
		current.Info.Primary = ps[0]
	}
	if len(ps) > 1 {
		current.Info.Secondary = ps[1]
	}

	current.Start = min(current.Start, other.Start)
	current.End = max(current.End, other.End)
	current.Merged = true
	return current
}

func sortedCopy(day []slot.Candidate) []slot.Candidate {
	out := slices.Clone(day)
	slices.SortStableFunc(out, func(a, b slot.Candidate) int {
		return slot.CompareSlots(a.Slot, b.Slot)
	})
	return out
}

package model

// Changes is an explicit change set for one session. Nil fields are left
// untouched by the store.
type Changes struct {
	Name  *string
	Room  *string
	Prof1 *Presenter
	Prof2 *Presenter

	StartTime *TimeOfDay
	EndTime   *TimeOfDay
	IsMerged  *bool
}

// DisplayChanges builds the change set that makes a session show info. Time
// bounds and the merge flag are never part of it.
func DisplayChanges(info MergedEventInfo) Changes {
	name, room := info.Name, info.Room
	p1, p2 := info.Primary, info.Secondary
	return Changes{Name: &name, Room: &room, Prof1: &p1, Prof2: &p2}
}

// Empty reports whether applying c would be a no-op.
func (c Changes) Empty() bool {
	return c.Name == nil && c.Room == nil && c.Prof1 == nil && c.Prof2 == nil &&
		c.StartTime == nil && c.EndTime == nil && c.IsMerged == nil
}

// TouchesProtected reports whether c changes a field frozen on merged sessions.
func (c Changes) TouchesProtected() bool {
	return c.StartTime != nil || c.EndTime != nil || c.IsMerged != nil
}

// Protect returns c without the fields that may not change on snapshot. The
// second result is true when something was stripped.
func (c Changes) Protect(snapshot Session) (Changes, bool) {
	if !snapshot.IsMerged || !c.TouchesProtected() {
		return c, false
	}
	c.StartTime, c.EndTime, c.IsMerged = nil, nil, nil
	return c, true
}

// Apply writes c onto s in memory.
func (c Changes) Apply(s *Session) {
	if c.Name != nil {
		s.Name = *c.Name
	}
	if c.Room != nil {
		s.Room = *c.Room
	}
	if c.Prof1 != nil {
		s.Prof1.LastName, s.Prof1.FirstName = c.Prof1.LastName, c.Prof1.FirstName
	}
	if c.Prof2 != nil {
		s.Prof2.LastName, s.Prof2.FirstName = c.Prof2.LastName, c.Prof2.FirstName
	}
	if c.StartTime != nil {
		s.StartTime = *c.StartTime
	}
	if c.EndTime != nil {
		s.EndTime = *c.EndTime
	}
	if c.IsMerged != nil {
		s.IsMerged = *c.IsMerged
	}
}

// Deletable reports whether a session may be removed: merged sessions and
// sessions with a Present attendance are kept.
func Deletable(s Session, hasPresent bool) bool {
	return !s.IsMerged && !hasPresent
}

package availability

import "time"

// Window is a host's recurring availability for one weekday, as configured in
// the account service. FromTime and TillTime are wall-clock "HH:MM" values
// with no date attached.
type Window struct {
	Weekday  time.Weekday
	FromTime string
	TillTime string
	IsActive bool
}

// Interval is a half-open absolute time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [aStart,aEnd) and [bStart,bEnd) intersect.
// Half-open semantics: touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ResolveSlots returns the bookable start times on date for a meeting of the
// given duration, in ascending order. date anchors the window's wall-clock
// times; its location decides what "08:00" means. busy intervals come from
// the host's calendar; an empty slice means no known conflicts, not a free
// or blocked day. now is injected so past-slot filtering is deterministic.
//
// Candidate starts step from the window open by duration while start is
// before the window close. The window bounds slot starts, not ends: the last
// candidate may run past TillTime. A candidate survives only if it starts
// strictly after now and touches no busy interval.
func ResolveSlots(date time.Time, w Window, busy []Interval, duration time.Duration, now time.Time) []time.Time {
	if !w.IsActive || duration <= 0 {
		return nil
	}
	from, ok := onDate(date, w.FromTime)
	if !ok {
		return nil
	}
	till, ok := onDate(date, w.TillTime)
	if !ok {
		return nil
	}
	if !till.After(from) {
		return nil
	}

	var slots []time.Time
	for start := from; start.Before(till); start = start.Add(duration) {
		if !start.After(now) {
			continue
		}
		if overlapsAny(start, start.Add(duration), busy) {
			continue
		}
		slots = append(slots, start)
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

// FormatClock renders slot starts as wall-clock "HH:MM" strings for the
// booking page. Formatting stays out of ResolveSlots so the resolver itself
// is a pure function over absolute times.
func FormatClock(slots []time.Time) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Format("15:04"))
	}
	return out
}

// onDate pins a wall-clock "HH:MM" value to date's calendar day and location.
func onDate(date time.Time, clock string) (time.Time, bool) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), true
}

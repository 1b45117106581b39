package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(loc *time.Location) time.Time {
	return time.Date(2026, 3, 9, 0, 0, 0, 0, loc) // a Monday
}

func window(from, till string) Window {
	return Window{Weekday: time.Monday, FromTime: from, TillTime: till, IsActive: true}
}

func TestResolveSlots_FullDay(t *testing.T) {
	d := day(time.UTC)
	now := d.Add(7 * time.Hour) // 07:00, before the window opens

	slots := ResolveSlots(d, window("08:00", "18:00"), nil, 30*time.Minute, now)

	require.Len(t, slots, 20)
	assert.Equal(t, "08:00", slots[0].Format("15:04"))
	assert.Equal(t, "17:30", slots[len(slots)-1].Format("15:04"))
}

func TestResolveSlots_BusyIntervalExcluded(t *testing.T) {
	d := day(time.UTC)
	now := d.Add(7 * time.Hour)
	busy := []Interval{{Start: d.Add(9 * time.Hour), End: d.Add(9*time.Hour + 30*time.Minute)}}

	got := FormatClock(ResolveSlots(d, window("08:00", "18:00"), busy, 30*time.Minute, now))

	assert.NotContains(t, got, "09:00")
	assert.Contains(t, got, "08:30")
	assert.Contains(t, got, "09:30")
}

func TestResolveSlots_PastSlotsFiltered(t *testing.T) {
	d := day(time.UTC)
	now := d.Add(8*time.Hour + 45*time.Minute) // 08:45

	got := FormatClock(ResolveSlots(d, window("08:00", "18:00"), nil, 30*time.Minute, now))

	assert.NotContains(t, got, "08:00")
	assert.NotContains(t, got, "08:30")
	assert.Contains(t, got, "09:00")
}

func TestResolveSlots_StartEqualNowExcluded(t *testing.T) {
	d := day(time.UTC)
	now := d.Add(9 * time.Hour) // exactly 09:00

	got := FormatClock(ResolveSlots(d, window("08:00", "18:00"), nil, 30*time.Minute, now))

	assert.NotContains(t, got, "09:00")
	assert.Contains(t, got, "09:30")
}

func TestResolveSlots_EmptyResults(t *testing.T) {
	d := day(time.UTC)
	now := d.Add(7 * time.Hour)

	tests := []struct {
		name string
		w    Window
	}{
		{"inactive window", Window{Weekday: time.Monday, FromTime: "08:00", TillTime: "18:00"}},
		{"inverted window", window("18:00", "08:00")},
		{"zero-length window", window("08:00", "08:00")},
		{"malformed from time", window("8am", "18:00")},
		{"malformed till time", window("08:00", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, ResolveSlots(d, tt.w, nil, 30*time.Minute, now))
		})
	}
}

// The window bounds slot starts only: with a 45-minute meeting in an
// 08:00-09:00 window, 08:45 is still offered even though it ends 09:30.
func TestResolveSlots_FinalSlotNotClipped(t *testing.T) {
	d := day(time.UTC)
	now := d.Add(7 * time.Hour)

	got := FormatClock(ResolveSlots(d, window("08:00", "09:00"), nil, 45*time.Minute, now))

	assert.Equal(t, []string{"08:00", "08:45"}, got)
}

func TestResolveSlots_OverlapVariants(t *testing.T) {
	d := day(time.UTC)
	now := d.Add(7 * time.Hour)
	slotStart := d.Add(10 * time.Hour) // the 10:00-10:30 candidate

	tests := []struct {
		name     string
		busy     Interval
		excluded bool
	}{
		{"slot starts inside busy", Interval{Start: slotStart.Add(-15 * time.Minute), End: slotStart.Add(15 * time.Minute)}, true},
		{"slot ends inside busy", Interval{Start: slotStart.Add(15 * time.Minute), End: slotStart.Add(45 * time.Minute)}, true},
		{"busy inside slot", Interval{Start: slotStart.Add(10 * time.Minute), End: slotStart.Add(20 * time.Minute)}, true},
		{"slot inside busy", Interval{Start: slotStart.Add(-time.Hour), End: slotStart.Add(time.Hour)}, true},
		{"busy ends at slot start", Interval{Start: slotStart.Add(-time.Hour), End: slotStart}, false},
		{"busy starts at slot end", Interval{Start: slotStart.Add(30 * time.Minute), End: slotStart.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatClock(ResolveSlots(d, window("08:00", "18:00"), []Interval{tt.busy}, 30*time.Minute, now))
			if tt.excluded {
				assert.NotContains(t, got, "10:00")
			} else {
				assert.Contains(t, got, "10:00")
			}
		})
	}
}

func TestResolveSlots_Properties(t *testing.T) {
	d := day(time.UTC)
	now := d.Add(11*time.Hour + 7*time.Minute)
	busy := []Interval{
		{Start: d.Add(13 * time.Hour), End: d.Add(14*time.Hour + 10*time.Minute)},
		{Start: d.Add(16*time.Hour + 5*time.Minute), End: d.Add(16*time.Hour + 20*time.Minute)},
	}
	w := window("08:00", "18:00")
	duration := 25 * time.Minute

	slots := ResolveSlots(d, w, busy, duration, now)
	require.NotEmpty(t, slots)

	from := d.Add(8 * time.Hour)
	for i, s := range slots {
		// Every start is window-open plus a whole number of durations.
		offset := s.Sub(from)
		assert.Zero(t, offset%duration, "slot %s not aligned", s)
		// Strictly future.
		assert.True(t, s.After(now), "slot %s not after now", s)
		// No busy overlap under half-open semantics.
		for _, b := range busy {
			assert.False(t, Overlaps(s, s.Add(duration), b.Start, b.End), "slot %s overlaps busy %v", s, b)
		}
		// Ascending order.
		if i > 0 {
			assert.True(t, slots[i-1].Before(s))
		}
	}

	// Pure function: identical inputs, identical output.
	again := ResolveSlots(d, w, busy, duration, now)
	assert.Equal(t, slots, again)
}

func TestResolveSlots_HonorsLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	d := day(loc)
	now := d.Add(7 * time.Hour)
	slots := ResolveSlots(d, window("08:00", "10:00"), nil, 30*time.Minute, now)

	require.NotEmpty(t, slots)
	assert.Equal(t, loc, slots[0].Location())
	assert.Equal(t, "08:00", slots[0].Format("15:04"))
}

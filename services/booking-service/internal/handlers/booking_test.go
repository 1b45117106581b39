package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedulux/schedulux/services/booking-service/internal/accounts"
	"github.com/schedulux/schedulux/services/booking-service/internal/availability"
	"github.com/schedulux/schedulux/services/booking-service/internal/calendar"
)

type fakeAccounts struct {
	profile  accounts.PublicProfile
	ctxb     accounts.BookingContext
	account  accounts.Account
	err      error
	notFound bool
}

func (f *fakeAccounts) GetPublicProfile(_ context.Context, _ string) (accounts.PublicProfile, error) {
	if f.notFound {
		return accounts.PublicProfile{}, accounts.ErrNotFound
	}
	return f.profile, f.err
}

func (f *fakeAccounts) GetBookingContext(_ context.Context, _, _ string, _ time.Weekday) (accounts.BookingContext, error) {
	if f.notFound {
		return accounts.BookingContext{}, accounts.ErrNotFound
	}
	return f.ctxb, f.err
}

func (f *fakeAccounts) GetAccount(_ context.Context, _ string) (accounts.Account, error) {
	if f.notFound {
		return accounts.Account{}, accounts.ErrNotFound
	}
	return f.account, f.err
}

type fakeCalendar struct {
	busy        []calendar.BusyPeriod
	busyErr     error
	events      []calendar.Event
	listErr     error
	created     []calendar.CreateEventRequest
	createErr   error
	deleted     []string
	nextEventID string
}

func (f *fakeCalendar) GetFreeBusy(_ context.Context, _ string, _, _ time.Time, _ []string) ([]calendar.BusyPeriod, error) {
	if f.busyErr != nil {
		return nil, f.busyErr
	}
	return f.busy, nil
}

func (f *fakeCalendar) ListEvents(_ context.Context, _, _ string, start, end time.Time) ([]calendar.Event, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []calendar.Event
	for _, evt := range f.events {
		if evt.Start.Before(end) && start.Before(evt.End) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (f *fakeCalendar) GetEvent(_ context.Context, _, _, eventID string) (calendar.Event, error) {
	for _, evt := range f.events {
		if evt.ID == eventID {
			return evt, nil
		}
	}
	return calendar.Event{}, calendar.ErrEventNotFound
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _, _ string, req calendar.CreateEventRequest) (calendar.Event, error) {
	if f.createErr != nil {
		return calendar.Event{}, f.createErr
	}
	f.created = append(f.created, req)
	id := f.nextEventID
	if id == "" {
		id = "evt-1"
	}
	evt := calendar.Event{
		ID:           id,
		Title:        req.Title,
		Start:        req.Start,
		End:          req.End,
		Status:       "confirmed",
		Participants: req.Participants,
	}
	f.events = append(f.events, evt)
	return evt, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _, _, eventID string) error {
	for i, evt := range f.events {
		if evt.ID == eventID {
			f.events = append(f.events[:i], f.events[i+1:]...)
			f.deleted = append(f.deleted, eventID)
			return nil
		}
	}
	return calendar.ErrEventNotFound
}

func testContext() accounts.BookingContext {
	return accounts.BookingContext{
		UserID:     "user-1",
		Username:   "jane",
		FullName:   "Jane Doe",
		Timezone:   "UTC",
		GrantID:    "grant-1",
		GrantEmail: "jane@example.com",
		EventType: accounts.EventType{
			ID:              "et-1",
			Title:           "Intro Call",
			URL:             "intro-call",
			DurationMinutes: 30,
			Active:          true,
		},
		Window: availability.Window{
			Weekday:  time.Monday,
			FromTime: "09:00",
			TillTime: "17:00",
			IsActive: true,
		},
	}
}

func newTestHandler(acc accounts.Provider, cal calendar.API, now time.Time) *BookingHandler {
	h := NewBookingHandler(nil, nil, acc, cal, slog.New(slog.NewTextHandler(testWriter{}, nil)))
	h.now = func() time.Time { return now }
	return h
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// A Monday; the handler clock is injected so the date never goes stale.
var testDay = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func TestSlots_FullDay(t *testing.T) {
	h := newTestHandler(&fakeAccounts{ctxb: testContext()}, &fakeCalendar{}, testDay)

	rec := httptest.NewRecorder()
	h.Slots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?username=jane&event_url=intro-call&date=2026-03-02", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp slotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "UTC", resp.Timezone)
	assert.Equal(t, 30, resp.DurationMinutes)
	assert.Len(t, resp.Slots, 16)
	assert.Equal(t, "09:00", resp.Slots[0])
	assert.Equal(t, "16:30", resp.Slots[len(resp.Slots)-1])
}

func TestSlots_BusyIntervalsExcluded(t *testing.T) {
	cal := &fakeCalendar{busy: []calendar.BusyPeriod{{
		Start: testDay.Add(10 * time.Hour),
		End:   testDay.Add(11 * time.Hour),
	}}}
	h := newTestHandler(&fakeAccounts{ctxb: testContext()}, cal, testDay)

	rec := httptest.NewRecorder()
	h.Slots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?username=jane&event_url=intro-call&date=2026-03-02", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp slotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotContains(t, resp.Slots, "10:00")
	assert.NotContains(t, resp.Slots, "10:30")
	assert.Contains(t, resp.Slots, "09:30")
	assert.Contains(t, resp.Slots, "11:00")
}

// A free-busy outage must not blank the booking page.
func TestSlots_FreeBusyErrorFailsOpen(t *testing.T) {
	cal := &fakeCalendar{busyErr: errors.New("provider down")}
	h := newTestHandler(&fakeAccounts{ctxb: testContext()}, cal, testDay)

	rec := httptest.NewRecorder()
	h.Slots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?username=jane&event_url=intro-call&date=2026-03-02", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp slotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Slots, 16)
}

func TestSlots_InactiveWindowEmpty(t *testing.T) {
	ctxb := testContext()
	ctxb.Window.IsActive = false
	h := newTestHandler(&fakeAccounts{ctxb: ctxb}, &fakeCalendar{}, testDay)

	rec := httptest.NewRecorder()
	h.Slots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?username=jane&event_url=intro-call&date=2026-03-02", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp slotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Slots)
}

func TestSlots_UnknownEventType(t *testing.T) {
	h := newTestHandler(&fakeAccounts{notFound: true}, &fakeCalendar{}, testDay)

	rec := httptest.NewRecorder()
	h.Slots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?username=jane&event_url=nope&date=2026-03-02", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSlots_MissingParams(t *testing.T) {
	h := newTestHandler(&fakeAccounts{ctxb: testContext()}, &fakeCalendar{}, testDay)

	rec := httptest.NewRecorder()
	h.Slots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?username=jane", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublicProfile(t *testing.T) {
	acc := &fakeAccounts{profile: accounts.PublicProfile{
		Username: "jane",
		FullName: "Jane Doe",
		Timezone: "UTC",
		EventTypes: []accounts.EventType{
			{ID: "et-1", Title: "Intro Call", URL: "intro-call", DurationMinutes: 30, Active: true},
		},
	}}
	h := newTestHandler(acc, &fakeCalendar{}, testDay)

	rec := httptest.NewRecorder()
	h.PublicProfile(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/profile?username=jane", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp accounts.PublicProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "jane", resp.Username)
	require.Len(t, resp.EventTypes, 1)
	assert.Equal(t, "intro-call", resp.EventTypes[0].URL)
}

func TestMeetings_ListsUpcoming(t *testing.T) {
	now := testDay.Add(8 * time.Hour)
	cal := &fakeCalendar{events: []calendar.Event{
		{ID: "evt-1", Title: "Intro Call: Sam", Start: now.Add(2 * time.Hour), End: now.Add(2*time.Hour + 30*time.Minute), Status: "confirmed"},
	}}
	acc := &fakeAccounts{account: accounts.Account{
		UserID: "user-1", Username: "jane", Timezone: "UTC",
		GrantID: "grant-1", GrantEmail: "jane@example.com",
	}}
	h := newTestHandler(acc, cal, now)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/meetings", nil)
	req.Header.Set("X-User-Id", "user-1")
	rec := httptest.NewRecorder()
	h.Meetings(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var items []meetingItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "evt-1", items[0].EventID)
}

func TestMeetings_RequiresUser(t *testing.T) {
	h := newTestHandler(&fakeAccounts{}, &fakeCalendar{}, testDay)

	rec := httptest.NewRecorder()
	h.Meetings(rec, httptest.NewRequest(http.MethodGet, "/api/v1/meetings", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlotTaken_DetectsOverlap(t *testing.T) {
	ctxb := testContext()
	start := testDay.Add(10 * time.Hour)
	end := start.Add(30 * time.Minute)

	cases := []struct {
		name  string
		evt   calendar.Event
		taken bool
	}{
		{"exact match", calendar.Event{ID: "a", Start: start, End: end, Status: "confirmed"}, true},
		{"partial overlap", calendar.Event{ID: "b", Start: start.Add(15 * time.Minute), End: end.Add(15 * time.Minute), Status: "confirmed"}, true},
		{"containing", calendar.Event{ID: "c", Start: start.Add(-time.Hour), End: end.Add(time.Hour), Status: "confirmed"}, true},
		{"touching before", calendar.Event{ID: "d", Start: start.Add(-30 * time.Minute), End: start, Status: "confirmed"}, false},
		{"touching after", calendar.Event{ID: "e", Start: end, End: end.Add(30 * time.Minute), Status: "confirmed"}, false},
		{"cancelled overlap", calendar.Event{ID: "f", Start: start, End: end, Status: "cancelled"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cal := &fakeCalendar{events: []calendar.Event{tc.evt}}
			h := newTestHandler(&fakeAccounts{ctxb: ctxb}, cal, testDay)

			taken, err := h.slotTaken(context.Background(), ctxb, start, end)
			require.NoError(t, err)
			assert.Equal(t, tc.taken, taken)
		})
	}
}

// Once an event lands on the calendar, a second check of the same slot must
// report a conflict even though the first check saw it free.
func TestSlotTaken_SecondBookingSeesFirst(t *testing.T) {
	ctxb := testContext()
	start := testDay.Add(10 * time.Hour)
	end := start.Add(30 * time.Minute)
	cal := &fakeCalendar{}
	h := newTestHandler(&fakeAccounts{ctxb: ctxb}, cal, testDay)

	taken, err := h.slotTaken(context.Background(), ctxb, start, end)
	require.NoError(t, err)
	assert.False(t, taken)

	_, err = cal.CreateEvent(context.Background(), ctxb.GrantID, ctxb.GrantEmail, calendar.CreateEventRequest{
		Title: "Intro Call: Sam", Start: start, End: end,
	})
	require.NoError(t, err)

	taken, err = h.slotTaken(context.Background(), ctxb, start, end)
	require.NoError(t, err)
	assert.True(t, taken)
}

// A provider read failure must propagate: the booking path never creates
// blind.
func TestSlotTaken_ProviderErrorFailsClosed(t *testing.T) {
	ctxb := testContext()
	cal := &fakeCalendar{listErr: errors.New("provider down")}
	h := newTestHandler(&fakeAccounts{ctxb: ctxb}, cal, testDay)

	_, err := h.slotTaken(context.Background(), ctxb, testDay.Add(10*time.Hour), testDay.Add(10*time.Hour+30*time.Minute))
	require.Error(t, err)
}

func TestSlotStart(t *testing.T) {
	w := availability.Window{Weekday: time.Monday, FromTime: "09:00", TillTime: "17:00", IsActive: true}
	dur := 30 * time.Minute

	start, ok := slotStart(testDay, w, "10:30", dur)
	require.True(t, ok)
	assert.Equal(t, testDay.Add(10*time.Hour+30*time.Minute), start)

	// Unaligned.
	_, ok = slotStart(testDay, w, "10:15", dur)
	assert.False(t, ok)

	// Before the window.
	_, ok = slotStart(testDay, w, "08:30", dur)
	assert.False(t, ok)

	// At the window end.
	_, ok = slotStart(testDay, w, "17:00", dur)
	assert.False(t, ok)

	// The last grid start before the window end is valid even when the
	// meeting runs past it.
	start, ok = slotStart(testDay, availability.Window{FromTime: "09:00", TillTime: "10:10", IsActive: true}, "10:00", 45*time.Minute)
	require.True(t, ok)
	assert.Equal(t, testDay.Add(10*time.Hour), start)

	// Inactive window.
	_, ok = slotStart(testDay, availability.Window{FromTime: "09:00", TillTime: "17:00"}, "10:30", dur)
	assert.False(t, ok)

	// Malformed clock.
	_, ok = slotStart(testDay, w, "25:99", dur)
	assert.False(t, ok)
}

func TestCancelMeeting_DeletesAndReportsUnknown(t *testing.T) {
	acc := &fakeAccounts{account: accounts.Account{
		UserID: "user-1", GrantID: "grant-1", GrantEmail: "jane@example.com",
	}}
	cal := &fakeCalendar{}
	h := newTestHandler(acc, cal, testDay)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings/cancel", jsonBody(t, cancelMeetingRequest{EventID: "missing"}))
	req.Header.Set("X-User-Id", "user-1")
	rec := httptest.NewRecorder()
	h.CancelMeeting(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFreeBusy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/grants/grant-1/calendars/free-busy", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"email":"host@example.com","time_slots":[
			{"start_time":1767258000,"end_time":1767259800,"status":"busy"},
			{"start_time":1767261600,"end_time":1767261600,"status":"busy"}
		]}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1")
	periods, err := c.GetFreeBusy(context.Background(), "grant-1", time.Unix(1767225600, 0), time.Unix(1767312000, 0), []string{"host@example.com"})
	require.NoError(t, err)

	// The zero-length slot is dropped; the real one survives.
	require.Len(t, periods, 1)
	assert.Equal(t, time.Unix(1767258000, 0).UTC(), periods[0].Start)
	assert.Equal(t, time.Unix(1767259800, 0).UTC(), periods[0].End)
}

func TestGetFreeBusy_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"email":"host@example.com"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1")
	periods, err := c.GetFreeBusy(context.Background(), "grant-1", time.Unix(0, 0), time.Unix(86400, 0), nil)
	require.NoError(t, err)
	assert.Empty(t, periods)
}

func TestListEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/grants/grant-1/events", r.URL.Path)
		assert.Equal(t, "host@example.com", r.URL.Query().Get("calendar_id"))
		assert.NotEmpty(t, r.URL.Query().Get("start"))
		assert.NotEmpty(t, r.URL.Query().Get("end"))
		_, _ = w.Write([]byte(`{"data":[{"id":"evt-1","title":"Intro call","status":"confirmed",
			"when":{"object":"timespan","start_time":1767258000,"end_time":1767259800},
			"participants":[{"name":"Visitor","email":"v@example.com","status":"yes"}]}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1")
	events, err := c.ListEvents(context.Background(), "grant-1", "host@example.com", time.Unix(1767225600, 0), time.Unix(1767312000, 0))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "Intro call", events[0].Title)
	assert.Equal(t, time.Unix(1767258000, 0).UTC(), events[0].Start)
	require.Len(t, events[0].Participants, 1)
	assert.Equal(t, "v@example.com", events[0].Participants[0].Email)
}

func TestCreateEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/grants/grant-1/events", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("notify_participants"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"id":"evt-9","title":"Intro call",
			"when":{"start_time":1767258000,"end_time":1767259800}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1")
	evt, err := c.CreateEvent(context.Background(), "grant-1", "host@example.com", CreateEventRequest{
		Title:              "Intro call",
		Start:              time.Unix(1767258000, 0),
		End:                time.Unix(1767259800, 0),
		Participants:       []Participant{{Name: "Visitor", Email: "v@example.com", Status: "yes"}},
		ConferenceProvider: "Google Meet",
		NotifyParticipants: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-9", evt.ID)
}

func TestDeleteEvent_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1")
	err := c.DeleteEvent(context.Background(), "grant-1", "host@example.com", "evt-404")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1")
	_, err := c.ListEvents(context.Background(), "grant-1", "host@example.com", time.Unix(0, 0), time.Unix(1, 0))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// API is the slice of the hosted calendar provider's v3 REST surface this
// service needs. Handlers depend on the interface so tests can substitute a
// fake provider.
type API interface {
	GetFreeBusy(ctx context.Context, grantID string, start, end time.Time, emails []string) ([]BusyPeriod, error)
	ListEvents(ctx context.Context, grantID, calendarID string, start, end time.Time) ([]Event, error)
	GetEvent(ctx context.Context, grantID, calendarID, eventID string) (Event, error)
	CreateEvent(ctx context.Context, grantID, calendarID string, req CreateEventRequest) (Event, error)
	DeleteEvent(ctx context.Context, grantID, calendarID, eventID string) error
}

// BusyPeriod is one committed range on the host's calendar.
type BusyPeriod struct {
	Start time.Time
	End   time.Time
}

type Participant struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email"`
	Status string `json:"status,omitempty"`
}

type Event struct {
	ID           string
	Title        string
	Description  string
	Start        time.Time
	End          time.Time
	Status       string
	Participants []Participant
}

type CreateEventRequest struct {
	Title              string
	Description        string
	Start              time.Time
	End                time.Time
	Participants       []Participant
	ConferenceProvider string // e.g. "Google Meet"; empty skips conferencing
	NotifyParticipants bool
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar provider returned %d: %s", e.StatusCode, e.Body)
}

var ErrEventNotFound = errors.New("calendar event not found")

// Client talks to the hosted calendar provider's grant-scoped v3 API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Wire shapes. The provider speaks epoch seconds for event times.

type whenPayload struct {
	Object    string `json:"object,omitempty"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
}

type eventPayload struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Status       string        `json:"status"`
	When         whenPayload   `json:"when"`
	Participants []Participant `json:"participants"`
}

func (p eventPayload) toEvent() Event {
	return Event{
		ID:           p.ID,
		Title:        p.Title,
		Description:  p.Description,
		Status:       p.Status,
		Start:        time.Unix(p.When.StartTime, 0).UTC(),
		End:          time.Unix(p.When.EndTime, 0).UTC(),
		Participants: p.Participants,
	}
}

// GetFreeBusy returns the grant's committed ranges inside [start, end).
// The response is parsed leniently: entries without a usable time range are
// dropped rather than failing the call, since the display path degrades to
// "no known conflicts" anyway.
func (c *Client) GetFreeBusy(ctx context.Context, grantID string, start, end time.Time, emails []string) ([]BusyPeriod, error) {
	body := map[string]any{
		"start_time": start.Unix(),
		"end_time":   end.Unix(),
		"emails":     emails,
	}

	var resp struct {
		Data []struct {
			Email     string `json:"email"`
			TimeSlots []struct {
				StartTime int64  `json:"start_time"`
				EndTime   int64  `json:"end_time"`
				Status    string `json:"status"`
			} `json:"time_slots"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/v3/grants/%s/calendars/free-busy", url.PathEscape(grantID))
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, err
	}

	var periods []BusyPeriod
	for _, entry := range resp.Data {
		for _, slot := range entry.TimeSlots {
			if slot.EndTime <= slot.StartTime {
				continue
			}
			periods = append(periods, BusyPeriod{
				Start: time.Unix(slot.StartTime, 0).UTC(),
				End:   time.Unix(slot.EndTime, 0).UTC(),
			})
		}
	}
	return periods, nil
}

func (c *Client) ListEvents(ctx context.Context, grantID, calendarID string, start, end time.Time) ([]Event, error) {
	query := url.Values{}
	query.Set("calendar_id", calendarID)
	query.Set("start", strconv.FormatInt(start.Unix(), 10))
	query.Set("end", strconv.FormatInt(end.Unix(), 10))

	var resp struct {
		Data []eventPayload `json:"data"`
	}
	path := fmt.Sprintf("/v3/grants/%s/events", url.PathEscape(grantID))
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(resp.Data))
	for _, p := range resp.Data {
		events = append(events, p.toEvent())
	}
	return events, nil
}

func (c *Client) GetEvent(ctx context.Context, grantID, calendarID, eventID string) (Event, error) {
	query := url.Values{}
	query.Set("calendar_id", calendarID)

	var resp struct {
		Data eventPayload `json:"data"`
	}
	path := fmt.Sprintf("/v3/grants/%s/events/%s", url.PathEscape(grantID), url.PathEscape(eventID))
	err := c.do(ctx, http.MethodGet, path, query, nil, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return Event{}, ErrEventNotFound
		}
		return Event{}, err
	}
	return resp.Data.toEvent(), nil
}

func (c *Client) CreateEvent(ctx context.Context, grantID, calendarID string, req CreateEventRequest) (Event, error) {
	query := url.Values{}
	query.Set("calendar_id", calendarID)
	if req.NotifyParticipants {
		query.Set("notify_participants", "true")
	}

	body := map[string]any{
		"title":       req.Title,
		"description": req.Description,
		"when": whenPayload{
			StartTime: req.Start.Unix(),
			EndTime:   req.End.Unix(),
		},
		"participants": req.Participants,
	}
	if req.ConferenceProvider != "" {
		body["conferencing"] = map[string]any{
			"provider":   req.ConferenceProvider,
			"autocreate": map[string]any{},
		}
	}

	var resp struct {
		Data eventPayload `json:"data"`
	}
	path := fmt.Sprintf("/v3/grants/%s/events", url.PathEscape(grantID))
	if err := c.do(ctx, http.MethodPost, path, query, body, &resp); err != nil {
		return Event{}, err
	}
	return resp.Data.toEvent(), nil
}

func (c *Client) DeleteEvent(ctx context.Context, grantID, calendarID, eventID string) error {
	query := url.Values{}
	query.Set("calendar_id", calendarID)

	path := fmt.Sprintf("/v3/grants/%s/events/%s", url.PathEscape(grantID), url.PathEscape(eventID))
	err := c.do(ctx, http.MethodDelete, path, query, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return ErrEventNotFound
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

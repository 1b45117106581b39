package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/schedulux/schedulux/services/booking-service/internal/availability"
)

var ErrNotFound = errors.New("booking context not found")

// EventType is the bookable meeting template as published by account-service.
type EventType struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	URL             string `json:"url"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes"`
	VideoCallProvider string `json:"video_call_provider"`
	Active          bool   `json:"active"`
}

// BookingContext bundles everything the public booking flow needs about a
// host in one read: identity, timezone, calendar grant, the requested event
// type, and the weekday's availability window.
type BookingContext struct {
	UserID     string
	Username   string
	FullName   string
	Timezone   string
	GrantID    string
	GrantEmail string
	EventType  EventType
	Window     availability.Window
}

// Account is the host-side view used by the meetings dashboard endpoints.
type Account struct {
	UserID     string
	Username   string
	Timezone   string
	GrantID    string
	GrantEmail string
}

// PublicProfile is what the public booking page shows before an event type is
// picked: the host plus their active event types.
type PublicProfile struct {
	Username   string      `json:"username"`
	FullName   string      `json:"full_name"`
	Timezone   string      `json:"timezone"`
	EventTypes []EventType `json:"event_types"`
}

// Provider reads host configuration from account-service. The HTTP
// implementation is the default; a gRPC implementation exists behind the
// protogen build tag.
type Provider interface {
	GetPublicProfile(ctx context.Context, username string) (PublicProfile, error)
	GetBookingContext(ctx context.Context, username, eventURL string, weekday time.Weekday) (BookingContext, error)
	GetAccount(ctx context.Context, userID string) (Account, error)
}

type httpProvider struct {
	baseURL string
	httpc   *http.Client
}

func NewHTTPProvider(baseURL string) Provider {
	return &httpProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpc: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type bookingContextResponse struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	FullName   string    `json:"full_name"`
	Timezone   string    `json:"timezone"`
	GrantID    string    `json:"grant_id"`
	GrantEmail string    `json:"grant_email"`
	EventType  EventType `json:"event_type"`
	Window     struct {
		Weekday  int    `json:"weekday"`
		FromTime string `json:"from_time"`
		TillTime string `json:"till_time"`
		IsActive bool   `json:"is_active"`
	} `json:"window"`
}

func (p *httpProvider) GetPublicProfile(ctx context.Context, username string) (PublicProfile, error) {
	query := url.Values{}
	query.Set("username", username)

	var resp PublicProfile
	if err := p.get(ctx, "/internal/v1/public-profile?"+query.Encode(), &resp); err != nil {
		return PublicProfile{}, err
	}
	return resp, nil
}

func (p *httpProvider) GetBookingContext(ctx context.Context, username, eventURL string, weekday time.Weekday) (BookingContext, error) {
	query := url.Values{}
	query.Set("username", username)
	query.Set("event_url", eventURL)
	query.Set("weekday", fmt.Sprintf("%d", int(weekday)))

	var resp bookingContextResponse
	if err := p.get(ctx, "/internal/v1/booking-context?"+query.Encode(), &resp); err != nil {
		return BookingContext{}, err
	}

	return BookingContext{
		UserID:     resp.UserID,
		Username:   resp.Username,
		FullName:   resp.FullName,
		Timezone:   resp.Timezone,
		GrantID:    resp.GrantID,
		GrantEmail: resp.GrantEmail,
		EventType:  resp.EventType,
		Window: availability.Window{
			Weekday:  time.Weekday(resp.Window.Weekday),
			FromTime: resp.Window.FromTime,
			TillTime: resp.Window.TillTime,
			IsActive: resp.Window.IsActive,
		},
	}, nil
}

func (p *httpProvider) GetAccount(ctx context.Context, userID string) (Account, error) {
	query := url.Values{}
	query.Set("user_id", userID)

	var resp struct {
		UserID     string `json:"user_id"`
		Username   string `json:"username"`
		Timezone   string `json:"timezone"`
		GrantID    string `json:"grant_id"`
		GrantEmail string `json:"grant_email"`
	}
	if err := p.get(ctx, "/internal/v1/account?"+query.Encode(), &resp); err != nil {
		return Account{}, err
	}
	return Account{
		UserID:     resp.UserID,
		Username:   resp.Username,
		Timezone:   resp.Timezone,
		GrantID:    resp.GrantID,
		GrantEmail: resp.GrantEmail,
	}, nil
}

func (p *httpProvider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("account-service returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

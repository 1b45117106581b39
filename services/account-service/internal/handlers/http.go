package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/schedulux/schedulux/services/account-service/internal/storage"
)

type Handler struct {
	repo *storage.Repository
}

func New(repo *storage.Repository) *Handler {
	return &Handler{repo: repo}
}

func userIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

func validUsername(s string) bool {
	return len(s) >= 3 && len(s) <= 150 && usernamePattern.MatchString(s)
}

func validSlug(s string) bool {
	return validUsername(s)
}

func validText(s string, min, max int) bool {
	return len(s) >= min && len(s) <= max
}

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	p, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"user_id":   p.UserID,
		"username":  p.Username,
		"full_name": p.FullName,
		"email":     p.Email,
		"timezone":  p.Timezone,
		"onboarded": p.Onboarded,
	})
}

// CompleteOnboarding claims a username and seeds the default weekly
// availability (every day, 08:00-18:00).
func (h *Handler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	var req struct {
		Username string `json:"username"`
		FullName string `json:"full_name"`
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.FullName = strings.TrimSpace(req.FullName)
	req.Timezone = strings.TrimSpace(req.Timezone)

	if !validUsername(req.Username) {
		http.Error(w, "username must be 3-150 chars, lowercase letters, digits, and hyphens", http.StatusBadRequest)
		return
	}
	if !validText(req.FullName, 3, 150) {
		http.Error(w, "full_name must be 3-150 chars", http.StatusBadRequest)
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		http.Error(w, "invalid timezone", http.StatusBadRequest)
		return
	}

	if err := h.repo.CompleteOnboarding(r.Context(), userID, req.Username, req.FullName, req.Timezone); err != nil {
		if storage.IsUniqueViolation(err) {
			http.Error(w, "username already taken", http.StatusConflict)
			return
		}
		if storage.IsNotFound(err) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to complete onboarding", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	var req struct {
		FullName string `json:"full_name"`
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if !validText(req.FullName, 3, 150) {
		http.Error(w, "full_name must be 3-150 chars", http.StatusBadRequest)
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		http.Error(w, "invalid timezone", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpdateProfile(r.Context(), userID, req.FullName, req.Timezone); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update profile", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListAvailability(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	windows, err := h.repo.ListWindows(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to list availability", http.StatusInternalServerError)
		return
	}
	if windows == nil {
		windows = []storage.AvailabilityWindow{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(windows)
}

// ReplaceAvailability takes the full weekly schedule in one PUT. A day with
// is_active=false keeps its times but is skipped by the slot resolver.
func (h *Handler) ReplaceAvailability(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	var req []storage.AvailabilityWindow
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if len(req) == 0 || len(req) > 7 {
		http.Error(w, "expected 1-7 windows", http.StatusBadRequest)
		return
	}

	seen := map[int]bool{}
	for i := range req {
		win := &req[i]
		if win.Weekday < 0 || win.Weekday > 6 {
			http.Error(w, "weekday must be between 0 and 6", http.StatusBadRequest)
			return
		}
		if seen[win.Weekday] {
			http.Error(w, "duplicate weekday", http.StatusBadRequest)
			return
		}
		seen[win.Weekday] = true

		win.FromTime = strings.TrimSpace(win.FromTime)
		win.TillTime = strings.TrimSpace(win.TillTime)
		if !clockPattern.MatchString(win.FromTime) || !clockPattern.MatchString(win.TillTime) {
			http.Error(w, "from_time/till_time must be HH:MM", http.StatusBadRequest)
			return
		}
		if win.IsActive && win.FromTime >= win.TillTime {
			http.Error(w, "from_time must be before till_time", http.StatusBadRequest)
			return
		}
	}

	if err := h.repo.ReplaceWindows(r.Context(), userID, req); err != nil {
		http.Error(w, "failed to update availability", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eventTypeRequest struct {
	Title             string `json:"title"`
	URL               string `json:"url"`
	Description       string `json:"description"`
	DurationMinutes   int    `json:"duration_minutes"`
	VideoCallProvider string `json:"video_call_provider"`
	Active            *bool  `json:"active"`
}

func (req *eventTypeRequest) validate() string {
	req.Title = strings.TrimSpace(req.Title)
	req.URL = strings.ToLower(strings.TrimSpace(req.URL))
	req.Description = strings.TrimSpace(req.Description)
	req.VideoCallProvider = strings.TrimSpace(req.VideoCallProvider)

	if !validText(req.Title, 3, 150) {
		return "title must be 3-150 chars"
	}
	if !validSlug(req.URL) {
		return "url must be 3-150 chars, lowercase letters, digits, and hyphens"
	}
	if req.Description != "" && !validText(req.Description, 3, 300) {
		return "description must be 3-300 chars"
	}
	if req.DurationMinutes < 1 || req.DurationMinutes > 100 {
		return "duration_minutes must be between 1 and 100"
	}
	return ""
}

func (h *Handler) CreateEventType(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	var req eventTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	// Free tier caps event types; billing-service raises the cap through
	// entitlement events.
	maxEventTypes := 3
	if ent, ok, err := h.repo.GetEntitlements(r.Context(), userID); err == nil && ok && ent.MaxEventTypes > 0 {
		maxEventTypes = ent.MaxEventTypes
	}
	cnt, err := h.repo.CountEventTypes(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to check event type limit", http.StatusInternalServerError)
		return
	}
	if cnt >= maxEventTypes {
		http.Error(w, "event type limit reached (upgrade required)", http.StatusPaymentRequired)
		return
	}

	id, err := h.repo.CreateEventType(r.Context(), storage.EventType{
		UserID:            userID,
		Title:             req.Title,
		URL:               req.URL,
		Description:       req.Description,
		DurationMinutes:   req.DurationMinutes,
		VideoCallProvider: req.VideoCallProvider,
		Active:            active,
	})
	if err != nil {
		if storage.IsUniqueViolation(err) {
			http.Error(w, "url already in use", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create event type", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

func (h *Handler) ListEventTypes(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	eventTypes, err := h.repo.ListEventTypes(r.Context(), userID, false)
	if err != nil {
		http.Error(w, "failed to list event types", http.StatusInternalServerError)
		return
	}
	if eventTypes == nil {
		eventTypes = []storage.EventType{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(eventTypes)
}

func (h *Handler) UpdateEventType(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	var req eventTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	err := h.repo.UpdateEventType(r.Context(), storage.EventType{
		ID:                id,
		UserID:            userID,
		Title:             req.Title,
		URL:               req.URL,
		Description:       req.Description,
		DurationMinutes:   req.DurationMinutes,
		VideoCallProvider: req.VideoCallProvider,
		Active:            active,
	})
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "event type not found", http.StatusNotFound)
			return
		}
		if storage.IsUniqueViolation(err) {
			http.Error(w, "url already in use", http.StatusConflict)
			return
		}
		http.Error(w, "failed to update event type", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteEventType(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeleteEventType(r.Context(), userID, id); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "event type not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete event type", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ConnectGrant(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	var req struct {
		GrantID    string `json:"grant_id"`
		GrantEmail string `json:"grant_email"`
		Provider   string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.GrantID = strings.TrimSpace(req.GrantID)
	req.GrantEmail = strings.TrimSpace(req.GrantEmail)
	req.Provider = strings.TrimSpace(req.Provider)
	if req.GrantID == "" || req.GrantEmail == "" {
		http.Error(w, "grant_id and grant_email required", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		req.Provider = "google"
	}

	if err := h.repo.UpsertGrant(r.Context(), storage.CalendarGrant{
		UserID:     userID,
		GrantID:    req.GrantID,
		GrantEmail: req.GrantEmail,
		Provider:   req.Provider,
	}); err != nil {
		http.Error(w, "failed to store grant", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetGrant(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
		return
	}

	g, err := h.repo.GetGrant(r.Context(), userID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "no calendar connected", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load grant", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(g)
}

// InternalPublicProfile backs the public booking page: profile plus active
// event types, keyed by username.
func (h *Handler) InternalPublicProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	username := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("username")))
	if username == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}

	p, err := h.repo.GetProfileByUsername(r.Context(), username)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}

	eventTypes, err := h.repo.ListEventTypes(r.Context(), p.UserID, true)
	if err != nil {
		http.Error(w, "failed to list event types", http.StatusInternalServerError)
		return
	}
	if eventTypes == nil {
		eventTypes = []storage.EventType{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"username":    p.Username,
		"full_name":   p.FullName,
		"timezone":    p.Timezone,
		"event_types": eventTypes,
	})
}

// InternalBookingContext is booking-service's one-shot read: host identity,
// grant, the requested event type, and the weekday's availability window.
func (h *Handler) InternalBookingContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	username := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("username")))
	eventURL := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("event_url")))
	weekdayStr := strings.TrimSpace(r.URL.Query().Get("weekday"))
	if username == "" || eventURL == "" || weekdayStr == "" {
		http.Error(w, "username, event_url, and weekday are required", http.StatusBadRequest)
		return
	}
	weekday, err := strconv.Atoi(weekdayStr)
	if err != nil || weekday < 0 || weekday > 6 {
		http.Error(w, "weekday must be between 0 and 6", http.StatusBadRequest)
		return
	}

	p, err := h.repo.GetProfileByUsername(r.Context(), username)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}

	et, err := h.repo.GetEventTypeByURL(r.Context(), p.UserID, eventURL)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "event type not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load event type", http.StatusInternalServerError)
		return
	}

	grant, err := h.repo.GetGrant(r.Context(), p.UserID)
	if err != nil && !storage.IsNotFound(err) {
		http.Error(w, "failed to load grant", http.StatusInternalServerError)
		return
	}

	window, err := h.repo.GetWindow(r.Context(), p.UserID, weekday)
	if err != nil {
		if !storage.IsNotFound(err) {
			http.Error(w, "failed to load availability", http.StatusInternalServerError)
			return
		}
		// A missing weekday row behaves as an inactive window.
		window = storage.AvailabilityWindow{Weekday: weekday}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user_id":     p.UserID,
		"username":    p.Username,
		"full_name":   p.FullName,
		"timezone":    p.Timezone,
		"grant_id":    grant.GrantID,
		"grant_email": grant.GrantEmail,
		"event_type":  et,
		"window": map[string]any{
			"weekday":   window.Weekday,
			"from_time": window.FromTime,
			"till_time": window.TillTime,
			"is_active": window.IsActive,
		},
	})
}

// InternalAccount serves the host-side view used by the meetings endpoints.
func (h *Handler) InternalAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	p, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	grant, err := h.repo.GetGrant(r.Context(), userID)
	if err != nil && !storage.IsNotFound(err) {
		http.Error(w, "failed to load grant", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user_id":     p.UserID,
		"username":    p.Username,
		"timezone":    p.Timezone,
		"grant_id":    grant.GrantID,
		"grant_email": grant.GrantEmail,
	})
}

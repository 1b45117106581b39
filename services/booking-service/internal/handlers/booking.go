package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/schedulux/schedulux/services/booking-service/internal/accounts"
	"github.com/schedulux/schedulux/services/booking-service/internal/availability"
	"github.com/schedulux/schedulux/services/booking-service/internal/calendar"
	"github.com/schedulux/schedulux/services/booking-service/internal/outbox"
	"github.com/schedulux/schedulux/services/booking-service/internal/storage"
)

type BookingHandler struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
	accounts   accounts.Provider
	calendar   calendar.API
	logger     *slog.Logger
	now        func() time.Time
}

func NewBookingHandler(repo *storage.Repository, outboxRepo *outbox.Repository, accountsProvider accounts.Provider, calendarAPI calendar.API, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		repo:       repo,
		outboxRepo: outboxRepo,
		accounts:   accountsProvider,
		calendar:   calendarAPI,
		logger:     logger,
		now:        time.Now,
	}
}

type slotsResponse struct {
	Timezone        string   `json:"timezone"`
	DurationMinutes int      `json:"duration_minutes"`
	Slots           []string `json:"slots"`
}

type bookRequest struct {
	Username   string `json:"username"`
	EventURL   string `json:"event_url"`
	Date       string `json:"date"`
	Slot       string `json:"slot"`
	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email"`
	Notes      string `json:"notes"`
}

type bookResponse struct {
	EventID   string `json:"event_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type meetingItem struct {
	EventID      string                 `json:"event_id"`
	Title        string                 `json:"title"`
	StartTime    string                 `json:"start_time"`
	EndTime      string                 `json:"end_time"`
	Status       string                 `json:"status,omitempty"`
	Participants []calendar.Participant `json:"participants,omitempty"`
}

type cancelMeetingRequest struct {
	EventID string `json:"event_id"`
}

type cancelMeetingResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// PublicProfile serves the public booking page header: the host plus their
// active event types.
func (h *BookingHandler) PublicProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		http.Error(w, "username required", http.StatusBadRequest)
		return
	}

	profile, err := h.accounts.GetPublicProfile(r.Context(), username)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "account service unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// Slots resolves bookable start times for one host, event type, and date.
// Free-busy read failures degrade to zero busy intervals: the display path
// never blocks on the calendar provider.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	username := strings.TrimSpace(r.URL.Query().Get("username"))
	eventURL := strings.TrimSpace(r.URL.Query().Get("event_url"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if username == "" || eventURL == "" || dateStr == "" {
		http.Error(w, "username, event_url, and date are required", http.StatusBadRequest)
		return
	}

	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	ctxb, err := h.accounts.GetBookingContext(r.Context(), username, eventURL, day.Weekday())
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			http.Error(w, "event type not found", http.StatusNotFound)
			return
		}
		http.Error(w, "account service unavailable", http.StatusServiceUnavailable)
		return
	}

	loc := hostLocation(ctxb.Timezone)
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	duration := time.Duration(ctxb.EventType.DurationMinutes) * time.Minute

	resp := slotsResponse{
		Timezone:        ctxb.Timezone,
		DurationMinutes: ctxb.EventType.DurationMinutes,
		Slots:           []string{},
	}
	if !ctxb.EventType.Active || !ctxb.Window.IsActive {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	busy := h.loadBusyIntervals(r.Context(), ctxb, date)
	slots := availability.ResolveSlots(date, ctxb.Window, busy, duration, h.now().In(loc))
	if formatted := availability.FormatClock(slots); formatted != nil {
		resp.Slots = formatted
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) loadBusyIntervals(ctx context.Context, ctxb accounts.BookingContext, date time.Time) []availability.Interval {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dayStart := date
	dayEnd := date.AddDate(0, 0, 1)
	periods, err := h.calendar.GetFreeBusy(reqCtx, ctxb.GrantID, dayStart, dayEnd, []string{ctxb.GrantEmail})
	if err != nil {
		h.logger.Warn("free-busy fetch failed; showing full availability", "err", err, "grant_id", ctxb.GrantID)
		return nil
	}

	busy := make([]availability.Interval, 0, len(periods))
	for _, p := range periods {
		busy = append(busy, availability.Interval{Start: p.Start, End: p.End})
	}
	return busy
}

// Book creates a calendar event for a guest after re-checking the slot
// against the host's live calendar. The list-then-create is not atomic on the
// provider side; an Idempotency-Key header narrows the retry window.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.EventURL = strings.TrimSpace(req.EventURL)
	req.Date = strings.TrimSpace(req.Date)
	req.Slot = strings.TrimSpace(req.Slot)
	req.GuestName = strings.TrimSpace(req.GuestName)
	req.GuestEmail = strings.TrimSpace(req.GuestEmail)
	if req.Username == "" || req.EventURL == "" || req.Date == "" || req.Slot == "" || req.GuestName == "" || req.GuestEmail == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	ctxb, err := h.accounts.GetBookingContext(r.Context(), req.Username, req.EventURL, day.Weekday())
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			http.Error(w, "event type not found", http.StatusNotFound)
			return
		}
		http.Error(w, "account service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ctxb.EventType.Active {
		http.Error(w, "event type is not bookable", http.StatusUnprocessableEntity)
		return
	}

	loc := hostLocation(ctxb.Timezone)
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	duration := time.Duration(ctxb.EventType.DurationMinutes) * time.Minute

	start, ok := slotStart(date, ctxb.Window, req.Slot, duration)
	if !ok {
		http.Error(w, "slot is outside availability", http.StatusUnprocessableEntity)
		return
	}
	if !start.After(h.now().In(loc)) {
		http.Error(w, "slot is in the past", http.StatusUnprocessableEntity)
		return
	}
	end := start.Add(duration)

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, ctxb.UserID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	// Billing entitlements: cap monthly booked meetings per host.
	if err := h.enforceMonthlyMeetingLimit(ctx, tx, ctxb.UserID, start); err != nil {
		if errors.Is(err, errPaymentRequired) {
			if idempotencyKey != "" {
				if h.finalizeIdempotencyError(ctx, tx, ctxb.UserID, idempotencyKey, http.StatusPaymentRequired, err.Error()) {
					_ = tx.Commit(ctx)
					return
				}
			}
			http.Error(w, err.Error(), http.StatusPaymentRequired)
			return
		}
		http.Error(w, "entitlements check failed", http.StatusInternalServerError)
		return
	}

	// Collision guard: re-check the host's live calendar for anything touching
	// the proposed interval. A provider read failure means we cannot know, so
	// we refuse rather than double-book. Idempotency is not finalized on
	// dependency errors; the client may retry with the same key.
	conflict, err := h.slotTaken(ctx, ctxb, start, end)
	if err != nil {
		http.Error(w, "calendar provider unavailable", http.StatusServiceUnavailable)
		return
	}
	if conflict {
		if idempotencyKey != "" {
			if h.finalizeIdempotencyError(ctx, tx, ctxb.UserID, idempotencyKey, http.StatusConflict, "slot no longer available") {
				_ = tx.Commit(ctx)
				return
			}
		}
		http.Error(w, "slot no longer available", http.StatusConflict)
		return
	}

	created, err := h.createProviderEvent(ctx, ctxb, req, start, end)
	if err != nil {
		http.Error(w, "calendar provider error", http.StatusBadGateway)
		return
	}

	if err := h.repo.RecordMeetingUsage(ctx, tx, ctxb.UserID, created.ID, start); err != nil {
		http.Error(w, "failed to record booking", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"provider_event_id": created.ID,
		"host_user_id":      ctxb.UserID,
		"host_username":     ctxb.Username,
		"host_email":        ctxb.GrantEmail,
		"event_type_id":     ctxb.EventType.ID,
		"event_type_title":  ctxb.EventType.Title,
		"guest_name":        req.GuestName,
		"guest_email":       req.GuestEmail,
		"start_time":        start.UTC().Format(time.RFC3339),
		"end_time":          end.UTC().Format(time.RFC3339),
		"timezone":          ctxb.Timezone,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "meeting",
		AggregateID:   created.ID,
		EventType:     outbox.TopicMeetingBooked,
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(bookResponse{
		EventID:   created.ID,
		StartTime: start.Format(time.RFC3339),
		EndTime:   end.Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, ctxb.UserID, idempotencyKey, created.ID, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

func (h *BookingHandler) slotTaken(ctx context.Context, ctxb accounts.BookingContext, start, end time.Time) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	events, err := h.calendar.ListEvents(reqCtx, ctxb.GrantID, ctxb.GrantEmail, start, end)
	if err != nil {
		return false, err
	}
	for _, evt := range events {
		if evt.Status == "cancelled" {
			continue
		}
		if availability.Overlaps(evt.Start, evt.End, start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (h *BookingHandler) createProviderEvent(ctx context.Context, ctxb accounts.BookingContext, req bookRequest, start, end time.Time) (calendar.Event, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	description := ctxb.EventType.Description
	if req.Notes != "" {
		description = strings.TrimSpace(description + "\n\nGuest notes: " + req.Notes)
	}

	return h.calendar.CreateEvent(reqCtx, ctxb.GrantID, ctxb.GrantEmail, calendar.CreateEventRequest{
		Title:       fmt.Sprintf("%s: %s", ctxb.EventType.Title, req.GuestName),
		Description: description,
		Start:       start,
		End:         end,
		Participants: []calendar.Participant{
			{Name: ctxb.FullName, Email: ctxb.GrantEmail},
			{Name: req.GuestName, Email: req.GuestEmail},
		},
		ConferenceProvider: ctxb.EventType.VideoCallProvider,
		NotifyParticipants: true,
	})
}

var errPaymentRequired = errors.New("monthly meeting limit reached (upgrade required)")

func (h *BookingHandler) enforceMonthlyMeetingLimit(ctx context.Context, tx pgx.Tx, userID string, start time.Time) error {
	const defaultFreeMax = 50

	ent, ok, err := h.repo.GetHostEntitlements(ctx, tx, userID)
	if err != nil {
		return err
	}
	max := defaultFreeMax
	if ok && ent.MaxMonthlyMeetings > 0 {
		max = ent.MaxMonthlyMeetings
	}
	if max <= 0 {
		return nil
	}

	startUTC := start.UTC()
	monthStart := time.Date(startUTC.Year(), startUTC.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	cnt, err := h.repo.CountMeetingUsageInRange(ctx, tx, userID, monthStart, monthEnd)
	if err != nil {
		return err
	}
	if cnt >= max {
		return errPaymentRequired
	}
	return nil
}

// Meetings lists the host's upcoming calendar events. There is no local
// meetings table; the provider's calendar is the source of truth.
func (h *BookingHandler) Meetings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), userID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		http.Error(w, "account service unavailable", http.StatusServiceUnavailable)
		return
	}
	if account.GrantID == "" {
		writeJSON(w, http.StatusOK, []meetingItem{})
		return
	}

	now := h.now().UTC()
	events, err := h.calendar.ListEvents(r.Context(), account.GrantID, account.GrantEmail, now, now.AddDate(0, 0, 30))
	if err != nil {
		http.Error(w, "calendar provider error", http.StatusBadGateway)
		return
	}

	items := make([]meetingItem, 0, len(events))
	for _, evt := range events {
		items = append(items, meetingItem{
			EventID:      evt.ID,
			Title:        evt.Title,
			StartTime:    evt.Start.UTC().Format(time.RFC3339),
			EndTime:      evt.End.UTC().Format(time.RFC3339),
			Status:       evt.Status,
			Participants: evt.Participants,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// CancelMeeting deletes the provider event and emits a cancellation event so
// scheduler-service drops pending reminders.
func (h *BookingHandler) CancelMeeting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req cancelMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.EventID = strings.TrimSpace(req.EventID)
	if req.EventID == "" {
		http.Error(w, "event_id required", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), userID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		http.Error(w, "account service unavailable", http.StatusServiceUnavailable)
		return
	}
	if account.GrantID == "" {
		http.Error(w, "no calendar connected", http.StatusConflict)
		return
	}

	ctx := r.Context()
	evt, err := h.calendar.GetEvent(ctx, account.GrantID, account.GrantEmail, req.EventID)
	if err != nil {
		if errors.Is(err, calendar.ErrEventNotFound) {
			http.Error(w, "meeting not found", http.StatusNotFound)
			return
		}
		http.Error(w, "calendar provider error", http.StatusBadGateway)
		return
	}

	if err := h.calendar.DeleteEvent(ctx, account.GrantID, account.GrantEmail, req.EventID); err != nil {
		if errors.Is(err, calendar.ErrEventNotFound) {
			http.Error(w, "meeting not found", http.StatusNotFound)
			return
		}
		http.Error(w, "calendar provider error", http.StatusBadGateway)
		return
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cancelPayload, err := json.Marshal(map[string]any{
		"provider_event_id": req.EventID,
		"host_user_id":      userID,
		"title":             evt.Title,
		"start_time":        evt.Start.UTC().Format(time.RFC3339),
		"end_time":          evt.End.UTC().Format(time.RFC3339),
		"cancelled_at":      h.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "meeting",
		AggregateID:   req.EventID,
		EventType:     outbox.TopicMeetingCancelled,
		Payload:       cancelPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, cancelMeetingResponse{EventID: req.EventID, Status: "cancelled"})
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, userID, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, userID, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}

// slotStart anchors the requested "HH:MM" slot to the date and checks it is a
// candidate the window could have produced: active window, aligned to the
// duration grid, and starting before the window end.
func slotStart(date time.Time, w availability.Window, clock string, duration time.Duration) (time.Time, bool) {
	if !w.IsActive || duration <= 0 {
		return time.Time{}, false
	}
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, false
	}
	from, err := time.Parse("15:04", w.FromTime)
	if err != nil {
		return time.Time{}, false
	}
	till, err := time.Parse("15:04", w.TillTime)
	if err != nil {
		return time.Time{}, false
	}

	start := time.Date(date.Year(), date.Month(), date.Day(), parsed.Hour(), parsed.Minute(), 0, 0, date.Location())
	fromAt := time.Date(date.Year(), date.Month(), date.Day(), from.Hour(), from.Minute(), 0, 0, date.Location())
	tillAt := time.Date(date.Year(), date.Month(), date.Day(), till.Hour(), till.Minute(), 0, 0, date.Location())
	if !tillAt.After(fromAt) {
		return time.Time{}, false
	}
	if start.Before(fromAt) || !start.Before(tillAt) {
		return time.Time{}, false
	}
	if start.Sub(fromAt)%duration != 0 {
		return time.Time{}, false
	}
	return start, true
}

func hostLocation(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

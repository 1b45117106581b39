package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/schedulux/schedulux/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type Profile struct {
	UserID    string
	Username  string
	FullName  string
	Email     string
	Timezone  string
	Onboarded bool
	CreatedAt time.Time
}

// CreateUser seeds a profile row when auth-service announces a signup. The
// profile stays un-onboarded until the user picks a username.
func (r *Repository) CreateUser(ctx context.Context, userID, email string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, email)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, email)
	return err
}

func (r *Repository) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT user_id::text, COALESCE(username, ''), COALESCE(full_name, ''), email, timezone, onboarded, created_at
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Username, &p.FullName, &p.Email, &p.Timezone, &p.Onboarded, &p.CreatedAt)
	return p, err
}

func (r *Repository) GetProfileByUsername(ctx context.Context, username string) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT user_id::text, COALESCE(username, ''), COALESCE(full_name, ''), email, timezone, onboarded, created_at
		FROM profiles
		WHERE username = $1 AND onboarded
	`, username).Scan(&p.UserID, &p.Username, &p.FullName, &p.Email, &p.Timezone, &p.Onboarded, &p.CreatedAt)
	return p, err
}

// CompleteOnboarding claims the username and seeds a full week of
// availability, every day 08:00-18:00 active, in one transaction. Re-running
// for an onboarded user only updates the profile fields.
func (r *Repository) CompleteOnboarding(ctx context.Context, userID, username, fullName, timezone string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var wasOnboarded bool
	if err := tx.QueryRow(ctx, `
		SELECT onboarded FROM profiles WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&wasOnboarded); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE profiles
		SET username = $2, full_name = $3, timezone = $4, onboarded = true, updated_at = now()
		WHERE user_id = $1
	`, userID, username, fullName, timezone); err != nil {
		return err
	}

	if !wasOnboarded {
		for wd := 0; wd <= 6; wd++ {
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_windows (user_id, weekday, from_time, till_time, is_active)
				VALUES ($1, $2, '08:00', '18:00', true)
				ON CONFLICT (user_id, weekday) DO NOTHING
			`, userID, wd); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func (r *Repository) UpdateProfile(ctx context.Context, userID, fullName, timezone string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles
		SET full_name = $2, timezone = $3, updated_at = now()
		WHERE user_id = $1
	`, userID, fullName, timezone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type AvailabilityWindow struct {
	UserID   string `json:"-"`
	Weekday  int    `json:"weekday"`
	FromTime string `json:"from_time"`
	TillTime string `json:"till_time"`
	IsActive bool   `json:"is_active"`
}

func (r *Repository) ListWindows(ctx context.Context, userID string) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id::text, weekday, from_time, till_time, is_active
		FROM availability_windows
		WHERE user_id = $1
		ORDER BY weekday ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AvailabilityWindow
	for rows.Next() {
		var w AvailabilityWindow
		if err := rows.Scan(&w.UserID, &w.Weekday, &w.FromTime, &w.TillTime, &w.IsActive); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) GetWindow(ctx context.Context, userID string, weekday int) (AvailabilityWindow, error) {
	var w AvailabilityWindow
	err := r.pool.QueryRow(ctx, `
		SELECT user_id::text, weekday, from_time, till_time, is_active
		FROM availability_windows
		WHERE user_id = $1 AND weekday = $2
	`, userID, weekday).Scan(&w.UserID, &w.Weekday, &w.FromTime, &w.TillTime, &w.IsActive)
	return w, err
}

// ReplaceWindows applies a bulk weekly-schedule update atomically.
func (r *Repository) ReplaceWindows(ctx context.Context, userID string, windows []AvailabilityWindow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, w := range windows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_windows (user_id, weekday, from_time, till_time, is_active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, weekday) DO UPDATE
			SET from_time = EXCLUDED.from_time,
				till_time = EXCLUDED.till_time,
				is_active = EXCLUDED.is_active,
				updated_at = now()
		`, userID, w.Weekday, w.FromTime, w.TillTime, w.IsActive); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

type EventType struct {
	ID                string    `json:"id"`
	UserID            string    `json:"-"`
	Title             string    `json:"title"`
	URL               string    `json:"url"`
	Description       string    `json:"description"`
	DurationMinutes   int       `json:"duration_minutes"`
	VideoCallProvider string    `json:"video_call_provider"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
}

func (r *Repository) CreateEventType(ctx context.Context, et EventType) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_types (id, user_id, title, url, description, duration_minutes, video_call_provider, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, et.UserID, et.Title, et.URL, et.Description, et.DurationMinutes, et.VideoCallProvider, et.Active)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListEventTypes(ctx context.Context, userID string, activeOnly bool) ([]EventType, error) {
	query := `
		SELECT id::text, user_id::text, title, url, description, duration_minutes, video_call_provider, active, created_at
		FROM event_types
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	if activeOnly {
		query = `
			SELECT id::text, user_id::text, title, url, description, duration_minutes, video_call_provider, active, created_at
			FROM event_types
			WHERE user_id = $1 AND active
			ORDER BY created_at ASC
		`
	}
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventType
	for rows.Next() {
		var et EventType
		if err := rows.Scan(&et.ID, &et.UserID, &et.Title, &et.URL, &et.Description, &et.DurationMinutes, &et.VideoCallProvider, &et.Active, &et.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) GetEventTypeByURL(ctx context.Context, userID, url string) (EventType, error) {
	var et EventType
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, user_id::text, title, url, description, duration_minutes, video_call_provider, active, created_at
		FROM event_types
		WHERE user_id = $1 AND url = $2
	`, userID, url).Scan(&et.ID, &et.UserID, &et.Title, &et.URL, &et.Description, &et.DurationMinutes, &et.VideoCallProvider, &et.Active, &et.CreatedAt)
	return et, err
}

func (r *Repository) CountEventTypes(ctx context.Context, userID string) (int, error) {
	var cnt int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM event_types WHERE user_id = $1
	`, userID).Scan(&cnt)
	return cnt, err
}

func (r *Repository) UpdateEventType(ctx context.Context, et EventType) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE event_types
		SET title = $3, url = $4, description = $5, duration_minutes = $6,
			video_call_provider = $7, active = $8, updated_at = now()
		WHERE user_id = $1 AND id = $2
	`, et.UserID, et.ID, et.Title, et.URL, et.Description, et.DurationMinutes, et.VideoCallProvider, et.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) DeleteEventType(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM event_types
		WHERE user_id = $1 AND id = $2
	`, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type CalendarGrant struct {
	UserID     string    `json:"-"`
	GrantID    string    `json:"grant_id"`
	GrantEmail string    `json:"grant_email"`
	Provider   string    `json:"provider"`
	CreatedAt  time.Time `json:"created_at"`
}

// UpsertGrant stores the hosted calendar grant for a host. One grant per
// user; reconnecting replaces it.
func (r *Repository) UpsertGrant(ctx context.Context, g CalendarGrant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO calendar_grants (user_id, grant_id, grant_email, provider)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET grant_id = EXCLUDED.grant_id,
			grant_email = EXCLUDED.grant_email,
			provider = EXCLUDED.provider,
			updated_at = now()
	`, g.UserID, g.GrantID, g.GrantEmail, g.Provider)
	return err
}

func (r *Repository) GetGrant(ctx context.Context, userID string) (CalendarGrant, error) {
	var g CalendarGrant
	err := r.pool.QueryRow(ctx, `
		SELECT user_id::text, grant_id, grant_email, provider, created_at
		FROM calendar_grants
		WHERE user_id = $1
	`, userID).Scan(&g.UserID, &g.GrantID, &g.GrantEmail, &g.Provider, &g.CreatedAt)
	return g, err
}

type HostEntitlements struct {
	UserID             string
	Tier               string
	MaxEventTypes      int
	MaxMonthlyMeetings int
}

func (r *Repository) UpsertEntitlements(ctx context.Context, ent HostEntitlements) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO host_entitlements (user_id, tier, max_event_types, max_monthly_meetings)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET tier = EXCLUDED.tier,
			max_event_types = EXCLUDED.max_event_types,
			max_monthly_meetings = EXCLUDED.max_monthly_meetings,
			updated_at = now()
	`, ent.UserID, ent.Tier, ent.MaxEventTypes, ent.MaxMonthlyMeetings)
	return err
}

func (r *Repository) GetEntitlements(ctx context.Context, userID string) (HostEntitlements, bool, error) {
	var ent HostEntitlements
	err := r.pool.QueryRow(ctx, `
		SELECT user_id::text, tier, max_event_types, max_monthly_meetings
		FROM host_entitlements
		WHERE user_id = $1
	`, userID).Scan(&ent.UserID, &ent.Tier, &ent.MaxEventTypes, &ent.MaxMonthlyMeetings)
	if err == pgx.ErrNoRows {
		return HostEntitlements{}, false, nil
	}
	if err != nil {
		return HostEntitlements{}, false, err
	}
	return ent, true, nil
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/schedulux/schedulux/libs/db"
)

// Repository holds booking-service's own tables. Meetings themselves live in
// the host's calendar at the provider; locally we keep only idempotency
// keys, a usage log for plan limits, and the entitlements cache projected
// from billing events.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type IdempotencyRecord struct {
	UserID          string
	IdempotencyKey  string
	EventID         string
	StatusCode      int
	ResponsePayload []byte
}

// LockIdempotencyKey claims the (host, key) pair for this transaction. When
// the pair already exists, the stored record is returned so the handler can
// replay the original response instead of booking twice.
func (r *Repository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, userID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, userID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (user_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, userID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, userID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *Repository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, userID, key, eventID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET provider_event_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key, eventID, statusCode, response)
	return err
}

func (r *Repository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, userID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT user_id::text,
			idempotency_key,
			COALESCE(provider_event_id, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE user_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, userID, key).Scan(
		&rec.UserID,
		&rec.IdempotencyKey,
		&rec.EventID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

type HostEntitlements struct {
	UserID             string
	Tier               string
	MaxEventTypes      int
	MaxMonthlyMeetings int
	UpdatedAt          time.Time
}

func (r *Repository) UpsertHostEntitlements(ctx context.Context, tx pgx.Tx, ent HostEntitlements) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO host_entitlements (user_id, tier, max_event_types, max_monthly_meetings)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET tier = EXCLUDED.tier,
		              max_event_types = EXCLUDED.max_event_types,
		              max_monthly_meetings = EXCLUDED.max_monthly_meetings,
		              updated_at = now()
	`, ent.UserID, ent.Tier, ent.MaxEventTypes, ent.MaxMonthlyMeetings)
	return err
}

func (r *Repository) GetHostEntitlements(ctx context.Context, tx pgx.Tx, userID string) (HostEntitlements, bool, error) {
	var ent HostEntitlements
	err := tx.QueryRow(ctx, `
		SELECT user_id::text, tier, max_event_types, max_monthly_meetings, updated_at
		FROM host_entitlements
		WHERE user_id = $1
	`, userID).Scan(&ent.UserID, &ent.Tier, &ent.MaxEventTypes, &ent.MaxMonthlyMeetings, &ent.UpdatedAt)
	if err != nil {
		if IsNotFound(err) {
			return HostEntitlements{}, false, nil
		}
		return HostEntitlements{}, false, err
	}
	return ent, true, nil
}

// RecordMeetingUsage logs a confirmed provider event for plan-limit
// accounting. This is billing bookkeeping, not the meeting record; the
// provider stays the source of truth for the meeting itself.
func (r *Repository) RecordMeetingUsage(ctx context.Context, tx pgx.Tx, userID, providerEventID string, start time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO meeting_usage (user_id, provider_event_id, start_time)
		VALUES ($1, $2, $3)
	`, userID, providerEventID, start)
	return err
}

func (r *Repository) CountMeetingUsageInRange(ctx context.Context, tx pgx.Tx, userID string, startInclusive, endExclusive time.Time) (int, error) {
	var cnt int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM meeting_usage
		WHERE user_id = $1
		  AND start_time >= $2
		  AND start_time < $3
	`, userID, startInclusive, endExclusive).Scan(&cnt)
	return cnt, err
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

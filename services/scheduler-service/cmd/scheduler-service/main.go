package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/schedulux/schedulux/libs/config"
	"github.com/schedulux/schedulux/libs/db"
	"github.com/schedulux/schedulux/libs/httpx"
	"github.com/schedulux/schedulux/libs/kafkax"
	otelx "github.com/schedulux/schedulux/libs/otel"
	"github.com/schedulux/schedulux/libs/runtime"
	"github.com/schedulux/schedulux/services/scheduler-service/internal/consumer"
	"github.com/schedulux/schedulux/services/scheduler-service/internal/inbox"
	"github.com/schedulux/schedulux/services/scheduler-service/internal/jobs"
	"github.com/schedulux/schedulux/services/scheduler-service/internal/outbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8087")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	jobRepo := jobs.NewRepository()
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	backoffSeconds := config.Int("SCHEDULER_BACKOFF_SECONDS", 60)
	if backoffSeconds <= 0 {
		backoffSeconds = 60
	}
	jobWorker := jobs.NewWorker(pool, jobRepo, outboxRepo, logger, jobs.WorkerConfig{
		Interval:  2 * time.Second,
		BatchSize: 50,
		Backoff:   time.Duration(backoffSeconds) * time.Second,
	})
	go jobWorker.Run(ctx)

	leadMinutes := config.Int("SCHEDULER_REMINDER_LEAD_MINUTES", 60)
	if leadMinutes <= 0 {
		leadMinutes = 60
	}
	leadTime := time.Duration(leadMinutes) * time.Minute

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "scheduler-service")

	type meetingBooked struct {
		ProviderEventID string `json:"provider_event_id"`
		HostUserID      string `json:"host_user_id"`
		HostUsername    string `json:"host_username"`
		EventTypeTitle  string `json:"event_type_title"`
		GuestName       string `json:"guest_name"`
		GuestEmail      string `json:"guest_email"`
		StartTime       string `json:"start_time"`
		Timezone        string `json:"timezone"`
	}

	bookedConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_BOOKED_TOPIC", "booking.meeting.booked.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload meetingBooked
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid meeting booked payload", "err", err)
			return nil
		}
		if payload.ProviderEventID == "" || payload.GuestEmail == "" || payload.StartTime == "" {
			logger.Error("missing meeting booked fields")
			return nil
		}
		startTime, err := time.Parse(time.RFC3339, payload.StartTime)
		if err != nil {
			logger.Error("invalid start_time", "err", err)
			return nil
		}
		remindAt := startTime.Add(-leadTime)
		if remindAt.Before(time.Now().UTC()) {
			// Meeting starts inside the lead window; a reminder now would arrive late.
			logger.Info("skipping reminder inside lead window", "meeting_id", payload.ProviderEventID)
			return nil
		}

		idempotencyKey := payload.ProviderEventID + "|" + remindAt.UTC().Format(time.RFC3339) + "|email"

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := jobRepo.Insert(ctx, tx, jobs.Job{
			IdempotencyKey: idempotencyKey,
			MeetingID:      payload.ProviderEventID,
			HostUserID:     payload.HostUserID,
			Channel:        "email",
			Recipient:      payload.GuestEmail,
			RemindAt:       remindAt,
			TemplateData: map[string]any{
				"host_username":    payload.HostUsername,
				"event_type_title": payload.EventTypeTitle,
				"guest_name":       payload.GuestName,
				"start_time":       payload.StartTime,
				"timezone":         payload.Timezone,
			},
		}); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	go bookedConsumer.Run(ctx)

	type meetingCancelled struct {
		ProviderEventID string `json:"provider_event_id"`
	}

	cancelledConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_CANCELLED_TOPIC", "booking.meeting.cancelled.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload meetingCancelled
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid meeting cancelled payload", "err", err)
			return nil
		}
		if payload.ProviderEventID == "" {
			logger.Error("missing provider_event_id on cancellation")
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := jobRepo.CancelByMeeting(ctx, tx, payload.ProviderEventID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	go cancelledConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

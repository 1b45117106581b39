package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/schedulux/schedulux/libs/config"
	"github.com/schedulux/schedulux/libs/db"
	"github.com/schedulux/schedulux/libs/httpx"
	"github.com/schedulux/schedulux/libs/kafkax"
	otelx "github.com/schedulux/schedulux/libs/otel"
	"github.com/schedulux/schedulux/libs/runtime"
	"github.com/schedulux/schedulux/services/booking-service/internal/accounts"
	"github.com/schedulux/schedulux/services/booking-service/internal/calendar"
	"github.com/schedulux/schedulux/services/booking-service/internal/consumer"
	"github.com/schedulux/schedulux/services/booking-service/internal/handlers"
	"github.com/schedulux/schedulux/services/booking-service/internal/inbox"
	"github.com/schedulux/schedulux/services/booking-service/internal/outbox"
	"github.com/schedulux/schedulux/services/booking-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	accountsProvider := newAccountsProvider(logger)

	calendarBase, err := config.RequiredString("CALENDAR_API_URL")
	if err != nil {
		panic(err)
	}
	calendarKey, err := config.RequiredString("CALENDAR_API_KEY")
	if err != nil {
		panic(err)
	}
	calendarClient := calendar.NewClient(calendarBase, calendarKey)

	startEntitlementConsumers(ctx, logger, repo, inboxRepo)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	h := handlers.NewBookingHandler(repo, outboxRepo, accountsProvider, calendarClient, logger)
	mux.HandleFunc("/api/v1/public/profile", h.PublicProfile)
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Book)
	mux.HandleFunc("/api/v1/meetings", h.Meetings)
	mux.HandleFunc("/api/v1/meetings/cancel", h.CancelMeeting)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "booking")
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

// newAccountsProvider prefers gRPC when ACCOUNT_GRPC_ADDR is set and the
// protogen build carries the generated client; otherwise the HTTP internal
// API is used.
func newAccountsProvider(logger *slog.Logger) accounts.Provider {
	if addr := config.String("ACCOUNT_GRPC_ADDR", ""); addr != "" {
		p, err := accounts.NewGRPCProvider(addr)
		if err != nil {
			logger.Error("account grpc dial failed; falling back to http", "err", err)
		} else if p != nil {
			return p
		}
	}
	return accounts.NewHTTPProvider(config.String("ACCOUNT_SERVICE_URL", "http://account-service:8082"))
}

// startEntitlementConsumers keeps the local entitlements cache in sync with
// billing-service. Deactivation resets the host to free-tier limits.
func startEntitlementConsumers(ctx context.Context, logger *slog.Logger, repo *storage.Repository, inboxRepo *inbox.Repository) {
	brokers := config.String("KAFKA_BROKERS", "")
	if brokers == "" {
		logger.Warn("entitlement consumers disabled (no kafka brokers configured)")
		return
	}

	type entitlementPayload struct {
		UserID             string `json:"user_id"`
		Tier               string `json:"tier"`
		MaxEventTypes      int    `json:"max_event_types"`
		MaxMonthlyMeetings int    `json:"max_monthly_meetings"`
	}

	apply := func(ctx context.Context, msg kafka.Message, deactivated bool) error {
		var payload entitlementPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid entitlement payload", "err", err)
			return nil
		}
		if payload.UserID == "" {
			logger.Error("entitlement payload missing user_id")
			return nil
		}

		ent := storage.HostEntitlements{
			UserID:             payload.UserID,
			Tier:               payload.Tier,
			MaxEventTypes:      payload.MaxEventTypes,
			MaxMonthlyMeetings: payload.MaxMonthlyMeetings,
		}
		if deactivated {
			ent.Tier = "free"
			ent.MaxEventTypes = 3
			ent.MaxMonthlyMeetings = 50
		}

		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if err := repo.UpsertHostEntitlements(ctx, tx, ent); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	groupID := config.String("KAFKA_GROUP_ID", "booking-service")

	activated := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_ENTITLEMENTS_ACTIVATED_TOPIC", "billing.subscription.activated.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		return apply(ctx, msg, false)
	})
	go activated.Run(ctx)

	deactivated := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_ENTITLEMENTS_DEACTIVATED_TOPIC", "billing.subscription.deactivated.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		return apply(ctx, msg, true)
	})
	go deactivated.Run(ctx)
}

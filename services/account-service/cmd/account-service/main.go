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
	"github.com/schedulux/schedulux/services/account-service/internal/consumer"
	"github.com/schedulux/schedulux/services/account-service/internal/handlers"
	"github.com/schedulux/schedulux/services/account-service/internal/inbox"
	"github.com/schedulux/schedulux/services/account-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "account-service")
	port, err := config.Port("PORT", "8082")
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
	inboxRepo := inbox.NewRepository(pool)
	httpHandler := handlers.New(repo)

	startConsumers(ctx, logger, repo, inboxRepo)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/account/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			httpHandler.GetProfile(w, r)
			return
		}
		if r.Method == http.MethodPut {
			httpHandler.UpdateProfile(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/account/onboarding", httpHandler.CompleteOnboarding)
	mux.HandleFunc("/api/v1/account/availability", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			httpHandler.ListAvailability(w, r)
			return
		}
		if r.Method == http.MethodPut {
			httpHandler.ReplaceAvailability(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/account/event-types", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			httpHandler.CreateEventType(w, r)
		case http.MethodGet:
			httpHandler.ListEventTypes(w, r)
		case http.MethodPut:
			httpHandler.UpdateEventType(w, r)
		case http.MethodDelete:
			httpHandler.DeleteEventType(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/account/grant", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			httpHandler.ConnectGrant(w, r)
			return
		}
		if r.Method == http.MethodGet {
			httpHandler.GetGrant(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/internal/v1/public-profile", httpHandler.InternalPublicProfile)
	mux.HandleFunc("/internal/v1/booking-context", httpHandler.InternalBookingContext)
	mux.HandleFunc("/internal/v1/account", httpHandler.InternalAccount)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "account")
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

	if err := startGrpcServer(ctx, logger, pool, repo); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// startConsumers seeds profiles from auth signups and mirrors billing
// entitlements for the event-type cap.
func startConsumers(ctx context.Context, logger *slog.Logger, repo *storage.Repository, inboxRepo *inbox.Repository) {
	brokers := config.String("KAFKA_BROKERS", "")
	if brokers == "" {
		logger.Warn("consumers disabled (no kafka brokers configured)")
		return
	}
	groupID := config.String("KAFKA_GROUP_ID", "account-service")

	userCreated := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_USER_CREATED_TOPIC", "auth.user.created.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			UserID string `json:"user_id"`
			Email  string `json:"email"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid user created payload", "err", err)
			return nil
		}
		if payload.UserID == "" {
			logger.Error("user created payload missing user_id")
			return nil
		}
		return repo.CreateUser(ctx, payload.UserID, payload.Email)
	})
	go userCreated.Run(ctx)

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
		return repo.UpsertEntitlements(ctx, ent)
	}

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

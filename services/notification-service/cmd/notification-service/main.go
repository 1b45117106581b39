package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/schedulux/schedulux/libs/config"
	"github.com/schedulux/schedulux/libs/db"
	"github.com/schedulux/schedulux/libs/httpx"
	"github.com/schedulux/schedulux/libs/kafkax"
	otelx "github.com/schedulux/schedulux/libs/otel"
	"github.com/schedulux/schedulux/libs/runtime"
	"github.com/schedulux/schedulux/services/notification-service/internal/consumer"
	"github.com/schedulux/schedulux/services/notification-service/internal/email"
	"github.com/schedulux/schedulux/services/notification-service/internal/inbox"
	"github.com/schedulux/schedulux/services/notification-service/internal/outbox"
	"github.com/schedulux/schedulux/services/notification-service/internal/sms"
	"github.com/schedulux/schedulux/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type reminderPayload struct {
	MeetingID    string         `json:"meeting_id"`
	HostUserID   string         `json:"host_user_id"`
	Channel      string         `json:"channel"`
	Recipient    string         `json:"recipient"`
	RemindAt     string         `json:"remind_at"`
	TemplateData map[string]any `json:"template_data"`
}

func writeOutboxSent(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, meetingID, hostUserID, channel, providerID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if strings.TrimSpace(providerID) == "" {
		providerID = "unknown"
	}
	eventPayload, err := json.Marshal(map[string]any{
		"meeting_id":   meetingID,
		"host_user_id": hostUserID,
		"channel":      channel,
		"provider_id":  providerID,
		"sent_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   meetingID,
		EventType:     outbox.TopicNotificationSent,
		Payload:       eventPayload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func writeOutboxFailed(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, meetingID, hostUserID, channel, reason string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	eventPayload, err := json.Marshal(map[string]any{
		"meeting_id":   meetingID,
		"host_user_id": hostUserID,
		"channel":      channel,
		"error_reason": reason,
		"failed_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   meetingID,
		EventType:     outbox.TopicNotificationFailed,
		Payload:       eventPayload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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
	notificationsRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@schedulux.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)
	emailProviderID := "smtp"

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	smsWebhookURL := config.String("SMS_WEBHOOK_URL", "")
	smsWebhookToken := config.String("SMS_WEBHOOK_TOKEN", "")
	var smsSender sms.Sender
	switch smsProvider {
	case "webhook":
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	case "noop":
		smsSender = sms.NewNoopSender()
	default:
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	failSuffix := config.String("NOTIFICATION_FAIL_SUFFIX", "")

	reminderConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_REMINDER_TOPIC", "scheduler.reminder.due.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload reminderPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid reminder payload", "err", err)
			return nil
		}
		if payload.MeetingID == "" || payload.Channel == "" || payload.Recipient == "" {
			logger.Error("missing reminder fields")
			return nil
		}

		startTime, _ := payload.TemplateData["start_time"].(string)
		if startTime == "" {
			startTime = payload.RemindAt
		}
		title, _ := payload.TemplateData["event_type_title"].(string)
		if title == "" {
			title = "your meeting"
		}
		guestName, _ := payload.TemplateData["guest_name"].(string)

		status := "sent"
		failureReason := ""
		if failSuffix != "" && strings.HasSuffix(payload.Recipient, failSuffix) {
			status = "failed"
			failureReason = "simulated failure"
		}

		providerID := ""
		if status == "sent" {
			switch strings.ToLower(payload.Channel) {
			case "email":
				subject := fmt.Sprintf("Reminder: %s", title)
				body := fmt.Sprintf("This is a reminder that %s starts at %s.", title, startTime)
				if guestName != "" {
					body = fmt.Sprintf("Hi %s,\n\n%s", guestName, body)
				}
				if err := emailSender.Send(payload.Recipient, subject, body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("email send failed", "err", err, "recipient", payload.Recipient)
				} else {
					providerID = emailProviderID
				}
			case "sms":
				body := fmt.Sprintf("Reminder: %s starts at %s.", title, startTime)
				if err := smsSender.Send(ctx, payload.Recipient, body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("sms send failed", "err", err, "recipient", payload.Recipient)
				} else {
					providerID = smsSender.ProviderID()
				}
			default:
				status = "failed"
				failureReason = "unsupported channel: " + payload.Channel
				logger.Error("unsupported channel", "channel", payload.Channel)
			}
		}

		if err := notificationsRepo.Insert(ctx, storage.Notification{
			MeetingID:  payload.MeetingID,
			HostUserID: payload.HostUserID,
			Channel:    payload.Channel,
			Recipient:  payload.Recipient,
			Payload:    payload.TemplateData,
			Status:     status,
		}); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}

		if status == "failed" {
			if err := writeOutboxFailed(ctx, pool, outboxRepo, payload.MeetingID, payload.HostUserID, payload.Channel, failureReason); err != nil {
				logger.Error("failed to enqueue notification.failed", "err", err)
				return err
			}
		} else {
			if err := writeOutboxSent(ctx, pool, outboxRepo, payload.MeetingID, payload.HostUserID, payload.Channel, providerID); err != nil {
				logger.Error("failed to enqueue notification.sent", "err", err)
				return err
			}
		}

		logger.Info("reminder processed", "meeting_id", payload.MeetingID, "channel", payload.Channel, "status", status)
		return nil
	})
	go reminderConsumer.Run(ctx)

	type meetingBooked struct {
		ProviderEventID string `json:"provider_event_id"`
		HostUserID      string `json:"host_user_id"`
		HostEmail       string `json:"host_email"`
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
		if payload.ProviderEventID == "" || payload.GuestEmail == "" {
			logger.Error("missing meeting booked fields")
			return nil
		}

		title := payload.EventTypeTitle
		if title == "" {
			title = "your meeting"
		}
		subject := fmt.Sprintf("Confirmed: %s", title)
		body := fmt.Sprintf("Your booking for %s at %s (%s) is confirmed.", title, payload.StartTime, payload.Timezone)
		if payload.GuestName != "" {
			body = fmt.Sprintf("Hi %s,\n\n%s", payload.GuestName, body)
		}

		status := "sent"
		failureReason := ""
		if err := emailSender.Send(payload.GuestEmail, subject, body); err != nil {
			status = "failed"
			failureReason = err.Error()
			logger.Error("confirmation email failed", "err", err, "recipient", payload.GuestEmail)
		}

		if err := notificationsRepo.Insert(ctx, storage.Notification{
			MeetingID:  payload.ProviderEventID,
			HostUserID: payload.HostUserID,
			Channel:    "email",
			Recipient:  payload.GuestEmail,
			Payload:    map[string]any{"kind": "booking_confirmation", "start_time": payload.StartTime},
			Status:     status,
		}); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}

		// The host gets a copy at their calendar grant address. Failures
		// here are logged but do not fail the message: the guest
		// confirmation is the delivery that matters.
		if payload.HostEmail != "" {
			hostBody := fmt.Sprintf("%s booked %s at %s (%s).", payload.GuestName, title, payload.StartTime, payload.Timezone)
			hostStatus := "sent"
			if err := emailSender.Send(payload.HostEmail, fmt.Sprintf("New booking: %s", title), hostBody); err != nil {
				hostStatus = "failed"
				logger.Error("host notification failed", "err", err, "recipient", payload.HostEmail)
			}
			if err := notificationsRepo.Insert(ctx, storage.Notification{
				MeetingID:  payload.ProviderEventID,
				HostUserID: payload.HostUserID,
				Channel:    "email",
				Recipient:  payload.HostEmail,
				Payload:    map[string]any{"kind": "host_booking_notice", "start_time": payload.StartTime},
				Status:     hostStatus,
			}); err != nil {
				logger.Error("failed to persist host notification", "err", err)
			}
		}

		if status == "failed" {
			return writeOutboxFailed(ctx, pool, outboxRepo, payload.ProviderEventID, payload.HostUserID, "email", failureReason)
		}
		return writeOutboxSent(ctx, pool, outboxRepo, payload.ProviderEventID, payload.HostUserID, "email", emailProviderID)
	})
	go bookedConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
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

//go:build protogen

package accounts

import (
	"context"
	"time"

	"github.com/schedulux/schedulux/libs/grpcx"
	accountv1 "github.com/schedulux/schedulux/protos/gen/account/v1"
)

type grpcProvider struct {
	client accountv1.AccountServiceClient
}

// NewGRPCProvider dials account-service's gRPC port. Returns a nil Provider
// when addr is empty so callers can fall back to the HTTP provider.
func NewGRPCProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: accountv1.NewAccountServiceClient(conn)}, nil
}

func (p *grpcProvider) GetPublicProfile(ctx context.Context, username string) (PublicProfile, error) {
	resp, err := p.client.GetPublicProfile(ctx, &accountv1.PublicProfileRequest{Username: username})
	if err != nil {
		return PublicProfile{}, err
	}
	out := PublicProfile{
		Username: resp.GetUsername(),
		FullName: resp.GetFullName(),
		Timezone: resp.GetTimezone(),
	}
	for _, et := range resp.GetEventTypes() {
		out.EventTypes = append(out.EventTypes, EventType{
			ID:                et.GetId(),
			Title:             et.GetTitle(),
			URL:               et.GetUrl(),
			Description:       et.GetDescription(),
			DurationMinutes:   int(et.GetDurationMinutes()),
			VideoCallProvider: et.GetVideoCallProvider(),
			Active:            et.GetActive(),
		})
	}
	return out, nil
}

func (p *grpcProvider) GetBookingContext(ctx context.Context, username, eventURL string, weekday time.Weekday) (BookingContext, error) {
	resp, err := p.client.GetBookingContext(ctx, &accountv1.BookingContextRequest{
		Username: username,
		EventUrl: eventURL,
		Weekday:  int32(weekday),
	})
	if err != nil {
		return BookingContext{}, err
	}
	out := BookingContext{
		UserID:     resp.GetUserId(),
		Username:   resp.GetUsername(),
		FullName:   resp.GetFullName(),
		Timezone:   resp.GetTimezone(),
		GrantID:    resp.GetGrantId(),
		GrantEmail: resp.GetGrantEmail(),
	}
	if et := resp.GetEventType(); et != nil {
		out.EventType = EventType{
			ID:                et.GetId(),
			Title:             et.GetTitle(),
			URL:               et.GetUrl(),
			Description:       et.GetDescription(),
			DurationMinutes:   int(et.GetDurationMinutes()),
			VideoCallProvider: et.GetVideoCallProvider(),
			Active:            et.GetActive(),
		}
	}
	if w := resp.GetWindow(); w != nil {
		out.Window.Weekday = time.Weekday(w.GetWeekday())
		out.Window.FromTime = w.GetFromTime()
		out.Window.TillTime = w.GetTillTime()
		out.Window.IsActive = w.GetIsActive()
	}
	return out, nil
}

func (p *grpcProvider) GetAccount(ctx context.Context, userID string) (Account, error) {
	resp, err := p.client.GetAccount(ctx, &accountv1.AccountRequest{UserId: userID})
	if err != nil {
		return Account{}, err
	}
	return Account{
		UserID:     resp.GetUserId(),
		Username:   resp.GetUsername(),
		Timezone:   resp.GetTimezone(),
		GrantID:    resp.GetGrantId(),
		GrantEmail: resp.GetGrantEmail(),
	}, nil
}

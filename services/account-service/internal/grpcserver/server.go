//go:build protogen

package grpcserver

import (
	"context"

	"github.com/schedulux/schedulux/libs/db"
	accountv1 "github.com/schedulux/schedulux/protos/gen/account/v1"
	"github.com/schedulux/schedulux/services/account-service/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type server struct {
	accountv1.UnimplementedAccountServiceServer
	pool *db.Pool
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, repo *storage.Repository) {
	accountv1.RegisterAccountServiceServer(grpcServer, &server{pool: pool, repo: repo})
}

func (s *server) GetPublicProfile(ctx context.Context, req *accountv1.PublicProfileRequest) (*accountv1.PublicProfileResponse, error) {
	if req.GetUsername() == "" {
		return nil, status.Error(codes.InvalidArgument, "username is required")
	}

	p, err := s.repo.GetProfileByUsername(ctx, req.GetUsername())
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "profile not found")
		}
		return nil, status.Error(codes.Internal, "failed to load profile")
	}

	eventTypes, err := s.repo.ListEventTypes(ctx, p.UserID, true)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to list event types")
	}

	resp := &accountv1.PublicProfileResponse{
		Username: p.Username,
		FullName: p.FullName,
		Timezone: p.Timezone,
	}
	for _, et := range eventTypes {
		resp.EventTypes = append(resp.EventTypes, toProtoEventType(et))
	}
	return resp, nil
}

func (s *server) GetBookingContext(ctx context.Context, req *accountv1.BookingContextRequest) (*accountv1.BookingContextResponse, error) {
	if req.GetUsername() == "" || req.GetEventUrl() == "" {
		return nil, status.Error(codes.InvalidArgument, "username and event_url are required")
	}
	weekday := int(req.GetWeekday())
	if weekday < 0 || weekday > 6 {
		return nil, status.Error(codes.InvalidArgument, "weekday must be between 0 and 6")
	}

	p, err := s.repo.GetProfileByUsername(ctx, req.GetUsername())
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "profile not found")
		}
		return nil, status.Error(codes.Internal, "failed to load profile")
	}

	et, err := s.repo.GetEventTypeByURL(ctx, p.UserID, req.GetEventUrl())
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "event type not found")
		}
		return nil, status.Error(codes.Internal, "failed to load event type")
	}

	grant, err := s.repo.GetGrant(ctx, p.UserID)
	if err != nil && !storage.IsNotFound(err) {
		return nil, status.Error(codes.Internal, "failed to load grant")
	}

	window, err := s.repo.GetWindow(ctx, p.UserID, weekday)
	if err != nil {
		if !storage.IsNotFound(err) {
			return nil, status.Error(codes.Internal, "failed to load availability")
		}
		window = storage.AvailabilityWindow{Weekday: weekday}
	}

	return &accountv1.BookingContextResponse{
		UserId:     p.UserID,
		Username:   p.Username,
		FullName:   p.FullName,
		Timezone:   p.Timezone,
		GrantId:    grant.GrantID,
		GrantEmail: grant.GrantEmail,
		EventType:  toProtoEventType(et),
		Window: &accountv1.AvailabilityWindow{
			Weekday:  int32(window.Weekday),
			FromTime: window.FromTime,
			TillTime: window.TillTime,
			IsActive: window.IsActive,
		},
	}, nil
}

func (s *server) GetAccount(ctx context.Context, req *accountv1.AccountRequest) (*accountv1.AccountResponse, error) {
	if req.GetUserId() == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	p, err := s.repo.GetProfile(ctx, req.GetUserId())
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "account not found")
		}
		return nil, status.Error(codes.Internal, "failed to load account")
	}

	grant, err := s.repo.GetGrant(ctx, p.UserID)
	if err != nil && !storage.IsNotFound(err) {
		return nil, status.Error(codes.Internal, "failed to load grant")
	}

	return &accountv1.AccountResponse{
		UserId:     p.UserID,
		Username:   p.Username,
		Timezone:   p.Timezone,
		GrantId:    grant.GrantID,
		GrantEmail: grant.GrantEmail,
	}, nil
}

func toProtoEventType(et storage.EventType) *accountv1.EventType {
	return &accountv1.EventType{
		Id:                et.ID,
		Title:             et.Title,
		Url:               et.URL,
		Description:       et.Description,
		DurationMinutes:   int32(et.DurationMinutes),
		VideoCallProvider: et.VideoCallProvider,
		Active:            et.Active,
	}
}

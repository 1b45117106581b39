//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/schedulux/schedulux/libs/db"
	"github.com/schedulux/schedulux/services/account-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *db.Pool, _ *storage.Repository) error {
	return nil
}

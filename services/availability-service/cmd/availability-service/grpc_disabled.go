//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/insideout-learning/insideout/libs/db"
	"github.com/insideout-learning/insideout/services/availability-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *db.Pool, _ *storage.Repository) error {
	return nil
}

//go:build protogen

package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/insideout-learning/insideout/libs/db"
	availabilityv1 "github.com/insideout-learning/insideout/protos/gen/availability/v1"
	"github.com/insideout-learning/insideout/services/availability-service/internal/slots"
	"github.com/insideout-learning/insideout/services/availability-service/internal/storage"
)

type server struct {
	availabilityv1.UnimplementedAvailabilityServiceServer
	pool *db.Pool
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, repo *storage.Repository) {
	availabilityv1.RegisterAvailabilityServiceServer(grpcServer, &server{pool: pool, repo: repo})
}

// GetSnapshot serves the booking-side revalidation path: booking-service
// re-checks a requested slot against the same snapshot the public endpoints
// use before accepting it.
func (s *server) GetSnapshot(ctx context.Context, req *availabilityv1.SnapshotRequest) (*availabilityv1.SnapshotResponse, error) {
	resp := &availabilityv1.SnapshotResponse{TutorId: req.GetTutorId()}
	if s.repo == nil || req.GetTutorId() == "" {
		return resp, nil
	}

	today := time.Now().UTC()
	resp.GeneratedAt = timestamppb.New(today)
	cfg, err := s.repo.GetConfig(ctx, req.GetTutorId())
	if err != nil {
		return nil, err
	}
	booked, err := s.repo.ListBookedRanges(ctx, req.GetTutorId(), today, today.AddDate(0, 0, slots.HorizonDays))
	if err != nil {
		return nil, err
	}

	if cfg.MonthStart != nil {
		resp.MonthStart = int32(*cfg.MonthStart)
	}
	if cfg.MonthEnd != nil {
		resp.MonthEnd = int32(*cfg.MonthEnd)
	}
	for _, d := range cfg.Days {
		day := &availabilityv1.DayTemplate{DayOfWeek: int32(d.DayOfWeek)}
		for _, rng := range d.Ranges {
			day.Ranges = append(day.Ranges, &availabilityv1.MinuteRange{
				StartMinute: int32(rng.StartMinute),
				EndMinute:   int32(rng.EndMinute),
			})
		}
		resp.Days = append(resp.Days, day)
	}
	for _, d := range cfg.UnavailableDates {
		resp.UnavailableDates = append(resp.UnavailableDates, slots.DateKey(d))
	}
	for _, b := range booked {
		resp.BookedSlots = append(resp.BookedSlots, &availabilityv1.BookedSlot{
			Date:        slots.DateKey(b.Date),
			StartMinute: int32(b.StartMinute),
			EndMinute:   int32(b.EndMinute),
		})
	}
	return resp, nil
}

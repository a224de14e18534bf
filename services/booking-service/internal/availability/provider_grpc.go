//go:build protogen

package availability

import (
	"context"
	"time"

	"github.com/insideout-learning/insideout/libs/grpcx"
	availabilityv1 "github.com/insideout-learning/insideout/protos/gen/availability/v1"
)

type Provider interface {
	GetSnapshot(ctx context.Context, tutorID string) (Snapshot, error)
}

type grpcProvider struct {
	client availabilityv1.AvailabilityServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: availabilityv1.NewAvailabilityServiceClient(conn)}, nil
}

func (p *grpcProvider) GetSnapshot(ctx context.Context, tutorID string) (Snapshot, error) {
	resp, err := p.client.GetSnapshot(ctx, &availabilityv1.SnapshotRequest{TutorId: tutorID})
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		TutorID:          resp.GetTutorId(),
		MonthStart:       int(resp.GetMonthStart()),
		MonthEnd:         int(resp.GetMonthEnd()),
		Days:             map[int][]MinuteRange{},
		UnavailableDates: map[string]struct{}{},
		Booked:           map[string][]MinuteRange{},
	}
	if ts := resp.GetGeneratedAt(); ts != nil {
		snap.GeneratedAt = ts.AsTime()
	}
	for _, d := range resp.GetDays() {
		weekday := int(d.GetDayOfWeek())
		for _, r := range d.GetRanges() {
			snap.Days[weekday] = append(snap.Days[weekday], MinuteRange{
				StartMinute: int(r.GetStartMinute()),
				EndMinute:   int(r.GetEndMinute()),
			})
		}
	}
	for _, d := range resp.GetUnavailableDates() {
		snap.UnavailableDates[d] = struct{}{}
	}
	for _, b := range resp.GetBookedSlots() {
		snap.Booked[b.GetDate()] = append(snap.Booked[b.GetDate()], MinuteRange{
			StartMinute: int(b.GetStartMinute()),
			EndMinute:   int(b.GetEndMinute()),
		})
	}
	return snap, nil
}

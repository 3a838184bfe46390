package schedule

import (
	"context"
	"log/slog"
	"time"
)

// JobExpireBookings runs the payment-expiry reaper once.
const JobExpireBookings = "booking:expire"

type ExpiryPayload struct {
	BookingID string `json:"bookingId"`
}

// Scheduler enqueues a named job to run at runAt, possibly in another process.
type Scheduler interface {
	Schedule(ctx context.Context, name string, payload any, runAt time.Time) error
}

// Periodic runs Task every Interval until ctx is cancelled. A failing tick is
// logged and the next tick proceeds.
type Periodic struct {
	Name     string
	Interval time.Duration
	Task     func(ctx context.Context) error
	Logger   *slog.Logger
}

func (p Periodic) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Task(ctx); err != nil && ctx.Err() == nil {
				p.logger().Error("periodic task failed", "task", p.Name, "error", err)
			}
		}
	}
}

func (p Periodic) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

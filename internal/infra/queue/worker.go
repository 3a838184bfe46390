package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"staybook/internal/app/commands"
	bookingapp "staybook/internal/app/handlers/booking"
	"staybook/internal/app/handlers/refunds"
	"staybook/internal/app/schedule"
)

type WorkerConfig struct {
	Executor    *refunds.Executor
	Commands    commands.Bus
	Backoff     []time.Duration
	Concurrency int
	Logger      *slog.Logger
}

// Worker runs queued refund attempts and scheduled expiry passes.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	cfg    WorkerConfig
}

func NewWorker(opt asynq.RedisConnOpt, cfg WorkerConfig) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	w := &Worker{cfg: cfg, mux: asynq.NewServeMux()}
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueRefunds: 6,
			QueueDefault: 4,
		},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return refunds.BackoffDelay(cfg.Backoff, n+1)
		},
		Logger: slogAdapter{logger: cfg.Logger},
	})
	w.mux.HandleFunc(TaskRefundDispatch, w.HandleRefund)
	w.mux.HandleFunc(schedule.JobExpireBookings, w.HandleExpireBookings)
	return w
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

// HandleRefund makes one attempt. When asynq has no retries left the refund
// is marked exhausted before the error is returned.
func (w *Worker) HandleRefund(ctx context.Context, t *asynq.Task) error {
	var p refundPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.RefundID == "" {
		return fmt.Errorf("queue: bad refund payload: %w", asynq.SkipRetry)
	}
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	err := w.cfg.Executor.Attempt(ctx, p.RefundID, retried+1)
	if err == nil {
		return nil
	}
	if retried >= maxRetry {
		w.cfg.Executor.Exhausted(ctx, p.RefundID, retried+1, err)
	}
	return err
}

func (w *Worker) HandleExpireBookings(ctx context.Context, t *asynq.Task) error {
	var p schedule.ExpiryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		w.cfg.Logger.Warn("dropping expiry task with bad payload", "task", t.Type(), "error", err)
		return fmt.Errorf("queue: bad expiry payload: %v: %w", err, asynq.SkipRetry)
	}
	res, err := commands.Dispatch[bookingapp.ExpireBookingsCommand, *bookingapp.ExpireBookingsResult](ctx, w.cfg.Commands, bookingapp.ExpireBookingsCommand{})
	if err != nil {
		return err
	}
	w.cfg.Logger.Debug("scheduled expiry pass", "booking_id", p.BookingID, "expired", res.Expired)
	return nil
}

type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Fatal(args ...any) { a.logger.Error(fmt.Sprint(args...), "component", "asynq", "fatal", true) }

package refunds

import (
	"context"
	"errors"
	"sync"
	"time"

	"staybook/internal/app/policies"
)

var ErrDispatcherClosed = errors.New("refunds: dispatcher closed")

// InlineDispatcher retries refunds on goroutines of this process. Delays
// follow Backoff and keep doubling the last step once the list runs out.
// A refund already being retried is not started twice, and a refund picked
// up again continues from the attempts already on record.
type InlineDispatcher struct {
	executor    *Executor
	backoff     []time.Duration
	maxAttempts int

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewInlineDispatcher(executor *Executor, backoff []time.Duration, maxAttempts int) *InlineDispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if len(backoff) == 0 {
		backoff = []time.Duration{time.Second}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InlineDispatcher{
		executor:    executor,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		inflight:    make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, refundID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if _, busy := d.inflight[refundID]; busy {
		return nil
	}
	d.inflight[refundID] = struct{}{}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.done(refundID)
		d.run(refundID)
	}()
	return nil
}

func (d *InlineDispatcher) done(refundID string) {
	d.mu.Lock()
	delete(d.inflight, refundID)
	d.mu.Unlock()
}

func (d *InlineDispatcher) run(refundID string) {
	progress, err := d.executor.Progress(d.ctx, refundID)
	if err != nil {
		d.executor.logger().Error("refund progress unavailable", "refund_id", refundID, "error", err)
		return
	}
	if progress.Settled {
		return
	}
	var lastErr error
	if progress.LastError != "" {
		lastErr = errors.New(progress.LastError)
	}
	for attempt := progress.Failed + 1; attempt <= d.maxAttempts; attempt++ {
		lastErr = d.executor.Attempt(d.ctx, refundID, attempt)
		if lastErr == nil {
			return
		}
		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-d.ctx.Done():
			d.executor.logger().Warn("refund retry interrupted by shutdown", "refund_id", refundID, "attempt", attempt)
			return
		case <-time.After(d.Delay(attempt)):
		}
	}
	d.executor.Exhausted(context.WithoutCancel(d.ctx), refundID, max(progress.Failed, d.maxAttempts), lastErr)
}

// Delay is the wait after the given failed attempt (1-based).
func (d *InlineDispatcher) Delay(attempt int) time.Duration {
	return BackoffDelay(d.backoff, attempt)
}

// BackoffDelay walks backoff for the given failed attempt (1-based) and keeps
// doubling the last step once the list runs out.
func BackoffDelay(backoff []time.Duration, attempt int) time.Duration {
	if len(backoff) == 0 {
		return time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt <= len(backoff) {
		return backoff[attempt-1]
	}
	delay := backoff[len(backoff)-1]
	for i := len(backoff); i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Close stops pending retries and waits for running attempts to return.
func (d *InlineDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

var _ policies.RefundDispatcher = (*InlineDispatcher)(nil)

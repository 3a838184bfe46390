package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"staybook/internal/app/policies"
	"staybook/internal/app/schedule"
)

const (
	TaskRefundDispatch = "refund:dispatch"

	QueueRefunds = "refunds"
	QueueDefault = "default"
)

type refundPayload struct {
	RefundID string `json:"refundId"`
}

// Client enqueues jobs on Redis for the asynq worker.
type Client struct {
	client *asynq.Client
}

func NewClient(opt asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Schedule(ctx context.Context, name string, payload any, runAt time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: encode %s: %w", name, err)
	}
	_, err = c.client.EnqueueContext(ctx, asynq.NewTask(name, data), asynq.ProcessAt(runAt), asynq.Queue(QueueDefault))
	return err
}

// RefundDispatcher hands refunds to the durable queue. The task id is the
// refund id, so a refund is queued at most once.
type RefundDispatcher struct {
	client      *Client
	maxAttempts int
}

func NewRefundDispatcher(client *Client, maxAttempts int) *RefundDispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RefundDispatcher{client: client, maxAttempts: maxAttempts}
}

func (d *RefundDispatcher) Dispatch(ctx context.Context, refundID string) error {
	data, err := json.Marshal(refundPayload{RefundID: refundID})
	if err != nil {
		return err
	}
	_, err = d.client.client.EnqueueContext(ctx, asynq.NewTask(TaskRefundDispatch, data),
		asynq.TaskID("refund:"+refundID),
		asynq.MaxRetry(d.maxAttempts-1),
		asynq.Queue(QueueRefunds),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

var (
	_ schedule.Scheduler        = (*Client)(nil)
	_ policies.RefundDispatcher = (*RefundDispatcher)(nil)
)

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appoutbox "staybook/internal/app/outbox"
)

// Source is where the relay claims undelivered records from.
type Source interface {
	Claim(ctx context.Context, workerID string) (*EventDocument, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Worker relays outbox records as CloudEvents, one topic per aggregate
// family. It drains on every tick and whenever Wake fires.
type Worker struct {
	Store       Source
	Producer    Producer
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
	Wake        <-chan struct{}
	Logger      *slog.Logger
}

var ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")

func (w *Worker) Run(ctx context.Context) error {
	if w.Store == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-w.Wake:
		}
		if err := w.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger().Error("outbox relay failed", "worker_id", w.ID, "error", err)
		}
	}
}

// drain relays until nothing is claimable.
func (w *Worker) drain(ctx context.Context) error {
	for {
		relayed, err := w.ProcessOnce(ctx)
		if err != nil || !relayed {
			return err
		}
	}
}

// ProcessOnce claims and relays a single record, reporting whether one was found.
func (w *Worker) ProcessOnce(ctx context.Context) (bool, error) {
	doc, err := w.Store.Claim(ctx, w.ID)
	if err != nil || doc == nil {
		return false, err
	}
	topic := w.topicFor(doc.Name)
	err = w.publish(ctx, topic, doc)
	if err == nil {
		return true, w.Store.MarkSent(ctx, doc.ID)
	}
	delay := retryDelay(w.Backoff, doc.Attempts)
	w.logger().Warn("outbox publish failed",
		"event_id", doc.ID,
		"event", doc.Name,
		"topic", topic,
		"attempts", doc.Attempts+1,
		"retry_in", delay,
		"error", err,
	)
	return true, w.Store.MarkFailed(ctx, doc.ID, time.Now().Add(delay), err.Error())
}

// cloudEvent is the structured-mode CloudEvents 1.0 envelope.
type cloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject,omitempty"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

func (w *Worker) publish(ctx context.Context, topic string, doc *EventDocument) error {
	payload, err := json.Marshal(cloudEvent{
		SpecVersion:     "1.0",
		ID:              doc.ID,
		Type:            doc.Name + ".v1",
		Source:          w.source(),
		Subject:         doc.Aggregate,
		Time:            doc.OccurredAt,
		DataContentType: "application/json",
		Data:            json.RawMessage(doc.Payload),
	})
	if err != nil {
		return fmt.Errorf("envelope %s: %w", doc.ID, err)
	}
	headers := make(map[string]string, len(doc.Headers)+1)
	for k, v := range doc.Headers {
		headers[k] = v
	}
	headers[appoutbox.HeaderContentType] = "application/cloudevents+json"
	return w.Producer.Publish(ctx, topic, doc.Aggregate, payload, headers)
}

// topicFor maps "booking.confirmed" to "<prefix>booking.events.v1".
func (w *Worker) topicFor(name string) string {
	family, _, _ := strings.Cut(name, ".")
	return w.TopicPrefix + family + ".events.v1"
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

// retryDelay walks backoff by attempts already made and stays on the last
// step afterwards.
func retryDelay(backoff []time.Duration, attempts int) time.Duration {
	switch {
	case len(backoff) == 0:
		return 5 * time.Second
	case attempts < len(backoff):
		return backoff[attempts]
	default:
		return backoff[len(backoff)-1]
	}
}

func (w *Worker) source() string {
	if w.Source != "" {
		return w.Source
	}
	return "app://staybook"
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// LogProducer stands in for a broker when none is configured: records are
// logged and acknowledged so the outbox does not grow without bound.
type LogProducer struct {
	Logger *slog.Logger
}

func (p LogProducer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("event relayed", "topic", topic, "key", key, "type", headers[appoutbox.HeaderEventName], "bytes", len(payload))
	return nil
}

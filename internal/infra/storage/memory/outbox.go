package memory

import (
	"context"
	"sync"
	"time"

	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/uow"
	infraoutbox "staybook/internal/infra/outbox"
)

// Outbox queues event records in memory for the relay worker. Records added
// inside a memory unit disappear again if that unit rolls back.
type Outbox struct {
	mu      sync.Mutex
	records []*infraoutbox.EventDocument
	notify  chan struct{}
}

func NewOutbox() *Outbox {
	return &Outbox{notify: make(chan struct{}, 1)}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	now := time.Now().UTC()
	doc := &infraoutbox.EventDocument{
		ID:          record.ID,
		Name:        record.Name,
		Payload:     record.Payload,
		OccurredAt:  record.OccurredAt,
		Aggregate:   record.Aggregate,
		Headers:     record.Headers,
		State:       infraoutbox.StateNew,
		NextAttempt: now,
	}
	o.mu.Lock()
	o.records = append(o.records, doc)
	o.mu.Unlock()
	if unit, ok := uow.FromContext(ctx); ok {
		if mu, ok := unit.(*Unit); ok {
			mu.onRollback(func() { o.drop(record.ID) })
		}
	}
	return nil
}

// Flush wakes the relay; records are already queued.
func (o *Outbox) Flush(context.Context) error {
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// Notify fires after a flush so the relay need not wait for its next tick.
func (o *Outbox) Notify() <-chan struct{} {
	return o.notify
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*infraoutbox.EventDocument, error) {
	now := time.Now().UTC()
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, doc := range o.records {
		if (doc.State == infraoutbox.StateNew || doc.State == infraoutbox.StateFailed) && !doc.NextAttempt.After(now) {
			doc.State = infraoutbox.StateClaimed
			doc.ClaimedBy = workerID
			doc.ClaimedAt = now
			cp := *doc
			return &cp, nil
		}
	}
	return nil, nil
}

// MarkSent drops the record; memory mode keeps no delivery history.
func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.drop(id)
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, doc := range o.records {
		if doc.ID == id {
			doc.State = infraoutbox.StateFailed
			doc.NextAttempt = next
			doc.LastError = errMsg
			doc.Attempts++
		}
	}
	return nil
}

// Pending reports queued records, for tests and readiness output.
func (o *Outbox) Pending() []infraoutbox.EventDocument {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]infraoutbox.EventDocument, 0, len(o.records))
	for _, doc := range o.records {
		out = append(out, *doc)
	}
	return out
}

func (o *Outbox) drop(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, doc := range o.records {
		if doc.ID == id {
			o.records = append(o.records[:i], o.records[i+1:]...)
			return
		}
	}
}

var (
	_ appoutbox.Outbox   = (*Outbox)(nil)
	_ infraoutbox.Source = (*Outbox)(nil)
)

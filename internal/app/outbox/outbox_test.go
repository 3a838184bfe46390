package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/domain/shared/events"
)

type pinged struct {
	ID string
	At time.Time
}

func (p pinged) EventName() string     { return "probe.pinged" }
func (p pinged) AggregateID() string   { return p.ID }
func (p pinged) OccurredAt() time.Time { return p.At }

type aggregate struct {
	events.EventRecorder
}

type captureBox struct {
	records []EventRecord
}

func (c *captureBox) Add(_ context.Context, r EventRecord) error {
	c.records = append(c.records, r)
	return nil
}

func (c *captureBox) Flush(context.Context) error { return nil }

func TestRecordDomainEventsDrains(t *testing.T) {
	agg := &aggregate{}
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	agg.Record(pinged{ID: "a-1", At: at})
	agg.Record(pinged{ID: "a-1", At: at})

	box := &captureBox{}
	enc := JSONEventEncoder{NewID: func() string { return "fixed" }}
	require.NoError(t, RecordDomainEvents(context.Background(), box, enc, agg))

	require.Len(t, box.records, 2)
	assert.Equal(t, "probe.pinged", box.records[0].Name)
	assert.Equal(t, "a-1", box.records[0].Aggregate)
	assert.JSONEq(t, `{"ID":"a-1","At":"2025-06-01T00:00:00Z"}`, string(box.records[0].Payload))
	assert.Empty(t, agg.PendingEvents())
}

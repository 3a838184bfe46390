package cancellation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/domain/shared/money"
)

func flexible() Policy {
	return Policy{
		ID: "flexible",
		Windows: []Window{
			{MinHoursBefore: 24, RefundPercent: 50},
			{MinHoursBefore: 72, RefundPercent: 100},
		},
	}
}

func TestEvaluateWindows(t *testing.T) {
	checkIn := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	total := money.Must(320, "AED")

	cases := []struct {
		name       string
		lead       time.Duration
		refundable int64
		penalty    int64
		percent    int
	}{
		{name: "well ahead", lead: 100 * time.Hour, refundable: 320, penalty: 0, percent: 100},
		{name: "exactly 72h", lead: 72 * time.Hour, refundable: 320, penalty: 0, percent: 100},
		{name: "between 24 and 72", lead: 48 * time.Hour, refundable: 160, penalty: 160, percent: 50},
		{name: "under 24h", lead: 3 * time.Hour, refundable: 0, penalty: 320, percent: 0},
	}
	for _, tc := range cases {
		tc := tc // per-iteration copy; go.mod targets go1.21 loop semantics
		t.Run(tc.name, func(t *testing.T) {
			d, err := Evaluate(flexible(), total, checkIn, checkIn.Add(-tc.lead))
			require.NoError(t, err)
			assert.Equal(t, tc.refundable, d.Refundable.Amount)
			assert.Equal(t, tc.penalty, d.Penalty.Amount)
			assert.Equal(t, tc.percent, d.RefundPercent)
			assert.NotEmpty(t, d.Rationale)
		})
	}
}

func TestEvaluateAfterCutoff(t *testing.T) {
	checkIn := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	_, err := Evaluate(flexible(), money.Must(320, "AED"), checkIn, checkIn.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotCancellable)

	late := flexible()
	late.CutoffHours = -24
	d, err := Evaluate(late, money.Must(320, "AED"), checkIn, checkIn.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, d.Refundable.Amount)
}

func TestBookSnapshotsAreDetached(t *testing.T) {
	book, err := NewBook("flexible", flexible())
	require.NoError(t, err)

	snapshot := book.Lookup("flexible")
	require.NoError(t, book.Replace(Policy{ID: "flexible", Windows: []Window{{MinHoursBefore: 0, RefundPercent: 0}}}))

	checkIn := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	d, err := Evaluate(snapshot, money.Must(320, "AED"), checkIn, checkIn.Add(-100*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(320), d.Refundable.Amount)
	assert.Equal(t, 72, snapshot.Windows[0].MinHoursBefore, "windows are ordered by lead time")
}

func TestBookFallsBackToDefault(t *testing.T) {
	book, err := NewBook("flexible", flexible())
	require.NoError(t, err)
	assert.Equal(t, "flexible", book.Lookup("unknown").ID)

	_, err = NewBook("strict", flexible())
	assert.ErrorIs(t, err, ErrPolicyNotFound)

	_, err = NewBook("bad", Policy{ID: "bad", Windows: []Window{{RefundPercent: 120}}})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

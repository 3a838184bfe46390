package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/domain/shared/daterange"
)

func day(s string) time.Time {
	t, _ := time.Parse(daterange.DayLayout, s)
	return t
}

func TestConflictErrorSortsAndDedupes(t *testing.T) {
	err := NewConflict("p-1", []time.Time{day("2025-06-03"), day("2025-06-02"), day("2025-06-03")})

	assert.Equal(t, []string{"2025-06-02", "2025-06-03"}, err.ConflictingDates())
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Contains(t, err.Error(), "2025-06-02")

	var conflict *ConflictError
	wrapped := errors.Join(errors.New("reserve"), err)
	require.True(t, errors.As(wrapped, &conflict))
	assert.Equal(t, "p-1", string(conflict.PropertyID))
}

func TestFillMarksUnclaimedDaysAvailable(t *testing.T) {
	dr, err := daterange.Parse("2025-06-01", "2025-06-04")
	require.NoError(t, err)

	days := Fill("p-1", dr, []CalendarDay{{Date: day("2025-06-02"), Status: StatusHold, ClaimID: "h-1"}})

	require.Len(t, days, 3)
	assert.Equal(t, StatusAvailable, days[0].Status)
	assert.Equal(t, StatusHold, days[1].Status)
	assert.Equal(t, "h-1", days[1].ClaimID)
	assert.Equal(t, StatusAvailable, days[2].Status)
}

func TestClaimKindStatus(t *testing.T) {
	assert.Equal(t, StatusHold, ClaimHold.Status())
	assert.Equal(t, StatusBooked, ClaimBooking.Status())
	assert.Equal(t, StatusBlocked, ClaimBlock.Status())
	assert.False(t, ClaimKind("OTHER").Valid())
}

func TestValidateClaim(t *testing.T) {
	dr, _ := daterange.Parse("2025-06-01", "2025-06-02")
	assert.NoError(t, ValidateClaim(dr, ClaimHold, "h-1"))
	assert.ErrorIs(t, ValidateClaim(dr, ClaimHold, " "), ErrInvalidClaim)
	assert.ErrorIs(t, ValidateClaim(daterange.DateRange{}, ClaimHold, "h-1"), daterange.ErrInvalidRange)
}

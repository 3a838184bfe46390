package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookingapp "staybook/internal/app/handlers/booking"
	holdsapp "staybook/internal/app/handlers/holds"
)

func TestValidateReportsMissingFields(t *testing.T) {
	v := New()

	err := v.Validate(context.Background(), holdsapp.ReserveCommand{PropertyID: "villa-1"})
	require.ErrorIs(t, err, ErrInvalid)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []FieldError{{Field: "CheckIn", Rule: "required"}, {Field: "CheckOut", Rule: "required"}}, verr.Fields)

	assert.NoError(t, v.Validate(context.Background(), bookingapp.CreateFromHoldCommand{HoldID: "h-1", CustomerID: "c-1"}))
	assert.ErrorIs(t, v.Validate(context.Background(), bookingapp.ExpireBookingsCommand{Limit: -1}), ErrInvalid)
}

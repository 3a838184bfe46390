package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNormalizesCurrency(t *testing.T) {
	m, err := New(100, "aed")
	require.NoError(t, err)
	assert.Equal(t, "AED", m.Currency)

	_, err = New(100, "DIRHAM")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestArithmeticRequiresSameCurrency(t *testing.T) {
	total, err := Must(300, "AED").Add(Must(20, "AED"))
	require.NoError(t, err)
	assert.Equal(t, int64(320), total.Amount)

	_, err = Must(300, "AED").Add(Must(20, "USD"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestPercentRoundsDown(t *testing.T) {
	half, err := Must(333, "AED").Percent(50)
	require.NoError(t, err)
	assert.Equal(t, int64(166), half.Amount)

	_, err = Must(100, "AED").Percent(101)
	assert.ErrorIs(t, err, ErrInvalidPercent)
}

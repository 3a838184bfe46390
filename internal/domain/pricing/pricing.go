package pricing

import (
	"errors"
	"fmt"

	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
)

var (
	ErrInvalidGuests  = errors.New("pricing: guest count must be at least 1")
	ErrGuestCapacity  = errors.New("pricing: guest count exceeds property capacity")
	ErrBelowMinNights = errors.New("pricing: stay is shorter than the minimum nights")
	ErrAboveMaxNights = errors.New("pricing: stay is longer than the maximum nights")
	ErrCurrencyUnset  = errors.New("pricing: currency must be defined")
	ErrNegativeRate   = errors.New("pricing: rates cannot be negative")

	// ErrFeeCurrencyUnset flags a listing whose cleaning fee has an amount
	// but no currency.
	ErrFeeCurrencyUnset = fmt.Errorf("%w: cleaning fee amount without currency", ErrCurrencyUnset)
)

// RateConfig is the property rate data a quote is computed from.
// MaxNights and MaxGuests of zero mean unbounded.
type RateConfig struct {
	NightlyRate money.Money
	CleaningFee money.Money
	MinNights   int
	MaxNights   int
	MaxGuests   int
}

// Quote is the priced breakdown for a stay. Field order is part of the
// serialized form so equal inputs marshal to identical bytes.
type Quote struct {
	Nights       int    `json:"nights" bson:"nights"`
	NightlyRate  int64  `json:"nightlyRate" bson:"nightly_rate"`
	NightlyTotal int64  `json:"nightlyTotal" bson:"nightly_total"`
	CleaningFee  int64  `json:"cleaningFee" bson:"cleaning_fee"`
	Total        int64  `json:"total" bson:"total"`
	Currency     string `json:"currency" bson:"currency"`
}

// TotalMoney returns the quoted total as Money.
func (q Quote) TotalMoney() money.Money {
	return money.Money{Amount: q.Total, Currency: q.Currency}
}

// Calculate prices a stay: nightly rate times nights plus the fixed cleaning fee.
// It has no side effects and depends on nothing but its arguments.
func Calculate(cfg RateConfig, dr daterange.DateRange, guests int) (Quote, error) {
	if err := dr.Validate(); err != nil {
		return Quote{}, err
	}
	if guests < 1 {
		return Quote{}, ErrInvalidGuests
	}
	if cfg.MaxGuests > 0 && guests > cfg.MaxGuests {
		return Quote{}, ErrGuestCapacity
	}
	nights := dr.Nights()
	if cfg.MinNights > 0 && nights < cfg.MinNights {
		return Quote{}, ErrBelowMinNights
	}
	if cfg.MaxNights > 0 && nights > cfg.MaxNights {
		return Quote{}, ErrAboveMaxNights
	}
	if cfg.NightlyRate.Currency == "" {
		return Quote{}, ErrCurrencyUnset
	}
	if cfg.NightlyRate.Amount < 0 || cfg.CleaningFee.Amount < 0 {
		return Quote{}, ErrNegativeRate
	}
	fee := cfg.CleaningFee
	if fee.Currency == "" {
		if fee.Amount != 0 {
			return Quote{}, ErrFeeCurrencyUnset
		}
		fee = money.Zero(cfg.NightlyRate.Currency)
	}
	nightly := cfg.NightlyRate.Multiply(int64(nights))
	total, err := nightly.Add(fee)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Nights:       nights,
		NightlyRate:  cfg.NightlyRate.Amount,
		NightlyTotal: nightly.Amount,
		CleaningFee:  fee.Amount,
		Total:        total.Amount,
		Currency:     total.Currency,
	}, nil
}

// IsValidationError reports whether err is a user-correctable quoting error.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, daterange.ErrInvalidRange),
		errors.Is(err, ErrInvalidGuests),
		errors.Is(err, ErrGuestCapacity),
		errors.Is(err, ErrBelowMinNights),
		errors.Is(err, ErrAboveMaxNights):
		return true
	}
	return false
}

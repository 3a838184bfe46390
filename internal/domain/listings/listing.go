package listings

import (
	"context"
	"errors"
	"strings"

	"staybook/internal/domain/pricing"
	"staybook/internal/domain/shared/money"
)

var (
	ErrListingNotFound = errors.New("listings: listing not found")
	ErrGuestsLimit     = errors.New("listings: guests limit must be at least 1")
	ErrNightsRange     = errors.New("listings: min nights must be <= max nights")
	ErrNightlyRate     = errors.New("listings: nightly rate must be non-negative")
	ErrNotBookable     = errors.New("listings: listing is not bookable")
)

type ListingID string

type ListingState string

const (
	ListingActive    ListingState = "ACTIVE"
	ListingSuspended ListingState = "SUSPENDED"
)

// Listing is the catalog's view of a property as far as reservations care:
// rates, capacity, night bounds and the cancellation policy in force.
type Listing struct {
	ID                   ListingID
	Host                 string
	Title                string
	State                ListingState
	GuestsLimit          int
	MinNights            int
	MaxNights            int
	NightlyRate          money.Money
	CleaningFee          money.Money
	CancellationPolicyID string
}

// ListingRepository is the port to the external property catalog.
type ListingRepository interface {
	ByID(ctx context.Context, id ListingID) (*Listing, error)
	Save(ctx context.Context, listing *Listing) error
}

type CreateListingParams struct {
	ID                   ListingID
	Host                 string
	Title                string
	GuestsLimit          int
	MinNights            int
	MaxNights            int
	NightlyRate          money.Money
	CleaningFee          money.Money
	CancellationPolicyID string
}

func NewListing(params CreateListingParams) (*Listing, error) {
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, errors.New("listings: id is required")
	}
	if params.GuestsLimit < 1 {
		return nil, ErrGuestsLimit
	}
	if params.MaxNights > 0 && params.MinNights > params.MaxNights {
		return nil, ErrNightsRange
	}
	if params.NightlyRate.Amount < 0 || params.CleaningFee.Amount < 0 {
		return nil, ErrNightlyRate
	}
	fee := params.CleaningFee
	if fee.Currency == "" {
		fee = money.Zero(params.NightlyRate.Currency)
	}
	if _, err := money.New(params.NightlyRate.Amount, params.NightlyRate.Currency); err != nil {
		return nil, err
	}
	return &Listing{
		ID:                   params.ID,
		Host:                 strings.TrimSpace(params.Host),
		Title:                strings.TrimSpace(params.Title),
		State:                ListingActive,
		GuestsLimit:          params.GuestsLimit,
		MinNights:            params.MinNights,
		MaxNights:            params.MaxNights,
		NightlyRate:          params.NightlyRate,
		CleaningFee:          fee,
		CancellationPolicyID: strings.TrimSpace(params.CancellationPolicyID),
	}, nil
}

// Bookable reports whether the catalog currently accepts reservations for the listing.
func (l *Listing) Bookable() error {
	if l.State != ListingActive {
		return ErrNotBookable
	}
	return nil
}

// RateConfig is the pricing input derived from the listing.
func (l *Listing) RateConfig() pricing.RateConfig {
	return pricing.RateConfig{
		NightlyRate: l.NightlyRate,
		CleaningFee: l.CleaningFee,
		MinNights:   l.MinNights,
		MaxNights:   l.MaxNights,
		MaxGuests:   l.GuestsLimit,
	}
}

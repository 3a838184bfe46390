package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"staybook/internal/app/commands"
	availabilityapp "staybook/internal/app/handlers/availability"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/uow"
	"staybook/internal/domain/listings"
	"staybook/internal/domain/shared/money"
)

type propertyFixture struct {
	ID                   string         `json:"id"`
	Host                 string         `json:"host"`
	Title                string         `json:"title"`
	GuestsLimit          int            `json:"guests_limit"`
	MinNights            int            `json:"min_nights"`
	MaxNights            int            `json:"max_nights"`
	NightlyRate          int64          `json:"nightly_rate"`
	CleaningFee          int64          `json:"cleaning_fee"`
	Currency             string         `json:"currency"`
	CancellationPolicyID string         `json:"cancellation_policy_id"`
	Blocked              []blockFixture `json:"blocked"`
}

type blockFixture struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// loadFixtures seeds the property catalog and owner blocks. Loading the same
// file twice leaves the store unchanged.
func (a *application) loadFixtures(ctx context.Context, path string) error {
	if path == "" {
		path = defaultFixturesPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Info("property fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	var fixtures []propertyFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	for _, fx := range fixtures {
		listing, err := fx.listing()
		if err != nil {
			a.logger.Error("fixture invalid", "property_id", fx.ID, "error", err)
			continue
		}
		_, err = support.InUnit(ctx, a.factory, func(ctx context.Context, unit uow.UnitOfWork) (struct{}, error) {
			return struct{}{}, unit.Listings().Save(ctx, listing)
		})
		if err != nil {
			a.logger.Error("cannot store fixture property", "property_id", fx.ID, "error", err)
			continue
		}
		for _, block := range fx.Blocked {
			cmd := availabilityapp.BlockDatesCommand{PropertyID: fx.ID, BlockID: block.ID, From: block.From, To: block.To}
			if _, err := commands.Dispatch[availabilityapp.BlockDatesCommand, struct{}](ctx, a.commands, cmd); err != nil {
				a.logger.Warn("fixture block skipped", "property_id", fx.ID, "block_id", block.ID, "error", err)
			}
		}
		a.logger.Info("property fixture imported", "property_id", listing.ID)
	}
	return nil
}

func (fx propertyFixture) listing() (*listings.Listing, error) {
	rate, err := money.New(fx.NightlyRate, fx.Currency)
	if err != nil {
		return nil, err
	}
	fee, err := money.New(fx.CleaningFee, fx.Currency)
	if err != nil {
		return nil, err
	}
	return listings.NewListing(listings.CreateListingParams{
		ID:                   listings.ListingID(fx.ID),
		Host:                 fx.Host,
		Title:                fx.Title,
		GuestsLimit:          fx.GuestsLimit,
		MinNights:            fx.MinNights,
		MaxNights:            fx.MaxNights,
		NightlyRate:          rate,
		CleaningFee:          fee,
		CancellationPolicyID: fx.CancellationPolicyID,
	})
}

func defaultFixturesPath() string {
	candidates := []string{
		filepath.Join("data", "properties.json"),
		filepath.Join("..", "..", "data", "properties.json"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return candidates[0]
}

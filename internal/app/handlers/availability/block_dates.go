package availability

import (
	"context"
	"log/slog"

	"staybook/internal/app/commands"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/uow"
	domainavailability "staybook/internal/domain/availability"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
)

const blockDatesKey = "availability.block"

// BlockDatesCommand takes nights off sale for the host. BlockID names the
// claim so the same block can later be released.
type BlockDatesCommand struct {
	PropertyID string `validate:"required"`
	BlockID    string `validate:"required"`
	From       string `validate:"required"`
	To         string `validate:"required"`
}

func (c BlockDatesCommand) Key() string { return blockDatesKey }

type BlockDatesHandler struct {
	UoWFactory uow.UoWFactory
	Logger     *slog.Logger
}

func (h *BlockDatesHandler) Handle(ctx context.Context, cmd BlockDatesCommand) (struct{}, error) {
	dr, err := daterange.Parse(cmd.From, cmd.To)
	if err != nil {
		return struct{}{}, err
	}
	return support.InUnit(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (struct{}, error) {
		propertyID := domainlistings.ListingID(cmd.PropertyID)
		if _, err := unit.Listings().ByID(ctx, propertyID); err != nil {
			return struct{}{}, err
		}
		if err := unit.Ledger().TryClaim(ctx, propertyID, dr, domainavailability.ClaimBlock, cmd.BlockID); err != nil {
			return struct{}{}, err
		}
		if h.Logger != nil {
			h.Logger.Info("dates blocked", "property_id", propertyID, "block_id", cmd.BlockID, "range", dr.String())
		}
		return struct{}{}, nil
	})
}

var _ commands.Handler[BlockDatesCommand, struct{}] = (*BlockDatesHandler)(nil)

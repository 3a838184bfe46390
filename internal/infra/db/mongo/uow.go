package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"

	"staybook/internal/app/uow"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	domainholds "staybook/internal/domain/holds"
	domainlistings "staybook/internal/domain/listings"
	domainpayments "staybook/internal/domain/payments"
)

const (
	labelTransientTransaction = "TransientTransactionError"
	labelUnknownCommitResult  = "UnknownTransactionCommitResult"
)

var ErrUnitOfWorkNotConfigured = errors.New("mongo: unit of work factory missing database")

// Factory wires Mongo session transactions into the generic UnitOfWork
// interface. Repositories run on the session context handed out by
// InjectContext, so everything a handler writes commits or aborts together.
type Factory struct {
	DB     *mongo.Database
	Locker domainavailability.Locker
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.DB == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	session, err := f.DB.Client().StartSession()
	if err != nil {
		return nil, err
	}
	txnOpts := options.Transaction().SetReadConcern(f.DB.ReadConcern()).SetWriteConcern(f.DB.WriteConcern())
	if opts.ReadOnly {
		txnOpts = txnOpts.SetReadConcern(readconcern.Snapshot())
	}
	if err := session.StartTransaction(txnOpts); err != nil {
		session.EndSession(ctx)
		return nil, err
	}
	return &Unit{
		session:  session,
		listings: NewListingRepository(f.DB),
		ledger:   NewLedger(f.DB, f.Locker),
		holds:    NewHoldRepository(f.DB),
		bookings: NewBookingRepository(f.DB),
		events:   NewPaymentEventRepository(f.DB),
		refunds:  NewRefundRepository(f.DB),
	}, nil
}

type Unit struct {
	session mongo.Session

	listings *ListingRepository
	ledger   *Ledger
	holds    *HoldRepository
	bookings *BookingRepository
	events   *PaymentEventRepository
	refunds  *RefundRepository
}

func (u *Unit) Listings() domainlistings.ListingRepository {
	return u.listings
}

func (u *Unit) Ledger() domainavailability.Ledger {
	return u.ledger
}

func (u *Unit) Holds() domainholds.Repository {
	return u.holds
}

func (u *Unit) Bookings() domainbooking.Repository {
	return u.bookings
}

func (u *Unit) PaymentEvents() domainpayments.EventRepository {
	return u.events
}

func (u *Unit) Refunds() domainpayments.RefundRepository {
	return u.refunds
}

func (u *Unit) Commit(ctx context.Context) error {
	defer u.session.EndSession(ctx)
	err := u.session.CommitTransaction(ctx)
	if hasLabel(err, labelUnknownCommitResult) {
		// the server may have applied it; one more commit settles the outcome
		err = u.session.CommitTransaction(ctx)
	}
	return err
}

func (u *Unit) Rollback(ctx context.Context) error {
	defer u.session.EndSession(ctx)
	return u.session.AbortTransaction(ctx)
}

// InjectContext ensures the Mongo session is available in context for downstream repos.
func (u *Unit) InjectContext(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, u.session)
}

// Transient reports errors labelled by the server as safe to retry with a
// new transaction, typically write conflicts between concurrent sessions.
func (f Factory) Transient(err error) bool {
	return hasLabel(err, labelTransientTransaction)
}

func hasLabel(err error, label string) bool {
	var labeled mongo.LabeledError
	return err != nil && errors.As(err, &labeled) && labeled.HasErrorLabel(label)
}

var (
	_ uow.UoWFactory          = Factory{}
	_ uow.TransientClassifier = Factory{}
	_ uow.ContextInjector     = (*Unit)(nil)
)

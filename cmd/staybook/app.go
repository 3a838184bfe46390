package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"staybook/internal/app/clock"
	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	availabilityapp "staybook/internal/app/handlers/availability"
	bookingapp "staybook/internal/app/handlers/booking"
	cancellationapp "staybook/internal/app/handlers/cancellation"
	holdsapp "staybook/internal/app/handlers/holds"
	paymentsapp "staybook/internal/app/handlers/payments"
	quoteapp "staybook/internal/app/handlers/quote"
	"staybook/internal/app/handlers/refunds"
	"staybook/internal/app/middleware"
	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	"staybook/internal/app/queries"
	"staybook/internal/app/schedule"
	"staybook/internal/app/uow"
	"staybook/internal/domain/availability"
	"staybook/internal/domain/cancellation"
	domainholds "staybook/internal/domain/holds"
	domainpayments "staybook/internal/domain/payments"
	"staybook/internal/infra/config"
	mongostore "staybook/internal/infra/db/mongo"
	"staybook/internal/infra/locks/redislock"
	"staybook/internal/infra/obs"
	infraoutbox "staybook/internal/infra/outbox"
	"staybook/internal/infra/payments"
	"staybook/internal/infra/queue"
	"staybook/internal/infra/storage/memory"
	"staybook/internal/infra/storage/s3"
	"staybook/internal/infra/validation"
)

// relayStore is an outbox the relay worker can also drain.
type relayStore interface {
	appoutbox.Outbox
	infraoutbox.Source
}

type application struct {
	cfg      config.Config
	logger   *slog.Logger
	clock    clock.Clock
	metrics  *obs.Metrics
	registry *prometheus.Registry

	factory    uow.UoWFactory
	outbox     relayStore
	wake       <-chan struct{}
	requeue    func(ctx context.Context) error
	commands   commands.Bus
	queries    queries.Bus
	executor   *refunds.Executor
	dispatcher policies.RefundDispatcher
	sweeper    *refunds.Sweeper
	redisOpt   asynq.RedisConnOpt
	checks     map[string]obs.Check
	closers    []func()
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApplication wires storage, adapters and the command and query buses
// for cfg. Close releases whatever was opened, also after an error.
func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger, clk clock.Clock) (*application, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app := &application{
		cfg:      cfg,
		logger:   logger,
		clock:    clk,
		metrics:  obs.NewMetrics(registry),
		registry: registry,
		checks:   map[string]obs.Check{},
	}

	locker := app.locker()
	idempotency, err := app.storage(ctx, locker)
	if err != nil {
		app.Close()
		return nil, err
	}
	archive, err := app.archive()
	if err != nil {
		app.Close()
		return nil, err
	}
	gateway, err := app.gateway()
	if err != nil {
		app.Close()
		return nil, err
	}
	policyBook, err := cfg.PolicyBook()
	if err != nil {
		app.Close()
		return nil, err
	}

	app.executor = &refunds.Executor{
		UoWFactory: app.factory,
		Gateway:    gateway,
		Clock:      clk,
		Metrics:    app.metrics,
		Logger:     logger,
	}
	var scheduler schedule.Scheduler
	switch cfg.RefundDispatcher {
	case config.DispatcherAsynq:
		client := queue.NewClient(app.redisOpt)
		app.closers = append(app.closers, func() { _ = client.Close() })
		app.dispatcher = queue.NewRefundDispatcher(client, cfg.RefundMaxAttempts)
		scheduler = client
	default:
		inline := refunds.NewInlineDispatcher(app.executor, cfg.RetryBackoff, cfg.RefundMaxAttempts)
		app.closers = append(app.closers, inline.Close)
		app.dispatcher = inline
	}
	app.sweeper = &refunds.Sweeper{
		UoWFactory: app.factory,
		Dispatcher: app.dispatcher,
		Clock:      clk,
		IdleAfter:  cfg.RefundSweepIdle,
		Batch:      cfg.ReaperBatch,
		Metrics:    app.metrics,
		Logger:     logger,
	}

	encoder := appoutbox.JSONEventEncoder{}
	validator := validation.New()

	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler[holdsapp.ReserveCommand, *dto.Hold](commandBus, &holdsapp.ReserveHandler{
		UoWFactory: app.factory,
		Clock:      clk,
		TTL:        cfg.HoldTTL,
		Outbox:     app.outbox,
		Encoder:    encoder,
		Metrics:    app.metrics,
		Logger:     logger,
	})
	commands.RegisterHandler[bookingapp.CreateFromHoldCommand, *dto.Booking](commandBus, &bookingapp.CreateFromHoldHandler{
		UoWFactory: app.factory,
		Policies:   policyBook,
		Clock:      clk,
		Outbox:     app.outbox,
		Encoder:    encoder,
		Scheduler:  scheduler,
		Logger:     logger,
	})
	commands.RegisterHandler[holdsapp.ExpireHoldsCommand, *holdsapp.ExpireHoldsResult](commandBus, &holdsapp.ExpireHoldsHandler{
		UoWFactory: app.factory,
		Clock:      clk,
		Outbox:     app.outbox,
		Encoder:    encoder,
		Metrics:    app.metrics,
		Logger:     logger,
	})
	commands.RegisterHandler[bookingapp.ExpireBookingsCommand, *bookingapp.ExpireBookingsResult](commandBus, &bookingapp.ExpireBookingsHandler{
		UoWFactory: app.factory,
		Clock:      clk,
		Outbox:     app.outbox,
		Encoder:    encoder,
		Metrics:    app.metrics,
		Logger:     logger,
	})
	commands.RegisterHandler[cancellationapp.CancelBookingCommand, *dto.Cancellation](commandBus, &cancellationapp.CancelBookingHandler{
		UoWFactory: app.factory,
		Dispatcher: app.dispatcher,
		Archive:    archive,
		Clock:      clk,
		Outbox:     app.outbox,
		Encoder:    encoder,
		Logger:     logger,
	})
	commands.RegisterHandler[paymentsapp.HandleWebhookCommand, *paymentsapp.WebhookResult](commandBus, &paymentsapp.HandleWebhookHandler{
		UoWFactory: app.factory,
		Verifier:   payments.NewHMACVerifier(cfg.WebhookSecrets),
		Archive:    archive,
		Clock:      clk,
		Outbox:     app.outbox,
		Encoder:    encoder,
		Logger:     logger,
	})
	commands.RegisterHandler[availabilityapp.BlockDatesCommand, struct{}](commandBus, &availabilityapp.BlockDatesHandler{
		UoWFactory: app.factory,
		Logger:     logger,
	})

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler[quoteapp.GetQuoteQuery, dto.Quote](queryBus, &quoteapp.GetQuoteHandler{UoWFactory: app.factory})
	queries.RegisterHandler[availabilityapp.GetCalendarQuery, dto.Calendar](queryBus, &availabilityapp.GetCalendarHandler{UoWFactory: app.factory})
	queries.RegisterHandler[bookingapp.GetBookingQuery, dto.Booking](queryBus, &bookingapp.GetBookingHandler{UoWFactory: app.factory})
	queries.RegisterHandler[paymentsapp.ReturnStatusQuery, paymentsapp.ReturnStatus](queryBus, &paymentsapp.ReturnStatusHandler{UoWFactory: app.factory})

	logger.Debug("buses ready", "commands", commandBus.Keys(), "queries", queryBus.Keys())
	app.commands = middleware.ChainCommands(
		commandBus,
		middleware.Logging(logger, expectedRejection),
		middleware.Validation(validator),
		middleware.Idempotency(idempotency),
		middleware.Transaction(app.factory, &middleware.TransactionOptions{Logger: logger}),
		middleware.OutboxFlush(app.outbox, logger),
	)
	app.queries = middleware.ChainQueries(queryBus, middleware.QueryValidation(validator))
	return app, nil
}

// locker picks the ledger lock: Redis when configured so several replicas
// serialize on the same property, otherwise an in-process keyed mutex.
func (a *application) locker() availability.Locker {
	if a.cfg.RedisAddr == "" {
		return memory.NewKeyedLocker()
	}
	a.redisOpt = asynq.RedisClientOpt{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword, DB: a.cfg.RedisDB}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword, DB: a.cfg.RedisDB})
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return redislock.New(client, 10*time.Second, a.logger)
}

func (a *application) storage(ctx context.Context, locker availability.Locker) (middleware.IdempotencyStore, error) {
	switch a.cfg.Storage {
	case config.StorageMongo:
		client, err := mongostore.New(ctx, a.cfg.MongoURI, a.cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close(context.Background()) })
		a.checks["mongo"] = client.Ping
		if err := client.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		box, err := infraoutbox.NewStore(ctx, client.DB)
		if err != nil {
			return nil, fmt.Errorf("mongo outbox: %w", err)
		}
		idempotency, err := mongostore.NewIdempotencyStore(ctx, client.DB, a.cfg.IdempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("mongo idempotency: %w", err)
		}
		a.factory = mongostore.Factory{DB: client.DB, Locker: locker}
		a.outbox = box
		a.requeue = func(ctx context.Context) error {
			n, err := box.Requeue(ctx, time.Minute)
			if n > 0 {
				a.logger.Warn("outbox records requeued", "count", n)
			}
			return err
		}
		return idempotency, nil
	default:
		box := memory.NewOutbox()
		a.factory = memory.Factory{Store: memory.NewStore(locker)}
		a.outbox = box
		a.wake = box.Notify()
		return memory.NewIdempotencyStore(a.cfg.IdempotencyTTL), nil
	}
}

func (a *application) archive() (policies.AuditArchive, error) {
	if a.cfg.S3Endpoint == "" {
		return policies.NopArchive{}, nil
	}
	archive, err := s3.NewArchive(a.cfg.S3Endpoint, a.cfg.S3UseSSL, a.cfg.S3AccessKey, a.cfg.S3SecretKey, a.cfg.S3Bucket, a.logger)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: %w", err)
	}
	a.checks["s3"] = archive.Ping
	return archive, nil
}

func (a *application) gateway() (policies.RefundGateway, error) {
	if a.cfg.RefundProviderURL == "" {
		return payments.LoggingGateway{Logger: a.logger}, nil
	}
	return payments.NewHTTPGateway(a.cfg.RefundProviderURL, a.cfg.RefundProviderTimeout, a.cfg.RefundBreakerThreshold, a.logger)
}

// expectedRejection reports business outcomes that are part of normal
// traffic rather than faults.
func expectedRejection(err error) bool {
	var conflict *availability.ConflictError
	return errors.As(err, &conflict) ||
		errors.Is(err, validation.ErrInvalid) ||
		errors.Is(err, domainholds.ErrHoldExpired) ||
		errors.Is(err, domainholds.ErrHoldNotActive) ||
		errors.Is(err, cancellation.ErrNotCancellable) ||
		errors.Is(err, domainpayments.ErrDuplicateEvent) ||
		errors.Is(err, domainpayments.ErrSignatureInvalid)
}

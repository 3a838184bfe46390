package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"staybook/internal/app/clock"
	"staybook/internal/app/commands"
	bookingapp "staybook/internal/app/handlers/booking"
	holdsapp "staybook/internal/app/handlers/holds"
	"staybook/internal/app/schedule"
	"staybook/internal/infra/broker/kafka"
	"staybook/internal/infra/config"
	ginserver "staybook/internal/infra/http/gin"
	"staybook/internal/infra/obs"
	infraoutbox "staybook/internal/infra/outbox"
	"staybook/internal/infra/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:   "staybook",
		Usage:  "reservations and booking confirmation for short-term rentals",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, the reapers and the event relays",
				Action: serve,
			},
			{
				Name:   "refund-worker",
				Usage:  "process queued refund attempts and scheduled expiries",
				Action: refundWorker,
			},
			{
				Name:  "reap",
				Usage: "run one hold and booking expiry pass and exit",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "max rows per reaper, 0 for REAPER_BATCH"},
				},
				Action: reap,
			},
		},
	}
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)
	app, err := buildApplication(c.Context, cfg, logger, clock.NewSystem())
	if err != nil {
		return nil, err
	}
	if err := app.loadFixtures(c.Context, cfg.PropertyFixtures); err != nil {
		logger.Warn("property fixtures load failed", "error", err)
	}
	return app, nil
}

func serve(c *cli.Context) error {
	app, err := setup(c)
	if err != nil {
		return err
	}
	defer app.Close()
	cfg, logger := app.cfg, app.logger

	producer, err := app.producer()
	if err != nil {
		return err
	}
	var consumer *kafka.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		if consumer, err = app.webhookConsumer(); err != nil {
			return err
		}
		defer consumer.Close()
	}
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger, Metrics: app.metrics, Quiet: []string{"/livez", "/readyz", "/metrics"}}, obs.HealthHandlers{Checks: app.checks}, app.httpHandlers())

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	periodic := []schedule.Periodic{
		{Name: "hold-reaper", Interval: cfg.ReaperInterval, Task: app.expireHolds, Logger: logger},
		{Name: "booking-reaper", Interval: cfg.ReaperInterval, Task: app.expireBookings, Logger: logger},
		{Name: "refund-sweep", Interval: cfg.RefundSweepInterval, Task: app.sweepRefunds, Logger: logger},
	}
	if app.requeue != nil {
		periodic = append(periodic, schedule.Periodic{Name: "outbox-requeue", Interval: time.Minute, Task: app.requeue, Logger: logger})
	}
	for _, p := range periodic {
		p := p // per-iteration copy; go.mod targets go1.21 loop semantics
		g.Go(func() error { return p.Run(ctx) })
	}

	relay := &infraoutbox.Worker{
		Store:       app.outbox,
		Producer:    producer,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		ID:          "relay-" + uuid.NewString()[:8],
		Backoff:     cfg.RetryBackoff,
		Wake:        app.wake,
		Logger:      logger,
	}
	g.Go(func() error { return relay.Run(ctx) })

	if consumer != nil {
		g.Go(func() error { return consumer.Run(ctx, []string{cfg.KafkaWebhookTopic}) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("staybook stopped")
	return nil
}

func refundWorker(c *cli.Context) error {
	app, err := setup(c)
	if err != nil {
		return err
	}
	defer app.Close()
	if app.cfg.RefundDispatcher != config.DispatcherAsynq {
		return fmt.Errorf("refund-worker needs REFUND_DISPATCHER=%s", config.DispatcherAsynq)
	}
	worker := queue.NewWorker(app.redisOpt, queue.WorkerConfig{
		Executor: app.executor,
		Commands: app.commands,
		Backoff:  app.cfg.RetryBackoff,
		Logger:   app.logger,
	})
	app.logger.Info("refund worker starting", "redis", app.cfg.RedisAddr)
	return worker.Run(c.Context)
}

func reap(c *cli.Context) error {
	app, err := setup(c)
	if err != nil {
		return err
	}
	defer app.Close()
	limit := c.Int("limit")
	if limit <= 0 {
		limit = app.cfg.ReaperBatch
	}
	holds, err := commands.Dispatch[holdsapp.ExpireHoldsCommand, *holdsapp.ExpireHoldsResult](c.Context, app.commands, holdsapp.ExpireHoldsCommand{Limit: limit})
	if err != nil {
		return err
	}
	bookings, err := commands.Dispatch[bookingapp.ExpireBookingsCommand, *bookingapp.ExpireBookingsResult](c.Context, app.commands, bookingapp.ExpireBookingsCommand{Limit: limit})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "holds: %d scanned, %d expired, %d failed\nbookings: %d scanned, %d expired, %d failed\n",
		holds.Scanned, holds.Expired, holds.Failed, bookings.Scanned, bookings.Expired, bookings.Failed)
	return nil
}

func (a *application) expireHolds(ctx context.Context) error {
	_, err := commands.Dispatch[holdsapp.ExpireHoldsCommand, *holdsapp.ExpireHoldsResult](ctx, a.commands, holdsapp.ExpireHoldsCommand{Limit: a.cfg.ReaperBatch})
	return err
}

func (a *application) expireBookings(ctx context.Context) error {
	_, err := commands.Dispatch[bookingapp.ExpireBookingsCommand, *bookingapp.ExpireBookingsResult](ctx, a.commands, bookingapp.ExpireBookingsCommand{Limit: a.cfg.ReaperBatch})
	return err
}

func (a *application) sweepRefunds(ctx context.Context) error {
	_, err := a.sweeper.Sweep(ctx)
	return err
}

func (a *application) httpHandlers() ginserver.Handlers {
	return ginserver.Handlers{
		Property: ginserver.PropertyHandler{Commands: a.commands, Queries: a.queries, Logger: a.logger},
		Booking:  ginserver.BookingHandler{Commands: a.commands, Queries: a.queries, Logger: a.logger},
		Payment: ginserver.PaymentHandler{
			Commands:        a.commands,
			Queries:         a.queries,
			Metrics:         a.metrics,
			SignatureHeader: a.cfg.WebhookSignatureHeader,
			ReturnURL:       a.cfg.ReturnResultURL,
			Logger:          a.logger,
		},
		Metrics: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	}
}

func (a *application) producer() (infraoutbox.Producer, error) {
	if len(a.cfg.KafkaBrokers) == 0 {
		a.logger.Info("no kafka brokers configured, relaying events to the log")
		return infraoutbox.LogProducer{Logger: a.logger}, nil
	}
	producer, err := kafka.NewProducer(a.cfg.KafkaBrokers, "staybook", a.logger.With("component", "event-relay"))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	a.closers = append(a.closers, func() { _ = producer.Close() })
	return producer, nil
}

func (a *application) webhookConsumer() (*kafka.Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	handler := kafka.WebhookHandler{Commands: a.commands, Metrics: a.metrics, Logger: a.logger}
	consumer, err := kafka.NewConsumer(a.cfg.KafkaBrokers, a.cfg.KafkaConsumerGroup, saramaCfg, handler, a.logger.With("component", "webhook-consumer"))
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

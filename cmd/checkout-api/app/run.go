package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jamesnjugunah/vendorshop/configs"
	"github.com/jamesnjugunah/vendorshop/internal/adapter/cache"
	httpadapter "github.com/jamesnjugunah/vendorshop/internal/adapter/http"
	"github.com/jamesnjugunah/vendorshop/internal/adapter/http/middleware"
	"github.com/jamesnjugunah/vendorshop/internal/adapter/kafka"
	"github.com/jamesnjugunah/vendorshop/internal/adapter/repo"
	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"github.com/jamesnjugunah/vendorshop/internal/reaper"
	"github.com/jamesnjugunah/vendorshop/internal/scheduler"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
	"github.com/redis/go-redis/v9"
)

type App struct {
	server          *http.Server
	sched           *scheduler.Scheduler
	consumer        *kafka.Consumer
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// InitWithConfig wires every adapter. The returned cleanup closes the
// connections it opened and is safe to call after Run returns.
func InitWithConfig(ctx context.Context, cfg configs.Config) (*App, func(), error) {
	log := logging.New("app")
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// database
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = db.Close() })
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fail(fmt.Errorf("mysql: %w", err))
	}
	if cfg.MySQL.Migrate {
		if err := repo.Migrate(pingCtx, db); err != nil {
			return fail(fmt.Errorf("migrate: %w", err))
		}
	}

	// redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	closers = append(closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fail(fmt.Errorf("redis: %w", err))
	}

	// payment provider
	gw, err := mpesa.New(mpesa.Config{
		Environment:    cfg.Mpesa.Environment,
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		Shortcode:      cfg.Mpesa.Shortcode,
		Passkey:        cfg.Mpesa.Passkey,
		CallbackURL:    cfg.Mpesa.CallbackURL,
		BaseURL:        cfg.Mpesa.BaseURL,
	})
	if err != nil {
		return fail(err)
	}

	// infra
	orderRepo := repo.NewMySQLOrderRepo(db)
	outboxRepo := repo.NewMySQLOutboxRepo(db)
	idem := cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
	statusCache := cache.NewRedisCache(rdb, cfg.Cache.TTL)
	lease := cache.NewRedisLease(rdb)

	// Without a broker nothing projects status events, so status writers
	// refresh the cache themselves.
	var statusRepo usecase.OrderRepo = orderRepo
	if !cfg.Kafka.Enabled {
		statusRepo = cache.NewStatusWriteThrough(orderRepo, statusCache)
	}

	// use cases
	createUC := usecase.NewCreateOrder(orderRepo, idem)
	getUC := usecase.NewGetOrder(orderRepo, statusCache)
	listUC := usecase.NewListOrders(orderRepo)
	cancelUC := usecase.NewCancelOrder(statusRepo)
	initiateUC := usecase.NewInitiatePayment(statusRepo, gw, idem)
	callbackUC := usecase.NewHandleCallback(statusRepo, orderRepo)
	queryUC := usecase.NewQueryPayment(orderRepo, orderRepo, gw)

	// background jobs
	sched := scheduler.New(logging.New("scheduler"))
	rp := reaper.New(statusRepo, lease, reaper.Config{
		MaxAge:   cfg.Reaper.MaxAge,
		Every:    cfg.Reaper.Every,
		LeaseTTL: cfg.Reaper.LeaseTTL,
	})
	if err := rp.Start(ctx, sched); err != nil {
		return fail(err)
	}

	a := &App{sched: sched, shutdownTimeout: cfg.HTTP.ShutdownTimeout, log: log}
	if cfg.Kafka.Enabled {
		consumer, closeKafka, err := setupKafka(cfg, outboxRepo, lease, statusCache, sched)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, closeKafka)
		a.consumer = consumer
	} else {
		log.Warn("kafka disabled; status events stay in the outbox and status writes refresh the cache directly")
	}

	// http
	guard, err := middleware.NewCallbackGuard(cfg.Mpesa.CallbackToken, cfg.Mpesa.CallbackAllowCIDRs)
	if err != nil {
		return fail(err)
	}
	router := httpadapter.NewRouter(httpadapter.RouterDeps{
		Orders:   httpadapter.NewOrderHandler(createUC, getUC, listUC, cancelUC),
		Payments: httpadapter.NewPaymentHandler(initiateUC, callbackUC, queryUC),
		Authz:    middleware.NewAuthz(cfg),
		Guard:    guard,
		Logger:   logging.New("http"),
	})
	a.server = &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return a, cleanup, nil
}

// setupKafka starts the outbox relay on sched and returns the status
// projector, which Run drives.
func setupKafka(cfg configs.Config, outbox usecase.OutboxRepo, lease kafka.Lease, statusCache usecase.OrderCache, sched *scheduler.Scheduler) (*kafka.Consumer, func(), error) {
	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	relay := kafka.NewOutboxRelay(outbox, producer, cfg.Kafka.TopicEvents, lease)
	if err := relay.Start(sched, cfg.Kafka.RelayEvery); err != nil {
		_ = producer.Close()
		return nil, nil, err
	}

	grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	if err != nil {
		_ = producer.Close()
		return nil, nil, fmt.Errorf("kafka group: %w", err)
	}
	h := kafka.NewOrderStatusChangedHandler(statusCache)
	consumer := kafka.NewConsumer(grp, []string{cfg.Kafka.TopicEvents}, h.Handle)
	if cfg.Kafka.HandlerAttempts > 0 {
		consumer.Attempts = cfg.Kafka.HandlerAttempts
	}
	if cfg.Kafka.HandlerBackoff > 0 {
		consumer.Backoff = cfg.Kafka.HandlerBackoff
	}

	closeAll := func() {
		_ = grp.Close()
		_ = producer.Close()
	}
	return consumer, closeAll, nil
}

// Run serves until ctx is cancelled, then stops the scheduler (waiting for
// an in-flight sweep), the projector and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	a.sched.Start(ctx)

	consumerDone := make(chan error, 1)
	if a.consumer != nil {
		go func() { consumerDone <- a.consumer.Start(ctx) }()
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err := <-serveErr:
		runErr = err
	case err := <-consumerDone:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
			runErr = fmt.Errorf("status projector: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.sched.Stop(shutdownCtx); err != nil {
		a.log.Warn("scheduler stop", "error", err)
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", "error", err)
	}
	return runErr
}

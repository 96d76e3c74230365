package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"  // schedules the expiry sweeper
	"github.com/joho/godotenv"       // loads .env in development
	"github.com/labstack/echo/v4"    // Echo web framework
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log" // leveled logger shared with echo

	"github.com/iliyamo/seat-reservation-engine/internal/config"
	"github.com/iliyamo/seat-reservation-engine/internal/database"
	"github.com/iliyamo/seat-reservation-engine/internal/handler"
	"github.com/iliyamo/seat-reservation-engine/internal/lock"
	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
	"github.com/iliyamo/seat-reservation-engine/internal/queue"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
	"github.com/iliyamo/seat-reservation-engine/internal/router"
	"github.com/iliyamo/seat-reservation-engine/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("reading .env: %v", err)
	}
	cfg := config.Load() // Load environment config
	if cfg.Env != "prod" {
		log.SetLevel(log.DEBUG)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	publisher := queue.NewPublisher(cfg.RabbitURL, cfg.BrokerDialTimeout)
	defer publisher.Close()
	// requests and sweeps only enqueue; the broker is reached off the request path
	outbox := queue.NewAsyncPublisher(publisher, cfg.PublishBuffer, 5*time.Second)
	events := service.NewEventProducer(outbox)

	locker := lock.NewRedisLocker(lock.RedisLockerOptions{
		Retries:     cfg.LockRetries,
		RetryDelay:  cfg.LockRetryDelay,
		RetryJitter: cfg.LockRetryJitter,
	}, rdb)

	reservationRepo := repository.NewReservationRepo(db)
	sessionRepo := repository.NewSessionRepo(db)
	paymentRepo := repository.NewPaymentRepo(db)

	reservations := service.NewReservationService(reservationRepo, locker, events, cfg.ReservationTTL, cfg.LockLease)
	payments := service.NewPaymentService(reservationRepo, sessionRepo, paymentRepo, events)
	sessions := service.NewSessionService(sessionRepo, rdb, cfg.AvailabilityCacheTTL)

	// Expiry sweeper.
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	if _, err := service.StartSweeper(sched, service.NewSweeper(reservationRepo, events), cfg.SweepInterval); err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	sched.Start()

	// Event consumers keep the Redis read model in sync.
	consumer := queue.NewConsumer(cfg.RabbitURL, cfg.ConsumerPrefetch)
	policy := queue.RetryPolicy{
		MaxAttempts: cfg.ConsumerMaxAttempts,
		BaseDelay:   cfg.ConsumerBaseDelay,
		Jitter:      cfg.ConsumerJitter,
	}
	dlq := queue.DeadLetterHandler(nil)
	for q, h := range queue.NewCacheSync(rdb, cfg.ReservationTTL).Handlers() {
		consumer.Handle(q, queue.WithRetry(q, policy, h))
		consumer.Handle(queue.DeadLetterQueue(q), dlq)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("consumer: %v", err)
		}
	}()

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Logger = log.New("http")
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	router.RegisterRoutes(e, handler.Health(map[string]handler.Pinger{
		"mysql": db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))
	router.RegisterPublic(e, handler.NewSessionHandler(sessions))
	router.RegisterBuyer(e,
		handler.NewReservationHandler(reservations),
		handler.NewPaymentHandler(payments),
		cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	)

	addr := ":" + cfg.Port
	go func() {
		log.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Errorf("scheduler shutdown: %v", err)
	}
	_ = outbox.Close()
	wg.Wait()
}

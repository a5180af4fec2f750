package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leeszaal/deliver-go/internal/catalog"
	"github.com/leeszaal/deliver-go/internal/config"
	"github.com/leeszaal/deliver-go/internal/notify"
	"github.com/leeszaal/deliver-go/internal/payway"
	"github.com/leeszaal/deliver-go/internal/postgres"
	"github.com/leeszaal/deliver-go/internal/printing"
	redisx "github.com/leeszaal/deliver-go/internal/redis"
	postgresrepo "github.com/leeszaal/deliver-go/internal/repository/postgres"
	redisrepo "github.com/leeszaal/deliver-go/internal/repository/redis"
	"github.com/leeszaal/deliver-go/internal/service"
	"github.com/leeszaal/deliver-go/internal/service/reproduction"
	"github.com/leeszaal/deliver-go/internal/sweeper"
	httpgin "github.com/leeszaal/deliver-go/internal/transport/http/gin"
	"github.com/leeszaal/deliver-go/internal/uow"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	sweeper    *sweeper.Sweeper
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	unit := uow.NewUoW(store)
	cache := redisrepo.New(rdb)
	pubsub := redisrepo.NewHoldingsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "confirm", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize the payment gateway client
	pay := payway.New(payway.Config{
		BaseURL:       cfg.PayWay.BaseURL,
		Project:       cfg.PayWay.Project,
		PassphraseOut: cfg.PayWay.PassphraseOut,
		PassphraseIn:  cfg.PayWay.PassphraseIn,
	}, logger)

	// Initialize services
	services := service.NewServices(
		unit,
		catalog.NewStatic(),
		pay,
		cache,
		pubsub,
		notify.NewLogNotifier(logger),
		printing.NewLogPrinter(logger),
		logger,
		service.Config{
			Reproduction: reproduction.Config{ConfirmBaseURL: cfg.ConfirmBaseURL},
		},
	)

	sw := sweeper.New(services.Reproduction, sweeper.Config{
		Interval:    cfg.Sweep.Interval,
		RemindAfter: cfg.Sweep.RemindAfter,
		CancelAfter: cfg.Sweep.CancelAfter,
	}, logger)

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, limiter, logger)

	return &App{
		cfg:     cfg,
		logger:  logger,
		sweeper: sw,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Start payment sweeps
	g.Go(func() error {
		if err := a.sweeper.Run(gCtx); err != nil && err != context.Canceled {
			return fmt.Errorf("sweeper stopped: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

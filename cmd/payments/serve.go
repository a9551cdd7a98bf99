package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-payments/internal/config"
	"github.com/matheusmosca/marketplace-payments/internal/database"
	"github.com/matheusmosca/marketplace-payments/internal/gateway"
	"github.com/matheusmosca/marketplace-payments/internal/httpapi"
	"github.com/matheusmosca/marketplace-payments/internal/ledger"
	"github.com/matheusmosca/marketplace-payments/internal/logger"
	"github.com/matheusmosca/marketplace-payments/internal/notify"
	"github.com/matheusmosca/marketplace-payments/internal/payments"
	"github.com/matheusmosca/marketplace-payments/internal/telemetry"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the payments HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply the schema before serving")
	return cmd
}

func runServe(parent context.Context, migrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireGateway(); err != nil {
		return err
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer log.Sync()

	shutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName, Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("Error shutting down telemetry", zap.Error(err))
		}
	}()

	if migrate {
		if err := database.Migrate(ctx, cfg.Database); err != nil {
			return err
		}
		log.Info("✅ Schema applied")
	}

	pool, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	queue := asynq.NewClientFromRedisClient(redisClient)
	defer queue.Close()

	notifier := notify.NewEnqueuer(queue, notify.EnqueuerConfig{
		Queue:    cfg.NotificationQueue,
		MaxRetry: cfg.NotificationRetries,
	}, log)

	gw := gateway.NewClient(cfg.Gateway)
	balances := ledger.New(ledger.NewPostgresRepository(pool), log)
	service := payments.NewService(
		payments.NewPostgresRepository(pool),
		gw,
		balances,
		payments.NewPostgresCatalog(pool),
		notifier,
		payments.Config{PlatformFeePercent: cfg.PlatformFeePercent, DefaultCurrency: cfg.DefaultCurrency},
		log,
	)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Options{
		ServiceName:    cfg.ServiceName,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AllowedOrigins: cfg.CORSOrigins,
		Checks: map[string]httpapi.Pinger{
			"postgres": pool,
			"redis":    httpapi.RedisPinger(redisClient),
		},
	}, log,
		payments.NewHandler(service, cfg.Gateway.KeyID, log),
		ledger.NewHandler(balances, log),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("🚀 Payments service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

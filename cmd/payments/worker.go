package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-payments/internal/config"
	"github.com/matheusmosca/marketplace-payments/internal/logger"
	"github.com/matheusmosca/marketplace-payments/internal/notify"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued payment notifications to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel, cfg.ServiceName+"-worker")
	if err != nil {
		return err
	}
	defer log.Sync()

	publisher, err := notify.NewKafkaPublisher(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	srv := notify.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, notify.WorkerConfig{
		Queue:       cfg.NotificationQueue,
		Concurrency: cfg.WorkerConcurrency,
		BaseDelay:   cfg.NotificationBase,
		MaxDelay:    cfg.NotificationMaxDelay,
	}, log)

	if err := srv.Start(notify.NewWorker(publisher, log).Mux()); err != nil {
		return err
	}
	log.Info("🚀 Notification worker started", zap.String("queue", cfg.NotificationQueue))

	<-ctx.Done()
	log.Info("Shutting down worker")
	srv.Shutdown()
	return nil
}

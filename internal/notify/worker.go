package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// WorkerConfig controls the worker process.
type WorkerConfig struct {
	Queue        string
	Concurrency  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ShutdownWait time.Duration
}

// Worker delivers notification tasks to the publisher.
type Worker struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewWorker creates a Worker.
func NewWorker(publisher Publisher, logger *zap.Logger) *Worker {
	return &Worker{publisher: publisher, logger: logger}
}

// ProcessTask implements asynq.Handler. Payloads that cannot be decoded are
// dropped with asynq.SkipRetry; publish failures are retried.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	n, err := parseTask(t)
	if err != nil {
		w.logger.Error("❌ [NOTIFY] dropping malformed task", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := w.publisher.Publish(ctx, n.Key(), t.Payload()); err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		w.logger.Warn("⚠️ [NOTIFY] publish failed, will retry",
			zap.String("id", n.ID), zap.String("kind", n.Kind), zap.Int("retry", retried), zap.Error(err))
		return err
	}

	w.logger.Info("📤 [NOTIFY] notification published",
		zap.String("id", n.ID), zap.String("kind", n.Kind), zap.String("recipient", n.Key()))
	return nil
}

// Backoff returns an asynq.RetryDelayFunc doubling from base up to max.
func Backoff(base, max time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		d := base
		for i := 0; i < n && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d
	}
}

// NewServer builds the asynq server that runs w.
func NewServer(redis asynq.RedisConnOpt, cfg WorkerConfig, logger *zap.Logger) *asynq.Server {
	if cfg.Queue == "" {
		cfg.Queue = "notifications"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Minute
	}

	return asynq.NewServer(redis, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		RetryDelayFunc:  Backoff(cfg.BaseDelay, cfg.MaxDelay),
		ShutdownTimeout: cfg.ShutdownWait,
		Logger:          logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried >= maxRetry {
				logger.Error("🚨 [NOTIFY] notification failed permanently",
					zap.String("type", t.Type()), zap.Int("retries", retried), zap.Error(err))
			}
		}),
	})
}

// Mux routes notification tasks to w.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeNotification, w)
	return mux
}

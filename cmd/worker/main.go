// Package main runs the background job worker (session archive upload to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-livepoll/backend/config"
	"github.com/aura-livepoll/backend/internal/archive"
	"github.com/aura-livepoll/backend/internal/chat"
	"github.com/aura-livepoll/backend/internal/observability"
	"github.com/aura-livepoll/backend/internal/polls"
	"github.com/aura-livepoll/backend/internal/sessions"
	"github.com/aura-livepoll/backend/pkg/database"
	"github.com/aura-livepoll/backend/pkg/queue"
	"github.com/aura-livepoll/backend/pkg/redis"
	"github.com/aura-livepoll/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}
	logger := newLogger(cfg.Observability.LogLevel)
	defer logger.Sync()

	flush, err := observability.InitSentry(cfg.Observability.SentryDSN, cfg.Observability.Env, cfg.Observability.Release)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	} else {
		defer flush()
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		ArchiveBucket:   cfg.AWS.ArchiveBucket,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := archive.NewProcessor(
		sessions.NewRepository(pool),
		polls.NewRepository(pool),
		chat.NewRepository(pool),
		s3Client,
		jobQueue,
		logger.Named("archive"),
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}

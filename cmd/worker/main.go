// Package main runs the background worker: contestant image cleanup and the periodic tally audit.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/univote/backend/config"
	"github.com/univote/backend/internal/election"
	"github.com/univote/backend/internal/worker"
	"github.com/univote/backend/pkg/database"
	"github.com/univote/backend/pkg/queue"
	"github.com/univote/backend/pkg/redis"
	"github.com/univote/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), 4, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ImagesBucket:    cfg.AWS.ImagesBucket,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		processor := worker.NewImageCleanupProcessor(s3Client, queue.NewQueue(rdb.Client, logger), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.Run(workerCtx)
		}()
	} else {
		logger.Warn("AWS_REGION not set; image cleanup disabled")
	}

	svc := election.NewService(election.NewRepository(pool), logger)
	auditor := worker.NewTallyAuditor(svc, time.Duration(cfg.Election.AuditIntervalSec)*time.Second, logger).
		WithLocker(redis.NewLocker(rdb.Client))
	wg.Add(1)
	go func() {
		defer wg.Done()
		auditor.Run(workerCtx)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

// Package main runs the background job worker: poll result archives and chat retention.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/classpoll/config"
	"github.com/aura-webinar/classpoll/internal/chat"
	"github.com/aura-webinar/classpoll/internal/polls"
	"github.com/aura-webinar/classpoll/internal/votes"
	"github.com/aura-webinar/classpoll/internal/worker"
	"github.com/aura-webinar/classpoll/pkg/database"
	"github.com/aura-webinar/classpoll/pkg/queue"
	"github.com/aura-webinar/classpoll/pkg/redis"
	"github.com/aura-webinar/classpoll/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		logger.Fatal("worker requires STORE_DRIVER=postgres", zap.String("store", cfg.Store.Driver))
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

	var archive worker.ArchiveStorage
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		archive = s3Client
	} else {
		logger.Warn("AWS_REGION not set, poll archives are kept in Postgres only")
	}

	pollRepo := polls.NewRepository(pool)
	// Read-only use: the worker never starts or arms polls.
	results := polls.NewManager(pollRepo, votes.NewLedger(votes.NewRepository(pool)), nil, polls.Limits{
		DefaultDuration: cfg.Poll.DefaultDurationSec,
		MaxDuration:     cfg.Poll.MaxDurationSec,
		HistoryLimit:    cfg.Poll.HistoryLimit,
	}, logger)
	chatLog := chat.NewLog(chat.NewRepository(pool))
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewProcessor(jobQueue, results, pollRepo, archive, chatLog, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go schedulePrune(workerCtx, jobQueue, cfg.Chat, logger)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

// schedulePrune enqueues a chat retention job every PruneIntervalMin minutes.
func schedulePrune(ctx context.Context, q *queue.Queue, cfg config.ChatConfig, logger *zap.Logger) {
	if cfg.RetentionDays <= 0 || cfg.PruneIntervalMin <= 0 {
		logger.Info("chat pruning disabled")
		return
	}
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(time.Duration(cfg.PruneIntervalMin) * time.Minute)
	defer ticker.Stop()
	for {
		if err := q.EnqueueChatPrune(ctx, time.Now().Add(-retention)); err != nil {
			logger.Warn("enqueue chat prune", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

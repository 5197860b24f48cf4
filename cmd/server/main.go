// Package main runs the classroom polling server: HTTP, WebSocket session and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/classpoll/config"
	"github.com/aura-webinar/classpoll/internal/chat"
	"github.com/aura-webinar/classpoll/internal/memstore"
	"github.com/aura-webinar/classpoll/internal/middleware"
	"github.com/aura-webinar/classpoll/internal/participants"
	"github.com/aura-webinar/classpoll/internal/polls"
	"github.com/aura-webinar/classpoll/internal/realtime"
	"github.com/aura-webinar/classpoll/internal/votes"
	"github.com/aura-webinar/classpoll/pkg/database"
	"github.com/aura-webinar/classpoll/pkg/queue"
	"github.com/aura-webinar/classpoll/pkg/redis"
	"github.com/aura-webinar/classpoll/pkg/response"
	"github.com/aura-webinar/classpoll/pkg/storage"
)

type stores struct {
	polls        polls.Store
	votes        votes.Store
	chat         chat.Store
	participants participants.Store
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	var st stores
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		st = stores{
			polls:        memstore.NewPolls(),
			votes:        memstore.NewVotes(),
			chat:         memstore.NewChat(),
			participants: memstore.NewParticipants(),
		}
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		st = stores{
			polls:        polls.NewRepository(pool),
			votes:        votes.NewRepository(pool),
			chat:         chat.NewRepository(pool),
			participants: participants.NewRepository(pool),
		}
	}

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	ledger := votes.NewLedger(st.votes)
	manager := polls.NewManager(st.polls, ledger, polls.NewScheduler(logger), polls.Limits{
		DefaultDuration: cfg.Poll.DefaultDurationSec,
		MaxDuration:     cfg.Poll.MaxDurationSec,
		HistoryLimit:    cfg.Poll.HistoryLimit,
	}, logger)

	// Poll archives need the worker's Postgres snapshots, so the queue is only used with the postgres store.
	if cfg.Redis.Enabled && cfg.Store.Driver == config.StoreDriverPostgres {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis unavailable, poll archival disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			manager.SetArchiver(queue.NewQueue(rdb.Client, logger))
		}
	}

	chatLog := chat.NewLog(st.chat)
	hub := realtime.NewHub(logger)
	coordinator := realtime.NewCoordinator(hub, manager, chatLog, st.participants, cfg.Chat.HistoryLimit, logger)

	if err := manager.Recover(ctx); err != nil {
		logger.Fatal("recover active poll", zap.Error(err))
	}

	pollHandler := polls.NewHandler(manager, s3Client, logger)
	chatHandler := chat.NewHandler(chatLog, cfg.Chat.HistoryLimit, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "connections": hub.ConnectionCount()})
	})

	router.GET("/polls/active", pollHandler.Active)
	router.GET("/polls/history", pollHandler.History)
	router.GET("/polls/:id/results", pollHandler.Results)
	router.GET("/polls/:id/archive-url", pollHandler.ArchiveURL)
	router.GET("/chat/recent", chatHandler.Recent)

	router.GET("/ws", realtime.ServeWs(coordinator, logger))

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// No WriteTimeout: hijacked websocket connections manage their own deadlines.
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	manager.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

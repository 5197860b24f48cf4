package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// Client wraps the go-redis client backing the job queue.
type Client struct {
	*redis.Client
	logger *zap.Logger
}

// NewClient connects to addr and verifies the server answers within pingTimeout.
// The connection is closed again when the ping fails.
func NewClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	logger.Info("redis connected", zap.String("addr", addr), zap.Int("db", db))
	return &Client{Client: rdb, logger: logger}, nil
}

// Close closes the connection pool and logs a failure instead of returning it.
func (c *Client) Close() {
	if err := c.Client.Close(); err != nil {
		c.logger.Warn("redis close", zap.Error(err))
	}
}

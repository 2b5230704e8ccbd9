package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/config"
)

const defaultPingTimeout = 5 * time.Second

var (
	// ErrDisabled is returned by Connect when Redis is not enabled.
	ErrDisabled = errors.New("redis: disabled in configuration")

	// ErrConnectionFailed means the server did not answer the initial ping.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("redis: not connected")
)

// Client wraps a go-redis client with health reporting.
type Client struct {
	rdb    *goredis.Client
	closed atomic.Bool
}

// Connect creates a client and pings the server.
//
// Parameters:
//   - ctx: Bounds the ping
//   - cfg: Redis settings; Enabled must be true
//
// Returns:
//   - *Client: Ready client
//   - error: ErrDisabled or ErrConnectionFailed
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Cmdable exposes the command interface for stores built on this client.
func (c *Client) Cmdable() goredis.Cmdable { return c.rdb }

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := c.rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool. Safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.rdb.Close()
}

// Package redis opens the optional shared Redis used for key locks and rate
// limit budgets.
package redis

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"visitorpass/internal/platform/config"
)

// Client is a go-redis client plus a health probe for /healthz.
type Client struct {
	*redis.Client
}

// New dials cfg.URL and pings it. Returns nil, nil when no URL is configured
// so callers can fall back to in-process implementations.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// RegisterPoolMetrics exposes connection pool counters read at scrape time.
func (c *Client) RegisterPoolMetrics(reg prometheus.Registerer) {
	gauge := func(name, help string, read func(*redis.PoolStats) uint32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "visitorpass_redis_pool_" + name,
			Help: help,
		}, func() float64 { return float64(read(c.PoolStats())) })
	}
	reg.MustRegister(
		gauge("hits", "Free connections found in the pool", func(s *redis.PoolStats) uint32 { return s.Hits }),
		gauge("misses", "Connections that had to be dialled", func(s *redis.PoolStats) uint32 { return s.Misses }),
		gauge("timeouts", "Waits for a connection that timed out", func(s *redis.PoolStats) uint32 { return s.Timeouts }),
		gauge("total_conns", "Open connections", func(s *redis.PoolStats) uint32 { return s.TotalConns }),
		gauge("idle_conns", "Idle connections", func(s *redis.PoolStats) uint32 { return s.IdleConns }),
	)
}

package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jdholdren/wishsync/internal/extract"
	"github.com/jdholdren/wishsync/internal/ratelimit"
	"github.com/jdholdren/wishsync/internal/render"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

// EngineConfig is the environment shared by every process that syncs.
type EngineConfig struct {
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL"`
	ChromePath      string `env:"CHROME_PATH"`

	// LLM calls are only rate limited when a redis address is set
	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB, default=0"`
	LLMCallsPerQuota int           `env:"LLM_CALLS_PER_QUOTA, default=30"`
	LLMQuotaWindow   time.Duration `env:"LLM_QUOTA_WINDOW, default=1m"`

	Cooldown time.Duration `env:"SYNC_COOLDOWN, default=1h"`
	Deadline time.Duration `env:"SYNC_DEADLINE, default=3m"`
}

// Setup builds the coordinator and everything under it. The returned cleanup
// releases the redis connection, if one was made.
func Setup(ctx context.Context, repo wishsync.Repository, cfg EngineConfig, opts ...Option) (*Coordinator, func(), error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, nil, errors.New("ANTHROPIC_API_KEY is required to sync")
	}
	cleanup := func() {}

	// Retries are off: a failed extraction fails the sync and the user retries
	claude := anthropic.NewClient(
		option.WithAPIKey(cfg.AnthropicAPIKey),
		option.WithMaxRetries(0),
	)
	extractOpts := []extract.Option{extract.WithModel(cfg.AnthropicModel)}

	if cfg.RedisAddr != "" {
		rdb, err := ratelimit.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("error connecting to redis: %s", err)
		}
		cleanup = func() {
			if err := rdb.Close(); err != nil {
				slog.Warn("error closing redis client", "err", err)
			}
		}
		extractOpts = append(extractOpts, extract.WithLimiter(ratelimit.New(rdb, cfg.LLMCallsPerQuota, cfg.LLMQuotaWindow)))
	}

	c := New(
		repo,
		render.New(render.Options{ExecPath: cfg.ChromePath}),
		extract.New(&claude, extractOpts...),
		Config{Cooldown: cfg.Cooldown, Deadline: cfg.Deadline},
		opts...,
	)

	return c, cleanup, nil
}

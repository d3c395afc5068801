package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/sethvargo/go-envconfig"
	"go.uber.org/fx"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/wishsync/internal/api"
	"github.com/jdholdren/wishsync/internal/logger"
	"github.com/jdholdren/wishsync/internal/sqlite"
	"github.com/jdholdren/wishsync/internal/syncer"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

type config struct {
	Database string `env:"DATABASE, required"`

	Port             int    `env:"PORT, default=4444"`
	HTTPSCookies     bool   `env:"HTTPS_COOKIES, default=false"`
	CookieHashKey    string `env:"COOKIE_HASH_KEY, required"`
	CookieBlockKey   string `env:"COOKIE_BLOCK_KEY"`
	CorsHeader       string `env:"CORS_HEADER, default=http://localhost:5173"`
	PreviewCacheSize int    `env:"PREVIEW_CACHE_SIZE, default=512"`
	DebugEndpoints   bool   `env:"DEBUG_ENDPOINTS, default=false"`

	LogFormat string `env:"LOG_FORMAT, default=text"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`

	Engine syncer.EngineConfig
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel))

	// Connect to the sqlite db, running all migrations
	dbx, err := sqlite.Open(cfg.Database)
	if err != nil {
		log.Fatalf("error opening database: %s", err)
	}
	defer dbx.Close()

	repo := sqlite.New(dbx)

	coordinator, cleanup, err := syncer.Setup(ctx, repo, cfg.Engine)
	if err != nil {
		log.Fatalf("error setting up syncer: %s", err)
	}
	defer cleanup()

	// Start the application
	fx.New(
		fx.Supply(
			api.ServerConfig{
				Port:             cfg.Port,
				CookieHashKey:    []byte(cfg.CookieHashKey),
				CookieBlockKey:   []byte(cfg.CookieBlockKey),
				HttpsCookies:     cfg.HTTPSCookies,
				CorsHeader:       cfg.CorsHeader,
				PreviewCacheSize: cfg.PreviewCacheSize,
				DebugEndpoints:   cfg.DebugEndpoints,
			},
			fx.Annotate(repo, fx.As(new(wishsync.Repository))),
			fx.Annotate(coordinator, fx.As(new(api.Syncer))),
		),
		api.Module,
		fx.Invoke(func(*api.Server) {}), // Start the api server
	).Run()
}

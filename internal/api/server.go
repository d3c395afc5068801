package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/fx"

	"github.com/jdholdren/wishsync/internal/serverutil"
	"github.com/jdholdren/wishsync/internal/syncer"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

type (
	// Syncer runs syncs and previews. Implemented by [syncer.Coordinator].
	Syncer interface {
		Sync(ctx context.Context, connectionID string) (syncer.Result, error)
		Generate(ctx context.Context, pageURL string) (wishsync.Candidate, error)
	}

	Server struct {
		*http.Server

		repo         wishsync.Repository
		syncer       Syncer
		previewCache *lru.Cache[string, wishsync.Candidate]

		secureCookie *securecookie.SecureCookie
		httpsCookies bool // Whether or not HTTPS should be used for cookies
	}

	ServerConfig struct {
		Port             int
		CookieHashKey    []byte
		CookieBlockKey   []byte
		HttpsCookies     bool
		CorsHeader       string
		PreviewCacheSize int

		DebugEndpoints bool
	}

	Params struct {
		fx.In

		Config ServerConfig
		Repo   wishsync.Repository
		Syncer Syncer
	}
)

func NewServer(lc fx.Lifecycle, p Params) *Server {
	srvr := newServer(p)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("api server stopped", "err", err)
				}
			}()

			slog.Info("started api server", "addr", srvr.Addr)

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srvr.Shutdown(ctx)
		},
	})

	return srvr
}

func newServer(p Params) *Server {
	size := p.Config.PreviewCacheSize
	if size <= 0 {
		size = 1024
	}
	var (
		r        = serverutil.ErrRouter{Router: mux.NewRouter()}
		cache, _ = lru.New[string, wishsync.Candidate](size)
	)

	srvr := &Server{
		repo:         p.Repo,
		syncer:       p.Syncer,
		previewCache: cache,
		secureCookie: securecookie.New(p.Config.CookieHashKey, p.Config.CookieBlockKey),
		httpsCookies: p.Config.HttpsCookies,
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", p.Config.Port),
			ReadTimeout: 5 * time.Second,
			// Syncs are answered synchronously and may take minutes
			WriteTimeout: 4 * time.Minute,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{p.Config.CorsHeader}),
				handlers.AllowCredentials(),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything
	r.HandleFuncE("/api/logout", srvr.getLogout).Methods(http.MethodGet)

	if p.Config.DebugEndpoints {
		// For local testing
		r.HandleFuncE("/api/login", srvr.handleDebugLogin).Methods(http.MethodPost)
	}

	authed := serverutil.ErrRouter{Router: r.NewRoute().Subrouter()}
	authed.Use(requireSessionMiddleware(srvr.secureCookie))

	authed.HandleFuncE("/api/wishlists", srvr.postWishlist).Methods(http.MethodPost)
	authed.HandleFuncE("/api/wishlists/{wishlistID}/connections", srvr.postConnection).Methods(http.MethodPost)

	authed.HandleFuncE("/api/connections/{connectionID}", srvr.getConnection).Methods(http.MethodGet)
	authed.HandleFuncE("/api/connections/{connectionID}", srvr.deleteConnection).Methods(http.MethodDelete)
	authed.HandleFuncE("/api/connections/{connectionID}/items", srvr.getConnectionItems).Methods(http.MethodGet)
	authed.HandleFuncE("/api/connections/{connectionID}/sync", srvr.postSync).Methods(http.MethodPost)

	// Single item preview
	authed.HandleFuncE("/api/items:generate", srvr.postGenerate).Methods(http.MethodPost)

	// Admin
	authed.HandleFuncE("/api/admin/connections:errored", srvr.getErroredConnections).Methods(http.MethodGet)

	slog.Debug("configured api server", "port", p.Config.Port)

	return srvr
}

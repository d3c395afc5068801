// Package syncer runs the connection sync pipeline: render the connection's
// page, distill it, extract products, reconcile them with the items already
// imported and persist the result.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jdholdren/wishsync/internal/distill"
	"github.com/jdholdren/wishsync/internal/extract"
	"github.com/jdholdren/wishsync/internal/logger"
	"github.com/jdholdren/wishsync/internal/reconcile"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

var (
	tracer         = otel.Tracer("wishsync/syncer")
	meter          = otel.Meter("wishsync/syncer")
	syncTotal, _   = meter.Int64Counter("syncer.sync.total", metric.WithDescription("Sync runs by outcome"))
	syncSeconds, _ = meter.Float64Histogram("syncer.sync.duration", metric.WithDescription("Sync run duration in seconds"), metric.WithUnit("s"))
)

type (
	Renderer interface {
		Render(ctx context.Context, pageURL string, scroll bool) (string, error)
	}

	Extractor interface {
		Extract(ctx context.Context, doc, pageURL string, mode extract.Mode) ([]wishsync.Candidate, error)
	}

	// Retainer picks, out of the items a sync is about to delete, the ones that
	// have to stay anyway (reserved items, for instance).
	Retainer interface {
		Retain(ctx context.Context, conn wishsync.Connection, itemIDs []string) ([]string, error)
	}

	Config struct {
		Cooldown     time.Duration // Minimum time between two syncs of a connection
		Deadline     time.Duration // Upper bound on one pipeline run
		TouchTimeout time.Duration // Upper bound on the wishlist activity update
	}

	// Result summarizes a successful sync.
	Result struct {
		Items   int `json:"items"`
		Added   int `json:"added"`
		Removed int `json:"removed"`
	}
)

// Coordinator runs syncs. Concurrent syncs of the same connection share one run
// and its outcome; at most one run per connection is in flight in this process.
type Coordinator struct {
	repo      wishsync.Repository
	renderer  Renderer
	extractor Extractor
	retainer  Retainer
	cfg       Config

	flights singleflight.Group
	now     func() time.Time
	newID   func() string
}

type Option func(*Coordinator)

func WithRetainer(r Retainer) Option {
	return func(c *Coordinator) { c.retainer = r }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDs(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

func New(repo wishsync.Repository, renderer Renderer, extractor Extractor, cfg Config, opts ...Option) *Coordinator {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = time.Hour
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = 3 * time.Minute
	}
	if cfg.TouchTimeout == 0 {
		cfg.TouchTimeout = 5 * time.Second
	}

	c := &Coordinator{
		repo:      repo,
		renderer:  renderer,
		extractor: extractor,
		cfg:       cfg,
		now:       time.Now,
		newID:     reconcile.NewID,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Sync syncs the connection, or joins the sync already running for it.
//
// Expected failures come back as *wishsync.SyncError. Anything else is a bug
// or an infrastructure problem. Giving up on ctx returns early but leaves the
// shared run going; the run is bounded by Config.Deadline instead.
func (c *Coordinator) Sync(ctx context.Context, connectionID string) (Result, error) {
	ctx = logger.Ctx(ctx, slog.String("connection_id", connectionID))

	val, err := c.shared(ctx, "sync:"+connectionID, func(ctx context.Context) (any, error) {
		return c.run(ctx, connectionID)
	})
	res, _ := val.(Result)
	return res, err
}

// Runs fn once per key at a time, detached from the caller's cancellation.
func (c *Coordinator) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	ch := c.flights.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Deadline)
		defer cancel()

		return fn(runCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, connectionID string) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "syncer.sync", trace.WithAttributes(attribute.String("connection.id", connectionID)))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic syncing connection: %v", r)
		}
		c.record(ctx, span, time.Since(start), res, err)
	}()

	return c.pipeline(ctx, connectionID)
}

func (c *Coordinator) pipeline(ctx context.Context, connectionID string) (Result, error) {
	conn, err := c.repo.Connection(ctx, connectionID)
	if errors.Is(err, wishsync.ErrNotFound) {
		return Result{}, wishsync.Fail(wishsync.ReasonNotFound, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("error fetching connection: %w", err)
	}

	now := c.now()
	if conn.LastSyncedAt != nil {
		if next := conn.LastSyncedAt.Add(c.cfg.Cooldown); now.Before(next) {
			return Result{}, wishsync.Cooldown(now, next)
		}
	}

	// Render and distill failures leave the connection's status alone.
	html, err := c.render(ctx, conn.URL, true)
	if err != nil {
		return Result{}, err
	}
	doc, err := distill.Distill(html, conn.URL, distill.Options{KeepRelativeLinks: true})
	if err != nil {
		return Result{}, stageError(wishsync.ReasonCannotRead, err)
	}

	candidates, err := c.extract(ctx, doc, conn.URL, extract.ModeMulti)
	if err != nil {
		c.markFailed(ctx, conn, now)
		return Result{}, err
	}

	usable := wishsync.Usable(candidates)
	if len(usable) == 0 && !conn.HasSucceeded() {
		c.markFailed(ctx, conn, now)
		return Result{}, wishsync.Fail(wishsync.ReasonNoProducts, nil)
	}

	res, err := c.persist(ctx, conn, usable, now)
	if err != nil {
		return Result{}, err
	}

	go c.touchWishlist(ctx, conn.WishlistID, now)

	return res, nil
}

func (c *Coordinator) render(ctx context.Context, pageURL string, scroll bool) (string, error) {
	ctx, span := tracer.Start(ctx, "syncer.render")
	defer span.End()

	html, err := c.renderer.Render(ctx, pageURL, scroll)
	if err != nil {
		span.RecordError(err)
		return "", stageError(wishsync.ReasonCannotRender, err)
	}

	return html, nil
}

func (c *Coordinator) extract(ctx context.Context, doc, pageURL string, mode extract.Mode) ([]wishsync.Candidate, error) {
	ctx, span := tracer.Start(ctx, "syncer.extract", trace.WithAttributes(attribute.String("mode", mode.String())))
	defer span.End()

	candidates, err := c.extractor.Extract(ctx, doc, pageURL, mode)
	if err != nil {
		span.RecordError(err)
		return nil, stageError(wishsync.ReasonGenerationFailed, err)
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	return candidates, nil
}

// Reconciles against the stored items and writes everything in one transaction.
func (c *Coordinator) persist(ctx context.Context, conn wishsync.Connection, usable []wishsync.Candidate, now time.Time) (Result, error) {
	ctx, span := tracer.Start(ctx, "syncer.persist")
	defer span.End()

	existing, err := c.repo.ConnectionItems(ctx, conn.ID)
	if err != nil {
		return Result{}, fmt.Errorf("error fetching existing items: %w", err)
	}

	plan := reconcile.Reconcile(conn, usable, existing, now, c.newID)
	keep := plan.KeepIDs()

	var retained []string
	if c.retainer != nil && len(plan.Delete) > 0 {
		retained, err = c.retainer.Retain(ctx, conn, plan.Delete)
		if err != nil {
			return Result{}, fmt.Errorf("error checking retained items: %w", err)
		}
		keep = append(keep, retained...)
	}

	err = c.repo.InTx(ctx, func(tx wishsync.SyncTx) error {
		if err := tx.UpdateConnectionStatus(ctx, conn.ID, wishsync.UpdateStatusArgs{LastSyncedAt: now, SyncError: false}); err != nil {
			return err
		}
		if err := tx.DeleteItemsExcept(ctx, conn.ID, keep); err != nil {
			return err
		}
		return tx.UpsertItems(ctx, plan.Items)
	})
	if err != nil {
		return Result{}, fmt.Errorf("error persisting sync: %w", err)
	}

	matched := len(existing) - len(plan.Delete)
	return Result{
		Items:   len(plan.Items),
		Added:   len(plan.Items) - matched,
		Removed: len(plan.Delete) - len(retained),
	}, nil
}

// Flags the connection as errored. The attempt still counts towards the cooldown.
// The run's deadline may already have passed, so the write gets its own.
func (c *Coordinator) markFailed(ctx context.Context, conn wishsync.Connection, now time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.TouchTimeout)
	defer cancel()

	err := c.repo.InTx(ctx, func(tx wishsync.SyncTx) error {
		return tx.UpdateConnectionStatus(ctx, conn.ID, wishsync.UpdateStatusArgs{LastSyncedAt: now, SyncError: true})
	})
	if err != nil {
		slog.ErrorContext(ctx, "error flagging connection as errored", "err", err)
	}
}

func (c *Coordinator) touchWishlist(ctx context.Context, wishlistID string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.TouchTimeout)
	defer cancel()

	if err := c.repo.TouchWishlist(ctx, wishlistID, at); err != nil {
		slog.WarnContext(ctx, "error touching wishlist", "wishlist_id", wishlistID, "err", err)
	}
}

func (c *Coordinator) record(ctx context.Context, span trace.Span, took time.Duration, res Result, err error) {
	outcome := "success"
	syncErr, isSyncErr := wishsync.AsSyncError(err)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "synced connection", "items", res.Items, "added", res.Added, "removed", res.Removed, "duration", took)
	case isSyncErr:
		outcome = string(syncErr.Reason)
		slog.InfoContext(ctx, "sync did not complete", "reason", syncErr.Reason, "err", err)
	default:
		outcome = "internal"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "unexpected sync failure", "err", err)
	}

	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	syncTotal.Add(ctx, 1, attrs)
	syncSeconds.Record(ctx, took.Seconds(), attrs)
}

// Expected errors pass through, anything else becomes reason.
func stageError(reason wishsync.Reason, err error) error {
	if _, ok := wishsync.AsSyncError(err); ok {
		return err
	}
	return wishsync.Fail(reason, err)
}

package syncer

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jdholdren/wishsync/internal/distill"
	"github.com/jdholdren/wishsync/internal/extract"
	"github.com/jdholdren/wishsync/internal/logger"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

// Generate previews the single product on pageURL without storing anything.
// Concurrent previews of the same page share one run.
func (c *Coordinator) Generate(ctx context.Context, pageURL string) (wishsync.Candidate, error) {
	ctx = logger.Ctx(ctx, slog.String("page_url", pageURL))

	val, err := c.shared(ctx, "generate:"+pageURL, func(ctx context.Context) (any, error) {
		return c.generate(ctx, pageURL)
	})
	candidate, _ := val.(wishsync.Candidate)
	return candidate, err
}

func (c *Coordinator) generate(ctx context.Context, pageURL string) (wishsync.Candidate, error) {
	ctx, span := tracer.Start(ctx, "syncer.generate", trace.WithAttributes(attribute.String("page.url", pageURL)))
	defer span.End()

	// A product page needs no scrolling, and relative links on it are noise.
	html, err := c.render(ctx, pageURL, false)
	if err != nil {
		return wishsync.Candidate{}, err
	}
	doc, err := distill.Distill(html, pageURL, distill.Options{})
	if err != nil {
		return wishsync.Candidate{}, stageError(wishsync.ReasonCannotRead, err)
	}

	candidates, err := c.extract(ctx, doc, pageURL, extract.ModeSingle)
	if err != nil {
		return wishsync.Candidate{}, err
	}

	usable := wishsync.Usable(candidates)
	if len(usable) == 0 {
		return wishsync.Candidate{}, wishsync.Fail(wishsync.ReasonNoProducts, nil)
	}

	return usable[0], nil
}

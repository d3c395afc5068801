// Package extract asks Claude for the products on a distilled page.
package extract

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/microcosm-cc/bluemonday"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

//go:embed system_prompt.txt
var systemPrompt string

//go:embed user_prompt.txt
var userPrompt string

// Mode picks between a single product page and a page listing many products.
type Mode int

const (
	ModeSingle Mode = iota
	ModeMulti
)

func (m Mode) String() string {
	if m == ModeMulti {
		return "multi"
	}
	return "single"
}

var instructions = map[Mode]string{
	ModeSingle: "This page is about one product. Report it as the only product, with valid set to false if the page isn't a product page.",
	ModeMulti:  "This page lists many products, such as a wishlist or registry. Report every product on it, in page order.",
}

// Use a schema to constrain the output
var (
	candidateSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"valid":         map[string]any{"type": "boolean"},
			"name":          map[string]any{"type": "string"},
			"price":         map[string]any{"type": "number"},
			"priceCurrency": map[string]any{"type": "string"},
			"imageUrl":      map[string]any{"type": "string"},
			"url":           map[string]any{"type": "string"},
		},
		"required":             []string{"valid"},
		"additionalProperties": false,
	}
	singleFormat = anthropic.BetaJSONSchemaOutputFormat(candidateSchema)
	multiFormat  = anthropic.BetaJSONSchemaOutputFormat(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"products": map[string]any{
				"type":  "array",
				"items": candidateSchema,
			},
		},
		"required":             []string{"products"},
		"additionalProperties": false,
	})
)

// Output budget per call. A list page can carry hundreds of products with full URLs.
var maxTokens = map[Mode]int64{
	ModeSingle: 4096,
	ModeMulti:  32000,
}

// ErrTruncated means the model ran out of output tokens before finishing its answer.
var ErrTruncated = errors.New("model output truncated at the token limit")

const (
	maxNameLen = 512
	limiterKey = "llm"
)

var stripPolicy = bluemonday.StrictPolicy()

// Messager is the slice of the Anthropic client the extractor calls.
type Messager interface {
	New(ctx context.Context, params anthropic.BetaMessageNewParams, opts ...option.RequestOption) (*anthropic.BetaMessage, error)
}

// Limiter gates calls to the model. A refused call is reported as rate limited.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

type Extractor struct {
	messages Messager
	model    anthropic.Model
	limiter  Limiter
}

type Option func(*Extractor)

func WithModel(model string) Option {
	return func(e *Extractor) {
		if model != "" {
			e.model = anthropic.Model(model)
		}
	}
}

func WithLimiter(l Limiter) Option {
	return func(e *Extractor) {
		e.limiter = l
	}
}

// New builds an extractor on top of the client. The client should be built with
// retries disabled: a failed extraction fails the sync.
func New(client *anthropic.Client, opts ...Option) *Extractor {
	return NewWithMessager(&client.Beta.Messages, opts...)
}

func NewWithMessager(m Messager, opts ...Option) *Extractor {
	e := &Extractor{
		messages: m,
		model:    anthropic.ModelClaudeHaiku4_5,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Extract returns the usable candidates found in doc, the distilled form of
// pageURL. Finding nothing is not an error.
func (e *Extractor) Extract(ctx context.Context, doc, pageURL string, mode Mode) ([]wishsync.Candidate, error) {
	if e.limiter != nil {
		allowed, wait, err := e.limiter.Allow(ctx, limiterKey)
		if err != nil {
			// Fail open
			slog.WarnContext(ctx, "error checking llm rate limit", "err", err)
		} else if !allowed {
			return nil, wishsync.Fail(wishsync.ReasonRateLimited, fmt.Errorf("local llm rate limit reached, retry in %s", wait.Round(time.Second)))
		}
	}

	outputFormat := singleFormat
	if mode == ModeMulti {
		outputFormat = multiFormat
	}

	claudeResp, err := e.messages.New(ctx, anthropic.BetaMessageNewParams{
		Model: e.model,
		Betas: []anthropic.AnthropicBeta{
			"structured-outputs-2025-11-13",
		},
		MaxTokens:    maxTokens[mode],
		OutputFormat: outputFormat,
		System: []anthropic.BetaTextBlockParam{{
			Text: systemPrompt,
		}},
		Messages: []anthropic.BetaMessageParam{
			anthropic.NewBetaUserMessage(anthropic.NewBetaTextBlock(buildPrompt(doc, pageURL, mode))),
		},
	})
	// Handle Anthropic rate limit errors
	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) && claudeErr.StatusCode == http.StatusTooManyRequests {
		return nil, wishsync.Fail(wishsync.ReasonRateLimited, err)
	}
	if err != nil {
		return nil, wishsync.Fail(wishsync.ReasonGenerationFailed, err)
	}

	if claudeResp.StopReason == anthropic.BetaStopReasonMaxTokens {
		slog.WarnContext(ctx, "llm output hit the token limit", "mode", mode, "max_tokens", maxTokens[mode], "output_tokens", claudeResp.Usage.OutputTokens)
		return nil, wishsync.Fail(wishsync.ReasonGenerationFailed, ErrTruncated)
	}

	var claudeJson strings.Builder
	for _, content := range claudeResp.Content {
		claudeJson.WriteString(content.Text)
	}
	candidates, err := parse(claudeJson.String(), mode)
	if err != nil {
		return nil, wishsync.Fail(wishsync.ReasonGenerationFailed, err)
	}

	base, _ := url.Parse(pageURL)
	for i := range candidates {
		candidates[i] = clean(candidates[i], base)
	}

	usable := wishsync.Usable(candidates)
	slog.DebugContext(ctx, "extracted candidates", "mode", mode, "found", len(candidates), "usable", len(usable))

	return usable, nil
}

func buildPrompt(doc, pageURL string, mode Mode) string {
	return fmt.Sprintf(userPrompt, pageURL, instructions[mode], doc)
}

func parse(raw string, mode Mode) ([]wishsync.Candidate, error) {
	if mode == ModeSingle {
		var c wishsync.Candidate
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("error unmarshaling claude json: %s", err)
		}
		return []wishsync.Candidate{c}, nil
	}

	var out struct {
		Products []wishsync.Candidate `json:"products"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("error unmarshaling claude json: %s", err)
	}
	return out.Products, nil
}

// Strips markup from the name and makes the links absolute.
func clean(c wishsync.Candidate, base *url.URL) wishsync.Candidate {
	c.Name = sanitize(c.Name)
	c.URL = absoluteURL(base, c.URL)
	c.ImageURL = absoluteURL(base, c.ImageURL)

	return c
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxNameLen {
		s = string(r[:maxNameLen])
	}

	return s
}

// Resolves ref against base. Anything that isn't an http(s) URL comes back empty.
func absoluteURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}

	return u.String()
}

package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

type fakeMessager struct {
	calls      int
	text       string
	stopReason anthropic.BetaStopReason
	err        error
	got        anthropic.BetaMessageNewParams
}

func (f *fakeMessager) New(_ context.Context, params anthropic.BetaMessageNewParams, _ ...option.RequestOption) (*anthropic.BetaMessage, error) {
	f.calls++
	f.got = params
	if f.err != nil {
		return nil, f.err
	}

	return &anthropic.BetaMessage{
		Content:    []anthropic.BetaContentBlockUnion{{Text: f.text}},
		StopReason: f.stopReason,
	}, nil
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f fakeLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return f.allowed, time.Minute, f.err
}

func TestPromptGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	multiDoc := "# Metadata\ntitle: Jane's list\n\n# Page content\n- [Blue mug](https://shop.test/p/1) $12.50"
	g.Assert(t, "prompt_multi", []byte(buildPrompt(multiDoc, "https://shop.test/lists/jane", ModeMulti)))

	singleDoc := "# Metadata\ntitle: Blue mug\n\n# Page content\nBlue mug, $12.50"
	g.Assert(t, "prompt_single", []byte(buildPrompt(singleDoc, "https://shop.test/p/1", ModeSingle)))
}

func TestExtractMulti(t *testing.T) {
	m := &fakeMessager{text: `{"products": [
		{"valid": true, "name": "Mug", "price": -5},
		{"valid": true, "name": "<b>Blue</b> mug &amp; saucer", "price": 12.5, "priceCurrency": "usd", "url": "/p/1?ref=list", "imageUrl": "//cdn.shop.test/mug.jpg"},
		{"valid": false, "name": "Gift card banner"},
		{"valid": true, "name": "   "},
		{"valid": true, "name": "Lamp", "url": "javascript:alert(1)"}
	]}`}
	e := NewWithMessager(m, WithModel("claude-sonnet-4-5"))

	got, err := e.Extract(context.Background(), "doc", "https://shop.test/lists/jane", ModeMulti)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Blue mug & saucer", got[0].Name)
	assert.Equal(t, 12.5, *got[0].Price)
	assert.Equal(t, "USD", got[0].Currency)
	assert.Equal(t, "https://shop.test/p/1?ref=list", got[0].URL)
	assert.Equal(t, "https://cdn.shop.test/mug.jpg", got[0].ImageURL)

	assert.Equal(t, "Lamp", got[1].Name)
	assert.Empty(t, got[1].URL)
	assert.Nil(t, got[1].Price)

	assert.Equal(t, 1, m.calls)
	assert.Equal(t, anthropic.Model("claude-sonnet-4-5"), m.got.Model)
	assert.Equal(t, int64(32000), m.got.MaxTokens)
	require.Len(t, m.got.System, 1)
	assert.Equal(t, systemPrompt, m.got.System[0].Text)
}

func TestExtractSingle(t *testing.T) {
	m := &fakeMessager{text: `{"valid": true, "name": "Blue mug", "price": 12.5}`}

	got, err := NewWithMessager(m).Extract(context.Background(), "doc", "https://shop.test/p/1", ModeSingle)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Blue mug", got[0].Name)
	assert.Equal(t, wishsync.DefaultCurrency, got[0].Currency)
	assert.Equal(t, anthropic.ModelClaudeHaiku4_5, m.got.Model)
	assert.Equal(t, int64(4096), m.got.MaxTokens)
}

func TestExtractTruncatedOutput(t *testing.T) {
	m := &fakeMessager{
		text:       `{"products": [{"valid": true, "name": "Blue mug", "url": "https://shop.test/p/1"}, {"valid": true, "na`,
		stopReason: anthropic.BetaStopReasonMaxTokens,
	}

	_, err := NewWithMessager(m).Extract(context.Background(), "doc", "https://shop.test/lists/jane", ModeMulti)
	require.Error(t, err)

	syncErr, ok := wishsync.AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, wishsync.ReasonGenerationFailed, syncErr.Reason)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestExtractNothingIsNotAnError(t *testing.T) {
	m := &fakeMessager{text: `{"products": []}`}

	got, err := NewWithMessager(m).Extract(context.Background(), "doc", "https://shop.test/lists/jane", ModeMulti)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractFailures(t *testing.T) {
	rateLimited := &anthropic.Error{
		StatusCode: http.StatusTooManyRequests,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: http.StatusTooManyRequests},
	}

	tests := []struct {
		name      string
		messager  *fakeMessager
		limiter   Limiter
		want      wishsync.Reason
		wantCalls int
	}{
		{
			name:      "provider rate limit",
			messager:  &fakeMessager{err: rateLimited},
			want:      wishsync.ReasonRateLimited,
			wantCalls: 1,
		},
		{
			name:      "provider failure",
			messager:  &fakeMessager{err: errors.New("connection reset")},
			want:      wishsync.ReasonGenerationFailed,
			wantCalls: 1,
		},
		{
			name:      "garbage output",
			messager:  &fakeMessager{text: `not json`},
			want:      wishsync.ReasonGenerationFailed,
			wantCalls: 1,
		},
		{
			name:      "local rate limit",
			messager:  &fakeMessager{text: `{"products": []}`},
			limiter:   fakeLimiter{allowed: false},
			want:      wishsync.ReasonRateLimited,
			wantCalls: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewWithMessager(tt.messager, WithLimiter(tt.limiter))

			_, err := e.Extract(context.Background(), "doc", "https://shop.test/lists/jane", ModeMulti)
			require.Error(t, err)

			syncErr, ok := wishsync.AsSyncError(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, syncErr.Reason)
			// No retries
			assert.Equal(t, tt.wantCalls, tt.messager.calls)
		})
	}
}

func TestExtractLimiterFailsOpen(t *testing.T) {
	m := &fakeMessager{text: `{"products": [{"valid": true, "name": "Mug"}]}`}
	e := NewWithMessager(m, WithLimiter(fakeLimiter{err: errors.New("redis down")}))

	got, err := e.Extract(context.Background(), "doc", "https://shop.test/lists/jane", ModeMulti)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

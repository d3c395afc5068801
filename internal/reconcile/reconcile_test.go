package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

func ptr[T any](v T) *T { return &v }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("new-%d", n)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "https://shop.test/p/1?ref=email#top", want: "https://shop.test/p/1", wantOK: true},
		{in: "HTTPS://Shop.Test/p/1", want: "https://shop.test/p/1", wantOK: true},
		{in: "https://shop.test/P/1", want: "https://shop.test/P/1", wantOK: true},
		{in: "  https://shop.test/  ", want: "https://shop.test/", wantOK: true},
		{in: "/p/1", wantOK: false},
		{in: "", wantOK: false},
		{in: "://bad", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeURL(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReconcile(t *testing.T) {
	var (
		conn    = wishsync.Connection{ID: "c1", WishlistID: "w1"}
		now     = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		created = now.Add(-48 * time.Hour)
	)
	existing := []wishsync.Item{
		{ID: "mug", URL: ptr("https://shop.test/p/1?ref=email#top"), Notes: "blue", CreatedAt: created},
		{ID: "gone", URL: ptr("https://shop.test/p/9")},
		{ID: "manual-ish", URL: nil},
	}
	candidates := []wishsync.Candidate{
		{Valid: true, Name: "Mug", URL: "https://shop.test/p/1", Currency: "USD"},
		{Valid: true, Name: "Mug again", URL: "https://shop.test/p/1?utm=x"},
		{Valid: true, Name: "Card"},
		{Valid: true, Name: "Lamp", URL: "https://shop.test/p/2", Price: ptr(20.0), Currency: "EUR", ImageURL: "https://shop.test/lamp.jpg"},
	}

	plan := Reconcile(conn, candidates, existing, now, sequentialIDs())

	require.Len(t, plan.Items, 3)

	mug := plan.Items[0]
	assert.Equal(t, "mug", mug.ID)
	assert.Equal(t, "blue", mug.Notes)
	assert.Equal(t, created, mug.CreatedAt)
	assert.Equal(t, now, mug.UpdatedAt)
	assert.Equal(t, "https://shop.test/p/1", *mug.URL)

	card := plan.Items[1]
	assert.Equal(t, "new-1", card.ID)
	assert.Nil(t, card.URL)
	assert.Equal(t, wishsync.DefaultCurrency, card.Currency)

	lamp := plan.Items[2]
	assert.Equal(t, "new-2", lamp.ID)
	assert.Equal(t, "EUR", lamp.Currency)
	assert.Equal(t, "https://shop.test/lamp.jpg", *lamp.ImageURL)

	for _, item := range plan.Items {
		assert.Equal(t, "w1", item.WishlistID)
		assert.Equal(t, "c1", *item.ConnectionID)
	}

	assert.ElementsMatch(t, []string{"gone", "manual-ish"}, plan.Delete)
	assert.Equal(t, []string{"mug", "new-1", "new-2"}, plan.KeepIDs())
}

func TestReconcileIsStableAcrossRuns(t *testing.T) {
	var (
		conn       = wishsync.Connection{ID: "c1", WishlistID: "w1"}
		now        = time.Now()
		candidates = []wishsync.Candidate{
			{Valid: true, Name: "Mug", URL: "https://shop.test/p/1"},
			{Valid: true, Name: "Lamp", URL: "https://shop.test/p/2"},
		}
	)

	first := Reconcile(conn, candidates, nil, now, sequentialIDs())
	second := Reconcile(conn, candidates, first.Items, now.Add(time.Hour), sequentialIDs())

	assert.Equal(t, first.KeepIDs(), second.KeepIDs())
	assert.Empty(t, second.Delete)
}

func TestReconcileNoCandidatesDeletesEverything(t *testing.T) {
	existing := []wishsync.Item{{ID: "a"}, {ID: "b", URL: ptr("https://shop.test/p/1")}}

	plan := Reconcile(wishsync.Connection{ID: "c1"}, nil, existing, time.Now(), NewID)
	assert.Empty(t, plan.Items)
	assert.Empty(t, plan.KeepIDs())
	assert.ElementsMatch(t, []string{"a", "b"}, plan.Delete)
}

func TestReconcilePlaceholderName(t *testing.T) {
	plan := Reconcile(wishsync.Connection{ID: "c1"}, []wishsync.Candidate{{Valid: true}}, nil, time.Now(), NewID)

	require.Len(t, plan.Items, 1)
	assert.Equal(t, wishsync.PlaceholderName, plan.Items[0].Name)
	assert.Contains(t, plan.Items[0].ID, itemNamespace)
}

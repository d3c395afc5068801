// Package reconcile lines freshly extracted candidates up with the items a
// connection already imported, so re-syncing keeps item identity stable.
package reconcile

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

const itemNamespace = "-itm"

// NewID mints an item id.
func NewID() string {
	return uuid.NewString() + itemNamespace
}

// Plan is the item set a connection should end up with.
type Plan struct {
	Items  []wishsync.Item // One per candidate, existing ids reused where matched
	Delete []string        // Existing item ids no candidate claimed
}

// KeepIDs are the ids of every item in the plan.
func (p Plan) KeepIDs() []string {
	ids := make([]string, 0, len(p.Items))
	for _, item := range p.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

// NormalizeURL reduces raw to scheme, host and path so tracking parameters and
// fragments don't defeat matching. ok is false for anything that isn't an
// absolute URL.
func NormalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}

	norm := url.URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Host),
		Path:   u.Path,
	}
	return norm.String(), true
}

// Reconcile maps candidates onto the connection's existing items by normalized
// URL. Matched candidates take over the existing item's id, notes and creation
// time; the rest get fresh ids from newID. When two candidates share a URL the
// first one wins and the other is dropped.
func Reconcile(conn wishsync.Connection, candidates []wishsync.Candidate, existing []wishsync.Item, now time.Time, newID func() string) Plan {
	byURL := make(map[string]wishsync.Item, len(existing))
	for _, item := range existing {
		if item.URL == nil {
			continue
		}
		if key, ok := NormalizeURL(*item.URL); ok {
			if _, dupe := byURL[key]; !dupe {
				byURL[key] = item
			}
		}
	}

	var (
		plan    Plan
		claimed = make(map[string]bool)
		seen    = make(map[string]bool)
	)
	for _, c := range candidates {
		item := toItem(conn, c, now)

		key, hasKey := NormalizeURL(c.URL)
		if hasKey {
			if seen[key] {
				continue
			}
			seen[key] = true
		}

		if prev, ok := byURL[key]; hasKey && ok && !claimed[prev.ID] {
			item.ID = prev.ID
			item.Notes = prev.Notes
			item.CreatedAt = prev.CreatedAt
			claimed[prev.ID] = true
		} else {
			item.ID = newID()
		}

		plan.Items = append(plan.Items, item)
	}

	for _, item := range existing {
		if !claimed[item.ID] {
			plan.Delete = append(plan.Delete, item.ID)
		}
	}

	return plan
}

func toItem(conn wishsync.Connection, c wishsync.Candidate, now time.Time) wishsync.Item {
	item := wishsync.Item{
		WishlistID:   conn.WishlistID,
		ConnectionID: &conn.ID,
		Name:         strings.TrimSpace(c.Name),
		Price:        c.Price,
		Currency:     c.Currency,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if item.Name == "" {
		item.Name = wishsync.PlaceholderName
	}
	if item.Currency == "" {
		item.Currency = wishsync.DefaultCurrency
	}
	if c.ImageURL != "" {
		item.ImageURL = &c.ImageURL
	}
	if c.URL != "" {
		item.URL = &c.URL
	}

	return item
}

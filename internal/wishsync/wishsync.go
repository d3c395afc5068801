// Package wishsync holds the domain types shared by the connection sync engine:
// wishlists, connections to external list pages, the items imported from them,
// and the storage contract the engine persists through.
package wishsync

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

// PlaceholderName is given to an item whose extracted name came back empty.
const PlaceholderName = "Untitled item"

type (
	Wishlist struct {
		ID             string     `db:"id"`
		Name           string     `db:"name"`
		LastActivityAt *time.Time `db:"last_activity_at"`
		CreatedAt      time.Time  `db:"created_at"`
	}

	// Connection links a wishlist to an external page that items are imported from.
	Connection struct {
		ID           string     `db:"id"`
		WishlistID   string     `db:"wishlist_id"`
		Name         string     `db:"name"`
		URL          string     `db:"url"`
		Provider     string     `db:"provider"`
		LastSyncedAt *time.Time `db:"last_synced_at"`
		SyncError    bool       `db:"sync_error"`
		CreatedAt    time.Time  `db:"created_at"`
		UpdatedAt    time.Time  `db:"updated_at"`
	}

	// Item is a product on a wishlist. A nil ConnectionID means it was added by hand.
	Item struct {
		ID           string    `db:"id"`
		WishlistID   string    `db:"wishlist_id"`
		ConnectionID *string   `db:"connection_id"`
		Name         string    `db:"name"`
		Notes        string    `db:"notes"`
		Price        *float64  `db:"price"`
		Currency     string    `db:"currency"`
		ImageURL     *string   `db:"image_url"`
		URL          *string   `db:"url"`
		CreatedAt    time.Time `db:"created_at"`
		UpdatedAt    time.Time `db:"updated_at"`
	}

	InsertConnectionArgs struct {
		WishlistID string
		Name       string
		URL        string
		Provider   string
	}

	// UpdateStatusArgs is the status a sync run leaves on its connection.
	UpdateStatusArgs struct {
		LastSyncedAt time.Time
		SyncError    bool
	}

	Repository interface {
		Wishlist(ctx context.Context, id string) (Wishlist, error)
		InsertWishlist(ctx context.Context, name string) (Wishlist, error)
		// Bumps the wishlist's last activity timestamp.
		TouchWishlist(ctx context.Context, id string, at time.Time) error

		Connection(ctx context.Context, id string) (Connection, error)
		InsertConnection(ctx context.Context, args InsertConnectionArgs) (Connection, error)
		// Removes the connection. Its items are deleted with it, or detached
		// and kept as manual items when deleteItems is false.
		DeleteConnection(ctx context.Context, id string, deleteItems bool) error
		ErroredConnections(ctx context.Context) ([]Connection, error)
		// Connections never synced, or last synced before the cutoff.
		StaleConnections(ctx context.Context, before time.Time) ([]Connection, error)
		ConnectionItems(ctx context.Context, connectionID string) ([]Item, error)

		// Runs fn inside a single transaction, committing only if it returns nil.
		InTx(ctx context.Context, fn func(tx SyncTx) error) error
	}

	// SyncTx is the set of writes a sync run performs atomically.
	SyncTx interface {
		UpdateConnectionStatus(ctx context.Context, id string, args UpdateStatusArgs) error
		DeleteItemsExcept(ctx context.Context, connectionID string, keepIDs []string) error
		UpsertItems(ctx context.Context, items []Item) error
	}
)

// HasSucceeded reports whether the connection's last sync went through cleanly.
func (c Connection) HasSucceeded() bool {
	return c.LastSyncedAt != nil && !c.SyncError
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

func (r Repo) Wishlist(ctx context.Context, id string) (wishsync.Wishlist, error) {
	const q = `SELECT * FROM wishlists WHERE id = ?;`

	var wl wishsync.Wishlist
	err := r.db.GetContext(ctx, &wl, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return wishsync.Wishlist{}, wishsync.ErrNotFound
	}
	if err != nil {
		return wishsync.Wishlist{}, fmt.Errorf("error fetching wishlist: %s", err)
	}

	return wl, nil
}

func (r Repo) InsertWishlist(ctx context.Context, name string) (wishsync.Wishlist, error) {
	const q = `INSERT INTO wishlists (id, name, created_at) VALUES (:id, :name, :created_at);`
	wl := wishsync.Wishlist{
		ID:        fmt.Sprintf("%s%s", uuid.NewString(), wishlistNamespace),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.db.NamedExecContext(ctx, q, wl); err != nil {
		return wishsync.Wishlist{}, fmt.Errorf("error inserting wishlist: %s", err)
	}

	return r.Wishlist(ctx, wl.ID)
}

func (r Repo) TouchWishlist(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE wishlists SET last_activity_at = ? WHERE id = ?;`

	if _, err := r.db.ExecContext(ctx, q, at.UTC(), id); err != nil {
		return fmt.Errorf("error touching wishlist: %s", err)
	}

	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

func (r Repo) Connection(ctx context.Context, id string) (wishsync.Connection, error) {
	const q = `SELECT * FROM connections WHERE id = ?;`

	var conn wishsync.Connection
	err := r.db.GetContext(ctx, &conn, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return wishsync.Connection{}, wishsync.ErrNotFound
	}
	if err != nil {
		return wishsync.Connection{}, fmt.Errorf("error fetching connection: %s", err)
	}

	return conn, nil
}

func (r Repo) InsertConnection(ctx context.Context, args wishsync.InsertConnectionArgs) (wishsync.Connection, error) {
	const q = `INSERT INTO connections (id, wishlist_id, name, url, provider, created_at, updated_at)
	VALUES (:id, :wishlist_id, :name, :url, :provider, :created_at, :updated_at);`

	now := time.Now().UTC()
	conn := wishsync.Connection{
		ID:         fmt.Sprintf("%s%s", uuid.NewString(), connectionNamespace),
		WishlistID: args.WishlistID,
		Name:       args.Name,
		URL:        args.URL,
		Provider:   args.Provider,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := r.db.NamedExecContext(ctx, q, conn)
	if isConflict(err) {
		return wishsync.Connection{}, fmt.Errorf("connection already exists: %w", wishsync.ErrConflict)
	}
	if err != nil {
		return wishsync.Connection{}, fmt.Errorf("error inserting connection: %s", err)
	}

	return r.Connection(ctx, conn.ID)
}

func (r Repo) DeleteConnection(ctx context.Context, id string, deleteItems bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %s", err)
	}
	defer tx.Rollback()

	itemsQ := `UPDATE items SET connection_id = NULL, updated_at = ? WHERE connection_id = ?;`
	itemsArgs := []any{time.Now().UTC(), id}
	if deleteItems {
		itemsQ = `DELETE FROM items WHERE connection_id = ?;`
		itemsArgs = []any{id}
	}
	if _, err := tx.ExecContext(ctx, itemsQ, itemsArgs...); err != nil {
		return fmt.Errorf("error releasing connection items: %s", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM connections WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("error deleting connection: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wishsync.ErrNotFound
	}

	return tx.Commit()
}

// ErroredConnections backs the admin view of connections whose last sync failed.
func (r Repo) ErroredConnections(ctx context.Context) ([]wishsync.Connection, error) {
	query, args, err := sq.Select("*").
		From("connections").
		Where(sq.Eq{"sync_error": true}).
		OrderBy("updated_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	conns := []wishsync.Connection{}
	if err := r.db.SelectContext(ctx, &conns, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching errored connections: %s", err)
	}

	return conns, nil
}

func (r Repo) StaleConnections(ctx context.Context, before time.Time) ([]wishsync.Connection, error) {
	query, args, err := sq.Select("*").
		From("connections").
		Where(sq.Or{
			sq.Eq{"last_synced_at": nil},
			sq.Lt{"last_synced_at": before.UTC()},
		}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	conns := []wishsync.Connection{}
	if err := r.db.SelectContext(ctx, &conns, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching stale connections: %s", err)
	}

	return conns, nil
}

func (r Repo) ConnectionItems(ctx context.Context, connectionID string) ([]wishsync.Item, error) {
	const q = `SELECT * FROM items WHERE connection_id = ? ORDER BY created_at, id;`

	items := []wishsync.Item{}
	if err := r.db.SelectContext(ctx, &items, q, connectionID); err != nil {
		return nil, fmt.Errorf("error fetching connection items: %s", err)
	}

	return items, nil
}

package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

// syncTx is the transactional half of the repo handed out by [Repo.InTx].
type syncTx struct {
	tx *sqlx.Tx
}

var _ wishsync.SyncTx = syncTx{}

func (s syncTx) UpdateConnectionStatus(ctx context.Context, id string, args wishsync.UpdateStatusArgs) error {
	const q = `UPDATE connections SET last_synced_at = ?, sync_error = ?, updated_at = ? WHERE id = ?;`

	at := args.LastSyncedAt.UTC()
	if _, err := s.tx.ExecContext(ctx, q, at, args.SyncError, at, id); err != nil {
		return fmt.Errorf("error updating connection status: %w", err)
	}

	return nil
}

// DeleteItemsExcept removes the connection's items whose ids aren't in keepIDs.
// An empty keepIDs removes all of them.
func (s syncTx) DeleteItemsExcept(ctx context.Context, connectionID string, keepIDs []string) error {
	query, args, err := sq.Delete("items").
		Where(sq.Eq{"connection_id": connectionID}).
		Where(sq.NotEq{"id": keepIDs}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := s.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error deleting items: %w", err)
	}

	return nil
}

// UpsertItems inserts new items and refreshes the product fields of existing ones.
// Notes and creation time belong to the user and are left alone on update.
func (s syncTx) UpsertItems(ctx context.Context, items []wishsync.Item) error {
	const q = `INSERT INTO items (id, wishlist_id, connection_id, name, notes, price, currency, image_url, url, created_at, updated_at)
	VALUES (:id, :wishlist_id, :connection_id, :name, :notes, :price, :currency, :image_url, :url, :created_at, :updated_at)
	ON CONFLICT(id) DO UPDATE SET
		connection_id = excluded.connection_id,
		name = excluded.name,
		price = excluded.price,
		currency = excluded.currency,
		image_url = excluded.image_url,
		url = excluded.url,
		updated_at = excluded.updated_at;`

	for _, item := range items {
		item.CreatedAt = item.CreatedAt.UTC()
		item.UpdatedAt = item.UpdatedAt.UTC()
		if _, err := s.tx.NamedExecContext(ctx, q, item); err != nil {
			return fmt.Errorf("error upserting item %s: %w", item.ID, err)
		}
	}

	return nil
}

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"

	"github.com/jdholdren/wishsync/internal/migrations"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

// Ensure Repo implements the Repository interface
var _ wishsync.Repository = (*Repo)(nil)

const (
	wishlistNamespace   = "-wl"
	connectionNamespace = "-conn"

	sqliteBusy       = 5
	sqliteConstraint = 2067 // SQLITE_CONSTRAINT_UNIQUE
)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}

// Open connects to the database file at path and runs all migrations.
func Open(path string) (*sqlx.DB, error) {
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_time_format=sqlite&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %s", err)
	}
	// One writer at a time; sqlite serializes them anyway.
	dbx.SetMaxOpenConns(1)

	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return nil, err
	}

	return dbx, nil
}

// InTx runs fn in a transaction. The whole transaction is retried a few times
// when sqlite reports the database as busy.
func (r Repo) InTx(ctx context.Context, fn func(tx wishsync.SyncTx) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.inTx(ctx, fn)
		if isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r Repo) inTx(ctx context.Context, fn func(tx wishsync.SyncTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(syncTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqliteBusy
}

func isConflict(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqliteConstraint
}

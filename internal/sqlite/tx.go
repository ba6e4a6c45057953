package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type txKey struct{}

// WithTx runs fn in a transaction, committing when it returns nil and rolling
// back otherwise. Store calls made with the context handed to fn join the
// transaction, and so do nested WithTx calls.
//
// A transaction that fails because the database is locked is retried from
// the start, so fn must not have effects outside the store.
func (r *Repo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	b := retry.WithMaxRetries(6, retry.NewFibonacci(10*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := r.runTx(ctx, fn)
		if isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *Repo) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// ext returns the transaction carried by ctx, or the database.
func (r *Repo) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return r.db
}

func sqliteCode(err error) (int, bool) {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return 0, false
	}
	return serr.Code() & 0xff, true
}

func isBusy(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED)
}

// isSearchError reports the generic error the full-text index raises for
// search strings without a usable term.
func isSearchError(err error) bool {
	code, ok := sqliteCode(err)
	return ok && code == sqlite3.SQLITE_ERROR
}

package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/brief/internal/brief"
)

const day = 24 * 60 * 60 * 1000

// PurgeEntries permanently removes deleted entries that fell out of their
// feed's window and feeds hidden for longer than the retention period. With
// expire set, the retention rules trash old and excess entries first.
func (r *Repo) PurgeEntries(ctx context.Context, expire bool) error {
	now := r.now()
	err := r.WithTx(ctx, func(ctx context.Context) error {
		q := r.ext(ctx)
		if expire {
			if err := r.expireByAgeGlobal(ctx, q, now); err != nil {
				return err
			}
			if err := expireByAgePerFeed(ctx, q, now); err != nil {
				return err
			}
			if err := r.expireByNumber(ctx, q); err != nil {
				return err
			}
		}
		if err := r.purge(ctx, q, now); err != nil {
			return err
		}

		return setLastPurgeTime(ctx, q, now)
	})
	if err != nil {
		slog.ErrorContext(ctx, "error purging entries", "error", err)
		return err
	}
	r.InvalidateFeedCache()

	return nil
}

// CompactDatabase applies the per-feed retention rules regardless of the
// global switches, purges, and reclaims the freed space.
func (r *Repo) CompactDatabase(ctx context.Context) error {
	now := r.now()
	err := r.WithTx(ctx, func(ctx context.Context) error {
		q := r.ext(ctx)
		if err := expireByAgePerFeed(ctx, q, now); err != nil {
			return err
		}
		if err := r.expireByNumber(ctx, q); err != nil {
			return err
		}

		return r.purge(ctx, q, now)
	})
	if err != nil {
		slog.ErrorContext(ctx, "error compacting database", "error", err)
		return err
	}
	r.InvalidateFeedCache()

	if _, err := r.db.ExecContext(ctx, `VACUUM;`); err != nil {
		return fmt.Errorf("error vacuuming: %w", err)
	}

	return nil
}

// expireByAgeGlobal trashes old entries of feeds without their own age limit.
func (r *Repo) expireByAgeGlobal(ctx context.Context, q sqlx.ExtContext, now brief.Timestamp) error {
	if !r.opts.ExpireEntries {
		return nil
	}

	edge := int64(now) - int64(r.opts.EntryExpirationAge)*day
	const query = `UPDATE entries SET deleted = ?
	WHERE id IN (
		SELECT entries.id
		FROM entries INNER JOIN feeds ON entries.feedID = feeds.feedID
		WHERE entries.deleted = ? AND feeds.entryAgeLimit = 0 AND entries.starred = 0 AND entries.date < ?
	);`
	res, err := q.ExecContext(ctx, query, brief.EntryStateTrashed, brief.EntryStateNormal, edge)
	if err != nil {
		return fmt.Errorf("error expiring entries by age: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.DebugContext(ctx, "expired entries by age", "count", n)

	return nil
}

// expireByAgePerFeed trashes entries older than their feed's own limit.
func expireByAgePerFeed(ctx context.Context, q sqlx.ExtContext, now brief.Timestamp) error {
	const query = `UPDATE entries SET deleted = ?
	WHERE id IN (
		SELECT entries.id
		FROM entries INNER JOIN feeds ON entries.feedID = feeds.feedID
		WHERE feeds.entryAgeLimit > 0 AND feeds.hidden = 0
			AND entries.deleted = ? AND entries.starred = 0
			AND entries.date < ? - feeds.entryAgeLimit * ?
	);`
	res, err := q.ExecContext(ctx, query, brief.EntryStateTrashed, brief.EntryStateNormal, now, day)
	if err != nil {
		return fmt.Errorf("error expiring entries by feed age: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.DebugContext(ctx, "expired entries by feed age", "count", n)

	return nil
}

// expireByNumber trashes the oldest entries of feeds holding more than their
// cap. A feed's own maxEntries always applies, the global cap only when
// enabled.
func (r *Repo) expireByNumber(ctx context.Context, q sqlx.ExtContext) error {
	var feeds []struct {
		FeedID     string `db:"feedID"`
		MaxEntries int    `db:"maxEntries"`
		Count      int    `db:"count"`
	}
	const counts = `SELECT feeds.feedID AS feedID, COALESCE(feeds.maxEntries, 0) AS maxEntries, COUNT(entries.id) AS count
	FROM feeds INNER JOIN entries ON entries.feedID = feeds.feedID
	WHERE COALESCE(feeds.isFolder, 0) = 0 AND feeds.hidden = 0 AND entries.deleted = ? AND entries.starred = 0
	GROUP BY feeds.feedID;`
	if err := sqlx.SelectContext(ctx, q, &feeds, counts, brief.EntryStateNormal); err != nil {
		return fmt.Errorf("error counting entries per feed: %w", err)
	}

	const expire = `UPDATE entries SET deleted = ?
	WHERE id IN (
		SELECT id FROM entries
		WHERE deleted = ? AND starred = 0 AND feedID = ?
		ORDER BY date ASC, id ASC
		LIMIT ?
	);`
	for _, f := range feeds {
		limit := f.MaxEntries
		if limit <= 0 {
			if !r.opts.LimitStoredEntries {
				continue
			}
			limit = r.opts.MaxStoredEntries
		}
		excess := f.Count - limit
		if excess <= 0 {
			continue
		}
		if _, err := q.ExecContext(ctx, expire, brief.EntryStateTrashed, brief.EntryStateNormal, f.FeedID, excess); err != nil {
			return fmt.Errorf("error expiring excess entries: %w", err)
		}
		slog.DebugContext(ctx, "expired excess entries", "feed_id", f.FeedID, "count", excess)
	}

	return nil
}

// purge removes rows for good: deleted entries older than what their feed
// still serves, and feeds hidden for longer than the retention period along
// with their entries.
func (r *Repo) purge(ctx context.Context, q sqlx.ExtContext, now brief.Timestamp) error {
	retention := r.opts.DeletedFeedsRetention.Milliseconds()

	const entries = `DELETE FROM entries
	WHERE id IN (
		SELECT entries.id
		FROM entries INNER JOIN feeds ON entries.feedID = feeds.feedID
		WHERE (entries.deleted = ? AND feeds.oldestEntryDate > entries.date)
			OR (feeds.hidden != 0 AND ? - feeds.hidden > ?)
	);`
	if _, err := q.ExecContext(ctx, entries, brief.EntryStateDeleted, now, retention); err != nil {
		return fmt.Errorf("error purging entries: %w", err)
	}

	const orphans = `DELETE FROM entries WHERE feedID NOT IN (SELECT feedID FROM feeds WHERE feedID IS NOT NULL);`
	if _, err := q.ExecContext(ctx, orphans); err != nil {
		return fmt.Errorf("error purging orphaned entries: %w", err)
	}

	const feeds = `DELETE FROM feeds WHERE hidden != 0 AND ? - hidden > ?;`
	res, err := q.ExecContext(ctx, feeds, now, retention)
	if err != nil {
		return fmt.Errorf("error purging feeds: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.InfoContext(ctx, "purged", "feeds", n)

	return nil
}

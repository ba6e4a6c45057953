package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/brief/internal/brief"
)

const (
	prefHomeFolder    = "homeFolder"
	prefLastPurgeTime = "lastPurgeTime"
)

// NoHomeFolder is the home folder id when none is configured.
const NoHomeFolder int64 = -1

func getPref(ctx context.Context, q sqlx.QueryerContext, key string) (string, bool, error) {
	const query = `SELECT value FROM prefs WHERE key = ?;`
	var v string
	err := sqlx.GetContext(ctx, q, &v, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error reading pref %s: %w", key, err)
	}

	return v, true, nil
}

func setPref(ctx context.Context, e sqlx.ExecerContext, key, value string) error {
	const query = `INSERT INTO prefs (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value;`
	if _, err := e.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("error writing pref %s: %w", key, err)
	}

	return nil
}

// HomeFolder returns the id of the hierarchy folder the feed list mirrors,
// NoHomeFolder if unset.
func (r *Repo) HomeFolder(ctx context.Context) (int64, error) {
	v, ok, err := getPref(ctx, r.ext(ctx), prefHomeFolder)
	if err != nil || !ok {
		return NoHomeFolder, err
	}

	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return NoHomeFolder, fmt.Errorf("error parsing home folder %q: %w", v, err)
	}

	return id, nil
}

// SetHomeFolder stores the home folder id.
func (r *Repo) SetHomeFolder(ctx context.Context, id int64) error {
	return setPref(ctx, r.ext(ctx), prefHomeFolder, strconv.FormatInt(id, 10))
}

// ClearHomeFolder forgets the home folder.
func (r *Repo) ClearHomeFolder(ctx context.Context) error {
	const query = `DELETE FROM prefs WHERE key = ?;`
	if _, err := r.ext(ctx).ExecContext(ctx, query, prefHomeFolder); err != nil {
		return fmt.Errorf("error clearing home folder: %w", err)
	}

	return nil
}

// LastPurgeTime is when entries were last purged, the zero time if never.
func (r *Repo) LastPurgeTime(ctx context.Context) (time.Time, error) {
	v, ok, err := getPref(ctx, r.ext(ctx), prefLastPurgeTime)
	if err != nil || !ok {
		return time.Time{}, err
	}

	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing last purge time %q: %w", v, err)
	}

	return brief.Timestamp(ms).Time(), nil
}

func setLastPurgeTime(ctx context.Context, e sqlx.ExecerContext, at brief.Timestamp) error {
	return setPref(ctx, e, prefLastPurgeTime, strconv.FormatInt(int64(at), 10))
}

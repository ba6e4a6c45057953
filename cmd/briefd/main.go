// Briefd is the storage and query engine of the feed reader.
//
// It keeps the subscribed feeds and their entries, mirrors the bookmark
// folder the feeds are organized in, expires old entries and serves all of it
// over HTTP to the fetcher and the reader.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"

	"github.com/jdholdren/brief/internal/bookmarks"
	"github.com/jdholdren/brief/internal/brief"
	"github.com/jdholdren/brief/internal/database"
	"github.com/jdholdren/brief/internal/expiry"
	"github.com/jdholdren/brief/internal/logger"
	"github.com/jdholdren/brief/internal/notify"
	"github.com/jdholdren/brief/internal/reconcile"
	"github.com/jdholdren/brief/internal/server"
	"github.com/jdholdren/brief/internal/sqlite"
)

type config struct {
	Database string `env:"DATABASE, required"`

	Port       int    `env:"PORT, default=4444"`
	CorsOrigin string `env:"CORS_ORIGIN"`

	// Which format to use for logging: either text or json
	LoggerFormat string     `env:"LOGGER_FORMAT, default=text"`
	LogLevel     slog.Level `env:"LOG_LEVEL, default=info"`

	// Subscriptions to seed the bookmark hierarchy with
	BookmarksOPML string `env:"BOOKMARKS_OPML"`
	HomeFolder    int64  `env:"HOME_FOLDER"`

	ExpireEntries         bool          `env:"EXPIRE_ENTRIES, default=false"`
	EntryExpirationAge    int           `env:"ENTRY_EXPIRATION_AGE, default=60"`
	LimitStoredEntries    bool          `env:"LIMIT_STORED_ENTRIES, default=false"`
	MaxStoredEntries      int           `env:"MAX_STORED_ENTRIES, default=100"`
	PurgeInterval         time.Duration `env:"PURGE_INTERVAL, default=24h"`
	DeletedFeedsRetention time.Duration `env:"DELETED_FEEDS_RETENTION, default=168h"`
	StarredTag            string        `env:"STARRED_TAG, default=Starred entries"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	l, err := logger.New(cfg.LoggerFormat, os.Stderr, cfg.LogLevel)
	if err != nil {
		log.Fatalf("error creating logger: %s", err)
	}
	slog.SetDefault(l)

	// Start the application
	if err := start(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func start(ctx context.Context, cfg config) error {
	dbx, status, err := database.Open(ctx, cfg.Database, time.Now())
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer dbx.Close()
	slog.Info("opened database",
		"path", cfg.Database,
		"version", status.Version,
		"previous_version", status.PreviousVersion,
		"created", status.Created,
		"recovered", status.Recovered,
		"backup", status.BackupPath,
	)

	var (
		bus  = notify.NewBus()
		tree = bookmarks.NewTree()
	)
	seeded, err := seedBookmarks(tree, cfg.BookmarksOPML)
	if err != nil {
		return err
	}

	repo := sqlite.New(dbx, bus, tree, sqlite.Options{
		ExpireEntries:         cfg.ExpireEntries,
		EntryExpirationAge:    cfg.EntryExpirationAge,
		LimitStoredEntries:    cfg.LimitStoredEntries,
		MaxStoredEntries:      cfg.MaxStoredEntries,
		DeletedFeedsRetention: cfg.DeletedFeedsRetention,
		StarredTag:            cfg.StarredTag,
		Now:                   time.Now,
	})
	reconciler := reconcile.New(repo, tree, bus, reconcile.Options{
		OnNewFeeds: func(ctx context.Context, feeds []brief.Feed) {
			for _, f := range feeds {
				slog.InfoContext(ctx, "subscribed to feed", "feed_id", f.FeedID, "feed_url", f.FeedURL)
			}
		},
	})
	tree.Subscribe(func(ev brief.BookmarkEvent) {
		if err := reconciler.HandleEvent(ctx, ev); err != nil {
			slog.ErrorContext(ctx, "error handling bookmark change", "kind", ev.Kind, "item_id", ev.ItemID, "error", err)
		}
	})

	if err := pickHomeFolder(ctx, repo, cfg.HomeFolder, seeded); err != nil {
		return err
	}

	var (
		purger = expiry.New(repo, cfg.PurgeInterval, time.Now)
		srv    = server.NewServer(server.Config{Port: cfg.Port, CorsOrigin: cfg.CorsOrigin}, repo, reconciler, bus)
		g      run.Group
	)
	{
		// Stops everything on a signal
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			<-ctx.Done()
			return nil
		}, func(error) {
			cancel()
		})
	}
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return reconciler.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return purger.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(func() error {
			slog.Info("listening", "port", cfg.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("error listening: %w", err)
			}
			return nil
		}, func(error) {
			downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(downCtx); err != nil {
				slog.Error("error shutting down server", "error", err)
			}
		})
	}

	return g.Run()
}

// seedBookmarks loads the OPML file, if any, into a new top level folder and
// returns that folder's id.
func seedBookmarks(tree *bookmarks.Tree, path string) (int64, error) {
	if path == "" {
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("error opening bookmarks: %w", err)
	}
	defer f.Close()

	folder, err := tree.AddFolder(bookmarks.RootID, "Feeds")
	if err != nil {
		return 0, err
	}
	n, err := tree.LoadOPML(f, folder)
	if err != nil {
		return 0, err
	}
	slog.Info("loaded bookmarks", "path", path, "feeds", n)

	return folder, nil
}

// pickHomeFolder stores the configured home folder. Without one, a store that
// has none yet mirrors the seeded folder.
func pickHomeFolder(ctx context.Context, repo *sqlite.Repo, configured, seeded int64) error {
	if configured != 0 {
		return repo.SetHomeFolder(ctx, configured)
	}
	if seeded == 0 {
		return nil
	}

	home, err := repo.HomeFolder(ctx)
	if err != nil {
		return err
	}
	if home != sqlite.NoHomeFolder {
		return nil
	}

	return repo.SetHomeFolder(ctx, seeded)
}

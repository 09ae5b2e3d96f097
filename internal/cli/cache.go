package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/couchcryptid/flood-dataset/internal/cache"
)

// cacheSetup loads minimal configuration needed for cache operations. Cache
// commands skip the full build validation; they only need backend settings.
func cacheSetup(_ *cobra.Command, _ []string) error {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	backend := viper.GetString("cache-backend")
	switch backend {
	case cache.BackendSQLite, cache.BackendPostgres, cache.BackendFS:
	default:
		return fmt.Errorf("invalid cache-backend %q: must be sqlite, postgres, or fs", backend)
	}
	dir := viper.GetString("cache-dir")
	if dir == "" {
		return errors.New("cache-dir is required")
	}
	connect := viper.GetString("cache-db-connect")
	if backend == cache.BackendPostgres && connect == "" {
		return errors.New("cache-db-connect is required when cache-backend is postgres")
	}

	cfg.CacheBackend = backend
	cfg.CacheDir = dir
	cfg.CacheDBConnect = connect
	return nil
}

// cacheCmd focused on fetch-cache management.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the immutable fetch cache",
	Long: `Manage the cache of fetched upstream data.

Floodset caches every upstream response (IEM alerts, USGS stations and gage
heights, NOAA precipitation, elevation) keyed by what was fetched. Entries
are immutable history: a rerun over the same window reads only from the
cache and touches no upstream API.

Supported backends: SQLite (default), PostgreSQL, or a plain directory (fs)

Subcommands:
  status - Show entry count and age bounds
  clear  - Remove all cached data

Examples:
  # Check cache status
  floodset cache status

  # Clear the cache before a full refetch
  floodset cache clear`,
}

// cacheStatusCmd shows cache status.
var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display cache entry count and age bounds",
	Long: `Show what the fetch cache currently holds.

Displays:
- Backend type
- Total number of cached entries
- Oldest and newest entry timestamps

Examples:
  # Check cache status
  floodset cache status

  # Check a postgres-backed cache
  FLOODSET_CACHE_BACKEND=postgres FLOODSET_CACHE_DB_CONNECT="..." floodset cache status`,
	PreRunE: cacheSetup,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		status, err := store.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Backend: %s\n", status.Backend)
		fmt.Printf("Entries: %d\n", status.Entries)
		if status.Entries > 0 {
			fmt.Printf("Oldest:  %s\n", status.Oldest.Format(time.RFC3339))
			fmt.Printf("Newest:  %s\n", status.Newest.Format(time.RFC3339))
		}
		return nil
	},
}

// cacheClearCmd clears the cache.
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached upstream data",
	Long: `Delete every entry from the configured cache backend.

Builds never evict; this is the only way cached data leaves the store. The
next build refetches everything, so expect it to be slow and to hit upstream
rate limits.

Use this when:
- An upstream archive corrected its history (consistency violations on build)
- The cache may be corrupted
- Testing fetch behavior without the cache

Examples:
  # Clear the default SQLite cache
  floodset cache clear`,
	PreRunE: cacheSetup,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("Cache cleared successfully.")
		return nil
	},
}

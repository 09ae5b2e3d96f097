// Package cache persists fetched upstream data keyed by what was fetched.
// Entries are immutable history: the store never evicts, and overwriting a
// key with different bytes is a consistency violation that aborts the run.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Supported store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendFS       = "fs"
)

// FetchKey identifies one immutable unit of upstream data: a source kind
// plus the canonical parameters of the fetch.
type FetchKey string

func newKey(kind string, parts ...string) FetchKey {
	input := kind + "|" + strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(input))
	return FetchKey(kind + "-" + hex.EncodeToString(sum[:8]))
}

// AlertsKey identifies the flood alerts of one region and month span.
func AlertsKey(regionKey, spanKey string) FetchKey {
	return newKey("alerts", regionKey, spanKey)
}

// StationsKey identifies the station inventory of one state.
func StationsKey(fips string) FetchKey {
	return newKey("stations", fips)
}

// GageHeightKey identifies one daily gage-height observation.
func GageHeightKey(stationNumber string, day time.Time) FetchKey {
	return newKey("gage", stationNumber, day.UTC().Format("2006-01-02"))
}

// PrecipKey identifies one 24-hour precipitation total at a point.
// Coordinates canonicalize to four decimal places, roughly ten meters.
func PrecipKey(lat, lon float64, day time.Time) FetchKey {
	return newKey("precip", fmt.Sprintf("%.4f", lat), fmt.Sprintf("%.4f", lon), day.UTC().Format("2006-01-02"))
}

// ElevationKey identifies the elevation at a point.
func ElevationKey(lat, lon float64) FetchKey {
	return newKey("elevation", fmt.Sprintf("%.4f", lat), fmt.Sprintf("%.4f", lon))
}

// Status summarizes a store for operator tooling.
type Status struct {
	Backend string
	Entries int64
	Oldest  time.Time
	Newest  time.Time
}

// Store is a persistent fetch cache safe for concurrent use.
type Store interface {
	// Get returns the payload for key, reporting whether it exists.
	Get(ctx context.Context, key FetchKey) ([]byte, bool, error)

	// Put stores a payload. Writing a byte-identical payload to an existing
	// key is a no-op; different bytes for the same key return a
	// *ConsistencyError.
	Put(ctx context.Context, key FetchKey, payload []byte) error

	// Status reports entry count and age bounds.
	Status(ctx context.Context) (Status, error)

	// Clear removes every entry. Operator tooling only; builds never evict.
	Clear(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

// ConsistencyError reports an attempt to overwrite an immutable cache entry
// with different bytes. Hitting it means the upstream rewrote history, and
// the run must stop rather than silently pick a version.
type ConsistencyError struct {
	Key      FetchKey
	Stored   string // checksum of the existing payload
	Incoming string // checksum of the rejected payload
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("cache consistency violation for %s: stored checksum %s, incoming %s", e.Key, e.Stored, e.Incoming)
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

// Through implements the read-through pattern shared by every source
// adapter: return the cached value when present, otherwise fetch, store,
// and return. Values cross the cache as canonical JSON. The second return
// reports whether the value came from the cache.
func Through[T any](ctx context.Context, store Store, key FetchKey, fetch func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	payload, ok, err := store.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if ok {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return zero, false, fmt.Errorf("decode cached payload %s: %w", key, err)
		}
		return v, true, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		return zero, false, err
	}
	payload, err = json.Marshal(v)
	if err != nil {
		return zero, false, fmt.Errorf("encode payload %s: %w", key, err)
	}
	if err := store.Put(ctx, key, payload); err != nil {
		return zero, false, err
	}
	return v, false, nil
}

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLStore persists cache entries in SQLite (default) or PostgreSQL behind
// a single table. SQLite runs with one connection because the driver does
// not tolerate concurrent writers.
type SQLStore struct {
	db      *sql.DB
	backend string
}

// NewSQLStore opens the database and creates the cache table if needed.
// For SQLite the DSN is a file path; for PostgreSQL a connection string.
func NewSQLStore(ctx context.Context, backend, dsn string) (*SQLStore, error) {
	var driver string
	switch backend {
	case BackendSQLite:
		driver = "sqlite"
	case BackendPostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", backend)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", backend, err)
	}
	if backend == BackendSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s cache: %w", backend, err)
	}

	s := &SQLStore{db: db, backend: backend}
	if err := s.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTable(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS fetch_cache (
		cache_key  TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		checksum   TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`
	if s.backend == BackendPostgres {
		stmt = `CREATE TABLE IF NOT EXISTS fetch_cache (
			cache_key  TEXT PRIMARY KEY,
			payload    BYTEA NOT NULL,
			checksum   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create cache table: %w", err)
	}
	return nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.backend == BackendPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// timeValue renders a timestamp for the backend. SQLite stores RFC3339Nano
// strings; PostgreSQL takes time.Time directly.
func (s *SQLStore) timeValue(t time.Time) any {
	if s.backend == BackendPostgres {
		return t
	}
	return t.Format(time.RFC3339Nano)
}

func (s *SQLStore) Get(ctx context.Context, key FetchKey) ([]byte, bool, error) {
	query := fmt.Sprintf("SELECT payload FROM fetch_cache WHERE cache_key = %s", s.placeholder(1))
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, string(key)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return payload, true, nil
}

func (s *SQLStore) Put(ctx context.Context, key FetchKey, payload []byte) error {
	sum := checksum(payload)

	stmt := "INSERT OR IGNORE INTO fetch_cache (cache_key, payload, checksum, created_at) VALUES (?, ?, ?, ?)"
	if s.backend == BackendPostgres {
		stmt = "INSERT INTO fetch_cache (cache_key, payload, checksum, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (cache_key) DO NOTHING"
	}
	res, err := s.db.ExecContext(ctx, stmt, string(key), payload, sum, s.timeValue(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	if n > 0 {
		return nil
	}

	// The key already existed; the stored bytes must match ours.
	query := fmt.Sprintf("SELECT checksum FROM fetch_cache WHERE cache_key = %s", s.placeholder(1))
	var stored string
	if err := s.db.QueryRowContext(ctx, query, string(key)).Scan(&stored); err != nil {
		return fmt.Errorf("cache verify %s: %w", key, err)
	}
	if stored != sum {
		return &ConsistencyError{Key: key, Stored: stored, Incoming: sum}
	}
	return nil
}

func (s *SQLStore) Status(ctx context.Context) (Status, error) {
	st := Status{Backend: s.backend}
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM fetch_cache")

	if s.backend == BackendPostgres {
		var oldest, newest sql.NullTime
		if err := row.Scan(&st.Entries, &oldest, &newest); err != nil {
			return Status{}, fmt.Errorf("cache status: %w", err)
		}
		st.Oldest, st.Newest = oldest.Time, newest.Time
		return st, nil
	}

	var oldest, newest sql.NullString
	if err := row.Scan(&st.Entries, &oldest, &newest); err != nil {
		return Status{}, fmt.Errorf("cache status: %w", err)
	}
	if oldest.Valid {
		st.Oldest, _ = time.Parse(time.RFC3339Nano, oldest.String)
	}
	if newest.Valid {
		st.Newest, _ = time.Parse(time.RFC3339Nano, newest.String)
	}
	return st, nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM fetch_cache"); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

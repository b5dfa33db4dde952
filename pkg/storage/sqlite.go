package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sw33tLie/xtmscope/pkg/platforms"
	_ "modernc.org/sqlite"
)

// DB is a SQLite database shared by the per-family stores.
type DB struct {
	sql *sql.DB
}

// Open opens (and creates if missing) the cache database at path.
func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS entity_cache (
  family      TEXT NOT NULL,
  platform_id TEXT NOT NULL,
  timestamp   INTEGER NOT NULL DEFAULT 0,
  payload     TEXT NOT NULL,
  updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (family, platform_id)
);
`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error { return d.sql.Close() }

// Store returns the family-scoped view of the database.
func (d *DB) Store(family platforms.Family) *SQLiteStore {
	return &SQLiteStore{db: d.sql, family: string(family)}
}

// SQLiteStore keeps one row per (family, platform id) holding the JSON encoded
// EntityTypeCache.
type SQLiteStore struct {
	db     *sql.DB
	family string
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Get(ctx context.Context, platformID string) (EntityTypeCache, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM entity_cache WHERE family = ? AND platform_id = ?", s.family, platformID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return EntityTypeCache{}, false, nil
	}
	if err != nil {
		return EntityTypeCache{}, false, err
	}
	var c EntityTypeCache
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return EntityTypeCache{}, false, fmt.Errorf("decoding cache for %s: %w", platformID, err)
	}
	return c, true, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (MultiPlatformCache, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT platform_id, payload FROM entity_cache WHERE family = ?", s.family)
	if err != nil {
		return MultiPlatformCache{}, err
	}
	defer rows.Close()

	out := MultiPlatformCache{Platforms: map[string]EntityTypeCache{}}
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return MultiPlatformCache{}, err
		}
		var c EntityTypeCache
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return MultiPlatformCache{}, fmt.Errorf("decoding cache for %s: %w", id, err)
		}
		out.Platforms[id] = c
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Set(ctx context.Context, platformID string, cache EntityTypeCache) error {
	payload, err := json.Marshal(cache)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO entity_cache(family, platform_id, timestamp, payload, updated_at) VALUES(?,?,?,?,CURRENT_TIMESTAMP)
ON CONFLICT(family, platform_id) DO UPDATE SET timestamp = excluded.timestamp, payload = excluded.payload, updated_at = CURRENT_TIMESTAMP`,
		s.family, platformID, cache.Timestamp, string(payload))
	return err
}

func (s *SQLiteStore) Clear(ctx context.Context, platformID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM entity_cache WHERE family = ? AND platform_id = ?", s.family, platformID)
	return err
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM entity_cache WHERE family = ?", s.family)
	return err
}

func (s *SQLiteStore) CleanupOrphaned(ctx context.Context, validIDs []string) (removed []string, err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, "SELECT platform_id FROM entity_cache WHERE family = ?", s.family)
	if err != nil {
		return nil, err
	}
	var stored []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		stored = append(stored, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	removed = orphans(stored, validIDs)
	for _, id := range removed {
		if _, err = tx.ExecContext(ctx, "DELETE FROM entity_cache WHERE family = ? AND platform_id = ?", s.family, id); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *SQLiteStore) Stats(ctx context.Context, now time.Time, maxAge time.Duration) ([]PlatformStats, error) {
	m, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return statsFor(m, now, maxAge), nil
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/sw33tLie/xtmscope/pkg/platforms"
)

// Backend selects the store implementation.
type Backend struct {
	Kind     string // "sqlite" or "redis"
	Path     string // sqlite file
	RedisURL string // redis://host:port/db
}

// Stores holds one Store per family plus whatever must be closed on shutdown.
type Stores struct {
	ByFamily map[platforms.Family]Store
	close    func() error
}

// Family returns the store of f, or nil.
func (s *Stores) Family(f platforms.Family) Store { return s.ByFamily[f] }

func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStores opens the configured backend and returns a store per family.
func OpenStores(b Backend) (*Stores, error) {
	out := &Stores{ByFamily: map[platforms.Family]Store{}}
	switch b.Kind {
	case "", "sqlite":
		if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		db, err := Open(b.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite cache %s: %w", b.Path, err)
		}
		for _, f := range platforms.Families {
			out.ByFamily[f] = db.Store(f)
		}
		out.close = db.Close
	case "redis":
		opts, err := redis.ParseURL(b.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		for _, f := range platforms.Families {
			out.ByFamily[f] = NewRedisStore(client, f)
		}
		out.close = client.Close
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, b.Kind)
	}
	return out, nil
}

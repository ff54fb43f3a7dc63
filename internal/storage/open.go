package storage

import (
	"context"
	"fmt"

	"shelfindex/internal/config"
	"shelfindex/internal/index"
)

// Backend is the opened index plus the run history when the backend keeps
// one. Runs is nil for the memory backend.
type Backend struct {
	Store index.Store
	Runs  *RunRepo
	close func()
}

func (b Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// OpenIndex opens the configured index backend.
func OpenIndex(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.IndexBackend {
	case "memory":
		return Backend{Store: index.NewMemoryStore()}, nil
	case "postgres":
		db, err := NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Store: NewPGIndex(db), Runs: NewRunRepo(db), close: db.Close}, nil
	default:
		return Backend{}, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

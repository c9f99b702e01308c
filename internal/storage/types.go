package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Watchlists maps a watcher id to its ordered target ids.
type Watchlists map[int64][]int64

// Clone returns a deep copy.
func (w Watchlists) Clone() Watchlists {
	out := make(Watchlists, len(w))
	for k, v := range w {
		out[k] = append([]int64{}, v...)
	}
	return out
}

// Store is the persistence contract used by the watch graph.
type Store interface {
	// LoadWatchlists returns the last committed snapshot. A store that has
	// never been written returns an empty mapping and no error.
	LoadWatchlists(ctx context.Context) (Watchlists, error)
	// SaveWatchlists replaces the stored snapshot atomically.
	SaveWatchlists(ctx context.Context, w Watchlists) error
	Close() error
}

// Config selects and configures a driver.
//
// Driver values: "file" (default when empty), "sqlite", "postgres".
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

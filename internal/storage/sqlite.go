package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Reesverleur/watchmebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = FULL")
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadWatchlists(ctx context.Context) (Watchlists, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	out := Watchlists{}

	rows, err := s.db.QueryContext(ctx, `SELECT watcher_id FROM watchers`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out[id] = []int64{}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT watcher_id, target_id FROM watch_targets ORDER BY watcher_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var watcher, target int64
		if err := rows.Scan(&watcher, &target); err != nil {
			return nil, err
		}
		out[watcher] = append(out[watcher], target)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveWatchlists(ctx context.Context, w Watchlists) (err error) {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM watch_targets`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM watchers`); err != nil {
		return err
	}

	insWatcher, err := tx.PrepareContext(ctx, `INSERT INTO watchers(watcher_id) VALUES(?)`)
	if err != nil {
		return err
	}
	defer insWatcher.Close()
	insTarget, err := tx.PrepareContext(ctx,
		`INSERT INTO watch_targets(watcher_id, position, target_id) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer insTarget.Close()

	for _, id := range sortedWatchers(w) {
		if _, err = insWatcher.ExecContext(ctx, id); err != nil {
			return err
		}
		for pos, target := range w[id] {
			if _, err = insTarget.ExecContext(ctx, id, pos, target); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func sortedWatchers(w Watchlists) []int64 {
	ids := make([]int64, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

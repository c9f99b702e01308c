package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Reesverleur/watchmebot/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS watchers (
  watcher_id BIGINT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS watch_targets (
  watcher_id BIGINT  NOT NULL REFERENCES watchers(watcher_id) ON DELETE CASCADE,
  position   INTEGER NOT NULL,
  target_id  BIGINT  NOT NULL,
  PRIMARY KEY (watcher_id, position)
);
CREATE INDEX IF NOT EXISTS idx_watch_targets_target ON watch_targets(target_id);
`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) LoadWatchlists(ctx context.Context) (Watchlists, error) {
	if s == nil || s.pool == nil {
		return nil, ErrClosed
	}
	out := Watchlists{}

	rows, err := s.pool.Query(ctx, `SELECT watcher_id FROM watchers`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		out[id] = []int64{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
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

func (s *postgresStore) SaveWatchlists(ctx context.Context, w Watchlists) error {
	if s == nil || s.pool == nil {
		return ErrClosed
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM watch_targets`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM watchers`); err != nil {
			return err
		}

		ids := sortedWatchers(w)
		watchers := make([][]any, 0, len(ids))
		var targets [][]any
		for _, id := range ids {
			watchers = append(watchers, []any{id})
			for pos, target := range w[id] {
				targets = append(targets, []any{id, int32(pos), target})
			}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"watchers"},
			[]string{"watcher_id"}, pgx.CopyFromRows(watchers)); err != nil {
			return err
		}
		if len(targets) > 0 {
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"watch_targets"},
				[]string{"watcher_id", "position", "target_id"}, pgx.CopyFromRows(targets)); err != nil {
				return err
			}
		}
		return nil
	})
}

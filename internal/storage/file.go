package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/Reesverleur/watchmebot/pkg/logx"
)

// fileStore keeps the whole graph in a single JSON document:
//
//	{"<watcher>": [<target>, ...], ...}
//
// Keys are strings because JSON object keys must be. Writes go to a temp file
// in the same directory which is fsynced and renamed over the live file.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) LoadWatchlists(ctx context.Context) (Watchlists, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Watchlists{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return Watchlists{}, nil
	}

	var raw map[string][]int64
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	out := make(Watchlists, len(raw))
	for k, targets := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s: bad watcher key %q", s.path, k)
		}
		out[id] = append([]int64{}, targets...)
	}
	return out, nil
}

func (s *fileStore) SaveWatchlists(ctx context.Context, w Watchlists) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	b, err := encodeWatchlists(w)
	if err != nil {
		return err
	}
	return writeAtomic(s.path, b)
}

// encodeWatchlists produces a stable document: watcher keys ascending,
// target order preserved, empty lists kept as [].
func encodeWatchlists(w Watchlists) ([]byte, error) {
	ids := make([]int64, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sb strings.Builder
	sb.WriteString("{")
	for i, id := range ids {
		targets := w[id]
		if targets == nil {
			targets = []int64{}
		}
		tb, err := json.Marshal(targets)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("\n  \"")
		sb.WriteString(strconv.FormatInt(id, 10))
		sb.WriteString("\": ")
		sb.Write(tb)
	}
	if len(ids) > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
	return []byte(sb.String()), nil
}

func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	// Persist the rename itself. Not every platform allows syncing a dir.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Reesverleur/watchmebot/pkg/logx"
)

func sample() Watchlists {
	return Watchlists{
		42: {7, 3, 99},
		5:  {42},
		8:  {},
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	st, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "sub", "w.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	got, err := st.LoadWatchlists(context.Background())
	if err != nil {
		t.Fatalf("LoadWatchlists: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want empty, got %v", got)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "w.json")
	st, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.SaveWatchlists(context.Background(), sample()); err != nil {
		t.Fatalf("SaveWatchlists: %v", err)
	}
	_ = st.Close()

	// Reopen to simulate a restart.
	st, err = Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.LoadWatchlists(context.Background())
	if err != nil {
		t.Fatalf("LoadWatchlists: %v", err)
	}
	if !reflect.DeepEqual(got, sample()) {
		t.Fatalf("round trip mismatch:\n got %v\nwant %v", got, sample())
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"5\": [42],\n  \"8\": [],\n  \"42\": [7,3,99]\n}\n"
	if string(b) != want {
		t.Fatalf("document:\n%s\nwant:\n%s", b, want)
	}
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "w.json")
	if err := os.WriteFile(path, []byte(`{"abc":[1]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	st, _ := Open(context.Background(), Config{Path: path}, logx.Nop())
	if _, err := st.LoadWatchlists(context.Background()); err == nil {
		t.Fatal("expected decode error for non-numeric key")
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st, _ := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "w.json")}, logx.Nop())
	_ = st.Close()
	if err := st.SaveWatchlists(context.Background(), sample()); !errors.Is(err, ErrClosed) {
		t.Fatalf("SaveWatchlists after Close = %v, want ErrClosed", err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "w.db")
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := st.SaveWatchlists(ctx, sample()); err != nil {
		t.Fatalf("SaveWatchlists: %v", err)
	}
	got, err := st.LoadWatchlists(ctx)
	if err != nil {
		t.Fatalf("LoadWatchlists: %v", err)
	}
	if !reflect.DeepEqual(got, sample()) {
		t.Fatalf("round trip mismatch:\n got %v\nwant %v", got, sample())
	}

	// A second snapshot fully replaces the first.
	next := Watchlists{5: {1, 2}}
	if err := st.SaveWatchlists(ctx, next); err != nil {
		t.Fatalf("SaveWatchlists: %v", err)
	}
	got, err = st.LoadWatchlists(ctx)
	if err != nil {
		t.Fatalf("LoadWatchlists: %v", err)
	}
	if !reflect.DeepEqual(got, next) {
		t.Fatalf("after replace got %v, want %v", got, next)
	}
}

func TestWatchlistsClone(t *testing.T) {
	t.Parallel()
	a := sample()
	b := a.Clone()
	b[42][0] = -1
	if a[42][0] != 7 {
		t.Fatal("Clone must not share target slices")
	}
}

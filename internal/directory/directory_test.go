package directory

import (
	"errors"
	"testing"
	"time"

	"github.com/Reesverleur/watchmebot/internal/transport"
)

func TestRememberAndLookup(t *testing.T) {
	t.Parallel()
	d := New(0, time.Hour)
	d.Remember(transport.User{ID: 42, Username: "Alice_B", FirstName: "Alice", LastName: "B"})

	u, ok := d.ByID(42)
	if !ok || u.Username != "Alice_B" || u.FirstName != "Alice" {
		t.Fatalf("ByID = %+v, %v", u, ok)
	}
	for _, q := range []string{"alice_b", "@ALICE_B", " Alice_B "} {
		if u, ok := d.ByUsername(q); !ok || u.ID != 42 {
			t.Fatalf("ByUsername(%q) = %+v, %v", q, u, ok)
		}
	}
	if got := d.DisplayName(42); got != "Alice B" {
		t.Fatalf("DisplayName = %q", got)
	}
}

func TestDisplayNameUnknown(t *testing.T) {
	t.Parallel()
	d := New(0, 0)
	if got := d.DisplayName(7); got != "<Unknown 7>" {
		t.Fatalf("DisplayName = %q", got)
	}
}

func TestUsernameMovedToAnotherAccount(t *testing.T) {
	t.Parallel()
	d := New(0, time.Hour)
	d.Remember(transport.User{ID: 1, Username: "shared"})
	d.Remember(transport.User{ID: 1, Username: "renamed"})
	if _, ok := d.ByUsername("shared"); ok {
		t.Fatal("stale username must not resolve")
	}
	d.Remember(transport.User{ID: 2, Username: "shared"})
	if u, ok := d.ByUsername("shared"); !ok || u.ID != 2 {
		t.Fatalf("ByUsername = %+v, %v", u, ok)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	d := New(0, time.Hour)
	d.Remember(transport.User{ID: 5, Username: "bob", FirstName: "Bob"})

	tests := []struct {
		name    string
		in      transport.Mention
		wantID  int64
		wantErr error
	}{
		{"by id", transport.Mention{ID: 5}, 5, nil},
		{"unknown id still resolves", transport.Mention{ID: 9}, 9, nil},
		{"by username", transport.Mention{Username: "@bob"}, 5, nil},
		{"unknown username", transport.Mention{Username: "@ghost"}, 0, ErrNotFound},
	}
	for _, tt := range tests {
		u, err := d.Resolve(tt.in)
		if !errors.Is(err, tt.wantErr) || u.ID != tt.wantID {
			t.Fatalf("%s: Resolve = %+v, %v", tt.name, u, err)
		}
	}
}

func TestRememberIgnoresZeroID(t *testing.T) {
	t.Parallel()
	d := New(0, time.Hour)
	d.Remember(transport.User{Username: "nobody"})
	if d.Len() != 0 {
		t.Fatalf("Len = %d", d.Len())
	}
}

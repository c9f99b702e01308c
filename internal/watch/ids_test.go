package watch

import (
	"errors"
	"testing"
)

func TestParseID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"123", 123, true},
		{" 42 ", 42, true},
		{"-100123", -100123, true},
		{"", 0, false},
		{"abc", 0, false},
		{"12x", 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseID(tt.in)
		if tt.ok {
			if err != nil || got != tt.want {
				t.Fatalf("ParseID(%q) = %d, %v", tt.in, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrMalformedID) {
			t.Fatalf("ParseID(%q) err = %v, want ErrMalformedID", tt.in, err)
		}
	}
}

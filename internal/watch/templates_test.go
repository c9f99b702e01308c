package watch

import (
	"strings"
	"testing"
)

func TestValidateTemplates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		list []string
		ok   bool
	}{
		{"defaults", DefaultTemplates, true},
		{"empty", nil, false},
		{"missing location", []string{"{subject} is here"}, false},
		{"double subject", []string{"{subject} {subject} in {location}"}, false},
		{"ok", []string{"{location} now has {subject}"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := ValidateTemplates(tt.list); (err == nil) != tt.ok {
				t.Fatalf("ValidateTemplates = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestRenderEscapesValues(t *testing.T) {
	t.Parallel()
	tpl, err := NewTemplates([]string{"{subject} joined {location}"})
	if err != nil {
		t.Fatalf("NewTemplates: %v", err)
	}
	got := tpl.Render("<Bob & Co>", "lobby")
	want := "<b>&lt;Bob &amp; Co&gt;</b> joined <b>lobby</b>"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestRenderUsesEveryTemplate(t *testing.T) {
	t.Parallel()
	tpl, _ := NewTemplates(nil)
	seen := map[string]bool{}
	for i := 0; i < 2000 && len(seen) < tpl.Len(); i++ {
		seen[tpl.Render("S", "L")] = true
	}
	if len(seen) != tpl.Len() {
		t.Fatalf("saw %d distinct renders, want %d", len(seen), tpl.Len())
	}
	for s := range seen {
		if !strings.Contains(s, "<b>S</b>") || !strings.Contains(s, "<b>L</b>") {
			t.Fatalf("slot not filled: %q", s)
		}
	}
}

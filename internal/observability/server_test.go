package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Reesverleur/watchmebot/pkg/logx"
)

func get(t *testing.T, h http.Handler, target, auth string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "watchme_test_total", Help: "test"}).Add(3)
	s := New(reg, nil, logx.Nop())

	h := s.Handler(Config{})
	if code, body := get(t, h, "/healthz", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("/healthz = %d %q", code, body)
	}
	if code, body := get(t, h, "/metrics", ""); code != http.StatusOK || !strings.Contains(body, "watchme_test_total 3") {
		t.Fatalf("/metrics = %d %q", code, body)
	}
	if code, _ := get(t, h, "/debug/pprof/", ""); code != http.StatusNotFound {
		t.Fatalf("pprof disabled: got %d, want 404", code)
	}

	h = s.Handler(Config{Pprof: true})
	if code, _ := get(t, h, "/debug/pprof/", ""); code != http.StatusOK {
		t.Fatalf("pprof enabled: got %d", code)
	}
}

func TestHandlerHealthFailure(t *testing.T) {
	t.Parallel()
	s := New(prometheus.NewRegistry(), func() error { return errors.New("storage down") }, logx.Nop())
	code, body := get(t, s.Handler(Config{}), "/healthz", "")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "storage down") {
		t.Fatalf("/healthz = %d %q", code, body)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	s := New(prometheus.NewRegistry(), nil, logx.Nop())
	h := s.Handler(Config{Token: "s3cret"})

	tests := []struct {
		name   string
		target string
		auth   string
		want   int
	}{
		{name: "missing", target: "/healthz", want: http.StatusUnauthorized},
		{name: "wrong", target: "/healthz", auth: "Bearer nope", want: http.StatusUnauthorized},
		{name: "header", target: "/healthz", auth: "Bearer s3cret", want: http.StatusOK},
		{name: "query", target: "/healthz?token=s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		if code, _ := get(t, h, tt.target, tt.auth); code != tt.want {
			t.Fatalf("%s: got %d, want %d", tt.name, code, tt.want)
		}
	}
}

func TestReconfigureLifecycle(t *testing.T) {
	s := New(prometheus.NewRegistry(), nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Cleanup(func() { s.Stop(context.Background()) })

	if err := s.Reconfigure(ctx, Config{Enabled: true, Addr: "0.0.0.0:0"}); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("insecure bind: err = %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("refused server must not be running")
	}

	if err := s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("expected a bound address")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("/healthz = %d %q", resp.StatusCode, body)
	}

	if err := s.Reconfigure(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("expected server to stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"10.0.0.5:80":    false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

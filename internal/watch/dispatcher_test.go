package watch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Reesverleur/watchmebot/internal/transport"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

func newDispatcher(t *testing.T, s Sender, cfg DispatcherConfig) *Dispatcher {
	t.Helper()
	tpl, err := NewTemplates([]string{"{subject} appeared in {location}"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	d, err := NewDispatcher(s, tpl, cfg, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestDispatchClassifiesOutcome(t *testing.T) {
	t.Parallel()
	s := &fakeSender{errs: map[int64]error{2: forbidden(), 3: errBoom}}
	d := newDispatcher(t, s, DispatcherConfig{})
	ctx := context.Background()

	tests := []struct {
		watcher int64
		want    Outcome
	}{
		{1, Sent},
		{2, Suppressed},
		{3, Failed},
	}
	for _, tt := range tests {
		out, err := d.Dispatch(ctx, Notification{Watcher: tt.watcher, SubjectName: "Ann", LocationName: "lobby"})
		if out != tt.want {
			t.Fatalf("watcher %d: outcome = %v (err %v), want %v", tt.watcher, out, err, tt.want)
		}
		if (err == nil) != (tt.want == Sent) {
			t.Fatalf("watcher %d: err = %v", tt.watcher, err)
		}
	}
	msgs := s.messagesTo(1)
	if len(msgs) != 1 || msgs[0] != "<b>Ann</b> appeared in <b>lobby</b>" {
		t.Fatalf("messages = %q", msgs)
	}
}

func TestDispatchBreakerOpensOnFailures(t *testing.T) {
	t.Parallel()
	s := &fakeSender{errs: map[int64]error{1: errBoom}}
	d := newDispatcher(t, s, DispatcherConfig{BreakerFailures: 2, BreakerCooldown: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if out, _ := d.Dispatch(ctx, Notification{Watcher: 1}); out != Failed {
			t.Fatalf("attempt %d outcome = %v", i, out)
		}
	}
	out, err := d.Dispatch(ctx, Notification{Watcher: 5})
	if out != Failed || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("open breaker: outcome = %v, err = %v", out, err)
	}
	if len(s.messagesTo(5)) != 0 {
		t.Fatal("open breaker must not reach the sender")
	}
}

func TestDispatchForbiddenDoesNotTripBreaker(t *testing.T) {
	t.Parallel()
	s := &fakeSender{errs: map[int64]error{1: forbidden()}}
	d := newDispatcher(t, s, DispatcherConfig{BreakerFailures: 2, BreakerCooldown: time.Hour})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if out, _ := d.Dispatch(ctx, Notification{Watcher: 1}); out != Suppressed {
			t.Fatalf("attempt %d outcome = %v", i, out)
		}
	}
	if out, err := d.Dispatch(ctx, Notification{Watcher: 2}); out != Sent {
		t.Fatalf("outcome = %v, err = %v", out, err)
	}
}

type slowSender struct{}

func (slowSender) SendDirect(ctx context.Context, _ int64, _ string, _ *transport.SendOptions) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatchTimeout(t *testing.T) {
	t.Parallel()
	d := newDispatcher(t, slowSender{}, DispatcherConfig{Timeout: 20 * time.Millisecond})
	start := time.Now()
	out, err := d.Dispatch(context.Background(), Notification{Watcher: 1})
	if out != Failed || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("outcome = %v, err = %v", out, err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not applied")
	}
}

func TestSetTemplatesSwapsSet(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	d := newDispatcher(t, s, DispatcherConfig{})
	next, _ := NewTemplates([]string{"NEW {subject} @ {location}"})
	d.SetTemplates(next)
	_, _ = d.Dispatch(context.Background(), Notification{Watcher: 1, SubjectName: "a", LocationName: "b"})
	if msgs := s.messagesTo(1); len(msgs) != 1 || !strings.HasPrefix(msgs[0], "NEW ") {
		t.Fatalf("messages = %q", msgs)
	}
}

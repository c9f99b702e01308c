package watch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Reesverleur/watchmebot/internal/transport"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

// Sender delivers a private message. A recipient that cannot be reached
// (blocked the bot, never started it, deactivated) must be reported as an
// error wrapping transport.ErrForbidden.
type Sender interface {
	SendDirect(ctx context.Context, userID int64, text string, opt *transport.SendOptions) error
}

// Notification is one message to one watcher about one appearance.
type Notification struct {
	Watcher      WatcherID
	SubjectID    TargetID
	SubjectName  string
	LocationName string
}

type DispatcherConfig struct {
	// Timeout bounds a single send including the limiter wait. Default 10s.
	Timeout time.Duration
	// RatePerSec caps outgoing notifications across all watchers. Default 25.
	RatePerSec int
	// BreakerFailures consecutive failures open the breaker. Default 5.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open. Default 30s.
	BreakerCooldown time.Duration
}

func (c *DispatcherConfig) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// Dispatcher formats and sends notifications. It never retries.
type Dispatcher struct {
	sender    Sender
	log       logx.Logger
	metrics   *Metrics
	templates atomic.Pointer[Templates]
	limiter   *rate.Limiter
	timeout   atomic.Int64
	cb        *gobreaker.CircuitBreaker
}

func NewDispatcher(sender Sender, tpl *Templates, cfg DispatcherConfig, log logx.Logger, m *Metrics) (*Dispatcher, error) {
	if sender == nil {
		return nil, errors.New("dispatcher: nil sender")
	}
	if tpl == nil {
		var err error
		if tpl, err = NewTemplates(nil); err != nil {
			return nil, err
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.setDefaults()

	d := &Dispatcher{
		sender:  sender,
		log:     log,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	d.templates.Store(tpl)
	d.timeout.Store(int64(cfg.Timeout))

	failures := cfg.BreakerFailures
	d.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dispatch",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("dispatch breaker state changed", logx.String("from", from.String()), logx.String("to", to.String()))
		},
		// An unreachable recipient is a healthy platform answering no.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, transport.ErrForbidden)
		},
	})
	return d, nil
}

// SetTemplates swaps the template set (config hot reload).
func (d *Dispatcher) SetTemplates(t *Templates) {
	if t != nil {
		d.templates.Store(t)
	}
}

// SetLimits applies new rate and timeout values (config hot reload).
func (d *Dispatcher) SetLimits(ratePerSec int, timeout time.Duration) {
	if ratePerSec > 0 {
		d.limiter.SetLimit(rate.Limit(ratePerSec))
		d.limiter.SetBurst(ratePerSec)
	}
	if timeout > 0 {
		d.timeout.Store(int64(timeout))
	}
}

// Dispatch sends n and classifies the result. The returned error carries the
// cause for Suppressed and Failed; callers log it and move on.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (Outcome, error) {
	started := time.Now()
	defer func() { d.metrics.observeDispatch(time.Since(started)) }()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.timeout.Load()))
	defer cancel()

	text := d.templates.Load().Render(n.SubjectName, n.LocationName)

	if err := d.limiter.Wait(ctx); err != nil {
		return Failed, fmt.Errorf("rate limit wait: %w", err)
	}
	_, err := d.cb.Execute(func() (any, error) {
		return nil, d.sender.SendDirect(ctx, n.Watcher, text, &transport.SendOptions{ParseMode: "HTML"})
	})
	switch {
	case err == nil:
		return Sent, nil
	case errors.Is(err, transport.ErrForbidden):
		return Suppressed, err
	default:
		return Failed, err
	}
}

package app

import (
	"context"
	"html"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	kit "github.com/Reesverleur/watchmebot/internal/transport"
	"github.com/Reesverleur/watchmebot/internal/watch"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

var reportParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// reporter logs the watch stats on a cron schedule and, when a log chat is
// configured, posts them there.
type reporter struct {
	log    logx.Logger
	build  func() watch.Report
	sender logx.ChatSender
	chat   func() int64

	mu   sync.Mutex
	c    *cron.Cron
	spec string
}

func newReporter(log logx.Logger, build func() watch.Report, sender logx.ChatSender, chat func() int64) *reporter {
	return &reporter{log: log, build: build, sender: sender, chat: chat}
}

// Apply (re)schedules the report. An empty spec stops it.
func (r *reporter) Apply(spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil && spec == r.spec {
		return nil
	}
	r.stopLocked()
	if spec == "" {
		r.spec = ""
		return nil
	}

	c := cron.New(cron.WithParser(reportParser), cron.WithLocation(time.Local))
	if _, err := c.AddFunc(spec, r.run); err != nil {
		return err
	}
	c.Start()
	r.c, r.spec = c, spec
	r.log.Info("stats report scheduled", logx.String("schedule", spec))
	return nil
}

func (r *reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *reporter) stopLocked() {
	if r.c != nil {
		r.c.Stop()
		r.c = nil
	}
}

func (r *reporter) run() {
	rep := r.build()
	r.log.Info("watch stats",
		logx.Int("watchers", rep.Watchers),
		logx.Int("edges", rep.Edges),
		logx.Int("cooldowns", rep.Cooldowns),
		logx.Uint64("sent", rep.Stats.Sent),
		logx.Uint64("suppressed", rep.Stats.Suppressed),
		logx.Uint64("failed", rep.Stats.Failed),
		logx.Uint64("dropped", rep.Stats.Dropped),
		logx.Uint64("throttled", rep.Stats.Throttled),
	)
	chat := r.chat()
	if chat == 0 || r.sender == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	text := "<pre>" + html.EscapeString(rep.String()) + "</pre>"
	if _, err := r.sender.SendText(ctx, kit.ChatTarget{ChatID: chat}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		r.log.Debug("stats report send failed", logx.Err(err))
	}
}

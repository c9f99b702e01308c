package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Reesverleur/watchmebot/internal/config"
	"github.com/Reesverleur/watchmebot/internal/directory"
	"github.com/Reesverleur/watchmebot/internal/storage"
	kit "github.com/Reesverleur/watchmebot/internal/transport"
	"github.com/Reesverleur/watchmebot/internal/watch"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

type direct struct {
	to   int64
	text string
}

// fakeAdapter stands in for Telegram: tests push updates through out and
// read what the app sent back.
type fakeAdapter struct {
	mu      sync.Mutex
	out     chan<- kit.Update
	started chan struct{}
	replies chan string
	directs chan direct
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		started: make(chan struct{}),
		replies: make(chan string, 16),
		directs: make(chan direct, 16),
	}
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	a.out = out
	a.mu.Unlock()
	close(a.started)
	return nil
}

func (a *fakeAdapter) Stop(ctx context.Context) error { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	select {
	case a.replies <- text:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) SendDirect(ctx context.Context, userID int64, text string, opt *kit.SendOptions) error {
	a.directs <- direct{to: userID, text: text}
	return nil
}

func (a *fakeAdapter) push(t *testing.T, up kit.Update) {
	t.Helper()
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	select {
	case out <- up:
	case <-time.After(time.Second):
		t.Fatal("update not accepted")
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestApp(t *testing.T, ad *fakeAdapter) (*App, string) {
	t.Helper()
	t.Setenv(config.EnvToken, "")
	tmp := t.TempDir()
	store := filepath.Join(tmp, "watchlists.json")
	cfgPath := writeConfig(t, tmp, `{
  "telegram": {"token": "x", "owner_user_ids": [1]},
  "logging": {"level": "error"},
  "storage": {"driver": "file", "path": "`+filepath.ToSlash(store)+`"},
  "watch": {"templates": ["{subject} is in {location}"], "report_schedule": "off"}
}`)

	ctx := context.Background()
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, err := build(ctx, cfgm, cfg, ad, directory.New(0, 0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a, store
}

func TestAppEndToEnd(t *testing.T) {
	ad := newFakeAdapter()
	a, storePath := newTestApp(t, ad)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ad.started

	bob := kit.User{ID: 42, FirstName: "Bob"}
	a.dir.Remember(bob)
	ad.push(t, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: 7, From: kit.User{ID: 7}, Text: "/watchme add", ReplyTo: &bob,
	}})
	select {
	case got := <-ad.replies:
		if got != "Added <b>Bob</b> to your watchlist." {
			t.Fatalf("reply = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply to /watchme add")
	}

	appear := kit.Update{Kind: kit.UpdatePresence, Presence: &kit.Presence{
		User: bob, Current: &kit.Space{ID: -100, Title: "Lobby"}, At: time.Now(),
	}}
	ad.push(t, appear)
	select {
	case d := <-ad.directs:
		if d.to != 7 || d.text != "<b>Bob</b> is in <b>Lobby</b>" {
			t.Fatalf("direct = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification sent")
	}

	// Within the cooldown window a second appearance is throttled.
	ad.push(t, appear)
	select {
	case d := <-ad.directs:
		t.Fatalf("unexpected second notification %+v", d)
	case <-time.After(200 * time.Millisecond):
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st, err := storage.Open(context.Background(), storage.Config{Path: storePath}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	w, err := st.LoadWatchlists(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := w[7]; len(got) != 1 || got[0] != 42 {
		t.Fatalf("persisted watchlists = %v", w)
	}
	if rep := a.report(); rep.Watchers != 1 || rep.Edges != 1 || rep.Stats.Sent != 1 || rep.Stats.Throttled != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *config.Config) {}},
		{name: "report off", mutate: func(c *config.Config) { c.Watch.ReportSchedule = "off" }},
		{name: "cron report", mutate: func(c *config.Config) { c.Watch.ReportSchedule = "0 9 * * *" }},
		{name: "bad report", mutate: func(c *config.Config) { c.Watch.ReportSchedule = "every tuesday" }, wantErr: "watch.report_schedule"},
		{name: "template slot missing", mutate: func(c *config.Config) { c.Watch.Templates = []string{"hi {subject}"} }, wantErr: "watch.templates"},
		{name: "bad group log", mutate: func(c *config.Config) { c.Telegram.GroupLog = "@chat" }, wantErr: "group_log"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &config.Config{}
			tt.mutate(c)
			err := validateConfig(context.Background(), c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validateConfig: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("validateConfig = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestReportSchedule(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]string{
		"":           defaultReportSchedule,
		"OFF":        "",
		"@daily":     "@daily",
		" 0 * * * *": "0 * * * *",
	} {
		c := &config.Config{Watch: config.WatchConfig{ReportSchedule: raw}}
		if got := reportSchedule(c); got != want {
			t.Fatalf("reportSchedule(%q) = %q, want %q", raw, got, want)
		}
	}
}

type names map[int64]string

func (n names) DisplayName(id int64) string { return n[id] }

func TestDemux(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan kit.Update, 4)
	commands := make(chan kit.Update, 4)
	presence := make(chan watch.PresenceEvent, 4)
	done := make(chan struct{})
	go func() {
		demux(ctx, in, commands, presence, names{42: "Bobby"})
		close(done)
	}()

	at := time.Unix(1700000000, 0)
	in <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{Text: "/ping"}}
	in <- kit.Update{Kind: kit.UpdatePresence, Presence: &kit.Presence{
		User: kit.User{ID: 42, FirstName: "Bob"}, Current: &kit.Space{ID: 5, Title: "Lobby"}, At: at,
	}}
	in <- kit.Update{Kind: kit.UpdateMessage}
	close(in)
	<-done

	if up, ok := <-commands; !ok || up.Message.Text != "/ping" {
		t.Fatalf("commands got %+v, %v", up, ok)
	}
	if _, ok := <-commands; ok {
		t.Fatal("nil message must be dropped and commands closed")
	}
	ev, ok := <-presence
	if !ok {
		t.Fatal("no presence event")
	}
	if ev.SubjectID != 42 || ev.SubjectName != "Bobby" || ev.Previous != nil || ev.Current == nil ||
		ev.Current.Name != "Lobby" || !ev.At.Equal(at) || !ev.IsAppearance() {
		t.Fatalf("presence event = %+v", ev)
	}
}

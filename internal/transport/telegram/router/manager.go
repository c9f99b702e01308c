package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "github.com/Reesverleur/watchmebot/internal/runtime/supervisor"
	kit "github.com/Reesverleur/watchmebot/internal/transport"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

type Options struct {
	// Workers bounds concurrent command handlers. Default NumCPU (min 2).
	Workers int
	// Timeout bounds a single handler. Default 15s.
	Timeout time.Duration
	// BotUsername, when set, makes "/cmd@other_bot" messages ignored.
	BotUsername string
	Metrics     *Metrics
}

type CommandManager struct {
	mu     sync.RWMutex
	root   *cmdNode
	alias  map[string]*cmdNode
	owners []int64

	log     logx.Logger
	adapter kit.Adapter
	opt     Options

	botName string

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 15 * time.Second
	}
	return &CommandManager{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		owners:  slices.Clone(owners),
		log:     log,
		adapter: adapter,
		opt:     opt,
		botName: strings.TrimPrefix(opt.BotUsername, "@"),
		jobs:    make(chan func(), 256),
	}
}

// SetOwners replaces the owner list (config hot reload).
func (m *CommandManager) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

// SetBotUsername sets the name used to ignore commands addressed to other bots.
func (m *CommandManager) SetBotUsername(name string) {
	m.mu.Lock()
	m.botName = strings.TrimPrefix(name, "@")
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetRegistry installs the command set. /help is always added.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leaf := root
		for _, tok := range route {
			leaf, _ = leaf.child(tok)
		}
		// "/watchme_add" style shortcuts for the Telegram command menu.
		if len(route) > 1 {
			alias[strings.Join(route, "_")] = leaf
		}
		for _, a := range c.Aliases {
			if a = strings.TrimSpace(a); a != "" && !strings.Contains(a, " ") {
				alias[a] = leaf
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := menuCommands(root)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Debug("menu update failed", logx.Err(err))
			}
		}()
	}
}

// tryEnqueue is a panic-safe enqueue helper (the jobs channel may be closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes message updates to handlers on a bounded worker pool
// until ctx is done or updates is closed. Other update kinds are ignored.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", m.opt.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.opt.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return
	}
	word, bot := commandWord(parts[0])
	args := parts[1:]

	m.mu.RLock()
	root, alias, me := m.root, m.alias, m.botName
	m.mu.RUnlock()
	if bot != "" && me != "" && !strings.EqualFold(bot, me) {
		return
	}

	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		m.enqueue(ctx, up, *leaf.cmd, splitRoute(leaf.cmd.Route), args)
		return
	}

	cur, ok := root.child(word)
	if !ok {
		// Groups see other bots' commands; only answer unknowns in private.
		if !msg.IsGroup {
			m.reply(ctx, msg, "Unknown command. Try /help")
		}
		return
	}
	path := []string{word}
	for len(args) > 0 {
		child, ok := cur.child(strings.ToLower(args[0]))
		if !ok {
			break
		}
		cur = child
		path = append(path, child.name)
		args = args[1:]
	}
	if cur.cmd == nil {
		m.reply(ctx, msg, m.helpText(path))
		return
	}
	m.enqueue(ctx, up, *cur.cmd, path, args)
}

func (m *CommandManager) enqueue(ctx context.Context, up kit.Update, cmd Command, path, args []string) {
	msg := up.Message
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.From.ID) {
		m.opt.Metrics.command(cmd.Route, "denied")
		m.reply(ctx, msg, "This command is restricted to the bot owner.")
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Update:  up,
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		From:    msg.From,
		Path:    path,
		Command: cmd.Route,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.From.ID),
		),
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(),
		MWRequestLog(m.opt.Metrics),
		MWTimeout(m.opt.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		m.reply(ctx, msg, "I'm busy right now, try again in a moment.")
	}
}

func (m *CommandManager) reply(ctx context.Context, msg *kit.Message, text string) {
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := m.adapter.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		m.log.Debug("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

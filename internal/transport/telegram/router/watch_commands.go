package router

import (
	"context"
	"errors"
	"html"
	"strings"

	kit "github.com/Reesverleur/watchmebot/internal/transport"
	"github.com/Reesverleur/watchmebot/internal/watch"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

// WatchGraph is the part of *watch.Graph the commands mutate.
type WatchGraph interface {
	AddTarget(ctx context.Context, watcher watch.WatcherID, target watch.TargetID) (watch.Outcome, error)
	RemoveTarget(ctx context.Context, watcher watch.WatcherID, target watch.TargetID) (watch.Outcome, error)
	ListTargets(watcher watch.WatcherID) []watch.TargetID
}

// Users resolves mentions and ids to display names.
type Users interface {
	Resolve(m kit.Mention) (kit.User, error)
	DisplayName(id int64) string
}

type WatchDeps struct {
	Graph   WatchGraph
	Users   Users
	Report  func() watch.Report
	Metrics *Metrics
}

const (
	msgNoTarget   = "I couldn't find that user. Mention someone or reply to one of their messages."
	msgEmptyList  = "Your watchlist is empty."
	msgSaveFailed = "Sorry, I couldn't save your watchlist. Please try again later."
	msgNoStatsYet = "Stats are not available."
)

// WatchCommands returns the command set of the watch bot.
func WatchCommands(d WatchDeps) []Command {
	return []Command{
		{
			Route:       "watchme add",
			Description: "get a DM when a user shows up",
			Usage:       "/watchme add @user (or reply to their message)",
			Handle:      d.watchmeAdd,
		},
		{
			Route:       "watchme remove",
			Aliases:     []string{"unwatch"},
			Description: "stop watching a user",
			Usage:       "/watchme remove @user (or reply to their message)",
			Handle:      d.watchmeRemove,
		},
		{
			Route:       "watchme list",
			Description: "show who you are watching",
			Usage:       "/watchme list",
			Handle:      d.watchmeList,
		},
		{
			Route:       "watchid add",
			Description: "watch a user by numeric id",
			Usage:       "/watchid add <id>",
			Handle:      d.watchidAdd,
		},
		{
			Route:       "watchid remove",
			Description: "stop watching a user by numeric id",
			Usage:       "/watchid remove <id>",
			Handle:      d.watchidRemove,
		},
		{
			Route:       "ping",
			Description: "check the bot is alive",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, "Pong!")
			},
		},
		{
			Route:       "watchstats",
			Description: "notification statistics",
			Access:      AccessOwnerOnly,
			Handle:      d.watchstats,
		},
	}
}

// target picks who a /watchme command refers to: the first mention, else the
// author of the replied-to message.
func (d WatchDeps) target(req *Request) (kit.User, bool) {
	for _, m := range req.Message.Mentions {
		if u, err := d.Users.Resolve(m); err == nil {
			return u, true
		}
	}
	if rt := req.Message.ReplyTo; rt != nil && rt.ID != 0 {
		return *rt, true
	}
	return kit.User{}, false
}

func (d WatchDeps) watchmeAdd(ctx context.Context, req *Request) error {
	u, ok := d.target(req)
	if !ok {
		return req.Reply(ctx, msgNoTarget)
	}
	out, err := d.Graph.AddTarget(ctx, req.From.ID, u.ID)
	if err != nil {
		return d.saveFailed(ctx, req, err)
	}
	name := bold(u.DisplayName())
	if out == watch.AlreadyPresent {
		return req.Reply(ctx, name+" is already on your watchlist.")
	}
	return req.Reply(ctx, "Added "+name+" to your watchlist.")
}

func (d WatchDeps) watchmeRemove(ctx context.Context, req *Request) error {
	u, ok := d.target(req)
	if !ok {
		return req.Reply(ctx, msgNoTarget)
	}
	out, err := d.Graph.RemoveTarget(ctx, req.From.ID, u.ID)
	if err != nil {
		return d.saveFailed(ctx, req, err)
	}
	name := bold(u.DisplayName())
	if out == watch.NotFound {
		return req.Reply(ctx, name+" is not on your watchlist.")
	}
	return req.Reply(ctx, "Removed "+name+" from your watchlist.")
}

func (d WatchDeps) watchmeList(ctx context.Context, req *Request) error {
	ids := d.Graph.ListTargets(req.From.ID)
	if len(ids) == 0 {
		return req.Reply(ctx, msgEmptyList)
	}
	lines := make([]string, 0, len(ids)+1)
	lines = append(lines, "<b>Your watchlist</b>")
	for _, id := range ids {
		lines = append(lines, "• "+html.EscapeString(d.Users.DisplayName(id)))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

// /watchid never replies, whatever happens.
func (d WatchDeps) watchidAdd(ctx context.Context, req *Request) error {
	return d.watchid(ctx, req, d.Graph.AddTarget)
}

func (d WatchDeps) watchidRemove(ctx context.Context, req *Request) error {
	return d.watchid(ctx, req, d.Graph.RemoveTarget)
}

func (d WatchDeps) watchid(ctx context.Context, req *Request, op func(context.Context, watch.WatcherID, watch.TargetID) (watch.Outcome, error)) error {
	raw := ""
	if len(req.Args) > 0 {
		raw = req.Args[0]
	}
	id, err := watch.ParseID(raw)
	if err != nil {
		d.Metrics.command(req.Command, "malformed")
		req.Logger.Debug("ignoring malformed id", logx.String("raw", raw))
		return nil
	}
	out, err := op(ctx, req.From.ID, id)
	if err != nil {
		d.Metrics.command(req.Command, "persist_error")
		req.Logger.Error("watch list update failed", logx.Int64("target", id), logx.Err(err))
		return nil
	}
	req.Logger.Debug("watch list updated", logx.Int64("target", id), logx.String("outcome", out.String()))
	return nil
}

func (d WatchDeps) watchstats(ctx context.Context, req *Request) error {
	if d.Report == nil {
		return req.Reply(ctx, msgNoStatsYet)
	}
	return req.Reply(ctx, "<pre>"+html.EscapeString(d.Report().String())+"</pre>")
}

func (d WatchDeps) saveFailed(ctx context.Context, req *Request, err error) error {
	d.Metrics.command(req.Command, "persist_error")
	lvl := req.Logger.Error
	if !errors.Is(err, watch.ErrPersistence) {
		lvl = req.Logger.Warn
	}
	lvl("watch list update failed", logx.Err(err))
	return req.Reply(ctx, msgSaveFailed)
}

func bold(s string) string { return "<b>" + html.EscapeString(s) + "</b>" }

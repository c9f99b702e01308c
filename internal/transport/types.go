package transport

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrForbidden marks a send the platform refused because the recipient cannot
// be reached (blocked the bot, never started a private chat, deactivated).
var ErrForbidden = errors.New("recipient unreachable")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdatePresence UpdateKind = "presence"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Presence *Presence
}

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName prefers the user's full name, then @username, then the raw id.
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

// Mention is a user reference inside a message. ID is 0 when the platform only
// gave a username (plain @mention) and it still has to be resolved.
type Mention struct {
	ID       int64
	Username string
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
	From     User
	Text     string
	IsGroup  bool

	Mentions []Mention
	ReplyTo  *User // author of the replied-to message, if any
}

// Space is a shared place a user can be present in (a group chat).
type Space struct {
	ID    int64
	Title string
}

// Presence is a global presence transition for one user. Previous is nil when
// the user was absent from every shared space; Current is nil when the user
// is now absent from all of them.
type Presence struct {
	User     User
	Previous *Space
	Current  *Space
	At       time.Time
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendDirect sends a private message. Unreachable recipients yield an error
	// wrapping ErrForbidden.
	SendDirect(ctx context.Context, userID int64, text string, opt *SendOptions) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

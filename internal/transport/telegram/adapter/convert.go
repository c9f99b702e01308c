package adapter

import (
	tele "gopkg.in/telebot.v4"

	kit "github.com/Reesverleur/watchmebot/internal/transport"
)

func toUser(u *tele.User) kit.User {
	if u == nil {
		return kit.User{}
	}
	return kit.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

func toSpace(c *tele.Chat) kit.Space {
	if c == nil {
		return kit.Space{}
	}
	title := c.Title
	if title == "" {
		title = c.Username
	}
	return kit.Space{ID: c.ID, Title: title}
}

func isGroup(c *tele.Chat) bool {
	return c != nil && (c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup)
}

// toMessage converts a text message, collecting mentioned users and the
// author of the replied-to message.
func toMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	out := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		From:     toUser(m.Sender),
		Text:     m.Text,
		IsGroup:  isGroup(m.Chat),
	}
	for _, e := range m.Entities {
		switch e.Type {
		case tele.EntityTMention:
			if e.User != nil {
				out.Mentions = append(out.Mentions, kit.Mention{ID: e.User.ID, Username: e.User.Username})
			}
		case tele.EntityMention:
			if name := m.EntityText(e); len(name) > 1 {
				out.Mentions = append(out.Mentions, kit.Mention{Username: name[1:]})
			}
		}
	}
	if m.ReplyTo != nil && m.ReplyTo.Sender != nil {
		u := toUser(m.ReplyTo.Sender)
		out.ReplyTo = &u
	}
	return out
}

// inChat reports whether a member status means the user is in the chat.
func inChat(m *tele.ChatMember) bool {
	if m == nil {
		return false
	}
	switch m.Role {
	case tele.Creator, tele.Administrator, tele.Member, tele.Restricted:
		return true
	default:
		return false
	}
}

// memberChange maps a chat_member update to a join (+1), a leave (-1) or
// nothing (0, e.g. a promotion).
func memberChange(u *tele.ChatMemberUpdate) (kit.User, int) {
	if u == nil || u.NewChatMember == nil || u.NewChatMember.User == nil {
		return kit.User{}, 0
	}
	if u.NewChatMember.User.IsBot {
		return kit.User{}, 0
	}
	user := toUser(u.NewChatMember.User)
	was, is := inChat(u.OldChatMember), inChat(u.NewChatMember)
	switch {
	case !was && is:
		return user, +1
	case was && !is:
		return user, -1
	default:
		return user, 0
	}
}

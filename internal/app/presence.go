package app

import (
	"context"
	"time"

	kit "github.com/Reesverleur/watchmebot/internal/transport"
	"github.com/Reesverleur/watchmebot/internal/watch"
)

// nameSource gives the display name used in notifications.
type nameSource interface {
	DisplayName(id int64) string
}

// toPresenceEvent converts an adapter presence transition. Names come from
// the directory so every notification about a user uses the same one.
func toPresenceEvent(p *kit.Presence, names nameSource) watch.PresenceEvent {
	ev := watch.PresenceEvent{
		SubjectID:   p.User.ID,
		SubjectName: p.User.DisplayName(),
		Previous:    toLocation(p.Previous),
		Current:     toLocation(p.Current),
		At:          p.At,
	}
	if names != nil {
		ev.SubjectName = names.DisplayName(p.User.ID)
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return ev
}

func toLocation(s *kit.Space) *watch.Location {
	if s == nil {
		return nil
	}
	return &watch.Location{ID: s.ID, Name: s.Title}
}

// demux splits adapter updates: messages go to the command router and
// presence transitions to the monitor. It closes both outputs on return.
func demux(ctx context.Context, in <-chan kit.Update, commands chan<- kit.Update, presence chan<- watch.PresenceEvent, names nameSource) {
	defer close(commands)
	defer close(presence)
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-in:
			if !ok {
				return
			}
			switch up.Kind {
			case kit.UpdateMessage:
				if up.Message == nil {
					continue
				}
				select {
				case commands <- up:
				case <-ctx.Done():
					return
				}
			case kit.UpdatePresence:
				if up.Presence == nil {
					continue
				}
				select {
				case presence <- toPresenceEvent(up.Presence, names):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

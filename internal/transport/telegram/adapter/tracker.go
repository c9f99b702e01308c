package adapter

import (
	"sync"
	"time"

	kit "github.com/Reesverleur/watchmebot/internal/transport"
)

// PresenceTracker folds per-chat joins and leaves into global presence
// transitions. A user is present while they are in at least one chat the bot
// shares with them; users the tracker has never seen count as absent.
//
// Membership that predates the process is unknown until the user speaks or a
// Settle lookup finds it. A chat the bot has not observed since start cannot
// be looked up, so a join elsewhere by a user who is only in such chats is
// still reported as an appearance.
type PresenceTracker struct {
	mu sync.Mutex
	// spaces lists the chats each user is in, oldest join first.
	spaces map[int64][]kit.Space
	// chats holds every chat observed since start.
	chats map[int64]kit.Space
}

// MembershipFunc reports whether userID is currently a member of spaceID.
type MembershipFunc func(spaceID, userID int64) (bool, error)

// maxSettleLookups bounds the lookups a single Settle call makes.
const maxSettleLookups = 16

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		spaces: make(map[int64][]kit.Space),
		chats:  make(map[int64]kit.Space),
	}
}

// Settle runs before a join into except is recorded. When u is not known to
// be anywhere, the other observed chats are checked with isMember and the
// first hit is recorded silently, so the join reads as a move rather than an
// appearance. Lookup errors count as "not a member".
func (t *PresenceTracker) Settle(u kit.User, except int64, isMember MembershipFunc) {
	if isMember == nil {
		return
	}
	t.mu.Lock()
	if len(t.spaces[u.ID]) > 0 {
		t.mu.Unlock()
		return
	}
	candidates := make([]kit.Space, 0, len(t.chats))
	for id, s := range t.chats {
		if id != except {
			candidates = append(candidates, s)
		}
	}
	t.mu.Unlock()

	if len(candidates) > maxSettleLookups {
		candidates = candidates[:maxSettleLookups]
	}
	for _, s := range candidates {
		if ok, err := isMember(s.ID, u.ID); err == nil && ok {
			t.Seen(u, s)
			return
		}
	}
}

// Join records u entering space. ok is false when u was already there.
// Previous is nil when u was absent everywhere, otherwise the chat u most
// recently joined.
func (t *PresenceTracker) Join(u kit.User, space kit.Space, at time.Time) (p kit.Presence, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.chats[space.ID] = space
	cur := t.spaces[u.ID]
	if indexOf(cur, space.ID) >= 0 {
		return kit.Presence{}, false
	}
	p = kit.Presence{User: u, Current: &space, At: at}
	if n := len(cur); n > 0 {
		prev := cur[n-1]
		p.Previous = &prev
	}
	t.spaces[u.ID] = append(cur, space)
	return p, true
}

// Leave records u leaving space. ok is false when the tracker did not know u
// was there. Current is nil when u is now absent everywhere.
func (t *PresenceTracker) Leave(u kit.User, space kit.Space, at time.Time) (p kit.Presence, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.spaces[u.ID]
	i := indexOf(cur, space.ID)
	if i < 0 {
		return kit.Presence{}, false
	}
	left := cur[i]
	rest := append(cur[:i:i], cur[i+1:]...)
	p = kit.Presence{User: u, Previous: &left, At: at}
	if n := len(rest); n > 0 {
		still := rest[n-1]
		p.Current = &still
		t.spaces[u.ID] = rest
	} else {
		delete(t.spaces, u.ID)
	}
	return p, true
}

// Seen records that u is in space without reporting a transition. It is
// used for evidence of membership that is not a join (u spoke in the chat).
func (t *PresenceTracker) Seen(u kit.User, space kit.Space) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chats[space.ID] = space
	if indexOf(t.spaces[u.ID], space.ID) < 0 {
		t.spaces[u.ID] = append(t.spaces[u.ID], space)
	}
}

// Present reports whether u is in any tracked chat.
func (t *PresenceTracker) Present(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spaces[userID]) > 0
}

// ForgetSpace drops a chat entirely (the bot itself left it). Every user
// whose last chat it was becomes absent; those transitions are returned.
func (t *PresenceTracker) ForgetSpace(spaceID int64, at time.Time) []kit.Presence {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.chats, spaceID)
	var out []kit.Presence
	for uid, cur := range t.spaces {
		i := indexOf(cur, spaceID)
		if i < 0 {
			continue
		}
		left := cur[i]
		rest := append(cur[:i:i], cur[i+1:]...)
		if len(rest) == 0 {
			delete(t.spaces, uid)
			out = append(out, kit.Presence{User: kit.User{ID: uid}, Previous: &left, At: at})
			continue
		}
		t.spaces[uid] = rest
	}
	return out
}

func indexOf(spaces []kit.Space, id int64) int {
	for i, s := range spaces {
		if s.ID == id {
			return i
		}
	}
	return -1
}

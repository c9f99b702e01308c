// Package directory remembers users the bot has seen so commands and
// notifications can show names instead of raw ids.
package directory

import (
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"

	"github.com/Reesverleur/watchmebot/internal/transport"
)

const (
	defaultCacheBytes = 8 << 20
	defaultTTL        = 30 * 24 * time.Hour
)

type entry struct {
	ID        int64  `json:"id"`
	Username  string `json:"u,omitempty"`
	FirstName string `json:"f,omitempty"`
	LastName  string `json:"l,omitempty"`
}

// Directory is a size-bounded, TTL'd cache of users keyed by id and by
// lowercase username. It is safe for concurrent use.
type Directory struct {
	cache *freecache.Cache
	ttl   int
}

// New sizes the cache; zero values pick defaults. freecache enforces its own
// 512 KiB floor.
func New(cacheBytes int, ttl time.Duration) *Directory {
	if cacheBytes <= 0 {
		cacheBytes = defaultCacheBytes
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Directory{
		cache: freecache.NewCache(cacheBytes),
		ttl:   max(int(ttl.Seconds()), 1),
	}
}

// Remember stores or refreshes u. Users with id 0 are ignored.
func (d *Directory) Remember(u transport.User) {
	if u.ID == 0 {
		return
	}
	b, err := json.Marshal(entry{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName})
	if err != nil {
		return
	}
	_ = d.cache.SetInt(u.ID, b, d.ttl)
	if name := normalize(u.Username); name != "" {
		var idb [8]byte
		binary.BigEndian.PutUint64(idb[:], uint64(u.ID))
		_ = d.cache.Set([]byte(name), idb[:], d.ttl)
	}
}

func (d *Directory) ByID(id int64) (transport.User, bool) {
	b, err := d.cache.GetInt(id)
	if err != nil {
		return transport.User{}, false
	}
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		return transport.User{}, false
	}
	return transport.User{ID: e.ID, Username: e.Username, FirstName: e.FirstName, LastName: e.LastName}, true
}

// ByUsername resolves "@name" or "name", case-insensitively.
func (d *Directory) ByUsername(name string) (transport.User, bool) {
	key := normalize(name)
	if key == "" {
		return transport.User{}, false
	}
	b, err := d.cache.Get([]byte(key))
	if err != nil || len(b) != 8 {
		return transport.User{}, false
	}
	u, ok := d.ByID(int64(binary.BigEndian.Uint64(b)))
	// A username may have moved to another account since it was cached.
	if !ok || normalize(u.Username) != key {
		return transport.User{}, false
	}
	return u, true
}

// DisplayName returns the best known name for id, or "<Unknown id>".
func (d *Directory) DisplayName(id int64) string {
	if u, ok := d.ByID(id); ok {
		return u.DisplayName()
	}
	return "<Unknown " + strconv.FormatInt(id, 10) + ">"
}

func (d *Directory) Len() int64 { return d.cache.EntryCount() }

var ErrNotFound = errors.New("user not found")

// Resolve turns a mention into a user, looking up plain @usernames.
func (d *Directory) Resolve(m transport.Mention) (transport.User, error) {
	if m.ID != 0 {
		if u, ok := d.ByID(m.ID); ok {
			return u, nil
		}
		return transport.User{ID: m.ID, Username: m.Username}, nil
	}
	if u, ok := d.ByUsername(m.Username); ok {
		return u, nil
	}
	return transport.User{}, ErrNotFound
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Reesverleur/watchmebot/internal/storage"
	"github.com/Reesverleur/watchmebot/internal/transport"
)

// memPersister is an in-memory Persister; failSave makes the next saves fail.
type memPersister struct {
	mu       sync.Mutex
	saved    storage.Watchlists
	saves    int
	failSave error
}

func (p *memPersister) LoadWatchlists(ctx context.Context) (storage.Watchlists, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saved == nil {
		return storage.Watchlists{}, nil
	}
	return p.saved.Clone(), nil
}

func (p *memPersister) SaveWatchlists(ctx context.Context, w storage.Watchlists) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSave != nil {
		return p.failSave
	}
	p.saves++
	p.saved = w.Clone()
	return nil
}

func (p *memPersister) snapshot() storage.Watchlists {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved.Clone()
}

type sentMsg struct {
	to   int64
	text string
}

// fakeSender records sends; errs maps a recipient to the error it returns.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
	errs map[int64]error
}

func (s *fakeSender) SendDirect(ctx context.Context, userID int64, text string, opt *transport.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[userID]; err != nil {
		return err
	}
	s.sent = append(s.sent, sentMsg{to: userID, text: text})
	return nil
}

func (s *fakeSender) messagesTo(id int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		if m.to == id {
			out = append(out, m.text)
		}
	}
	return out
}

func forbidden() error {
	return fmt.Errorf("telegram: bot was blocked by the user: %w", transport.ErrForbidden)
}

var errBoom = errors.New("boom")

package watch

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Reesverleur/watchmebot/internal/storage"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

// Persister is the durable side of the graph. storage.Store satisfies it.
type Persister interface {
	LoadWatchlists(ctx context.Context) (storage.Watchlists, error)
	SaveWatchlists(ctx context.Context, w storage.Watchlists) error
}

// Graph owns the watcher -> targets relationship.
//
// Mutations are serialized by wmu and persisted before they become visible:
// the next state is built as a copy, saved, and only then swapped in. Readers
// see either the state before or after a mutation, never one in between.
type Graph struct {
	store   Persister
	log     logx.Logger
	metrics *Metrics

	wmu sync.Mutex

	mu      sync.RWMutex
	lists   storage.Watchlists
	reverse map[TargetID]map[WatcherID]struct{}
}

type GraphOption func(*Graph)

func WithGraphMetrics(m *Metrics) GraphOption {
	return func(g *Graph) { g.metrics = m }
}

// NewGraph loads the stored snapshot. A store that was never written yields
// an empty graph.
func NewGraph(ctx context.Context, store Persister, log logx.Logger, opts ...GraphOption) (*Graph, error) {
	if store == nil {
		return nil, fmt.Errorf("watch graph: nil store")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Graph{store: store, log: log}
	for _, o := range opts {
		o(g)
	}

	loaded, err := store.LoadWatchlists(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watch graph: %w", err)
	}
	lists := make(storage.Watchlists, len(loaded))
	collapsed := 0
	for w, targets := range loaded {
		clean := make([]TargetID, 0, len(targets))
		for _, t := range targets {
			if slices.Contains(clean, t) {
				collapsed++
				continue
			}
			clean = append(clean, t)
		}
		lists[w] = clean
	}
	if collapsed > 0 {
		g.log.Warn("duplicate targets collapsed on load", logx.Int("count", collapsed))
	}

	g.lists = lists
	g.reverse = buildReverse(lists)
	g.reportSize()
	g.log.Info("watch graph loaded", logx.Int("watchers", len(lists)))
	return g, nil
}

// AddTarget appends target to watcher's list unless it is already there.
func (g *Graph) AddTarget(ctx context.Context, watcher WatcherID, target TargetID) (Outcome, error) {
	g.wmu.Lock()
	defer g.wmu.Unlock()

	g.mu.RLock()
	cur := g.lists[watcher]
	present := slices.Contains(cur, target)
	g.mu.RUnlock()
	if present {
		g.metrics.mutation("add", AlreadyPresent)
		return AlreadyPresent, nil
	}

	next := append(slices.Clip(cur), target)
	if err := g.commit(ctx, watcher, next); err != nil {
		g.metrics.mutation("add", Failed)
		return OutcomeUnknown, err
	}
	g.mu.Lock()
	g.lists[watcher] = next
	addReverse(g.reverse, target, watcher)
	g.mu.Unlock()

	g.reportSize()
	g.metrics.mutation("add", Added)
	g.log.Debug("target added", logx.Int64("watcher", watcher), logx.Int64("target", target))
	return Added, nil
}

// RemoveTarget removes target from watcher's list. The (possibly empty) list
// stays stored.
func (g *Graph) RemoveTarget(ctx context.Context, watcher WatcherID, target TargetID) (Outcome, error) {
	g.wmu.Lock()
	defer g.wmu.Unlock()

	g.mu.RLock()
	cur := g.lists[watcher]
	idx := slices.Index(cur, target)
	g.mu.RUnlock()
	if idx < 0 {
		g.metrics.mutation("remove", NotFound)
		return NotFound, nil
	}

	next := slices.Delete(slices.Clone(cur), idx, idx+1)
	if err := g.commit(ctx, watcher, next); err != nil {
		g.metrics.mutation("remove", Failed)
		return OutcomeUnknown, err
	}
	g.mu.Lock()
	g.lists[watcher] = next
	delReverse(g.reverse, target, watcher)
	g.mu.Unlock()

	g.reportSize()
	g.metrics.mutation("remove", Removed)
	g.log.Debug("target removed", logx.Int64("watcher", watcher), logx.Int64("target", target))
	return Removed, nil
}

// commit persists the full mapping with watcher's list replaced by next.
// Caller holds wmu.
func (g *Graph) commit(ctx context.Context, watcher WatcherID, next []TargetID) error {
	g.mu.RLock()
	snap := g.lists.Clone()
	g.mu.RUnlock()
	snap[watcher] = slices.Clone(next)

	if err := g.store.SaveWatchlists(ctx, snap); err != nil {
		g.metrics.incPersistFailure()
		g.log.Error("watch graph persist failed", logx.Int64("watcher", watcher), logx.Err(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// ListTargets returns watcher's targets in insertion order.
func (g *Graph) ListTargets(watcher WatcherID) []TargetID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]TargetID{}, g.lists[watcher]...)
}

// WatchersOf returns every watcher whose list contains target, ascending.
func (g *Graph) WatchersOf(target TargetID) []WatcherID {
	g.mu.RLock()
	set := g.reverse[target]
	out := make([]WatcherID, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	g.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Snapshot returns a deep copy of the whole mapping.
func (g *Graph) Snapshot() storage.Watchlists {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lists.Clone()
}

// Size reports the number of stored watchers and relationships.
func (g *Graph) Size() (watchers, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, t := range g.lists {
		edges += len(t)
	}
	return len(g.lists), edges
}

func (g *Graph) reportSize() {
	if g.metrics == nil {
		return
	}
	g.metrics.setGraphSize(g.Size())
}

func buildReverse(lists storage.Watchlists) map[TargetID]map[WatcherID]struct{} {
	rev := make(map[TargetID]map[WatcherID]struct{})
	for w, targets := range lists {
		for _, t := range targets {
			addReverse(rev, t, w)
		}
	}
	return rev
}

func addReverse(rev map[TargetID]map[WatcherID]struct{}, t TargetID, w WatcherID) {
	set := rev[t]
	if set == nil {
		set = make(map[WatcherID]struct{})
		rev[t] = set
	}
	set[w] = struct{}{}
}

func delReverse(rev map[TargetID]map[WatcherID]struct{}, t TargetID, w WatcherID) {
	set := rev[t]
	delete(set, w)
	if len(set) == 0 {
		delete(rev, t)
	}
}

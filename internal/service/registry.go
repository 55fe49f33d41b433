package service

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"wex-mcp-api/internal/friends"
	"wex-mcp-api/internal/model"
	"wex-mcp-api/internal/profile"
)

// Documents is the persistence the registry loads from and saves to.
type Documents interface {
	profile.Store
	LoadFriendGraph(ctx context.Context, accountID string) (*model.FriendGraph, error)
	SaveFriendGraph(ctx context.Context, g *model.FriendGraph) error
}

type registryEntry struct {
	set        *profile.Set
	graph      *model.FriendGraph
	graphDirty bool
	lastUsed   time.Time
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

// Registry owns the live profile sets and friend graphs of every loaded
// account. Callers hold the account lock (see Lock) while mutating either.
type Registry struct {
	docs    Documents
	setOpts []profile.Option
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
	locks   map[string]*accountLock
}

// RegistryStats is a point-in-time view of the registry.
type RegistryStats struct {
	Accounts    int `json:"accounts"`
	Locked      int `json:"locked"`
	DirtySets   int `json:"dirty_sets"`
	DirtyGraphs int `json:"dirty_graphs"`
}

// NewRegistry creates an empty registry. setOpts are applied to every profile set.
func NewRegistry(docs Documents, now func() time.Time, setOpts ...profile.Option) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		docs:    docs,
		setOpts: append([]profile.Option{profile.WithClock(now)}, setOpts...),
		now:     now,
		entries: make(map[string]*registryEntry),
		locks:   make(map[string]*accountLock),
	}
}

// Lock acquires the locks of every distinct account in ids, in sorted order so
// two multi-account operations never deadlock. The returned func releases them.
func (r *Registry) Lock(ids ...string) func() {
	sorted := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	held := make([]*accountLock, len(sorted))
	r.mu.Lock()
	for i, id := range sorted {
		l, ok := r.locks[id]
		if !ok {
			l = &accountLock{}
			r.locks[id] = l
		}
		l.refs++
		held[i] = l
	}
	r.mu.Unlock()

	for _, l := range held {
		l.mu.Lock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
			}
			r.mu.Lock()
			for i, id := range sorted {
				if held[i].refs--; held[i].refs == 0 {
					delete(r.locks, id)
				}
			}
			r.mu.Unlock()
		})
	}
}

func (r *Registry) entry(accountID string) *registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[accountID]
	if !ok {
		e = &registryEntry{set: profile.NewSet(accountID, r.docs, r.setOpts...)}
		r.entries[accountID] = e
	}
	e.lastUsed = r.now()
	return e
}

// ProfileSet returns the live profile set of accountID.
func (r *Registry) ProfileSet(ctx context.Context, accountID string) (*profile.Set, error) {
	return r.entry(accountID).set, nil
}

// FriendGraph returns the live friend graph of accountID, loading it on first
// use. Accounts without a stored graph get an empty public one.
func (r *Registry) FriendGraph(ctx context.Context, accountID string) (*model.FriendGraph, error) {
	e := r.entry(accountID)

	r.mu.Lock()
	g := e.graph
	r.mu.Unlock()
	if g != nil {
		return g, nil
	}

	loaded, err := r.docs.LoadFriendGraph(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		loaded = model.NewFriendGraph(accountID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.graph == nil {
		e.graph = loaded
	}
	return e.graph, nil
}

// SaveFriendGraph persists g. On failure the graph stays dirty and is retried
// by the next sweep.
func (r *Registry) SaveFriendGraph(ctx context.Context, g *model.FriendGraph) error {
	return r.saveGraph(ctx, r.entry(g.AccountID), g)
}

func (r *Registry) saveGraph(ctx context.Context, e *registryEntry, g *model.FriendGraph) error {
	r.mu.Lock()
	if e.graph == nil {
		e.graph = g
	}
	e.graphDirty = true
	r.mu.Unlock()

	if err := r.docs.SaveFriendGraph(ctx, g); err != nil {
		return err
	}

	r.mu.Lock()
	if e.graph == g {
		e.graphDirty = false
	}
	r.mu.Unlock()
	return nil
}

// SweepResult summarizes one Sweep.
type SweepResult struct {
	Saved     int `json:"saved"`
	Failed    int `json:"failed"`
	Evicted   int `json:"evicted"`
	Pending   int `json:"pending"`
	Remaining int `json:"remaining"`
}

// Sweep retries pending saves and evicts accounts idle for longer than idle
// whose documents are all persisted.
func (r *Registry) Sweep(ctx context.Context, idle time.Duration) SweepResult {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	var res SweepResult
	for _, id := range ids {
		unlock := r.Lock(id)
		r.sweepOne(ctx, id, idle, &res)
		unlock()
	}

	r.mu.Lock()
	res.Remaining = len(r.entries)
	r.mu.Unlock()
	return res
}

// sweepOne runs with the account lock held.
func (r *Registry) sweepOne(ctx context.Context, id string, idle time.Duration, res *SweepResult) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	graph, graphDirty, lastUsed := e.graph, e.graphDirty, e.lastUsed
	r.mu.Unlock()

	clean := true
	if e.set.Dirty() {
		if failed := e.set.Save(ctx); failed > 0 {
			res.Failed += failed
			clean = false
		} else {
			res.Saved++
		}
	}
	if graphDirty && graph != nil {
		if err := r.saveGraph(ctx, e, graph); err != nil {
			log.Printf("[Registry] Failed to save friend graph of %s: %v", id, err)
			res.Failed++
			clean = false
		} else {
			res.Saved++
		}
	}

	if !clean || r.now().Sub(lastUsed) < idle {
		return
	}
	// Staged records only reach the store through a flush.
	if e.set.HasChanges() {
		res.Pending++
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Only the sweeper itself may hold the lock, and nobody touched the entry meanwhile.
	if l := r.locks[id]; l != nil && l.refs > 1 {
		return
	}
	if e.lastUsed.After(lastUsed) || e.graphDirty {
		return
	}
	delete(r.entries, id)
	res.Evicted++
}

// Flush commits every staged journal and saves every dirty document without
// evicting anything.
func (r *Registry) Flush(ctx context.Context) SweepResult {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		unlock := r.Lock(id)
		r.mu.Lock()
		e, ok := r.entries[id]
		r.mu.Unlock()
		if ok {
			if n := e.set.Commit(); n > 0 {
				log.Printf("[Registry] Committed %d pending profile(s) of %s", n, id)
			}
		}
		unlock()
	}
	return r.Sweep(ctx, time.Duration(math.MaxInt64))
}

// Stats returns the registry size and pending work.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	stats := RegistryStats{Accounts: len(r.entries), Locked: len(r.locks)}
	sets := make([]*profile.Set, 0, len(r.entries))
	for _, e := range r.entries {
		if e.graphDirty {
			stats.DirtyGraphs++
		}
		sets = append(sets, e.set)
	}
	r.mu.Unlock()

	for _, set := range sets {
		if set.Dirty() {
			stats.DirtySets++
		}
	}
	return stats
}

var _ friends.Registry = (*Registry)(nil)

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/multichat/channel"
	"github.com/onnwee/multichat/route"
	"github.com/onnwee/multichat/telemetry"
)

// Entry is one room in the container: a standalone Session or an Aggregate.
// The interface is sealed; no other kinds exist.
type Entry interface {
	Leave(ctx context.Context) error
	isEntry()
}

func (s *Session) isEntry()   {}
func (a *Aggregate) isEntry() {}

// Container is the registry of all active rooms. It owns the ordered entry
// sequence, the selection subset and the docked/floating split; every
// membership mutation is serialized by its mutex.
type Container struct {
	repo   *channel.Repository
	router *route.Router
	api    API

	mu       sync.Mutex
	entries  []Entry
	selected map[Entry]struct{}
	floating map[Entry]struct{}
}

// NewContainer builds an empty container.
func NewContainer(repo *channel.Repository, router *route.Router, api API) *Container {
	return &Container{
		repo:     repo,
		router:   router,
		api:      api,
		selected: make(map[Entry]struct{}),
		floating: make(map[Entry]struct{}),
	}
}

// Open loads the channel, joins its chat and adds the session as a new entry.
// Opening a channel that is already held by an entry, standalone or inside an
// aggregate, returns the existing session instead of joining twice. The
// repository reference taken by the load is released again if the join fails.
func (c *Container) Open(ctx context.Context, id string) (*Session, error) {
	c.mu.Lock()
	if existing, _ := c.sessionForLocked(id); existing != nil {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	st, err := c.repo.GetOrLoad(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open channel %s: %w", id, err)
	}
	s := NewSession(st, c.api, c.router, c.repo)
	s.setOnLeft(c.dropSession)
	if err := s.Join(ctx); err != nil {
		c.repo.Release(st)
		return nil, err
	}

	c.mu.Lock()
	if existing, target := c.sessionForLocked(id); existing != nil {
		// A concurrent Open won the race for this channel. Unwind the
		// duplicate join and point the routing back at the winner.
		c.mu.Unlock()
		_ = s.Leave(ctx)
		c.router.Register(id, target)
		return existing, nil
	}
	c.entries = append(c.entries, s)
	c.mu.Unlock()
	return s, nil
}

// sessionForLocked returns the session owning channel id together with its
// routing target, scanning standalone entries and aggregate members.
func (c *Container) sessionForLocked(id string) (*Session, route.Target) {
	for _, e := range c.entries {
		switch v := e.(type) {
		case *Session:
			if v.Broadcaster().ID == id {
				return v, v
			}
		case *Aggregate:
			for _, m := range v.Members() {
				if m.Broadcaster().ID == id {
					return m, v
				}
			}
		}
	}
	return nil, nil
}

// Entries returns the ordered entry snapshot.
func (c *Container) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Select adds e to the selection. Unknown entries are ignored.
func (c *Container) Select(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOfLocked(e) >= 0 {
		c.selected[e] = struct{}{}
	}
}

// Unselect removes e from the selection.
func (c *Container) Unselect(e Entry) {
	c.mu.Lock()
	delete(c.selected, e)
	c.mu.Unlock()
}

// SelectAll selects every entry.
func (c *Container) SelectAll() {
	c.mu.Lock()
	for _, e := range c.entries {
		c.selected[e] = struct{}{}
	}
	c.mu.Unlock()
}

// UnselectAll empties the selection.
func (c *Container) UnselectAll() {
	c.mu.Lock()
	c.selected = make(map[Entry]struct{})
	c.mu.Unlock()
}

// Selection returns the selected entries in container order.
func (c *Container) Selection() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.selected))
	for _, e := range c.entries {
		if _, ok := c.selected[e]; ok {
			out = append(out, e)
		}
	}
	return out
}

// PopOut moves e to the floating presentation set. Tracking only; rendering
// lives outside the core.
func (c *Container) PopOut(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOfLocked(e) >= 0 {
		c.floating[e] = struct{}{}
	}
}

// Restore docks a floating entry again.
func (c *Container) Restore(e Entry) {
	c.mu.Lock()
	delete(c.floating, e)
	c.mu.Unlock()
}

// IsFloating reports whether e is popped out.
func (c *Container) IsFloating(e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.floating[e]
	return ok
}

// CloseSelected leaves every selected entry and collects failures.
func (c *Container) CloseSelected(ctx context.Context) error {
	sel := c.Selection()
	g := new(errgroup.Group)
	for _, e := range sel {
		g.Go(func() error { return e.Leave(ctx) })
	}
	return g.Wait()
}

// MergeSelected merges the current selection into one aggregate.
func (c *Container) MergeSelected(ctx context.Context) (*Aggregate, error) {
	return c.Merge(ctx, c.Selection())
}

// Merge combines the given entries into a single aggregate. Aggregates in the
// selection are absorbed into a representative; standalone sessions are
// attached to it. The representative is the aggregate whose smallest member
// channel id is lexicographically lowest, a deterministic rule independent of
// selection order. Every merged channel must be owned by a joined session;
// anything else is a caller bug and panics.
func (c *Container) Merge(ctx context.Context, sel []Entry) (*Aggregate, error) {
	if len(sel) < 2 {
		return nil, fmt.Errorf("merge requires at least two rooms, got %d", len(sel))
	}
	_, span := telemetry.StartSpan(ctx, "session", "session.merge", attribute.Int("rooms", len(sel)))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	var singles []*Session
	var aggs []*Aggregate
	for _, e := range sel {
		if c.indexOfLocked(e) < 0 {
			panic(fmt.Sprintf("session: merge of entry not in container: %v", e))
		}
		switch v := e.(type) {
		case *Session:
			if !v.IsJoined() {
				panic(fmt.Sprintf("session: merge of non-joined channel %s", v.Broadcaster().ID))
			}
			singles = append(singles, v)
		case *Aggregate:
			for _, m := range v.Members() {
				if !m.IsJoined() {
					panic(fmt.Sprintf("session: merge of aggregate with non-joined channel %s", m.Broadcaster().ID))
				}
			}
			aggs = append(aggs, v)
		}
	}

	var rep *Aggregate
	if len(aggs) > 0 {
		rep = aggs[0]
		for _, a := range aggs[1:] {
			if a.minMemberID() < rep.minMemberID() {
				rep = a
			}
		}
		for _, a := range aggs {
			if a == rep {
				continue
			}
			for _, m := range a.Members() {
				a.remove(m)
				rep.add(m)
				c.router.Register(m.Broadcaster().ID, rep)
			}
			c.removeLocked(a)
		}
	} else {
		rep = newAggregate(nil)
		rep.setOnLeft(c.dropAggregate)
		c.entries = append(c.entries, rep)
	}

	for _, s := range singles {
		rep.add(s)
		c.router.Register(s.Broadcaster().ID, rep)
		c.removeLocked(s)
	}

	telemetry.CountMerge()
	telemetry.SetSpanSuccess(span)
	slog.Info("rooms merged", slog.Int("members", rep.Size()))
	return rep, nil
}

// Separate detaches member from agg back into a standalone entry, re-pointing
// its router registration at the session itself. When one member remains the
// aggregate auto-dissolves into a standalone session too. A member that is
// not part of agg is a caller bug and panics.
func (c *Container) Separate(agg *Aggregate, member *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOfLocked(agg) < 0 {
		panic("session: separate on aggregate not in container")
	}
	if !agg.remove(member) {
		panic(fmt.Sprintf("session: separate of channel %s not in aggregate", member.Broadcaster().ID))
	}
	c.router.Register(member.Broadcaster().ID, member)
	c.entries = append(c.entries, member)

	c.dissolveIfNeededLocked(agg)
	telemetry.CountSeparate()
}

// dissolveIfNeededLocked converts an aggregate with at most one member back
// into standalone form and removes it.
func (c *Container) dissolveIfNeededLocked(agg *Aggregate) {
	if agg.Size() > 1 {
		return
	}
	for _, rest := range agg.Members() {
		agg.remove(rest)
		c.router.Register(rest.Broadcaster().ID, rest)
		c.entries = append(c.entries, rest)
	}
	c.removeLocked(agg)
	slog.Info("aggregate dissolved")
}

// ClearAll leaves every entry and blocks until every leave completed. Used on
// logout, together with the repository's Clear.
func (c *Container) ClearAll(ctx context.Context) error {
	entries := c.Entries()
	g := new(errgroup.Group)
	for _, e := range entries {
		g.Go(func() error { return e.Leave(ctx) })
	}
	err := g.Wait()

	c.mu.Lock()
	c.entries = nil
	c.selected = make(map[Entry]struct{})
	c.floating = make(map[Entry]struct{})
	c.mu.Unlock()
	telemetry.SetActiveSessions(0)
	return err
}

// dropSession handles a session leave completing: remove its standalone
// entry, or prune it out of the aggregate that owns it.
func (c *Container) dropSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOfLocked(s) >= 0 {
		c.removeLocked(s)
		return
	}
	for _, e := range c.entries {
		if agg, ok := e.(*Aggregate); ok && agg.Contains(s) {
			agg.remove(s)
			c.dissolveIfNeededLocked(agg)
			return
		}
	}
}

// dropAggregate removes an aggregate entry after its leave completed.
func (c *Container) dropAggregate(a *Aggregate) {
	c.mu.Lock()
	c.removeLocked(a)
	c.mu.Unlock()
}

func (c *Container) indexOfLocked(e Entry) int {
	for i, cur := range c.entries {
		if cur == e {
			return i
		}
	}
	return -1
}

func (c *Container) removeLocked(e Entry) {
	if i := c.indexOfLocked(e); i >= 0 {
		c.entries = append(c.entries[:i], c.entries[i+1:]...)
	}
	delete(c.selected, e)
	delete(c.floating, e)
}

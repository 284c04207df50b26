package session

import (
	"context"
	"errors"
	"sync"

	"github.com/onnwee/multichat/feed"
)

// Aggregate is several joined sessions merged into one logical multi-channel
// room. The router registration for every member channel points at the
// aggregate, so one handler set observes all member events. Membership is
// mutated only by the Container's merge/separate operations; an aggregate
// with one member or fewer never survives (auto-dissolve).
type Aggregate struct {
	mu      sync.Mutex
	members []*Session
	subs    map[int]func(feed.Event)
	nextID  int
	onLeft  func(*Aggregate)
}

func newAggregate(members []*Session) *Aggregate {
	return &Aggregate{
		members: members,
		subs:    make(map[int]func(feed.Event)),
	}
}

// Members returns the ordered member sessions.
func (a *Aggregate) Members() []*Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Session, len(a.members))
	copy(out, a.members)
	return out
}

// Size returns the member count.
func (a *Aggregate) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.members)
}

// Contains reports whether s is a member.
func (a *Aggregate) Contains(s *Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.members {
		if m == s {
			return true
		}
	}
	return false
}

func (a *Aggregate) add(s *Session) {
	a.mu.Lock()
	a.members = append(a.members, s)
	a.mu.Unlock()
}

func (a *Aggregate) remove(s *Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, m := range a.members {
		if m == s {
			a.members = append(a.members[:i], a.members[i+1:]...)
			return true
		}
	}
	return false
}

// minMemberID is the lexicographically smallest member channel id. It is the
// deterministic tie-break key when several aggregates merge: the aggregate
// with the smallest key becomes the representative, independent of selection
// or insertion order.
func (a *Aggregate) minMemberID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	min := ""
	for _, m := range a.members {
		if id := m.Broadcaster().ID; min == "" || id < min {
			min = id
		}
	}
	return min
}

func (a *Aggregate) setOnLeft(fn func(*Aggregate)) {
	a.mu.Lock()
	a.onLeft = fn
	a.mu.Unlock()
}

// Subscribe registers a handler observing every member channel's events.
func (a *Aggregate) Subscribe(fn func(feed.Event)) (cancel func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// HandleEvent implements route.Target: fan the event to every aggregate
// subscriber. The event carries its channel id for attribution.
func (a *Aggregate) HandleEvent(ev feed.Event) {
	a.mu.Lock()
	handlers := make([]func(feed.Event), 0, len(a.subs))
	for _, fn := range a.subs {
		handlers = append(handlers, fn)
	}
	a.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// Leave fans out Leave to every member concurrently, waits for all of them,
// and returns the collected failures. Waiting (rather than fire-and-forget)
// makes the aggregate's own completion meaningful to callers like logout.
func (a *Aggregate) Leave(ctx context.Context) error {
	// Detach members first so the container's per-session callbacks do not
	// see them as aggregate members and trigger a dissolve mid-leave.
	a.mu.Lock()
	members := a.members
	a.members = nil
	onLeft := a.onLeft
	a.mu.Unlock()

	errs := make([]error, len(members))
	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m *Session) {
			defer wg.Done()
			errs[i] = m.Leave(ctx)
		}(i, m)
	}
	wg.Wait()

	if onLeft != nil {
		onLeft(a)
	}
	return errors.Join(errs...)
}

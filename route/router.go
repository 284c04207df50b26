// Package route demultiplexes the external event feed to the currently
// registered per-channel target (a standalone session or its controlling
// aggregate).
package route

import (
	"context"
	"log/slog"
	"sync"

	"github.com/onnwee/multichat/feed"
	"github.com/onnwee/multichat/telemetry"
)

// Target receives every event for the channel ids it is registered under.
// Sessions and aggregates implement it.
type Target interface {
	HandleEvent(ev feed.Event)
}

// Router holds the channel id → target table and runs the dispatch loop.
// Register and Unregister are safe concurrently with in-flight dispatch; they
// only affect future lookups for that id.
type Router struct {
	events <-chan feed.Event

	mu      sync.RWMutex
	targets map[string]Target
}

// New builds a router over the feed's event stream.
func New(f *feed.Feed) *Router {
	return &Router{
		events:  f.Events(),
		targets: make(map[string]Target),
	}
}

// Register points future events for id at t, replacing any previous target.
func (r *Router) Register(id string, t Target) {
	r.mu.Lock()
	r.targets[id] = t
	r.mu.Unlock()
}

// Unregister removes the target for id. Events arriving afterwards are
// dropped silently.
func (r *Router) Unregister(id string) {
	r.mu.Lock()
	delete(r.targets, id)
	r.mu.Unlock()
}

// Lookup returns the current target for id.
func (r *Router) Lookup(id string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	return t, ok
}

// Run consumes the feed until ctx is canceled. Dispatch happens on this one
// goroutine: asynchronous relative to the producers, with best-effort
// in-order delivery per channel.
func (r *Router) Run(ctx context.Context) {
	slog.Info("event router started")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.dispatch(ev)
		}
	}
}

func (r *Router) dispatch(ev feed.Event) {
	t, ok := r.Lookup(ev.ChannelID())
	if !ok {
		// No session owns this channel right now; not an error.
		telemetry.CountDropped()
		return
	}
	telemetry.TimeFunc(telemetry.DispatchDuration, func() {
		t.HandleEvent(ev)
	})
	telemetry.CountDispatched(ev.Kind())
}

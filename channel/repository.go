package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/multichat/telemetry"
	"github.com/onnwee/multichat/twitchapi"
)

// ErrNotLoaded is returned when the cache is used before LoadAll succeeded.
var ErrNotLoaded = errors.New("channel repository not loaded; call LoadAll first")

// Loader is the slice of the remote API the repository needs. The resilient
// api client satisfies it.
type Loader interface {
	UsersByID(ctx context.Context, ids []string) ([]twitchapi.User, error)
	StreamsByID(ctx context.Context, ids []string) ([]twitchapi.Stream, error)
	FollowedChannels(ctx context.Context) ([]twitchapi.FollowedChannel, error)
	GlobalBadges(ctx context.Context) ([]twitchapi.BadgeSet, error)
}

// Tracker enables and disables external-feed tracking for a channel id.
// The live-state poller implements it.
type Tracker interface {
	Track(id string)
	Untrack(id string)
}

// Repository is the thread-safe cache of channel State, enforcing the
// persistent-vs-transient lifetime rules. One mutex serializes every
// read-modify-write sequence (load, release, clear); cached lookups inside
// those sequences are plain map reads under the same mutex.
type Repository struct {
	api     Loader
	tracker Tracker

	mu       sync.Mutex
	loaded   bool
	channels map[string]*State
	global   []twitchapi.BadgeSet

	flight singleflight.Group
}

// NewRepository builds an empty repository over the given API slice and tracker.
func NewRepository(api Loader, tracker Tracker) *Repository {
	return &Repository{
		api:      api,
		tracker:  tracker,
		channels: make(map[string]*State),
	}
}

// LoadAll bulk-loads every followed channel with its live status and the
// global badge sets. It is idempotent: a second call is a no-op. Loaded
// channels are persistent and never evicted by Release.
func (r *Repository) LoadAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}

	followed, err := r.api.FollowedChannels(ctx)
	if err != nil {
		return fmt.Errorf("load followed channels: %w", err)
	}
	ids := make([]string, 0, len(followed))
	for _, f := range followed {
		ids = append(ids, f.BroadcasterID)
	}

	users, err := r.api.UsersByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("load followed users: %w", err)
	}
	streams, err := r.api.StreamsByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("load followed streams: %w", err)
	}
	global, err := r.api.GlobalBadges(ctx)
	if err != nil {
		return fmt.Errorf("load global badges: %w", err)
	}

	liveByID := make(map[string]*twitchapi.Stream, len(streams))
	for i := range streams {
		liveByID[streams[i].UserID] = &streams[i]
	}
	for _, u := range users {
		st := &State{
			Broadcaster: BroadcasterFromUser(u),
			persistent:  true,
			following:   true,
		}
		st.stream = StreamInfoFrom(liveByID[u.ID])
		r.channels[u.ID] = st
		r.tracker.Track(u.ID)
	}
	r.global = global
	r.loaded = true
	telemetry.SetChannelsCached(len(r.channels))
	slog.Info("channel cache loaded", slog.Int("channels", len(r.channels)), slog.Int("live", len(liveByID)))
	return nil
}

// GlobalBadges returns the global badge sets loaded by LoadAll.
func (r *Repository) GlobalBadges() []twitchapi.BadgeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.global
}

// Loaded reports whether LoadAll completed.
func (r *Repository) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Count returns the number of channels currently cached.
func (r *Repository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Lookup returns the cached state for id without loading or reference
// counting. Callers that need lifetime guarantees use GetOrLoad.
func (r *Repository) Lookup(id string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.channels[id]
	return st, ok
}

// GetOrLoad returns the cached State for id, fetching profile and stream
// snapshot on a miss. Concurrent calls for the same id collapse into one
// fetch and observe the same State instance. Every successful call takes one
// reference that must be paired with Release.
func (r *Repository) GetOrLoad(ctx context.Context, id string) (*State, error) {
	r.mu.Lock()
	if !r.loaded {
		r.mu.Unlock()
		return nil, ErrNotLoaded
	}
	if st, ok := r.channels[id]; ok {
		st.refs++
		r.mu.Unlock()
		return st, nil
	}
	r.mu.Unlock()

	v, err, _ := r.flight.Do(id, func() (any, error) {
		users, err := r.api.UsersByID(ctx, []string{id})
		if err != nil {
			return nil, fmt.Errorf("load channel %s: %w", id, err)
		}
		if len(users) == 0 {
			return nil, fmt.Errorf("load channel %s: user not found", id)
		}
		streams, err := r.api.StreamsByID(ctx, []string{id})
		if err != nil {
			return nil, fmt.Errorf("load channel %s streams: %w", id, err)
		}
		st := &State{Broadcaster: BroadcasterFromUser(users[0])}
		if len(streams) > 0 {
			st.stream = StreamInfoFrom(&streams[0])
		}
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	fetched := v.(*State)

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another flight may have inserted between our miss and now; the cached
	// instance wins so every caller shares one State per id.
	if st, ok := r.channels[id]; ok {
		st.refs++
		return st, nil
	}
	fetched.refs = 1
	r.channels[id] = fetched
	r.tracker.Track(id)
	telemetry.SetChannelsCached(len(r.channels))
	return fetched, nil
}

// GetOrLoadMany resolves several ids, reusing cached entries and fetching the
// missing ones in one batched round trip. References are taken per id exactly
// as GetOrLoad does.
func (r *Repository) GetOrLoadMany(ctx context.Context, ids []string) ([]*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return nil, ErrNotLoaded
	}

	out := make([]*State, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if st, ok := r.channels[id]; ok {
			st.refs++
			out = append(out, st)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	users, err := r.api.UsersByID(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	streams, err := r.api.StreamsByID(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load channel streams: %w", err)
	}
	liveByID := make(map[string]*twitchapi.Stream, len(streams))
	for i := range streams {
		liveByID[streams[i].UserID] = &streams[i]
	}
	for _, u := range users {
		st := &State{Broadcaster: BroadcasterFromUser(u), refs: 1}
		st.stream = StreamInfoFrom(liveByID[u.ID])
		r.channels[u.ID] = st
		r.tracker.Track(u.ID)
		out = append(out, st)
	}
	telemetry.SetChannelsCached(len(r.channels))
	return out, nil
}

// Retain takes an additional reference on st, the rejoin counterpart of the
// reference taken by GetOrLoad. A state evicted in the meantime is re-inserted
// and tracked again, unless a fresh instance already took its place; Release
// pairs by instance, so the counts stay balanced either way.
func (r *Repository) Retain(st *State) {
	if st == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.persistent {
		return
	}
	cur, ok := r.channels[st.Broadcaster.ID]
	switch {
	case ok && cur == st:
		st.refs++
	case ok:
	default:
		st.refs = 1
		r.channels[st.Broadcaster.ID] = st
		r.tracker.Track(st.Broadcaster.ID)
		telemetry.SetChannelsCached(len(r.channels))
	}
}

// Release drops one reference on st. Persistent channels are never evicted.
// A transient channel whose last reference is released leaves the cache and
// stops being tracked on the feed.
func (r *Repository) Release(st *State) {
	if st == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.persistent {
		return
	}
	cur, ok := r.channels[st.Broadcaster.ID]
	if !ok || cur != st {
		return
	}
	st.refs--
	if st.refs > 0 {
		return
	}
	r.tracker.Untrack(st.Broadcaster.ID)
	delete(r.channels, st.Broadcaster.ID)
	telemetry.SetChannelsCached(len(r.channels))
}

// ApplyStream updates the cached snapshot for id from the external feed.
// Unknown ids are ignored.
func (r *Repository) ApplyStream(id string, info *StreamInfo) {
	r.mu.Lock()
	st, ok := r.channels[id]
	r.mu.Unlock()
	if ok {
		st.SetStream(info)
	}
}

// Clear releases every channel, persistent or not, and resets the loaded
// flag. Used on logout.
func (r *Repository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.channels {
		r.tracker.Untrack(id)
	}
	r.channels = make(map[string]*State)
	r.global = nil
	r.loaded = false
	telemetry.SetChannelsCached(0)
}

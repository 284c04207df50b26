package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/multichat/channel"
	"github.com/onnwee/multichat/twitchapi"
)

// StreamSource is the slice of the remote API the poller needs.
type StreamSource interface {
	StreamsByID(ctx context.Context, ids []string) ([]twitchapi.Stream, error)
}

// StateSink receives fresh stream snapshots so the channel cache stays
// current. The channel repository implements it.
type StateSink interface {
	ApplyStream(id string, info *channel.StreamInfo)
}

type trackedChannel struct {
	primed bool
	info   *channel.StreamInfo
}

// Poller periodically fetches live status for the tracked channel set and
// diffs consecutive snapshots into channel-scoped events. It implements
// channel.Tracker.
type Poller struct {
	src      StreamSource
	sink     StateSink
	feed     *Feed
	interval time.Duration

	mu      sync.Mutex
	tracked map[string]*trackedChannel
}

// NewPoller builds a poller emitting into f every interval. sink may be nil.
func NewPoller(src StreamSource, sink StateSink, f *Feed, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		src:      src,
		sink:     sink,
		feed:     f,
		interval: interval,
		tracked:  make(map[string]*trackedChannel),
	}
}

// SetSink directs fresh stream snapshots to sink. Used to break the
// construction cycle with the channel repository, which is both the poller's
// sink and the owner of the tracked set.
func (p *Poller) SetSink(sink StateSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// Track starts live-status tracking for id. The first observation only primes
// the baseline; events flow from the second poll on.
func (p *Poller) Track(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tracked[id]; !ok {
		p.tracked[id] = &trackedChannel{}
	}
}

// Untrack stops tracking id.
func (p *Poller) Untrack(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tracked, id)
}

// TrackedIDs returns the ids currently tracked.
func (p *Poller) TrackedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.tracked))
	for id := range p.tracked {
		ids = append(ids, id)
	}
	return ids
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	slog.Info("live-status poller started", slog.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce fetches live status for the tracked set and emits diff events.
// Sink calls and emits happen after p.mu is dropped: the sink is the channel
// repository, which calls Track and Untrack under its own lock.
func (p *Poller) pollOnce(ctx context.Context) {
	ids := p.TrackedIDs()
	if len(ids) == 0 {
		return
	}
	streams, err := p.src.StreamsByID(ctx, ids)
	if err != nil {
		slog.Debug("live-status poll failed", slog.Any("err", err))
		return
	}
	liveByID := make(map[string]*twitchapi.Stream, len(streams))
	for i := range streams {
		liveByID[streams[i].UserID] = &streams[i]
	}

	type update struct {
		id   string
		info *channel.StreamInfo
	}
	p.mu.Lock()
	sink := p.sink
	updates := make([]update, 0, len(p.tracked))
	var events []Event
	for id, tc := range p.tracked {
		cur := channel.StreamInfoFrom(liveByID[id])
		updates = append(updates, update{id: id, info: cur})
		prev := tc.info
		tc.info = cur
		if !tc.primed {
			tc.primed = true
			continue
		}
		events = append(events, diffStream(id, prev, cur)...)
	}
	p.mu.Unlock()

	for _, u := range updates {
		if sink != nil {
			sink.ApplyStream(u.id, u.info)
		}
	}
	for _, ev := range events {
		p.feed.Emit(ev)
	}
}

// diffStream turns two consecutive snapshots into events. Title and game
// changes are reported before the viewer-count move so consumers see the new
// metadata first.
func diffStream(id string, prev, cur *channel.StreamInfo) []Event {
	switch {
	case prev == nil && cur == nil:
		return nil
	case prev == nil:
		return []Event{StreamOnline{ID: id, Info: cur}}
	case cur == nil:
		return []Event{StreamOffline{ID: id}}
	}
	var out []Event
	if prev.Title != cur.Title {
		out = append(out, TitleChanged{ID: id, Info: cur})
	}
	if prev.GameID != cur.GameID {
		out = append(out, GameChanged{ID: id, Info: cur})
	}
	if prev.ViewerCount != cur.ViewerCount {
		out = append(out, ViewerCountChanged{ID: id, Info: cur})
	}
	return out
}

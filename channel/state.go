package channel

import (
	"sync"

	"github.com/onnwee/multichat/twitchapi"
)

// State is the cached live state of one channel, keyed by Broadcaster.ID.
// It is created and evicted exclusively by the Repository; everything else
// holds shared read-mostly references.
type State struct {
	Broadcaster Broadcaster

	mu     sync.RWMutex
	stream *StreamInfo
	badges []twitchapi.BadgeSet

	// persistent/following are set once at load time and never flip while
	// cached. refs is owned by the Repository and guarded by its mutex.
	persistent bool
	following  bool
	refs       int
}

// Stream returns the current live snapshot, nil when offline.
func (s *State) Stream() *StreamInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream
}

// SetStream replaces the live snapshot. A nil value marks the channel offline.
func (s *State) SetStream(info *StreamInfo) {
	s.mu.Lock()
	s.stream = info
	s.mu.Unlock()
}

// Live reports whether the channel currently has a stream snapshot.
func (s *State) Live() bool {
	return s.Stream() != nil
}

// Badges returns the channel badge sets loaded so far; nil until loaded.
func (s *State) Badges() []twitchapi.BadgeSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.badges
}

// SetBadges stores lazily-loaded channel badges.
func (s *State) SetBadges(badges []twitchapi.BadgeSet) {
	s.mu.Lock()
	s.badges = badges
	s.mu.Unlock()
}

// HasBadges reports whether channel badges were loaded already.
func (s *State) HasBadges() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.badges != nil
}

// Persistent reports whether this state survives Release (followed channels).
func (s *State) Persistent() bool { return s.persistent }

// Following reports whether the authorized user follows this channel.
func (s *State) Following() bool { return s.following }

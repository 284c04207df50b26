// Package channel caches per-channel remote state: broadcaster identity,
// live-stream snapshot, chat badges, and the persistent/following lifetime
// flags. The Repository owns every State instance; sessions share them
// read-mostly.
package channel

import (
	"time"

	"github.com/onnwee/multichat/twitchapi"
)

// Broadcaster is the immutable identity of a channel's owner.
type Broadcaster struct {
	ID              string
	Login           string
	DisplayName     string
	ProfileImageURL string
	OfflineImageURL string
}

// Equal compares broadcasters by id and login only; display fields may change
// without affecting identity.
func (b Broadcaster) Equal(o Broadcaster) bool {
	return b.ID == o.ID && b.Login == o.Login
}

// BroadcasterFromUser converts a Helix user record.
func BroadcasterFromUser(u twitchapi.User) Broadcaster {
	return Broadcaster{
		ID:              u.ID,
		Login:           u.Login,
		DisplayName:     u.DisplayName,
		ProfileImageURL: u.ProfileImageURL,
		OfflineImageURL: u.OfflineImageURL,
	}
}

// StreamInfo is an immutable snapshot of a live stream.
type StreamInfo struct {
	Title       string
	GameID      string
	GameName    string
	ViewerCount int
	StartedAt   time.Time
	Tags        []string
	Language    string
}

// StreamInfoFrom converts a Helix stream record. A nil return means offline.
func StreamInfoFrom(s *twitchapi.Stream) *StreamInfo {
	if s == nil {
		return nil
	}
	return &StreamInfo{
		Title:       s.Title,
		GameID:      s.GameID,
		GameName:    s.GameName,
		ViewerCount: s.ViewerCount,
		StartedAt:   s.StartedAt,
		Tags:        s.Tags,
		Language:    s.Language,
	}
}

package feed

import (
	"time"

	"github.com/onnwee/multichat/channel"
)

// Event is one feed occurrence, routed by channel id. Consumers type-switch
// on the concrete event instead of implementing wide listener interfaces.
type Event interface {
	// ChannelID is the broadcaster id the event belongs to.
	ChannelID() string
	// Kind is a stable name for metrics and logging.
	Kind() string
}

// RoomState is one of the four chat room toggles.
type RoomState int

const (
	EmoteOnly RoomState = iota
	FollowersOnly
	SlowMode
	SubscribersOnly
)

func (rs RoomState) String() string {
	switch rs {
	case EmoteOnly:
		return "emote-only"
	case FollowersOnly:
		return "followers-only"
	case SlowMode:
		return "slow-mode"
	case SubscribersOnly:
		return "subscribers-only"
	default:
		return "unknown"
	}
}

// Room-scoped events -------------------------------------------------------

// ChatMessage is a posted chat message.
type ChatMessage struct {
	RoomID      string
	MessageID   string
	Login       string
	DisplayName string
	Color       string
	Badges      map[string]int
	Text        string
	At          time.Time
	First       bool
}

func (e ChatMessage) ChannelID() string { return e.RoomID }
func (e ChatMessage) Kind() string      { return "chat_message" }

// ChatCleared is a full chat clear, or a per-user clear on timeout/ban when
// TargetUserID is set.
type ChatCleared struct {
	RoomID       string
	TargetUserID string
	BanDuration  int
}

func (e ChatCleared) ChannelID() string { return e.RoomID }
func (e ChatCleared) Kind() string      { return "chat_cleared" }

// MessageDeleted is a single-message deletion.
type MessageDeleted struct {
	RoomID    string
	MessageID string
	Login     string
}

func (e MessageDeleted) ChannelID() string { return e.RoomID }
func (e MessageDeleted) Kind() string      { return "message_deleted" }

// RoomStateChanged is one room toggle flipping. Value carries the mode
// parameter where one exists (slow-mode seconds, followers-only minutes).
type RoomStateChanged struct {
	RoomID string
	State  RoomState
	Active bool
	Value  int
}

func (e RoomStateChanged) ChannelID() string { return e.RoomID }
func (e RoomStateChanged) Kind() string      { return "room_state_changed" }

// Raid is an incoming raid.
type Raid struct {
	RoomID      string
	RaiderLogin string
	RaiderName  string
	ViewerCount int
}

func (e Raid) ChannelID() string { return e.RoomID }
func (e Raid) Kind() string      { return "raid" }

// Sub is a subscription or resubscription.
type Sub struct {
	RoomID      string
	Login       string
	DisplayName string
	Months      int
	Tier        string
	Message     string
}

func (e Sub) ChannelID() string { return e.RoomID }
func (e Sub) Kind() string      { return "sub" }

// GiftSub is a gifted subscription; Count > 1 for mystery gifts.
type GiftSub struct {
	RoomID         string
	GifterLogin    string
	GifterName     string
	RecipientLogin string
	Count          int
	Tier           string
}

func (e GiftSub) ChannelID() string { return e.RoomID }
func (e GiftSub) Kind() string      { return "gift_sub" }

// Cheer is a bits cheer, carried with its chat message text.
type Cheer struct {
	RoomID      string
	Login       string
	DisplayName string
	Bits        int
	Text        string
	At          time.Time
}

func (e Cheer) ChannelID() string { return e.RoomID }
func (e Cheer) Kind() string      { return "cheer" }

// Channel-scoped events -----------------------------------------------------

// StreamOnline marks a channel going live.
type StreamOnline struct {
	ID   string
	Info *channel.StreamInfo
}

func (e StreamOnline) ChannelID() string { return e.ID }
func (e StreamOnline) Kind() string      { return "stream_online" }

// StreamOffline marks a channel going offline.
type StreamOffline struct {
	ID string
}

func (e StreamOffline) ChannelID() string { return e.ID }
func (e StreamOffline) Kind() string      { return "stream_offline" }

// ViewerCountChanged carries a fresh snapshot after the viewer count moved.
type ViewerCountChanged struct {
	ID   string
	Info *channel.StreamInfo
}

func (e ViewerCountChanged) ChannelID() string { return e.ID }
func (e ViewerCountChanged) Kind() string      { return "viewer_count_changed" }

// TitleChanged carries a fresh snapshot after the stream title changed.
type TitleChanged struct {
	ID   string
	Info *channel.StreamInfo
}

func (e TitleChanged) ChannelID() string { return e.ID }
func (e TitleChanged) Kind() string      { return "title_changed" }

// GameChanged carries a fresh snapshot after the game/category changed.
type GameChanged struct {
	ID   string
	Info *channel.StreamInfo
}

func (e GameChanged) ChannelID() string { return e.ID }
func (e GameChanged) Kind() string      { return "game_changed" }

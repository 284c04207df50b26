package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// ChatConn is one authenticated Twitch IRC connection. It translates chat
// traffic into room-scoped events and pushes them into the sink. The resilient
// api client owns its lifecycle: on a credential swap a fresh ChatConn is
// built, the joined set is carried over, and the old one is closed.
type ChatConn struct {
	irc  *twitch.Client
	sink func(Event)

	mu     sync.Mutex
	joined map[string]struct{}
	closed bool
}

// NewChatConn builds a connection for username with the given user access
// token. Call Start to connect.
func NewChatConn(username, accessToken string, sink func(Event)) *ChatConn {
	c := &ChatConn{
		irc:    twitch.NewClient(username, "oauth:"+accessToken),
		sink:   sink,
		joined: make(map[string]struct{}),
	}

	c.irc.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if msg.Bits > 0 {
			c.sink(Cheer{
				RoomID:      msg.RoomID,
				Login:       msg.User.Name,
				DisplayName: msg.User.DisplayName,
				Bits:        msg.Bits,
				Text:        msg.Message,
				At:          msg.Time,
			})
			return
		}
		c.sink(ChatMessage{
			RoomID:      msg.RoomID,
			MessageID:   msg.ID,
			Login:       msg.User.Name,
			DisplayName: msg.User.DisplayName,
			Color:       msg.User.Color,
			Badges:      msg.User.Badges,
			Text:        msg.Message,
			At:          msg.Time,
			First:       msg.FirstMessage,
		})
	})

	c.irc.OnClearChatMessage(func(msg twitch.ClearChatMessage) {
		c.sink(ChatCleared{
			RoomID:       msg.RoomID,
			TargetUserID: msg.TargetUserID,
			BanDuration:  msg.BanDuration,
		})
	})

	c.irc.OnClearMessage(func(msg twitch.ClearMessage) {
		c.sink(MessageDeleted{
			RoomID:    msg.Tags["room-id"],
			MessageID: msg.TargetMsgID,
			Login:     msg.Login,
		})
	})

	c.irc.OnRoomStateMessage(func(msg twitch.RoomStateMessage) {
		for _, ev := range roomStateEvents(msg.RoomID, msg.State) {
			c.sink(ev)
		}
	})

	c.irc.OnUserNoticeMessage(func(msg twitch.UserNoticeMessage) {
		if ev, ok := userNoticeEvent(msg); ok {
			c.sink(ev)
		}
	})

	return c
}

// Start connects in the background and disconnects when ctx is canceled.
func (c *ChatConn) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	go func() {
		if err := c.irc.Connect(); err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			slog.Error("twitch chat connect error", slog.Any("err", err))
		}
	}()
}

// Join subscribes the connection to a channel's chat by login.
func (c *ChatConn) Join(login string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("chat connection closed")
	}
	c.irc.Join(login)
	c.joined[login] = struct{}{}
	return nil
}

// Depart unsubscribes from a channel's chat.
func (c *ChatConn) Depart(login string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("chat connection closed")
	}
	c.irc.Depart(login)
	delete(c.joined, login)
	return nil
}

// Joined returns the logins currently joined, for carry-over on client swap.
func (c *ChatConn) Joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for login := range c.joined {
		out = append(out, login)
	}
	return out
}

// Close disconnects; the connection cannot be reused afterwards.
func (c *ChatConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.irc.Disconnect()
}

// roomStateEvents maps the ROOMSTATE tag set to toggle events. Twitch sends
// only the changed tags on updates and the full set on join.
func roomStateEvents(roomID string, state map[string]int) []Event {
	var out []Event
	if v, ok := state["emote-only"]; ok {
		out = append(out, RoomStateChanged{RoomID: roomID, State: EmoteOnly, Active: v == 1})
	}
	if v, ok := state["followers-only"]; ok {
		// -1 disabled, >= 0 enabled with minimum follow age in minutes.
		out = append(out, RoomStateChanged{RoomID: roomID, State: FollowersOnly, Active: v >= 0, Value: max(v, 0)})
	}
	if v, ok := state["slow"]; ok {
		out = append(out, RoomStateChanged{RoomID: roomID, State: SlowMode, Active: v > 0, Value: v})
	}
	if v, ok := state["subs-only"]; ok {
		out = append(out, RoomStateChanged{RoomID: roomID, State: SubscribersOnly, Active: v == 1})
	}
	return out
}

// userNoticeEvent maps USERNOTICE msg-ids to raid/sub/gift events. Notices we
// do not model (announcements, rituals) are skipped.
func userNoticeEvent(msg twitch.UserNoticeMessage) (Event, bool) {
	switch msg.MsgID {
	case "raid":
		viewers, _ := strconv.Atoi(msg.MsgParams["msg-param-viewerCount"])
		return Raid{
			RoomID:      msg.RoomID,
			RaiderLogin: msg.User.Name,
			RaiderName:  msg.MsgParams["msg-param-displayName"],
			ViewerCount: viewers,
		}, true
	case "sub", "resub":
		months, _ := strconv.Atoi(msg.MsgParams["msg-param-cumulative-months"])
		return Sub{
			RoomID:      msg.RoomID,
			Login:       msg.User.Name,
			DisplayName: msg.User.DisplayName,
			Months:      months,
			Tier:        msg.MsgParams["msg-param-sub-plan"],
			Message:     msg.Message,
		}, true
	case "subgift":
		return GiftSub{
			RoomID:         msg.RoomID,
			GifterLogin:    msg.User.Name,
			GifterName:     msg.User.DisplayName,
			RecipientLogin: msg.MsgParams["msg-param-recipient-user-name"],
			Count:          1,
			Tier:           msg.MsgParams["msg-param-sub-plan"],
		}, true
	case "submysterygift":
		count, _ := strconv.Atoi(msg.MsgParams["msg-param-mass-gift-count"])
		if count == 0 {
			count = 1
		}
		return GiftSub{
			RoomID:      msg.RoomID,
			GifterLogin: msg.User.Name,
			GifterName:  msg.User.DisplayName,
			Count:       count,
			Tier:        msg.MsgParams["msg-param-sub-plan"],
		}, true
	}
	return nil, false
}

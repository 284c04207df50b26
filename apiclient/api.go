package apiclient

import (
	"context"
	"fmt"

	"github.com/onnwee/multichat/twitchapi"
)

// Typed facade over Do. These methods satisfy the narrow interfaces the
// repository, poller and sessions consume (channel.Loader, feed.StreamSource,
// session.API).

// UsersByID resolves user records by id.
func (r *Resilient) UsersByID(ctx context.Context, ids []string) ([]twitchapi.User, error) {
	var out []twitchapi.User
	err := r.Do(ctx, func(ctx context.Context, c *Client) error {
		var err error
		out, err = c.Helix.GetUsers(ctx, ids)
		return err
	})
	return out, err
}

// UsersByLogin resolves user records by login name.
func (r *Resilient) UsersByLogin(ctx context.Context, logins []string) ([]twitchapi.User, error) {
	var out []twitchapi.User
	err := r.Do(ctx, func(ctx context.Context, c *Client) error {
		var err error
		out, err = c.Helix.GetUsersByLogin(ctx, logins)
		return err
	})
	return out, err
}

// StreamsByID returns live streams for the given channel ids.
func (r *Resilient) StreamsByID(ctx context.Context, ids []string) ([]twitchapi.Stream, error) {
	var out []twitchapi.Stream
	err := r.Do(ctx, func(ctx context.Context, c *Client) error {
		var err error
		out, err = c.Helix.GetStreams(ctx, ids)
		return err
	})
	return out, err
}

// FollowedChannels lists the authorized user's follows, resolving the user's
// own id once and caching it.
func (r *Resilient) FollowedChannels(ctx context.Context) ([]twitchapi.FollowedChannel, error) {
	var out []twitchapi.FollowedChannel
	err := r.Do(ctx, func(ctx context.Context, c *Client) error {
		if r.selfID == "" {
			users, err := c.Helix.GetUsersByLogin(ctx, []string{r.selfLogin})
			if err != nil {
				return err
			}
			if len(users) == 0 {
				return fmt.Errorf("authorized user %q not found", r.selfLogin)
			}
			r.selfID = users[0].ID
		}
		var err error
		out, err = c.Helix.GetFollowedChannels(ctx, r.selfID)
		return err
	})
	return out, err
}

// SearchChannels searches channels by keyword.
func (r *Resilient) SearchChannels(ctx context.Context, keyword string, liveOnly bool) ([]twitchapi.ChannelResult, error) {
	var out []twitchapi.ChannelResult
	err := r.Do(ctx, func(ctx context.Context, c *Client) error {
		var err error
		out, err = c.Helix.SearchChannels(ctx, keyword, liveOnly)
		return err
	})
	return out, err
}

// GlobalBadges returns the global chat badge sets.
func (r *Resilient) GlobalBadges(ctx context.Context) ([]twitchapi.BadgeSet, error) {
	var out []twitchapi.BadgeSet
	err := r.Do(ctx, func(ctx context.Context, c *Client) error {
		var err error
		out, err = c.Helix.GetGlobalBadges(ctx)
		return err
	})
	return out, err
}

// ChannelBadges returns broadcaster-specific chat badge sets.
func (r *Resilient) ChannelBadges(ctx context.Context, broadcasterID string) ([]twitchapi.BadgeSet, error) {
	var out []twitchapi.BadgeSet
	err := r.Do(ctx, func(ctx context.Context, c *Client) error {
		var err error
		out, err = c.Helix.GetChannelBadges(ctx, broadcasterID)
		return err
	})
	return out, err
}

// Clips fetches clips by id.
func (r *Resilient) Clips(ctx context.Context, ids []string) ([]twitchapi.Clip, error) {
	var out []twitchapi.Clip
	err := r.Do(ctx, func(ctx context.Context, c *Client) error {
		var err error
		out, err = c.Helix.GetClips(ctx, ids)
		return err
	})
	return out, err
}

// JoinChat subscribes the chat connection to a channel by login.
func (r *Resilient) JoinChat(ctx context.Context, login string) error {
	return r.Do(ctx, func(ctx context.Context, c *Client) error {
		return c.Chat.Join(login)
	})
}

// LeaveChat unsubscribes the chat connection from a channel.
func (r *Resilient) LeaveChat(ctx context.Context, login string) error {
	return r.Do(ctx, func(ctx context.Context, c *Client) error {
		return c.Chat.Depart(login)
	})
}

// Package twitchapi contains helpers to interact with Twitch Helix APIs:
// user/stream lookup, followed channels, channel search, chat badges and
// clips, authenticated with a user OAuth token supplied by a Credentials
// provider.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// MaxBatchIDs is the Helix limit on ids per request for users, streams and clips.
const MaxBatchIDs = 100

// User is a Helix user record.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
	OfflineImageURL string `json:"offline_image_url"`
}

// Stream is a Helix live-stream record. Absence from a streams response means offline.
type Stream struct {
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	Title       string    `json:"title"`
	GameID      string    `json:"game_id"`
	GameName    string    `json:"game_name"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
	Tags        []string  `json:"tags"`
	Language    string    `json:"language"`
}

// FollowedChannel is one entry of the user's follow list.
type FollowedChannel struct {
	BroadcasterID    string `json:"broadcaster_id"`
	BroadcasterLogin string `json:"broadcaster_login"`
	BroadcasterName  string `json:"broadcaster_name"`
}

// ChannelResult is a channel search hit.
type ChannelResult struct {
	ID          string `json:"id"`
	Login       string `json:"broadcaster_login"`
	DisplayName string `json:"display_name"`
	IsLive      bool   `json:"is_live"`
	GameID      string `json:"game_id"`
	GameName    string `json:"game_name"`
	Title       string `json:"title"`
}

// BadgeVersion is one version of a chat badge set.
type BadgeVersion struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url_4x"`
	Title    string `json:"title"`
}

// BadgeSet is a named set of chat badge versions.
type BadgeSet struct {
	SetID    string         `json:"set_id"`
	Versions []BadgeVersion `json:"versions"`
}

// Clip is a Helix clip record.
type Clip struct {
	ID            string  `json:"id"`
	URL           string  `json:"url"`
	EmbedURL      string  `json:"embed_url"`
	BroadcasterID string  `json:"broadcaster_id"`
	Title         string  `json:"title"`
	ThumbnailURL  string  `json:"thumbnail_url"`
	Duration      float64 `json:"duration"`
	CreatedAt     string  `json:"created_at"`
}

// HelixClient issues authenticated Helix requests. BaseURL defaults to the
// public Helix endpoint and is overridable for tests.
type HelixClient struct {
	BaseURL     string
	ClientID    string
	Credentials Credentials
	HTTPClient  *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return "https://api.twitch.tv/helix"
}

// get performs an authenticated GET against path with query q and decodes the
// JSON body into out. Non-2xx responses become *APIError.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	tok, err := hc.Credentials.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
		var envelope struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &envelope) == nil && envelope.Message != "" {
			apiErr.Message = envelope.Message
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// chunkIDs splits ids into batches of at most MaxBatchIDs.
func chunkIDs(ids []string) [][]string {
	var out [][]string
	for len(ids) > MaxBatchIDs {
		out = append(out, ids[:MaxBatchIDs])
		ids = ids[MaxBatchIDs:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// GetUsers resolves up to any number of user ids, batching requests at the
// Helix per-request limit.
func (hc *HelixClient) GetUsers(ctx context.Context, ids []string) ([]User, error) {
	var users []User
	for _, batch := range chunkIDs(ids) {
		q := url.Values{}
		for _, id := range batch {
			q.Add("id", id)
		}
		var body struct {
			Data []User `json:"data"`
		}
		if err := hc.get(ctx, "/users", q, &body); err != nil {
			return nil, fmt.Errorf("get users: %w", err)
		}
		users = append(users, body.Data...)
	}
	return users, nil
}

// GetUsersByLogin resolves login names to user records, batched.
func (hc *HelixClient) GetUsersByLogin(ctx context.Context, logins []string) ([]User, error) {
	var users []User
	for _, batch := range chunkIDs(logins) {
		q := url.Values{}
		for _, login := range batch {
			q.Add("login", login)
		}
		var body struct {
			Data []User `json:"data"`
		}
		if err := hc.get(ctx, "/users", q, &body); err != nil {
			return nil, fmt.Errorf("get users by login: %w", err)
		}
		users = append(users, body.Data...)
	}
	return users, nil
}

// GetStreams returns live streams for the given user ids, batched. Offline
// channels are simply absent from the result.
func (hc *HelixClient) GetStreams(ctx context.Context, ids []string) ([]Stream, error) {
	var streams []Stream
	for _, batch := range chunkIDs(ids) {
		q := url.Values{}
		for _, id := range batch {
			q.Add("user_id", id)
		}
		q.Set("first", strconv.Itoa(MaxBatchIDs))
		var body struct {
			Data []Stream `json:"data"`
		}
		if err := hc.get(ctx, "/streams", q, &body); err != nil {
			return nil, fmt.Errorf("get streams: %w", err)
		}
		streams = append(streams, body.Data...)
	}
	return streams, nil
}

// GetFollowedChannels walks the full follow list of userID across pages.
func (hc *HelixClient) GetFollowedChannels(ctx context.Context, userID string) ([]FollowedChannel, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	var followed []FollowedChannel
	cursor := ""
	for {
		q := url.Values{}
		q.Set("user_id", userID)
		q.Set("first", strconv.Itoa(MaxBatchIDs))
		if cursor != "" {
			q.Set("after", cursor)
		}
		var body struct {
			Data       []FollowedChannel `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := hc.get(ctx, "/channels/followed", q, &body); err != nil {
			return nil, fmt.Errorf("get followed channels: %w", err)
		}
		followed = append(followed, body.Data...)
		if body.Pagination.Cursor == "" {
			return followed, nil
		}
		cursor = body.Pagination.Cursor
	}
}

// SearchChannels searches channels by keyword, optionally restricted to live ones.
func (hc *HelixClient) SearchChannels(ctx context.Context, keyword string, liveOnly bool) ([]ChannelResult, error) {
	if keyword == "" {
		return nil, fmt.Errorf("keyword empty")
	}
	q := url.Values{}
	q.Set("query", keyword)
	if liveOnly {
		q.Set("live_only", "true")
	}
	var body struct {
		Data []ChannelResult `json:"data"`
	}
	if err := hc.get(ctx, "/search/channels", q, &body); err != nil {
		return nil, fmt.Errorf("search channels: %w", err)
	}
	return body.Data, nil
}

// GetGlobalBadges returns the global chat badge sets.
func (hc *HelixClient) GetGlobalBadges(ctx context.Context) ([]BadgeSet, error) {
	var body struct {
		Data []BadgeSet `json:"data"`
	}
	if err := hc.get(ctx, "/chat/badges/global", url.Values{}, &body); err != nil {
		return nil, fmt.Errorf("get global badges: %w", err)
	}
	return body.Data, nil
}

// GetChannelBadges returns broadcaster-specific chat badge sets.
func (hc *HelixClient) GetChannelBadges(ctx context.Context, broadcasterID string) ([]BadgeSet, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	var body struct {
		Data []BadgeSet `json:"data"`
	}
	if err := hc.get(ctx, "/chat/badges", q, &body); err != nil {
		return nil, fmt.Errorf("get channel badges: %w", err)
	}
	return body.Data, nil
}

// GetClips fetches clips by id, batched.
func (hc *HelixClient) GetClips(ctx context.Context, ids []string) ([]Clip, error) {
	var clips []Clip
	for _, batch := range chunkIDs(ids) {
		q := url.Values{}
		for _, id := range batch {
			q.Add("id", id)
		}
		var body struct {
			Data []Clip `json:"data"`
		}
		if err := hc.get(ctx, "/clips", q, &body); err != nil {
			return nil, fmt.Errorf("get clips: %w", err)
		}
		clips = append(clips, body.Data...)
	}
	return clips, nil
}

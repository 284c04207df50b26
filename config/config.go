// Package config loads environment variables and provides a typed Config used across the client.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials, use ValidateAuthReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Twitch credentials
	TwitchClientID     string
	TwitchClientSecret string
	TwitchUsername     string
	TwitchRefreshToken string
	TwitchAccessToken  string

	// API endpoints (overridable for tests / mock servers)
	HelixURL string
	AuthURL  string

	// Engine tuning
	LivePollInterval     time.Duration
	TokenRefreshInterval time.Duration
	FeedBufferSize       int

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds
// are missing; use ValidateAuthReady() when you require an authorized session.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchUsername = os.Getenv("TWITCH_USERNAME")
	cfg.TwitchRefreshToken = os.Getenv("TWITCH_REFRESH_TOKEN")
	cfg.TwitchAccessToken = os.Getenv("TWITCH_ACCESS_TOKEN")

	cfg.HelixURL = os.Getenv("TWITCH_HELIX_URL")
	if cfg.HelixURL == "" {
		cfg.HelixURL = "https://api.twitch.tv/helix"
	}
	cfg.AuthURL = os.Getenv("TWITCH_AUTH_URL")
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://id.twitch.tv/oauth2/token"
	}

	cfg.LivePollInterval = 30 * time.Second
	if v := os.Getenv("LIVE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid LIVE_POLL_INTERVAL: %q", v)
		}
		cfg.LivePollInterval = d
	}

	// Twitch user tokens live ~4h; refresh preemptively well before expiry.
	cfg.TokenRefreshInterval = 210 * time.Minute
	if v := os.Getenv("TOKEN_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid TOKEN_REFRESH_INTERVAL: %q", v)
		}
		cfg.TokenRefreshInterval = d
	}

	cfg.FeedBufferSize = 256
	if v := os.Getenv("FEED_BUFFER_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid FEED_BUFFER_SIZE: %q", v)
		}
		cfg.FeedBufferSize = n
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// ValidateAuthReady checks required fields for an authorized Twitch session.
func (c *Config) ValidateAuthReady() error {
	if c.TwitchClientID == "" || c.TwitchUsername == "" || c.TwitchRefreshToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_USERNAME, TWITCH_REFRESH_TOKEN")
	}
	return nil
}

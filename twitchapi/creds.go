package twitchapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// Credentials supplies the user OAuth token for Helix and IRC and can force a
// refresh when the remote side rejects it. Implementations must be safe for
// concurrent use.
type Credentials interface {
	// AccessToken returns a currently-valid access token, refreshing lazily
	// if the cached one expired.
	AccessToken(ctx context.Context) (string, error)
	// Refresh discards the cached token and obtains a fresh one.
	Refresh(ctx context.Context) (string, error)
}

// OAuthCredentials implements Credentials on top of the oauth2 refresh-token
// grant against the Twitch identity endpoint. The device-flow UX that produced
// the initial refresh token lives outside this package.
type OAuthCredentials struct {
	conf *oauth2.Config

	mu      sync.Mutex
	refresh string
	token   *oauth2.Token
}

// NewOAuthCredentials builds credentials from a long-lived refresh token.
// authURL overrides the token endpoint for tests; empty uses the Twitch default.
// accessToken optionally seeds the cache with an already-issued token.
func NewOAuthCredentials(clientID, clientSecret, refreshToken, accessToken, authURL string) *OAuthCredentials {
	endpoint := twitch.Endpoint
	if authURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: authURL}
	}
	c := &OAuthCredentials{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
		},
		refresh: refreshToken,
	}
	if accessToken != "" {
		// Trust the seeded token for a short while; remote rejection triggers
		// a refresh through the resilient client anyway.
		c.token = &oauth2.Token{AccessToken: accessToken, Expiry: time.Now().Add(30 * time.Minute)}
	}
	return c
}

// AccessToken returns the cached token when still valid, refreshing otherwise.
func (c *OAuthCredentials) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token.Valid() {
		tok := c.token.AccessToken
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh exchanges the refresh token for a new access token and rotates the
// refresh token if Twitch issued a new one.
func (c *OAuthCredentials) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refresh == "" {
		return "", errors.New("no refresh token available")
	}
	tok, err := c.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.refresh}).Token()
	if err != nil {
		return "", err
	}
	c.token = tok
	if tok.RefreshToken != "" {
		c.refresh = tok.RefreshToken
	}
	return tok.AccessToken, nil
}

package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func tokenEndpoint(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL + "/oauth2/token"
}

func TestOAuthCredentialsRefreshRotation(t *testing.T) {
	var issued int
	url := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if g := r.Form.Get("grant_type"); g != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", g)
		}
		wantRefresh := "refresh-0"
		if issued > 0 {
			wantRefresh = "refresh-1"
		}
		if got := r.Form.Get("refresh_token"); got != wantRefresh {
			t.Errorf("refresh_token = %q, want %q", got, wantRefresh)
		}
		issued++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-" + r.Form.Get("refresh_token"),
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"token_type":    "bearer",
		})
	})

	creds := NewOAuthCredentials("cid", "secret", "refresh-0", "", url)
	tok, err := creds.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if tok != "access-refresh-0" {
		t.Errorf("token = %q, want access-refresh-0", tok)
	}

	// The rotated refresh token must be used next time.
	if _, err := creds.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh error: %v", err)
	}
	if issued != 2 {
		t.Errorf("token endpoint hit %d times, want 2", issued)
	}
}

func TestOAuthCredentialsAccessTokenCaching(t *testing.T) {
	var issued int
	url := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		issued++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	})

	creds := NewOAuthCredentials("cid", "secret", "rt", "seeded", url)
	tok, err := creds.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken error: %v", err)
	}
	if tok != "seeded" {
		t.Errorf("token = %q, want seeded token without a refresh", tok)
	}
	if issued != 0 {
		t.Errorf("token endpoint hit %d times, want 0 while cache valid", issued)
	}

	// Forced refresh replaces the cache.
	if _, err := creds.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	tok, err = creds.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken after refresh error: %v", err)
	}
	if tok != "fresh" {
		t.Errorf("token = %q, want fresh", tok)
	}
	if issued != 1 {
		t.Errorf("token endpoint hit %d times, want 1", issued)
	}
}

func TestOAuthCredentialsNoRefreshToken(t *testing.T) {
	creds := NewOAuthCredentials("cid", "secret", "", "", "")
	if _, err := creds.Refresh(context.Background()); err == nil {
		t.Errorf("expected error when no refresh token is available")
	}
}

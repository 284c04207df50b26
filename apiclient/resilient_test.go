package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/multichat/twitchapi"
)

type fakeCreds struct {
	mu        sync.Mutex
	refreshes int
	err       error
}

func (c *fakeCreds) AccessToken(_ context.Context) (string, error) { return "tok", nil }
func (c *fakeCreds) Refresh(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.refreshes++
	return fmt.Sprintf("tok-%d", c.refreshes), nil
}

func (c *fakeCreds) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

type fakeChat struct {
	mu     sync.Mutex
	joined map[string]struct{}
	closed bool
}

func newFakeChat() *fakeChat { return &fakeChat{joined: make(map[string]struct{})} }

func (f *fakeChat) Join(login string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[login] = struct{}{}
	return nil
}

func (f *fakeChat) Depart(login string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joined, login)
	return nil
}

func (f *fakeChat) Joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.joined))
	for l := range f.joined {
		out = append(out, l)
	}
	return out
}

func (f *fakeChat) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChat) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChat) has(login string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.joined[login]
	return ok
}

func newTestResilient(t *testing.T) (*Resilient, *fakeCreds, func() []*fakeChat) {
	t.Helper()
	creds := &fakeCreds{}
	var mu sync.Mutex
	var chats []*fakeChat
	build := func(_ context.Context) (*Client, error) {
		chat := newFakeChat()
		mu.Lock()
		chats = append(chats, chat)
		mu.Unlock()
		return &Client{Helix: &twitchapi.HelixClient{Credentials: creds}, Chat: chat}, nil
	}
	r, err := New(context.Background(), creds, "self", build, time.Hour)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	all := func() []*fakeChat {
		mu.Lock()
		defer mu.Unlock()
		out := make([]*fakeChat, len(chats))
		copy(out, chats)
		return out
	}
	return r, creds, all
}

func TestDoPassesThrough(t *testing.T) {
	r, creds, _ := newTestResilient(t)
	calls := 0
	err := r.Do(context.Background(), func(_ context.Context, c *Client) error {
		calls++
		if c == nil || c.Chat == nil {
			t.Fatal("nil client passed to call")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 1 {
		t.Errorf("call ran %d times, want 1", calls)
	}
	if creds.count() != 0 {
		t.Errorf("refreshes = %d, want 0", creds.count())
	}
}

func TestDoRetriesOnceOnAuthFailure(t *testing.T) {
	r, creds, chats := newTestResilient(t)
	calls := 0
	err := r.Do(context.Background(), func(_ context.Context, c *Client) error {
		calls++
		if calls == 1 {
			return &twitchapi.APIError{Status: 401, Message: "expired"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do error after transparent retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("call ran %d times, want 2 (original + one retry)", calls)
	}
	if creds.count() != 1 {
		t.Errorf("refreshes = %d, want 1", creds.count())
	}
	all := chats()
	if len(all) != 2 {
		t.Fatalf("built %d clients, want 2", len(all))
	}
	if !all[0].isClosed() {
		t.Errorf("replaced chat connection was not closed")
	}
}

func TestDoSecondAuthFailureIsFatal(t *testing.T) {
	r, creds, _ := newTestResilient(t)
	calls := 0
	err := r.Do(context.Background(), func(_ context.Context, _ *Client) error {
		calls++
		return &twitchapi.APIError{Status: 401}
	})
	if err == nil {
		t.Fatal("expected error after two auth failures")
	}
	if !strings.Contains(err.Error(), "authorization failed after refresh") {
		t.Errorf("err = %v, want fatal auth wording", err)
	}
	if calls != 2 {
		t.Errorf("call ran %d times, want exactly 2 (never recursive)", calls)
	}
	if creds.count() != 1 {
		t.Errorf("refreshes = %d, want exactly 1", creds.count())
	}
}

func TestDoNoRetryOnOtherErrors(t *testing.T) {
	r, creds, _ := newTestResilient(t)
	calls := 0
	boom := errors.New("rate limited")
	err := r.Do(context.Background(), func(_ context.Context, _ *Client) error {
		calls++
		return boom
	})
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped original", err)
	}
	if calls != 1 {
		t.Errorf("call ran %d times, want 1", calls)
	}
	if creds.count() != 0 {
		t.Errorf("refreshes = %d, want 0 for non-auth failure", creds.count())
	}
}

func TestSwapCarriesJoinedChannels(t *testing.T) {
	r, _, chats := newTestResilient(t)
	if err := r.JoinChat(context.Background(), "streamer"); err != nil {
		t.Fatalf("JoinChat error: %v", err)
	}

	var swapped *Client
	r.OnSwap(func(c *Client) { swapped = c })

	err := r.Do(context.Background(), func(_ context.Context, _ *Client) error {
		return &twitchapi.APIError{Status: 401}
	})
	// The call itself fails both times, but the swap still happened.
	if err == nil {
		t.Fatal("expected the failing call to surface an error")
	}
	all := chats()
	if len(all) != 2 {
		t.Fatalf("built %d clients, want 2", len(all))
	}
	if !all[1].has("streamer") {
		t.Errorf("joined channel not carried to the replacement connection")
	}
	if swapped == nil || swapped.Chat != all[1] {
		t.Errorf("OnSwap hook did not observe the new client")
	}
}

func TestClipsFacade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clips" {
			t.Errorf("path = %q, want /clips", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": "c1", "title": "clutch"}},
		})
	}))
	defer srv.Close()

	creds := &fakeCreds{}
	build := func(_ context.Context) (*Client, error) {
		return &Client{
			Helix: &twitchapi.HelixClient{BaseURL: srv.URL, Credentials: creds},
			Chat:  newFakeChat(),
		}, nil
	}
	r, err := New(context.Background(), creds, "self", build, time.Hour)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	clips, err := r.Clips(context.Background(), []string{"c1"})
	if err != nil {
		t.Fatalf("Clips error: %v", err)
	}
	if len(clips) != 1 || clips[0].ID != "c1" {
		t.Errorf("unexpected clips: %+v", clips)
	}
}

func TestJitteredInterval(t *testing.T) {
	r := &Resilient{refreshEvery: 100 * time.Minute}
	for i := 0; i < 50; i++ {
		d := r.jitteredInterval()
		if d < 90*time.Minute || d > 110*time.Minute {
			t.Fatalf("jittered interval %v outside ±10%% band", d)
		}
	}
}

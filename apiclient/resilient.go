// Package apiclient executes every remote Twitch call under one lock with a
// single-flight credential-refresh retry policy. No call ever observes a
// half-swapped client: the Helix client and the chat connection are replaced
// together, atomically, under the same mutex that serializes the calls.
package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/multichat/telemetry"
	"github.com/onnwee/multichat/twitchapi"
)

// Helix allows roughly 800 points/min for authenticated requests; stay
// comfortably below.
const (
	helixRatePerSecond = 10
	helixBurst         = 20
)

// ChatTransport is the chat-connection half of a Client. feed.ChatConn
// implements it.
type ChatTransport interface {
	Join(login string) error
	Depart(login string) error
	Joined() []string
	Close() error
}

// Client bundles everything a remote call may touch. It is rebuilt as a whole
// on credential refresh.
type Client struct {
	Helix *twitchapi.HelixClient
	Chat  ChatTransport
}

// BuildFunc constructs a fresh Client against the current credentials.
type BuildFunc func(ctx context.Context) (*Client, error)

// Resilient serializes all remote calls and recovers from authorization
// failures with exactly one refresh-and-retry. The serialization is a
// deliberate throughput trade-off: it guarantees no call races a credential
// swap.
type Resilient struct {
	creds        twitchapi.Credentials
	build        BuildFunc
	refreshEvery time.Duration
	limiter      *rate.Limiter

	mu        sync.Mutex
	cur       *Client
	swapHooks []func(*Client)
	selfID    string
	selfLogin string

	kick chan struct{}
}

// New builds the initial client. selfLogin is the authorized user's login,
// used to resolve the follow list.
func New(ctx context.Context, creds twitchapi.Credentials, selfLogin string, build BuildFunc, refreshEvery time.Duration) (*Resilient, error) {
	if refreshEvery <= 0 {
		refreshEvery = 210 * time.Minute
	}
	cur, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build api client: %w", err)
	}
	return &Resilient{
		creds:        creds,
		build:        build,
		refreshEvery: refreshEvery,
		limiter:      rate.NewLimiter(rate.Limit(helixRatePerSecond), helixBurst),
		cur:          cur,
		selfLogin:    selfLogin,
		kick:         make(chan struct{}, 1),
	}, nil
}

// OnSwap registers a hook invoked (under the call lock) with the new client
// whenever the credentialed client is replaced.
func (r *Resilient) OnSwap(hook func(*Client)) {
	r.mu.Lock()
	r.swapHooks = append(r.swapHooks, hook)
	r.mu.Unlock()
}

// Do runs call against the current client. On an authorization failure it
// refreshes credentials, swaps in a rebuilt client and retries the call
// exactly once; a second authorization failure is fatal. Other failures are
// wrapped and surfaced without retry.
func (r *Resilient) Do(ctx context.Context, call func(ctx context.Context, c *Client) error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, span := telemetry.StartSpan(ctx, "apiclient", "twitch.api.call")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	telemetry.CountAPICall()
	var err error
	telemetry.TimeFunc(telemetry.APICallDuration, func() {
		err = call(ctx, r.cur)
	})
	if err == nil {
		telemetry.SetSpanSuccess(span)
		r.rescheduleLocked()
		return nil
	}
	if !twitchapi.IsAuthError(err) {
		telemetry.CountAPIFailure()
		telemetry.RecordError(span, err)
		return fmt.Errorf("remote call: %w", err)
	}

	// Bounded recovery: one refresh, one retry. Never recursive.
	slog.Info("authorization failure, refreshing credentials", slog.Any("err", err))
	telemetry.CountAuthRetry()
	span.AddEvent("credential refresh")
	if swapErr := r.swapLocked(ctx); swapErr != nil {
		telemetry.CountAPIFailure()
		telemetry.RecordError(span, swapErr)
		return fmt.Errorf("credential refresh after auth failure: %w", swapErr)
	}
	telemetry.TimeFunc(telemetry.APICallDuration, func() {
		err = call(ctx, r.cur)
	})
	if err != nil {
		telemetry.CountAPIFailure()
		telemetry.RecordError(span, err)
		if twitchapi.IsAuthError(err) {
			return fmt.Errorf("authorization failed after refresh: %w", err)
		}
		return fmt.Errorf("remote call: %w", err)
	}
	telemetry.SetSpanSuccess(span)
	r.rescheduleLocked()
	return nil
}

// swapLocked refreshes credentials, builds a replacement client, carries the
// joined chat channels over, notifies swap hooks and closes the old client.
// Caller holds r.mu.
func (r *Resilient) swapLocked(ctx context.Context) error {
	if _, err := r.creds.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh credentials: %w", err)
	}
	telemetry.CountTokenRefresh()
	next, err := r.build(ctx)
	if err != nil {
		return fmt.Errorf("rebuild api client: %w", err)
	}
	old := r.cur
	if old != nil && old.Chat != nil && next.Chat != nil {
		for _, login := range old.Chat.Joined() {
			if err := next.Chat.Join(login); err != nil {
				slog.Warn("rejoin after client swap failed", slog.String("login", login), slog.Any("err", err))
			}
		}
	}
	r.cur = next
	for _, hook := range r.swapHooks {
		hook(next)
	}
	if old != nil && old.Chat != nil {
		if err := old.Chat.Close(); err != nil {
			slog.Warn("close of replaced chat connection failed", slog.Any("err", err))
		}
	}
	slog.Info("api client swapped")
	return nil
}

// rescheduleLocked pushes the preemptive refresh out by one full interval.
func (r *Resilient) rescheduleLocked() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// jitteredInterval spreads preemptive refreshes by ±10% so several instances
// never stampede the token endpoint together.
func (r *Resilient) jitteredInterval() time.Duration {
	span := int64(r.refreshEvery / 10)
	if span <= 0 {
		return r.refreshEvery
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	return r.refreshEvery + time.Duration(rand.Int63n(span*2)-span)
}

// RunRefreshLoop refreshes credentials preemptively on a fixed interval.
// Every successful remote call reschedules the timer, so the refresh only
// fires after a quiet period of a full interval.
func (r *Resilient) RunRefreshLoop(ctx context.Context) {
	timer := time.NewTimer(r.jitteredInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.jitteredInterval())
		case <-timer.C:
			r.mu.Lock()
			if err := r.swapLocked(ctx); err != nil {
				slog.Warn("preemptive credential refresh failed", slog.Any("err", err))
			}
			r.mu.Unlock()
			timer.Reset(r.jitteredInterval())
		}
	}
}

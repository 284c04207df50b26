// Package session tracks the user's active chat subscriptions: standalone
// room sessions, merged aggregates, and the container holding them. All
// membership mutations flow through the Container so that a channel is owned
// by at most one room entry at any time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/multichat/channel"
	"github.com/onnwee/multichat/feed"
	"github.com/onnwee/multichat/route"
	"github.com/onnwee/multichat/telemetry"
	"github.com/onnwee/multichat/twitchapi"
)

// API is the slice of the remote surface a session needs. The resilient api
// client satisfies it.
type API interface {
	JoinChat(ctx context.Context, login string) error
	LeaveChat(ctx context.Context, login string) error
	ChannelBadges(ctx context.Context, broadcasterID string) ([]twitchapi.BadgeSet, error)
}

// State is the session lifecycle position.
type State int

const (
	NotJoined State = iota
	Joining
	Joined
	Leaving
)

func (s State) String() string {
	switch s {
	case NotJoined:
		return "not_joined"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Leaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// ErrJoinInProgress is returned when an operation conflicts with an in-flight
// join. There is no cooperative cancellation of a join: callers retry once
// the join settles.
var ErrJoinInProgress = errors.New("join in progress")

// ErrLeaveInProgress is returned when Join is called while a leave is
// still running.
var ErrLeaveInProgress = errors.New("leave in progress")

// Session is one joined chat subscription for a single channel. It implements
// route.Target while standalone; when merged into an Aggregate the router
// registration points at the aggregate instead and the session only keeps the
// subscription alive.
type Session struct {
	st     *channel.State
	api    API
	router *route.Router
	repo   *channel.Repository

	mu     sync.Mutex
	state  State
	pinned bool
	subs   map[int]func(feed.Event)
	nextID int
	onLeft func(*Session)
}

// NewSession wraps an already-loaded channel state. The caller owns the
// state's repository reference until Join succeeds, and releases it if Join
// fails; after that the session holds the reference until Leave.
func NewSession(st *channel.State, api API, router *route.Router, repo *channel.Repository) *Session {
	return &Session{
		st:     st,
		api:    api,
		router: router,
		repo:   repo,
		pinned: true,
		subs:   make(map[int]func(feed.Event)),
	}
}

// Channel returns the shared channel state.
func (s *Session) Channel() *channel.State { return s.st }

// Broadcaster returns the channel identity.
func (s *Session) Broadcaster() channel.Broadcaster { return s.st.Broadcaster }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsJoined reports whether the session is currently joined.
func (s *Session) IsJoined() bool { return s.State() == Joined }

// setOnLeft installs the container notification fired after a leave completes.
func (s *Session) setOnLeft(fn func(*Session)) {
	s.mu.Lock()
	s.onLeft = fn
	s.mu.Unlock()
}

// Join subscribes to the channel's chat: remote join, lazy badge load, then
// router registration. Joining an already-joined session is a no-op. A rejoin
// after Leave takes a fresh repository reference, since Leave released the
// previous one. On any failure the session rolls back to NotJoined with no
// listener registered and no reference held.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Joined:
		s.mu.Unlock()
		return nil
	case Joining:
		s.mu.Unlock()
		return ErrJoinInProgress
	case Leaving:
		s.mu.Unlock()
		return ErrLeaveInProgress
	}
	s.state = Joining
	repin := !s.pinned
	s.mu.Unlock()

	b := s.st.Broadcaster
	ctx, span := telemetry.StartSpan(ctx, "session", "session.join",
		attribute.String("channel_id", b.ID), attribute.String("channel_login", b.Login))
	defer span.End()

	if repin {
		s.repo.Retain(s.st)
	}
	if err := s.join(ctx, b); err != nil {
		if repin {
			s.repo.Release(s.st)
		}
		s.mu.Lock()
		s.state = NotJoined
		s.pinned = false
		s.mu.Unlock()
		telemetry.RecordError(span, err)
		return err
	}

	s.mu.Lock()
	s.state = Joined
	s.pinned = true
	s.mu.Unlock()
	telemetry.SetSpanSuccess(span)
	telemetry.CountJoin()
	telemetry.AddActiveSessions(1)
	slog.Info("joined chat room", slog.String("login", b.Login), slog.String("id", b.ID))
	return nil
}

func (s *Session) join(ctx context.Context, b channel.Broadcaster) error {
	if err := s.api.JoinChat(ctx, b.Login); err != nil {
		return fmt.Errorf("join chat %s: %w", b.Login, err)
	}
	if !s.st.HasBadges() {
		badges, err := s.api.ChannelBadges(ctx, b.ID)
		if err != nil {
			// Roll back the remote subscribe so no partial join remains.
			if lerr := s.api.LeaveChat(ctx, b.Login); lerr != nil {
				slog.Warn("rollback leave failed", slog.String("login", b.Login), slog.Any("err", lerr))
			}
			return fmt.Errorf("load channel badges %s: %w", b.ID, err)
		}
		s.st.SetBadges(badges)
	}
	s.router.Register(b.ID, s)
	return nil
}

// Leave unsubscribes: router unregistration, repository release, remote
// leave. Leaving a NotJoined session is a no-op. A leave issued while Joining
// is rejected with ErrJoinInProgress; callers retry once the join settled.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case NotJoined, Leaving:
		s.mu.Unlock()
		return nil
	case Joining:
		s.mu.Unlock()
		return ErrJoinInProgress
	}
	s.state = Leaving
	onLeft := s.onLeft
	s.mu.Unlock()

	b := s.st.Broadcaster
	ctx, span := telemetry.StartSpan(ctx, "session", "session.leave",
		attribute.String("channel_id", b.ID), attribute.String("channel_login", b.Login))
	defer span.End()

	s.router.Unregister(b.ID)
	s.repo.Release(s.st)
	err := s.api.LeaveChat(ctx, b.Login)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetSpanSuccess(span)
	}

	s.mu.Lock()
	s.state = NotJoined
	s.pinned = false
	s.mu.Unlock()
	telemetry.CountLeave()
	telemetry.AddActiveSessions(-1)
	slog.Info("left chat room", slog.String("login", b.Login), slog.String("id", b.ID))
	if onLeft != nil {
		onLeft(s)
	}
	if err != nil {
		return fmt.Errorf("leave chat %s: %w", b.Login, err)
	}
	return nil
}

// Subscribe registers a handler for events delivered to this session while it
// is standalone and joined. The returned cancel removes the handler.
func (s *Session) Subscribe(fn func(feed.Event)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// HandleEvent implements route.Target. Events are forwarded only while
// joined; a late event racing a leave is dropped.
func (s *Session) HandleEvent(ev feed.Event) {
	s.mu.Lock()
	if s.state != Joined {
		s.mu.Unlock()
		return
	}
	handlers := make([]func(feed.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

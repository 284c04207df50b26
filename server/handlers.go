package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/multichat/channel"
	"github.com/onnwee/multichat/session"
	"github.com/onnwee/multichat/telemetry"
)

type handlers struct {
	container *session.Container
	repo      *channel.Repository
	startedAt time.Time
}

func newHandlers(container *session.Container, repo *channel.Repository) *handlers {
	return &handlers{container: container, repo: repo, startedAt: time.Now()}
}

func (h *handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready once the channel cache completed its bulk load.
func (h *handlers) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !h.repo.Loaded() {
		http.Error(w, "channel cache not loaded", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type memberStatus struct {
	ID    string `json:"id"`
	Login string `json:"login"`
	Live  bool   `json:"live"`
}

type entryStatus struct {
	Kind     string         `json:"kind"` // "session" or "aggregate"
	Members  []memberStatus `json:"members"`
	Selected bool           `json:"selected"`
	Floating bool           `json:"floating"`
}

type statusResponse struct {
	UptimeSeconds  int64         `json:"uptime_seconds"`
	CacheLoaded    bool          `json:"cache_loaded"`
	ChannelsCached int           `json:"channels_cached"`
	TracingEnabled bool          `json:"tracing_enabled"`
	Entries        []entryStatus `json:"entries"`
}

func (h *handlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	selected := make(map[session.Entry]struct{})
	for _, e := range h.container.Selection() {
		selected[e] = struct{}{}
	}

	resp := statusResponse{
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
		CacheLoaded:    h.repo.Loaded(),
		ChannelsCached: h.repo.Count(),
		TracingEnabled: telemetry.IsTracingEnabled(),
		Entries:        []entryStatus{},
	}
	for _, e := range h.container.Entries() {
		es := entryStatus{Floating: h.container.IsFloating(e)}
		_, es.Selected = selected[e]
		switch v := e.(type) {
		case *session.Session:
			es.Kind = "session"
			es.Members = []memberStatus{sessionMember(v)}
		case *session.Aggregate:
			es.Kind = "aggregate"
			for _, m := range v.Members() {
				es.Members = append(es.Members, sessionMember(m))
			}
		}
		resp.Entries = append(resp.Entries, es)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode status response", slog.Any("err", err))
	}
}

func sessionMember(s *session.Session) memberStatus {
	b := s.Broadcaster()
	return memberStatus{ID: b.ID, Login: b.Login, Live: s.Channel().Live()}
}

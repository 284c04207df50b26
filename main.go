// Command multichat is the entrypoint for the multi-chat session engine.
// It:
//   - Loads configuration and initializes structured logging.
//   - Builds the resilient Twitch client (Helix + IRC) over refresh-token
//     credentials and starts the preemptive token refresher.
//   - Bulk-loads the channel cache (followed channels + global badges).
//   - Starts the event router and the live-status poller.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/multichat/apiclient"
	"github.com/onnwee/multichat/channel"
	"github.com/onnwee/multichat/config"
	"github.com/onnwee/multichat/feed"
	"github.com/onnwee/multichat/route"
	"github.com/onnwee/multichat/server"
	"github.com/onnwee/multichat/session"
	"github.com/onnwee/multichat/telemetry"
	"github.com/onnwee/multichat/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateAuthReady(); err != nil {
		slog.Error("twitch credentials incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("multichat", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := twitchapi.NewOAuthCredentials(
		cfg.TwitchClientID,
		cfg.TwitchClientSecret,
		cfg.TwitchRefreshToken,
		cfg.TwitchAccessToken,
		cfg.AuthURL,
	)

	events := feed.New(cfg.FeedBufferSize)

	// Every credential swap builds a fresh Helix client and IRC connection as
	// one unit. Chat connections are bound to the process lifetime, not the
	// build call's context.
	build := func(buildCtx context.Context) (*apiclient.Client, error) {
		tok, err := creds.AccessToken(buildCtx)
		if err != nil {
			return nil, err
		}
		conn := feed.NewChatConn(cfg.TwitchUsername, tok, events.Emit)
		conn.Start(ctx)
		return &apiclient.Client{
			Helix: &twitchapi.HelixClient{
				BaseURL:     cfg.HelixURL,
				ClientID:    cfg.TwitchClientID,
				Credentials: creds,
			},
			Chat: conn,
		}, nil
	}

	api, err := apiclient.New(ctx, creds, cfg.TwitchUsername, build, cfg.TokenRefreshInterval)
	if err != nil {
		slog.Error("api client init failed", slog.Any("err", err))
		os.Exit(1)
	}
	go api.RunRefreshLoop(ctx)

	poller := feed.NewPoller(api, nil, events, cfg.LivePollInterval)
	repo := channel.NewRepository(api, poller)
	poller.SetSink(repo)

	router := route.New(events)
	container := session.NewContainer(repo, router, api)

	go router.Run(ctx)
	go poller.Run(ctx)

	// Bulk load of followed channels and global badges. Transient failures are
	// retried; /readyz stays unready until the load completes.
	go func() {
		for {
			loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := repo.LoadAll(loadCtx)
			cancel()
			if err == nil {
				slog.Info("channel cache loaded", slog.Int("channels", repo.Count()))
				return
			}
			slog.Warn("channel cache load failed, retrying", slog.Any("err", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(15 * time.Second):
			}
		}
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/readiness/status/metrics)
	go func() {
		if err := server.Start(ctx, container, repo, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal, then leave all chats cleanly.
	<-ctx.Done()
	slog.Info("shutting down")
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := container.ClearAll(closeCtx); err != nil {
		slog.Warn("session close during shutdown failed", slog.Any("err", err))
	}
	repo.Clear()
}

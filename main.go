// Command shoutout-companion runs the streamer's pick and raffle service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres for OAuth tokens and config overrides.
//   - Listens to Twitch chat (and optionally YouTube live chat) for raffle entries.
//   - Refreshes stored OAuth tokens for Twitch/YouTube in the background.
//   - Serves the control API, the overlay, /healthz, /readyz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/shoutout-companion/chat"
	"github.com/onnwee/shoutout-companion/config"
	"github.com/onnwee/shoutout-companion/db"
	"github.com/onnwee/shoutout-companion/oauth"
	"github.com/onnwee/shoutout-companion/pick"
	"github.com/onnwee/shoutout-companion/raffle"
	"github.com/onnwee/shoutout-companion/roster"
	"github.com/onnwee/shoutout-companion/selection"
	"github.com/onnwee/shoutout-companion/server"
	"github.com/onnwee/shoutout-companion/telemetry"
	"github.com/onnwee/shoutout-companion/twitchapi"
	"github.com/onnwee/shoutout-companion/youtubeapi"
)

const serviceVersion = "1.0.0"

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		// logger not configured yet; config errors go to the default text logger
		return fmt.Errorf("config load failed: %w", err)
	}
	levelVar := setupLogging(cfg)

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(cfg.OTLPEndpoint, "shoutout-companion", serviceVersion)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdownTracing()

	var database *sql.DB
	if cfg.DBDsn != "" {
		database, err = openDatabase(cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	} else {
		slog.Info("DB_DSN not set: OAuth tokens and config overrides will not persist")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sel := selection.NewState()
	store := raffle.NewStore(roster.DefaultSampler)
	deps := server.Deps{
		DB:        database,
		Config:    cfg,
		Selection: sel,
		Raffle:    store,
		LogLevel:  levelVar,
	}

	var helix *twitchapi.HelixClient
	if err := cfg.ValidateHelixReady(); err != nil {
		slog.Warn("picks disabled", slog.Any("err", err))
	} else {
		helix = newHelixClient(cfg, database)
		channel := &twitchapi.Channel{
			Client:      helix,
			Login:       cfg.TwitchChannel,
			ModeratorID: cfg.TwitchModeratorID,
			Limit:       cfg.RosterLimit,
		}
		deps.Picker = &pick.Picker{Source: channel, Sampler: roster.DefaultSampler, State: sel}
	}

	if cfg.RaffleEnabled {
		listener := raffle.NewListener(store, cfg.RaffleTrigger)
		listener.TwitchChannel = cfg.TwitchChannel
		listener.YouTube = cfg.YTChatEnabled
		deps.Listener = listener
	}

	if cfg.ValidateYouTubeReady() == nil {
		if database == nil {
			slog.Warn("youtube configured but DB_DSN not set: the YouTube token cannot be stored")
		} else {
			deps.YouTube = youtubeapi.New(cfg, &db.TokenStoreAdapter{DB: database})
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if deps.Listener != nil {
		startChat(gctx, g, cfg, helix, &deps)
	}

	if database != nil {
		startRefreshers(gctx, cfg, database)
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof()
	}

	g.Go(func() error {
		return server.Start(gctx, deps, cfg.HTTPAddr)
	})

	err = g.Wait()
	slog.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// setupLogging installs the default logger. The returned level can be
// changed at runtime through the LOG_LEVEL override.
func setupLogging(cfg *config.Config) *slog.LevelVar {
	levelVar := new(slog.LevelVar)
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", cfg.LogLevel))
	}
	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", levelVar.Level().String()), slog.String("format", cfg.LogFormat))
	return levelVar
}

// openDatabase connects and migrates. Versioned migrations are preferred;
// the embedded schema is the fallback for databases they cannot handle.
func openDatabase(dsn string) (*sql.DB, error) {
	database, err := db.Connect(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded schema",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
	}
	return database, nil
}

// newHelixClient uses TWITCH_USER_TOKEN when set, otherwise the token stored
// by the OAuth flow. The stored token is read per request so refreshes apply.
func newHelixClient(cfg *config.Config, database *sql.DB) *twitchapi.HelixClient {
	var user twitchapi.TokenProvider = twitchapi.StaticToken(cfg.TwitchUserToken)
	if cfg.TwitchUserToken == "" && database != nil {
		user = twitchapi.TokenFunc(func(ctx context.Context) (string, error) {
			access, _, _, _, err := db.GetOAuthToken(ctx, database, "twitch")
			if err != nil {
				return "", err
			}
			if access == "" {
				return "", fmt.Errorf("%w: twitch account not connected, visit /auth/twitch/start", twitchapi.ErrUnauthorized)
			}
			return access, nil
		})
	}
	httpClient := &http.Client{Timeout: cfg.HelixTimeout}
	var app *twitchapi.TokenSource
	if cfg.TwitchClientSecret != "" {
		app = &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret, HTTPClient: httpClient}
	}
	return &twitchapi.HelixClient{
		AppTokenSource: app,
		UserToken:      user,
		ClientID:       cfg.TwitchClientID,
		HTTPClient:     httpClient,
		PageDelay:      cfg.HelixPageDelay,
	}
}

// startChat wires chat listeners to the raffle. With CHAT_LIVE_ONLY the
// Twitch listener only runs while the channel is live.
func startChat(ctx context.Context, g *errgroup.Group, cfg *config.Config, helix *twitchapi.HelixClient, deps *server.Deps) {
	handle := deps.Listener.HandleMessage

	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("twitch chat listener disabled", slog.Any("err", err))
	} else {
		tcfg := chat.TwitchConfig{Channel: cfg.TwitchChannel, Username: cfg.TwitchBotUsername, OAuthToken: cfg.TwitchOAuthToken}
		listen := func(ctx context.Context) {
			if err := chat.StartTwitchListener(ctx, tcfg, handle); err != nil {
				slog.Error("twitch chat listener stopped", slog.Any("err", err))
			}
		}
		switch {
		case cfg.ChatLiveOnly && helix != nil:
			watcher := &chat.LiveWatcher{Streams: helix, Channel: cfg.TwitchChannel, Interval: cfg.LivePollInterval}
			deps.Live = watcher
			g.Go(func() error {
				watcher.Run(ctx, listen)
				return nil
			})
		case cfg.ChatLiveOnly:
			slog.Warn("CHAT_LIVE_ONLY needs Twitch API credentials; listening unconditionally")
			fallthrough
		default:
			g.Go(func() error {
				listen(ctx)
				return nil
			})
		}
	}

	if cfg.YTChatEnabled {
		if deps.YouTube == nil {
			slog.Warn("YT_CHAT_ENABLED set but YouTube OAuth is not configured")
			return
		}
		g.Go(func() error {
			if err := chat.StartYouTubePoller(ctx, deps.YouTube, cfg.YTPollInterval, handle); err != nil {
				slog.Error("youtube chat poller stopped", slog.Any("err", err))
			}
			return nil
		})
	}
}

func startRefreshers(ctx context.Context, cfg *config.Config, database *sql.DB) {
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
		})
	}
	if cfg.YTClientID != "" {
		oc := &oauth2.Config{ClientID: cfg.YTClientID, ClientSecret: cfg.YTClientSecret, Endpoint: google.Endpoint, RedirectURL: cfg.YTRedirectURI}
		oauth.StartRefresher(ctx, database, "youtube", 10*time.Minute, 20*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			newTok, err := oc.TokenSource(rctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, "", nil
		})
	}
}

func startPprof() {
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

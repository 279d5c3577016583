// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Missing credentials disable features instead of failing; see ValidateHelixReady and ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultTwitchScopes lets the stored broadcaster token read chatters and every filterable role.
const DefaultTwitchScopes = "moderator:read:chatters moderation:read channel:read:vips channel:read:subscriptions moderator:read:followers chat:read"

// DefaultYouTubeScopes is read-only access, enough to find the live broadcast and poll its chat.
const DefaultYouTubeScopes = "https://www.googleapis.com/auth/youtube.readonly"

// OverridableKeys may be changed at runtime through the kv table (cfg:<KEY>).
var OverridableKeys = []string{"RAFFLE_TRIGGER", "PICK_DEFAULT_COUNT", "LOG_LEVEL"}

type Config struct {
	// Twitch
	TwitchChannel      string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string
	TwitchUserToken    string // static user token; the stored OAuth token is used when empty
	TwitchModeratorID  string // defaults to the user token's owner

	// Helix
	HelixPageDelay time.Duration
	HelixTimeout   time.Duration
	RosterLimit    int

	// Picks and raffle
	PickDefaultCount int
	RaffleTrigger    string
	RaffleEnabled    bool

	// Chat ingestion
	ChatLiveOnly     bool
	LivePollInterval time.Duration

	// Database
	DBDsn string

	// HTTP
	HTTPAddr string

	// YouTube
	YTClientID     string
	YTClientSecret string
	YTRedirectURI  string
	YTScopes       string
	YTChatEnabled  bool
	YTPollInterval time.Duration

	// Observability
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
}

// Load reads environment variables and applies defaults. It fails only on
// values that are present but unparsable.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.TwitchChannel = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(os.Getenv("TWITCH_CHANNEL"))), "#")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	cfg.TwitchScopes = envOr("TWITCH_SCOPES", DefaultTwitchScopes)
	cfg.TwitchUserToken = strings.TrimPrefix(os.Getenv("TWITCH_USER_TOKEN"), "oauth:")
	cfg.TwitchModeratorID = os.Getenv("TWITCH_MODERATOR_ID")

	if cfg.HelixPageDelay, err = envDuration("HELIX_PAGE_DELAY", 250*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.HelixTimeout, err = envDuration("HELIX_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RosterLimit, err = envInt("ROSTER_LIMIT", 10000); err != nil {
		return nil, err
	}

	if cfg.PickDefaultCount, err = envInt("PICK_DEFAULT_COUNT", 1); err != nil {
		return nil, err
	}
	if cfg.PickDefaultCount < 1 {
		return nil, fmt.Errorf("invalid PICK_DEFAULT_COUNT: must be at least 1")
	}
	cfg.RaffleTrigger = envOr("RAFFLE_TRIGGER", "!join")
	if cfg.RaffleEnabled, err = envBool("RAFFLE_ENABLED", true); err != nil {
		return nil, err
	}

	if cfg.ChatLiveOnly, err = envBool("CHAT_LIVE_ONLY", false); err != nil {
		return nil, err
	}
	if cfg.LivePollInterval, err = envDuration("CHAT_AUTO_POLL_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	// Empty runs without a database: no stored tokens and no runtime overrides.
	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.HTTPAddr = envOr("HTTP_ADDR", "127.0.0.1:8080")

	cfg.YTClientID = os.Getenv("YT_CLIENT_ID")
	cfg.YTClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.YTRedirectURI = os.Getenv("YT_REDIRECT_URI")
	cfg.YTScopes = envOr("YT_SCOPES", DefaultYouTubeScopes)
	if cfg.YTChatEnabled, err = envBool("YT_CHAT_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.YTPollInterval, err = envDuration("YT_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	cfg.LogFormat = strings.ToLower(os.Getenv("LOG_FORMAT"))
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

// ValidateHelixReady checks what picks need: a channel and app credentials.
func (c *Config) ValidateHelixReady() error {
	if c.TwitchChannel == "" || c.TwitchClientID == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_CLIENT_ID")
	}
	return nil
}

// ValidateChatReady checks what the IRC listener needs. Bot credentials are
// optional (anonymous reads) but must be given together.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL")
	}
	if (c.TwitchBotUsername == "") != (c.TwitchOAuthToken == "") {
		return fmt.Errorf("TWITCH_BOT_USERNAME and TWITCH_OAUTH_TOKEN must be set together")
	}
	return nil
}

// ValidateYouTubeReady checks the OAuth client needed for live chat polling.
func (c *Config) ValidateYouTubeReady() error {
	if c.YTClientID == "" || c.YTClientSecret == "" || c.YTRedirectURI == "" {
		return fmt.Errorf("missing youtube env: require YT_CLIENT_ID, YT_CLIENT_SECRET, YT_REDIRECT_URI")
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s (duration like 250ms): %q", key, v)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s (non-negative integer): %q", key, v)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s (bool): %q", key, v)
	}
	return b, nil
}

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"TWITCH_CHANNEL", "HELIX_PAGE_DELAY", "ROSTER_LIMIT", "PICK_DEFAULT_COUNT", "RAFFLE_TRIGGER", "RAFFLE_ENABLED", "HTTP_ADDR", "TWITCH_SCOPES", "YT_SCOPES"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HelixPageDelay != 250*time.Millisecond {
		t.Errorf("HelixPageDelay = %v, want 250ms", cfg.HelixPageDelay)
	}
	if cfg.RosterLimit != 10000 {
		t.Errorf("RosterLimit = %d, want 10000", cfg.RosterLimit)
	}
	if cfg.PickDefaultCount != 1 {
		t.Errorf("PickDefaultCount = %d, want 1", cfg.PickDefaultCount)
	}
	if cfg.RaffleTrigger != "!join" || !cfg.RaffleEnabled {
		t.Errorf("raffle defaults = %q/%v", cfg.RaffleTrigger, cfg.RaffleEnabled)
	}
	if cfg.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.TwitchScopes != DefaultTwitchScopes || cfg.YTScopes != DefaultYouTubeScopes {
		t.Errorf("unexpected default scopes %q / %q", cfg.TwitchScopes, cfg.YTScopes)
	}
}

func TestLoadNormalizesChannelAndToken(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", " #SomeStreamer ")
	t.Setenv("TWITCH_USER_TOKEN", "oauth:abc123")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TwitchChannel != "somestreamer" {
		t.Errorf("TwitchChannel = %q, want somestreamer", cfg.TwitchChannel)
	}
	if cfg.TwitchUserToken != "abc123" {
		t.Errorf("TwitchUserToken = %q, want abc123", cfg.TwitchUserToken)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"HELIX_PAGE_DELAY", "soon"},
		{"HELIX_TIMEOUT", "-1s"},
		{"ROSTER_LIMIT", "lots"},
		{"PICK_DEFAULT_COUNT", "0"},
		{"RAFFLE_ENABLED", "maybe"},
		{"YT_POLL_INTERVAL", "5"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestValidateHelixReady(t *testing.T) {
	cfg := &Config{TwitchChannel: "chan", TwitchClientID: "cid"}
	if err := cfg.ValidateHelixReady(); err != nil {
		t.Errorf("expected valid helix config, got %v", err)
	}
	cfg.TwitchClientID = ""
	if err := cfg.ValidateHelixReady(); err == nil {
		t.Error("expected error without client id")
	}
}

func TestValidateChatReady(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"anonymous", Config{TwitchChannel: "chan"}, false},
		{"bot credentials", Config{TwitchChannel: "chan", TwitchBotUsername: "bot", TwitchOAuthToken: "oauth:token"}, false},
		{"missing channel", Config{TwitchBotUsername: "bot", TwitchOAuthToken: "oauth:token"}, true},
		{"half credentials", Config{TwitchChannel: "chan", TwitchBotUsername: "bot"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateChatReady()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateChatReady() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateYouTubeReady(t *testing.T) {
	cfg := &Config{YTClientID: "id", YTClientSecret: "secret", YTRedirectURI: "http://localhost/cb"}
	if err := cfg.ValidateYouTubeReady(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	cfg.YTRedirectURI = ""
	if err := cfg.ValidateYouTubeReady(); err == nil {
		t.Error("expected error without redirect uri")
	}
}

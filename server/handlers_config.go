package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/onnwee/shoutout-companion/config"
	dbpkg "github.com/onnwee/shoutout-companion/db"
)

type configValue struct {
	Value  string `json:"value"`
	Source string `json:"source"` // env or override
}

// loadOverrides applies overrides persisted by earlier runs.
func (h *Handlers) loadOverrides(ctx context.Context) {
	if h.DB == nil {
		return
	}
	stored, err := dbpkg.ConfigOverrides(ctx, h.DB)
	if err != nil {
		slog.Warn("failed to load config overrides", slog.Any("err", err))
		return
	}
	for k, v := range stored {
		if !slices.Contains(config.OverridableKeys, k) {
			continue
		}
		if err := h.applyOverride(k, v); err != nil {
			slog.Warn("ignoring stored config override", slog.String("key", k), slog.Any("err", err))
		}
	}
}

// validateOverride checks a value without applying it. Empty resets to env.
func validateOverride(key, value string) error {
	if value == "" {
		return nil
	}
	switch key {
	case "PICK_DEFAULT_COUNT":
		if n, err := strconv.Atoi(value); err != nil || n < 1 {
			return fmt.Errorf("must be an integer >= 1")
		}
	case "LOG_LEVEL":
		if _, ok := parseLevel(value); !ok {
			return fmt.Errorf("must be one of debug, info, warn, error")
		}
	case "RAFFLE_TRIGGER":
		if len(value) > 100 {
			return fmt.Errorf("must be at most 100 characters")
		}
	default:
		return fmt.Errorf("not an overridable key")
	}
	return nil
}

func (h *Handlers) applyOverride(key, value string) error {
	value = strings.TrimSpace(value)
	if err := validateOverride(key, value); err != nil {
		return err
	}
	switch key {
	case "RAFFLE_TRIGGER":
		trigger := value
		if trigger == "" {
			trigger = h.Config.RaffleTrigger
		}
		if h.Listener != nil {
			h.Listener.SetTrigger(trigger)
		}
	case "PICK_DEFAULT_COUNT":
		n := max(h.Config.PickDefaultCount, 1)
		if value != "" {
			n, _ = strconv.Atoi(value)
		}
		h.pickDefault.Store(int64(n))
	case "LOG_LEVEL":
		lvl, _ := parseLevel(h.Config.LogLevel)
		if value != "" {
			lvl, _ = parseLevel(value)
		}
		if h.LogLevel != nil {
			h.LogLevel.Set(lvl)
		}
	}
	h.ovMu.Lock()
	if value == "" {
		delete(h.overrides, key)
	} else {
		h.overrides[key] = value
	}
	h.ovMu.Unlock()
	return nil
}

// parseLevel maps LOG_LEVEL names; unknown names fall back to info.
func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func (h *Handlers) effectiveConfig() map[string]configValue {
	h.ovMu.Lock()
	defer h.ovMu.Unlock()
	out := make(map[string]configValue, len(config.OverridableKeys))
	for _, k := range config.OverridableKeys {
		if v, ok := h.overrides[k]; ok {
			out[k] = configValue{Value: v, Source: "override"}
			continue
		}
		var v string
		switch k {
		case "RAFFLE_TRIGGER":
			v = h.Config.RaffleTrigger
		case "PICK_DEFAULT_COUNT":
			v = strconv.Itoa(max(h.Config.PickDefaultCount, 1))
		case "LOG_LEVEL":
			v = h.Config.LogLevel
			if v == "" {
				v = "info"
			}
		}
		out[k] = configValue{Value: v, Source: "env"}
	}
	return out
}

// HandleConfig reads and updates the runtime-overridable settings. Updates
// take effect immediately and persist in the kv table when a database is configured.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.effectiveConfig())
	case http.MethodPut:
		var body map[string]string
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		for k, v := range body {
			if err := validateOverride(k, strings.TrimSpace(v)); err != nil {
				writeError(w, http.StatusBadRequest, k+": "+err.Error())
				return
			}
		}
		for k, v := range body {
			v = strings.TrimSpace(v)
			if h.DB != nil {
				if err := dbpkg.SetConfigOverride(r.Context(), h.DB, k, v); err != nil {
					slog.Error("failed to update config", slog.String("key", k), slog.Any("err", err))
					writeError(w, http.StatusInternalServerError, "failed to update config")
					return
				}
			}
			_ = h.applyOverride(k, v)
			slog.Info("config override updated", slog.String("key", k), slog.String("value", v))
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type tokenStatus struct {
	Present   bool   `json:"present"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleStatus summarizes what is configured and what is happening.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"channel":             h.Config.TwitchChannel,
		"helix_ready":         h.Config.ValidateHelixReady() == nil && h.Picker != nil,
		"chat_ready":          h.Config.ValidateChatReady() == nil,
		"youtube_ready":       h.YouTube != nil,
		"database":            h.DB != nil,
		"overlay_subscribers": h.Selection.Subscribers(),
		"selection":           h.Selection.Current(),
		"config":              h.effectiveConfig(),
	}
	resp["raffle"] = map[string]any{
		"state":    h.Raffle.State(),
		"entrants": h.Raffle.Len(),
		"enabled":  h.Listener != nil,
	}
	if h.Live != nil {
		resp["live"] = h.Live.Status()
	}
	if h.DB != nil {
		tokens := map[string]tokenStatus{}
		for _, p := range []string{"twitch", "youtube"} {
			access, _, exp, scope, err := dbpkg.GetOAuthToken(r.Context(), h.DB, p)
			ts := tokenStatus{Present: access != "", Scope: scope}
			if err != nil {
				ts.Error = err.Error()
			} else if !exp.IsZero() {
				ts.ExpiresAt = exp.UTC().Format("2006-01-02T15:04:05Z")
			}
			tokens[p] = ts
		}
		resp["tokens"] = tokens
	}
	writeJSON(w, http.StatusOK, resp)
}

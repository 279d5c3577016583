package server

import (
	"errors"
	"net/http"

	dbpkg "github.com/onnwee/shoutout-companion/db"
)

// HandleHealthz is the liveness probe. Without a database it only reports
// that the process is serving.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports whether picks can run: database reachable (when
// configured) and a Twitch user token available.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.DB == nil {
				return nil
			}
			return h.DB.PingContext(r.Context())
		}},
		{"twitch_config", func() error { return h.Config.ValidateHelixReady() }},
		{"credentials", func() error {
			if h.Config.TwitchUserToken != "" {
				return nil
			}
			if h.DB == nil {
				return errors.New("no TWITCH_USER_TOKEN and no database to hold an OAuth token")
			}
			access, _, _, _, err := dbpkg.GetOAuthToken(r.Context(), h.DB, "twitch")
			if err != nil {
				return err
			}
			if access == "" {
				return errors.New("twitch account not connected; visit /auth/twitch/start")
			}
			return nil
		}},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/shoutout-companion/pick"
	"github.com/onnwee/shoutout-companion/telemetry"
)

// HandlePick runs one pick on the request goroutine. A missing count uses the
// PICK_DEFAULT_COUNT setting; canceling the request cancels the fetches.
func (h *Handlers) HandlePick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Picker == nil {
		writeError(w, http.StatusServiceUnavailable, "picks need TWITCH_CHANNEL, TWITCH_CLIENT_ID and a connected Twitch account")
		return
	}
	var req pick.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Count == 0 {
		req.Count = int(h.pickDefault.Load())
	}
	res, err := h.Picker.Pick(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, pick.ErrInvalidCount):
			status = http.StatusBadRequest
		case r.Context().Err() != nil:
			// client went away; nothing useful to send
			return
		}
		telemetry.LoggerWithCorr(r.Context()).Warn("pick failed", slog.Any("err", err))
		writeError(w, status, pick.Describe(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSelection returns or clears the current selection.
func (h *Handlers) HandleSelection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Selection.Current())
	case http.MethodDelete:
		h.Selection.Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/onnwee/shoutout-companion/raffle"
	"github.com/onnwee/shoutout-companion/selection"
	"github.com/onnwee/shoutout-companion/telemetry"
)

// entrantRow is one line of the entrant CSV export and import.
type entrantRow struct {
	Position int    `csv:"position"`
	User     string `csv:"user"`
}

type raffleView struct {
	raffle.Snapshot
	Trigger string `json:"trigger"`
	Enabled bool   `json:"enabled"`
}

func (h *Handlers) raffleView() raffleView {
	v := raffleView{Snapshot: h.Raffle.Snapshot()}
	if h.Listener != nil {
		v.Trigger = h.Listener.Trigger()
		v.Enabled = v.Trigger != ""
	}
	return v
}

// HandleRaffle returns the raffle state with its entrant list.
func (h *Handlers) HandleRaffle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.raffleView())
}

// HandleRaffleEnter adds a viewer by hand, e.g. someone who asked off-chat.
func (h *Handlers) HandleRaffleEnter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		User string `json:"user"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.User) == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	added := h.Raffle.Enter(body.User)
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "entrants": h.Raffle.Len()})
}

// HandleRaffleDraw draws winners and publishes them as the current selection.
func (h *Handlers) HandleRaffleDraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := struct {
		Count int `json:"count"`
	}{Count: 1}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	winners, err := h.Raffle.Draw(body.Count)
	switch {
	case errors.Is(err, raffle.ErrInvalidCount):
		writeError(w, http.StatusBadRequest, "Choose at least one winner.")
		return
	case errors.Is(err, raffle.ErrNotEnoughEntrants):
		writeError(w, http.StatusConflict, "Not enough entrants for that many winners.")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sel := h.Selection.Set(selection.SourceRaffle, winners, body.Count)
	telemetry.LoggerWithCorr(r.Context()).Info("raffle drawn", slog.Int("winners", len(winners)))
	writeJSON(w, http.StatusOK, map[string]any{"winners": winners, "selection": sel})
}

// HandleRaffleClear discards all entrants without drawing.
func (h *Handlers) HandleRaffleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.Raffle.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// HandleRaffleEntrantsCSV exports entrants (GET) or bulk-enters a CSV with a
// user column (POST).
func (h *Handlers) HandleRaffleEntrantsCSV(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rows := make([]*entrantRow, 0, h.Raffle.Len())
		for i, u := range h.Raffle.Entrants() {
			rows = append(rows, &entrantRow{Position: i + 1, User: u})
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="entrants.csv"`)
		if err := gocsv.Marshal(&rows, w); err != nil {
			slog.Warn("failed to write entrants csv", slog.Any("err", err))
		}
	case http.MethodPost:
		var rows []*entrantRow
		if err := gocsv.Unmarshal(http.MaxBytesReader(w, r.Body, 1<<20), &rows); err != nil {
			writeError(w, http.StatusBadRequest, "invalid csv: "+err.Error())
			return
		}
		added := 0
		for _, row := range rows {
			if h.Raffle.Enter(row.User) {
				added++
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{"added": added, "entrants": h.Raffle.Len()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

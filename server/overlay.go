package server

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/shoutout-companion/chat"
	"github.com/onnwee/shoutout-companion/selection"
	"github.com/onnwee/shoutout-companion/telemetry"
)

//go:embed templates/overlay.html
var templateFS embed.FS

var overlayTmpl = template.Must(template.ParseFS(templateFS, "templates/overlay.html"))

const (
	sseHeartbeat = 15 * time.Second
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// HandleOverlay renders one block per selected viewer. The page keeps itself
// current through /overlay/events, so it can sit in a broadcast browser source.
func (h *Handlers) HandleOverlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sel := h.Selection.Current()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	err := overlayTmpl.Execute(w, struct {
		ID         string
		Viewers    []string
		EventsPath string
	}{sel.ID, sel.Viewers, "/overlay/events"})
	if err != nil {
		slog.Warn("overlay render failed", slog.Any("err", err))
	}
}

// HandleOverlayEvents streams selection snapshots as server-sent events. The
// current selection is sent first.
func (h *Handlers) HandleOverlayEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	// streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, cancel := h.Selection.Subscribe()
	defer cancel()
	telemetry.AddOverlaySubscribers(1)
	defer telemetry.AddOverlaySubscribers(-1)

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.ctx.Done():
			return
		case sel, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSSE(w, "selection", sel); err != nil {
				slog.Debug("overlay stream closed", slog.Any("err", err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// wsMessage is one control panel update. "state" carries everything; the
// other types carry only the part that changed.
type wsMessage struct {
	Type      string               `json:"type"`
	Selection *selection.Selection `json:"selection,omitempty"`
	Raffle    *raffleView          `json:"raffle,omitempty"`
	Live      *chat.LiveStatus     `json:"live,omitempty"`
}

func (h *Handlers) stateMessage() wsMessage {
	sel := h.Selection.Current()
	v := h.raffleView()
	msg := wsMessage{Type: "state", Selection: &sel, Raffle: &v}
	if h.Live != nil {
		st := h.Live.Status()
		msg.Live = &st
	}
	return msg
}

// HandleWS pushes selection and raffle changes to the control panel. The
// socket is read only to notice closes and answer pings.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096}
	if h.cors != nil {
		up.CheckOrigin = func(r *http.Request) bool { return h.cors.allows(r.Header.Get("Origin")) }
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		slog.Debug("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	selUpdates, cancelSel := h.Selection.Subscribe()
	defer cancelSel()
	raffleUpdates, cancelRaffle := h.raffleFeed.subscribe()
	defer cancelRaffle()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg wsMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg)
	}
	if err := send(h.stateMessage()); err != nil {
		return
	}
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		var err error
		select {
		case <-closed:
			return
		case <-h.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case sel, ok := <-selUpdates:
			if !ok {
				return
			}
			err = send(wsMessage{Type: "selection", Selection: &sel})
		case <-raffleUpdates:
			v := h.raffleView()
			err = send(wsMessage{Type: "raffle", Raffle: &v})
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
		}
		if err != nil {
			slog.Debug("websocket closed", slog.Any("err", err))
			return
		}
	}
}

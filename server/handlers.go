package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/shoutout-companion/chat"
	"github.com/onnwee/shoutout-companion/config"
	"github.com/onnwee/shoutout-companion/pick"
	"github.com/onnwee/shoutout-companion/raffle"
	"github.com/onnwee/shoutout-companion/roster"
	"github.com/onnwee/shoutout-companion/selection"
	"github.com/onnwee/shoutout-companion/youtubeapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Picker runs picks; *pick.Picker in production.
type Picker interface {
	Pick(ctx context.Context, req pick.Request) (pick.Result, error)
}

// LiveStatusReporter exposes the last observed live state; *chat.LiveWatcher in production.
type LiveStatusReporter interface {
	Status() chat.LiveStatus
}

// Deps are the collaborators the HTTP layer drives. DB, Listener, Picker,
// Live and YouTube may be nil when their feature is not configured.
type Deps struct {
	DB        *sql.DB
	Config    *config.Config
	Selection *selection.State
	Raffle    *raffle.Store
	Listener  *raffle.Listener
	Picker    Picker
	Live      LiveStatusReporter
	YouTube   *youtubeapi.Service
	// LogLevel is adjusted by the LOG_LEVEL override.
	LogLevel *slog.LevelVar
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	ctx  context.Context
	cors *corsConfig // nil keeps the websocket same-origin check

	pickDefault atomic.Int64
	raffleFeed  *notifier

	ovMu      sync.Mutex
	overrides map[string]string

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers wires raffle change notifications and applies stored config
// overrides.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	if deps.Selection == nil {
		deps.Selection = selection.NewState()
	}
	if deps.Raffle == nil {
		deps.Raffle = raffle.NewStore(roster.DefaultSampler)
	}
	h := &Handlers{
		Deps:       deps,
		ctx:        ctx,
		raffleFeed: newNotifier(),
		overrides:  make(map[string]string),
		stateStore: make(map[string]time.Time),
	}
	h.pickDefault.Store(int64(max(deps.Config.PickDefaultCount, 1)))
	deps.Raffle.OnChange(func(raffle.Snapshot) { h.raffleFeed.notify() })
	h.loadOverrides(ctx)
	return h
}

// cleanExpiredStates removes expired OAuth states. Callers hold stateMu.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records a state; past maxOAuthStates new states are refused
// and the OAuth flow fails.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return
	}
	h.stateStore[state] = expiry
}

// consumeOAuthState reports whether st is known and unexpired, and forgets it.
func (h *Handlers) consumeOAuthState(st string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[st]
	delete(h.stateStore, st)
	return ok && time.Now().Before(exp)
}

// notifier fans a "something changed" signal out to subscribers. A slow
// subscriber sees one pending signal, never a backlog.
type notifier struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newNotifier() *notifier { return &notifier{subs: make(map[chan struct{}]struct{})} }

func (n *notifier) subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, ch)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

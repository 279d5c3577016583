package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/shoutout-companion/twitchapi"
)

// StreamLister reports live streams for a login.
type StreamLister interface {
	GetStreams(ctx context.Context, login string) ([]twitchapi.Stream, error)
}

// LiveStatus is the last observed live state of the channel.
type LiveStatus struct {
	Live      bool      `json:"live"`
	Title     string    `json:"title,omitempty"`
	Viewers   int       `json:"viewers,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// LiveWatcher polls Twitch live status for one channel.
type LiveWatcher struct {
	Streams  StreamLister
	Channel  string
	Interval time.Duration // default 30s

	mu     sync.RWMutex
	status LiveStatus
}

// Status returns the last observed status.
func (w *LiveWatcher) Status() LiveStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Run polls until ctx is canceled. When whileLive is non-nil it is started in
// its own goroutine each time the channel goes live and canceled when it goes
// offline.
func (w *LiveWatcher) Run(ctx context.Context, whileLive func(ctx context.Context)) {
	every := w.Interval
	if every <= 0 {
		every = 30 * time.Second
	}
	var (
		running   bool
		runCancel context.CancelFunc
		done      chan struct{}
	)
	stop := func() {
		if runCancel != nil {
			runCancel()
			<-done
			runCancel = nil
		}
		running = false
	}
	defer stop()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	slog.Info("live watcher started", slog.String("channel", w.Channel), slog.Duration("interval", every))
	for {
		live, ok := w.poll(ctx)
		if ok {
			switch {
			case live && !running && whileLive != nil:
				slog.Info("channel live; starting chat listener", slog.String("channel", w.Channel))
				var runCtx context.Context
				runCtx, runCancel = context.WithCancel(ctx)
				done = make(chan struct{})
				go func(c context.Context, d chan struct{}) {
					defer close(d)
					whileLive(c)
				}(runCtx, done)
				running = true
			case !live && running:
				slog.Info("channel offline; stopping chat listener", slog.String("channel", w.Channel))
				stop()
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll refreshes the status; ok is false when the lookup failed.
func (w *LiveWatcher) poll(ctx context.Context) (live, ok bool) {
	streams, err := w.Streams.GetStreams(ctx, w.Channel)
	if err != nil {
		if ctx.Err() == nil {
			slog.Debug("live watcher: streams request failed", slog.Any("err", err))
		}
		return false, false
	}
	st := LiveStatus{CheckedAt: time.Now().UTC()}
	if len(streams) > 0 {
		st.Live = true
		st.Title = streams[0].Title
		st.Viewers = streams[0].ViewerCount
		st.StartedAt = streams[0].StartedAt.UTC()
	}
	w.mu.Lock()
	w.status = st
	w.mu.Unlock()
	return st.Live, true
}

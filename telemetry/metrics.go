// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	HelixRequests       *prometheus.CounterVec // endpoint, code
	HelixPages          *prometheus.CounterVec // endpoint
	RosterFetchFailures *prometheus.CounterVec // kind, class
	Picks               *prometheus.CounterVec // outcome
	RaffleEntries       prometheus.Counter
	RaffleDraws         *prometheus.CounterVec // result

	// Histograms (seconds)
	PickDuration prometheus.Observer

	// Gauges
	RaffleEntrants     prometheus.Gauge
	OverlaySubscribers prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		HelixRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "shoutout_helix_requests_total", Help: "Helix API requests by endpoint and status code"}, []string{"endpoint", "code"})
		HelixPages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "shoutout_helix_pages_total", Help: "Paginated Helix pages consumed"}, []string{"endpoint"})
		RosterFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "shoutout_roster_fetch_failures_total", Help: "Roster fetches that stopped on an error"}, []string{"kind", "class"})
		Picks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "shoutout_picks_total", Help: "Random viewer picks by outcome"}, []string{"outcome"})
		RaffleEntries = promauto.NewCounter(prometheus.CounterOpts{Name: "shoutout_raffle_entries_total", Help: "Accepted raffle entries"})
		RaffleDraws = promauto.NewCounterVec(prometheus.CounterOpts{Name: "shoutout_raffle_draws_total", Help: "Raffle draws by result"}, []string{"result"})
		PickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "shoutout_pick_duration_seconds", Help: "Wall time of a full pick including roster fetches", Buckets: prometheus.DefBuckets})
		RaffleEntrants = promauto.NewGauge(prometheus.GaugeOpts{Name: "shoutout_raffle_entrants", Help: "Current number of raffle entrants"})
		OverlaySubscribers = promauto.NewGauge(prometheus.GaugeOpts{Name: "shoutout_overlay_subscribers", Help: "Connected overlay and control panel streams"})
	})
}

// ObserveHelixRequest counts one Helix response (code 0 means the request never got a response).
func ObserveHelixRequest(endpoint string, code int) {
	if HelixRequests != nil {
		HelixRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
}

// ObserveHelixPage counts one consumed page of a paginated endpoint.
func ObserveHelixPage(endpoint string) {
	if HelixPages != nil {
		HelixPages.WithLabelValues(endpoint).Inc()
	}
}

// ObserveRosterFailure records a roster fetch that ended on an error.
func ObserveRosterFailure(kind, class string) {
	if RosterFetchFailures != nil {
		RosterFetchFailures.WithLabelValues(kind, class).Inc()
	}
}

// ObservePick records a finished pick.
func ObservePick(outcome string, d time.Duration) {
	if Picks != nil {
		Picks.WithLabelValues(outcome).Inc()
	}
	if PickDuration != nil {
		PickDuration.Observe(d.Seconds())
	}
}

// ObserveRaffleEntry records an accepted entry and the resulting entrant count.
func ObserveRaffleEntry(entrants int) {
	if RaffleEntries != nil {
		RaffleEntries.Inc()
	}
	SetRaffleEntrants(entrants)
}

// ObserveRaffleDraw records a draw attempt.
func ObserveRaffleDraw(result string) {
	if RaffleDraws != nil {
		RaffleDraws.WithLabelValues(result).Inc()
	}
}

// SetRaffleEntrants records the current entrant count.
func SetRaffleEntrants(n int) {
	if RaffleEntrants != nil {
		RaffleEntrants.Set(float64(n))
	}
}

// AddOverlaySubscribers adjusts the connected stream gauge by delta.
func AddOverlaySubscribers(delta int) {
	if OverlaySubscribers != nil {
		OverlaySubscribers.Add(float64(delta))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

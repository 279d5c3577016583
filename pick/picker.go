package pick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/shoutout-companion/roster"
	"github.com/onnwee/shoutout-companion/selection"
	"github.com/onnwee/shoutout-companion/telemetry"
	"github.com/onnwee/shoutout-companion/twitchapi"
)

// ErrInvalidCount is returned for requests asking for fewer than one viewer.
var ErrInvalidCount = errors.New("pick count must be at least 1")

// Source provides the rosters a pick draws from.
type Source interface {
	RosterFetcher
	Chatters(ctx context.Context) (roster.Set, error)
}

// Outcome classifies a finished pick.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeShort      Outcome = "short"
	OutcomeNoChatters Outcome = "no_chatters"
	OutcomeNoEligible Outcome = "no_eligible"
)

// Request is one pick action.
type Request struct {
	Count   int     `json:"count"`
	Filters Filters `json:"filters"`
}

// Result is the informational outcome of a pick. Empty pools are results, not errors.
type Result struct {
	Outcome   Outcome              `json:"outcome"`
	Message   string               `json:"message"`
	Winners   []string             `json:"winners"`
	Requested int                  `json:"requested"`
	Chatters  int                  `json:"chatters"`
	Eligible  int                  `json:"eligible"`
	Applied   []roster.Kind        `json:"applied_filters"`
	Skipped   []Skip               `json:"skipped_filters,omitempty"`
	Selection *selection.Selection `json:"selection,omitempty"`
}

// Picker runs a full pick: chatters, filters, draw, publish.
type Picker struct {
	Source  Source
	Sampler roster.Sampler
	State   *selection.State // optional; receives successful draws
}

// Pick runs synchronously; every fetch observes ctx.
func (p *Picker) Pick(ctx context.Context, req Request) (Result, error) {
	if req.Count < 1 {
		return Result{}, ErrInvalidCount
	}
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "pick", "pick",
		attribute.Int("pick.count", req.Count))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "pick"))

	chatters, err := p.Source.Chatters(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return Result{}, fmt.Errorf("fetch chatters: %w", err)
	}
	res := Result{Requested: req.Count, Chatters: chatters.Len(), Winners: []string{}}
	if chatters.Len() == 0 {
		return p.finish(ctx, log, res, OutcomeNoChatters, start), nil
	}

	b := Builder{Fetcher: p.Source}
	el, err := b.Build(ctx, chatters, req.Filters)
	if err != nil {
		telemetry.RecordError(span, err)
		return Result{}, err
	}
	res.Eligible, res.Applied, res.Skipped = el.Set.Len(), el.Applied, el.Skipped
	if el.Set.Len() == 0 {
		return p.finish(ctx, log, res, OutcomeNoEligible, start), nil
	}

	draw, err := p.Sampler.Sample(el.Set, req.Count)
	if err != nil {
		telemetry.RecordError(span, err)
		return Result{}, err
	}
	res.Winners = draw.Winners
	if p.State != nil {
		sel := p.State.Set(selection.SourcePick, draw.Winners, req.Count)
		res.Selection = &sel
	}
	outcome := OutcomeOK
	if draw.Short {
		outcome = OutcomeShort
	}
	span.SetAttributes(attribute.String("pick.outcome", string(outcome)))
	telemetry.SetSpanSuccess(span)
	return p.finish(ctx, log, res, outcome, start), nil
}

func (p *Picker) finish(ctx context.Context, log *slog.Logger, res Result, o Outcome, start time.Time) Result {
	res.Outcome = o
	res.Message = res.describe()
	telemetry.ObservePick(string(o), time.Since(start))
	log.InfoContext(ctx, "pick finished",
		slog.String("outcome", string(o)),
		slog.Int("requested", res.Requested),
		slog.Int("chatters", res.Chatters),
		slog.Int("eligible", res.Eligible),
		slog.Int("winners", len(res.Winners)),
		slog.Int("skipped_filters", len(res.Skipped)))
	return res
}

func (r Result) describe() string {
	var msg string
	switch r.Outcome {
	case OutcomeNoChatters:
		msg = "Nobody is in chat right now."
	case OutcomeNoEligible:
		msg = "No chatters match the selected filters."
	case OutcomeShort:
		msg = fmt.Sprintf("Only %d of %d requested viewers were eligible.", len(r.Winners), r.Requested)
	default:
		msg = fmt.Sprintf("Picked %d viewer(s).", len(r.Winners))
	}
	if len(r.Skipped) > 0 {
		msg += fmt.Sprintf(" %d filter(s) were ignored.", len(r.Skipped))
	}
	return msg
}

// Describe turns a pick or roster failure into a message for the streamer.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCount), errors.Is(err, roster.ErrInvalidCount):
		return "Choose at least one viewer."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was canceled or timed out."
	case errors.Is(err, twitchapi.ErrUnauthorized):
		return "Twitch refused access: the connected account needs the right scopes and must be the broadcaster or a moderator of this channel."
	case errors.Is(err, twitchapi.ErrUserNotFound):
		return "Twitch has no channel with that name. Check TWITCH_CHANNEL."
	case errors.Is(err, twitchapi.ErrMalformedResponse):
		return "Twitch sent a response this app could not read."
	case rejected(err):
		var apiErr *twitchapi.APIError
		errors.As(err, &apiErr)
		return "Twitch rejected the request: " + apiErr.Error()
	case errors.Is(err, twitchapi.ErrTransient):
		return "Twitch could not be reached. Try again in a moment."
	default:
		return "Something went wrong: " + err.Error()
	}
}

// rejected reports a Helix 4xx other than authorization and rate limiting.
// Those are transient by class but retrying will not change the answer.
func rejected(err error) bool {
	var apiErr *twitchapi.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
}

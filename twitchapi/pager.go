package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/onnwee/shoutout-companion/roster"
	"github.com/onnwee/shoutout-companion/telemetry"
)

// DefaultPageSize is the largest "first" value the listing endpoints accept.
const DefaultPageSize = 100

// ListRequest describes one paginated listing projected onto a single string field.
type ListRequest struct {
	Endpoint string     // e.g. "/channels/vips"
	Params   url.Values // fixed query parameters such as broadcaster_id
	Field    string     // record field to collect, e.g. "user_login"
	Limit    int        // maximum records to collect, 0 for no limit
}

type listPage struct {
	Data       []map[string]json.RawMessage `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

// FetchList walks every page of req with the user token, waiting PageDelay
// between pages. It stops when there is no cursor, when a page comes back short,
// or when Limit records were collected.
//
// The returned set is never nil. On failure it holds whatever was collected
// before the failing page and err carries the failure class.
func (hc *HelixClient) FetchList(ctx context.Context, req ListRequest) (roster.Set, error) {
	out := roster.New()
	pageSize := DefaultPageSize
	if req.Limit > 0 && req.Limit < pageSize {
		pageSize = req.Limit
	}
	collected := 0
	after := ""
	for page := 0; ; page++ {
		if page > 0 {
			if err := hc.pause(ctx); err != nil {
				return out, err
			}
		}
		q := url.Values{}
		for k, v := range req.Params {
			q[k] = append([]string(nil), v...)
		}
		q.Set("first", strconv.Itoa(pageSize))
		if after != "" {
			q.Set("after", after)
		}

		var body listPage
		if err := hc.get(ctx, userAuth, req.Endpoint, q, &body); err != nil {
			logFetchFailure(ctx, "helix list fetch stopped", err,
				slog.String("endpoint", req.Endpoint), slog.Int("page", page), slog.Int("collected", collected))
			return out, err
		}
		telemetry.ObserveHelixPage(req.Endpoint)

		for i, rec := range body.Data {
			if req.Limit > 0 && collected >= req.Limit {
				break
			}
			v, err := projectString(rec, req.Field)
			if err != nil {
				err = &FetchError{Endpoint: req.Endpoint, Class: ErrMalformedResponse, Err: fmt.Errorf("record %d: %w", i, err)}
				logFetchFailure(ctx, "helix list fetch stopped", err,
					slog.String("endpoint", req.Endpoint), slog.Int("page", page), slog.Int("collected", collected))
				return out, err
			}
			out.Add(v)
			collected++
		}

		switch {
		case body.Pagination.Cursor == "":
			return out, nil
		case len(body.Data) < pageSize:
			return out, nil
		case req.Limit > 0 && collected >= req.Limit:
			return out, nil
		}
		after = body.Pagination.Cursor
	}
}

func projectString(rec map[string]json.RawMessage, field string) (string, error) {
	raw, ok := rec[field]
	if !ok {
		return "", fmt.Errorf("missing field %q", field)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q: %w", field, err)
	}
	return s, nil
}

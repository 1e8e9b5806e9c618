// Package broker supplies transactions to the control loop from a
// source other than the in-process generator: a cursor-based long-poll
// feed, in this build's case a stub broker exercised end-to-end by
// cmd/stubbroker (spec.md §1 "source of transactions is a generator in
// this build, but the design must not assume it is the only one").
// Grounded on the teacher's cmd/decision/main.go WireClient (cursor
// query param, StreamResponse{Events, Cursor} decode loop) and
// internal/adapters/polygon.go's golang.org/x/time/rate limiter idiom
// for outbound call pacing.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/paymentops-agent/internal/generator"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

// SourceAdapter is the interface the orchestrator could drive instead
// of the in-process generator (not currently wired into orchestrator's
// core loop; exercised end-to-end by cmd/stubbroker against
// HTTPPoll directly, keeping the control loop's primary path on the
// in-process generator per spec.md §1's in-scope boundary).
type SourceAdapter interface {
	Poll(ctx context.Context) ([]types.Transaction, error)
}

// Internal adapts the in-process generator's ring buffer to
// SourceAdapter, for callers that want a uniform interface over both
// sources.
type Internal struct {
	gen    *generator.Generator
	lastID string
}

func NewInternal(gen *generator.Generator) *Internal {
	return &Internal{gen: gen}
}

// Poll returns every transaction generated since the previous call
// that the ring buffer still retains.
func (a *Internal) Poll(ctx context.Context) ([]types.Transaction, error) {
	all := a.gen.Buffer().Snapshot()
	start := 0
	if a.lastID != "" {
		for i := len(all) - 1; i >= 0; i-- {
			if all[i].ID == a.lastID {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return nil, nil
	}
	a.lastID = all[len(all)-1].ID
	return all[start:], nil
}

// wireEnvelope is the over-the-wire shape a stub broker publishes:
// a JSON transaction batch plus an opaque resumption cursor.
type wireEnvelope struct {
	Transactions []types.Transaction `json:"transactions"`
	Cursor       string              `json:"cursor"`
}

// HTTPPoll polls a remote broker's /stream endpoint using a
// cursor-based long-poll, rate-limited to avoid hammering the broker
// on every coarse tick.
type HTTPPoll struct {
	baseURL    string
	httpClient *http.Client
	cursor     string
	limiter    *rate.Limiter
}

// NewHTTPPoll constructs a poller against baseURL, rate-limited to
// ratePerSecond requests/sec (spec.md §6 "broker.rate_per_second").
func NewHTTPPoll(baseURL string, timeoutMs int, ratePerSecond float64) *HTTPPoll {
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	return &HTTPPoll{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		cursor:     "0",
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 2),
	}
}

// Poll blocks until the rate limiter admits the call, then fetches
// every transaction published since the last cursor.
func (p *HTTPPoll) Poll(ctx context.Context) ([]types.Transaction, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(p.baseURL + "/stream")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("since", p.cursor)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker: stream endpoint returned %d", resp.StatusCode)
	}

	var env wireEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}

	p.cursor = env.Cursor
	return env.Transactions, nil
}

// Cursor exposes the current resumption cursor, e.g. for logging.
func (p *HTTPPoll) Cursor() string { return p.cursor }

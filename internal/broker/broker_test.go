package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/paymentops-agent/internal/config"
	"github.com/Rajchodisetti/paymentops-agent/internal/drift"
	"github.com/Rajchodisetti/paymentops-agent/internal/feedback"
	"github.com/Rajchodisetti/paymentops-agent/internal/generator"
	"github.com/Rajchodisetti/paymentops-agent/internal/simctx"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

func testSimCtx(t *testing.T) *simctx.Context {
	t.Helper()
	cfg := config.Root{
		Drift:     config.Drift{Theta: 0.1, Sigma: 0.05, MeanSuccess: 0.95},
		Generator: config.Generator{TransactionRate: 50, BufferSize: 100, PSoft: 0.5, RateSchedule: "constant"},
	}
	return simctx.New(cfg, 42, nil)
}

func TestInternalPollReturnsOnlyNewTransactionsSinceLastPoll(t *testing.T) {
	ctx := testSimCtx(t)
	gen := generator.New(ctx)
	driftEngine := drift.New(ctx)
	fb := feedback.New()

	adapter := NewInternal(gen)

	first, err := adapter.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, first)

	now := time.Unix(1000, 0)
	gen.Generate(1.0, now, driftEngine, fb)

	second, err := adapter.Poll(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, second)

	third, err := adapter.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestHTTPPollAdvancesCursor(t *testing.T) {
	var gotSince []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = append(gotSince, r.URL.Query().Get("since"))
		resp := wireEnvelope{
			Transactions: []types.Transaction{{ID: "t1", Issuer: types.IssuerHDFC, Outcome: types.OutcomeSuccess}},
			Cursor:       "cursor-2",
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewHTTPPoll(srv.URL, 2000, 100)
	txns, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "cursor-2", p.Cursor())
	assert.Equal(t, "0", gotSince[0])

	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cursor-2", gotSince[1])
}

func TestHTTPPollSurfacesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPPoll(srv.URL, 2000, 100)
	_, err := p.Poll(context.Background())
	assert.Error(t, err)
}

func TestHTTPPollRespectsContextCancellation(t *testing.T) {
	p := NewHTTPPoll("http://127.0.0.1:0", 100, 0.0001)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// drain the initial burst token so Wait actually blocks on the cancel.
	_ = p.limiter.Allow()

	_, err := p.Poll(ctx)
	assert.Error(t, err)
}

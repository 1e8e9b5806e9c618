package alerts

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/paymentops-agent/internal/config"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

func TestSendAlertDeliversToWebhook(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		select {
		case received <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	c := NewSlackClient(config.Slack{Enabled: true, WebhookURL: srv.URL, RateLimitPerMin: 10})
	defer c.Close()

	c.SendAlert(AlertRequest{Pattern: types.PatternIssuerOutage, Target: types.IssuerICICI, NRV: 120, Timestamp: time.Now()})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received the alert")
	}
}

func TestSendAlertDisabledIsNoop(t *testing.T) {
	c := NewSlackClient(config.Slack{Enabled: false})
	defer c.Close()
	c.SendAlert(AlertRequest{Pattern: types.PatternRetryStorm})
	assert.Equal(t, int64(0), c.GetMetrics().AlertsSentTotal)
}

func TestSendAlertDedupesWithinWindow(t *testing.T) {
	c := NewSlackClient(config.Slack{Enabled: true, WebhookURL: "http://127.0.0.1:0", RateLimitPerMin: 10})
	defer c.Close()

	req := AlertRequest{Pattern: types.PatternIssuerOutage, Target: types.IssuerICICI, NRV: 50}
	h1 := c.generateHash(req)
	h2 := c.generateHash(req)
	require.Equal(t, h1, h2)

	// the second identical alert is deduped before it reaches the rate limiter.
	c.SendAlert(req)
	c.SendAlert(req)
	c.mu.RLock()
	admitted := len(c.rateLimiter)
	c.mu.RUnlock()
	assert.Equal(t, 1, admitted)
}

func TestRateLimitBlocksAfterThreshold(t *testing.T) {
	c := NewSlackClient(config.Slack{Enabled: true, WebhookURL: "http://127.0.0.1:0", RateLimitPerMin: 2})
	defer c.Close()

	assert.False(t, c.isRateLimited())
	assert.False(t, c.isRateLimited())
	assert.True(t, c.isRateLimited())
}

// Package alerts notifies a human operator of agent decisions: ops
// alerts for alert_ops selections and escalations, and an approval
// workflow for decisions that cross the autonomy blast-radius
// guardrail (spec.md §4.F "Guardrails", §1 "human-approval interface").
// Grounded on the teacher's internal/alerts/slack.go: the same bounded
// queue, dedupe-by-hash cache, sliding-window rate limiter, and
// exponential-backoff retry worker, adapted from trading alert fields
// (symbol/intent/score/gates_blocked) to agent decision fields
// (pattern/option/target/nrv/confidence).
package alerts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/Rajchodisetti/paymentops-agent/internal/config"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Fields []SlackField `json:"fields"`
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// AlertRequest describes one decision-driven notification (spec.md
// §4.F, §6 "ops alert").
type AlertRequest struct {
	Pattern    types.PatternFamily    `json:"pattern"`
	Option     types.InterventionType `json:"option"`
	Target     types.Issuer           `json:"target"`
	NRV        float64                `json:"nrv"`
	Confidence float64                `json:"confidence"`
	Rationale  string                 `json:"rationale"`
	Timestamp  time.Time              `json:"timestamp"`
}

type queuedAlert struct {
	req       AlertRequest
	attempts  int
	nextRetry time.Time
	hash      string
}

// AlertMetrics mirrors the teacher's counters, renamed for this
// domain's webhook traffic.
type AlertMetrics struct {
	AlertsSentTotal    int64
	WebhookErrorsTotal int64
	AlertQueueDepth    int64
	RateLimitHitsTotal int64
	AlertQueueDropped  int64
}

// SlackClient queues, dedupes, rate-limits, and retries webhook
// delivery of operator alerts (spec.md §6 "Alerting").
type SlackClient struct {
	cfg         config.Slack
	httpClient  *http.Client
	queue       chan queuedAlert
	dedupeCache map[string]time.Time
	rateLimiter []time.Time
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	metrics     *AlertMetrics
}

func NewSlackClient(cfg config.Slack) *SlackClient {
	ctx, cancel := context.WithCancel(context.Background())

	client := &SlackClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		queue:       make(chan queuedAlert, 1000),
		dedupeCache: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
		metrics:     &AlertMetrics{},
	}

	go client.worker()
	go client.cleanup()

	return client
}

// SendAlert enqueues req for delivery, applying dedupe and rate
// limiting. A disabled client is a no-op (spec.md §6 "slack.enabled").
func (s *SlackClient) SendAlert(req AlertRequest) {
	if !s.cfg.Enabled {
		return
	}

	hash := s.generateHash(req)

	s.mu.Lock()
	if lastSent, exists := s.dedupeCache[hash]; exists {
		if time.Since(lastSent) < 60*time.Second {
			s.mu.Unlock()
			return
		}
	}
	s.dedupeCache[hash] = time.Now()
	s.mu.Unlock()

	if s.isRateLimited() {
		s.mu.Lock()
		s.metrics.RateLimitHitsTotal++
		s.mu.Unlock()
		return
	}

	alert := queuedAlert{req: req, attempts: 0, nextRetry: time.Now(), hash: hash}

	select {
	case s.queue <- alert:
		s.mu.Lock()
		s.metrics.AlertQueueDepth++
		s.mu.Unlock()
	default:
		s.mu.Lock()
		s.metrics.AlertQueueDropped++
		s.mu.Unlock()
	}
}

func (s *SlackClient) generateHash(req AlertRequest) string {
	data := fmt.Sprintf("%s:%s:%s:%.2f", req.Pattern, req.Option, req.Target, req.NRV)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)[:16]
}

func (s *SlackClient) isRateLimited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	filtered := s.rateLimiter[:0]
	for _, t := range s.rateLimiter {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	s.rateLimiter = filtered

	limit := s.cfg.RateLimitPerMin
	if limit <= 0 {
		limit = 10
	}
	if len(s.rateLimiter) >= limit {
		return true
	}
	s.rateLimiter = append(s.rateLimiter, now)
	return false
}

func (s *SlackClient) worker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case alert := <-s.queue:
			s.mu.Lock()
			s.metrics.AlertQueueDepth--
			s.mu.Unlock()

			if time.Now().Before(alert.nextRetry) {
				go func() {
					time.Sleep(time.Until(alert.nextRetry))
					select {
					case s.queue <- alert:
						s.mu.Lock()
						s.metrics.AlertQueueDepth++
						s.mu.Unlock()
					case <-s.ctx.Done():
					}
				}()
				continue
			}

			if s.sendWebhook(alert.req) {
				s.mu.Lock()
				s.metrics.AlertsSentTotal++
				s.mu.Unlock()
				continue
			}

			alert.attempts++
			if alert.attempts >= 3 {
				s.mu.Lock()
				s.metrics.WebhookErrorsTotal++
				s.mu.Unlock()
				continue
			}
			backoff := time.Duration(math.Pow(2, float64(alert.attempts))) * time.Second
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			alert.nextRetry = time.Now().Add(backoff + jitter)
			select {
			case s.queue <- alert:
				s.mu.Lock()
				s.metrics.AlertQueueDepth++
				s.mu.Unlock()
			default:
				s.mu.Lock()
				s.metrics.AlertQueueDropped++
				s.mu.Unlock()
			}
		}
	}
}

func (s *SlackClient) sendWebhook(req AlertRequest) bool {
	msg := s.formatMessage(req)

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("alerts: failed to marshal slack message: %v", err)
		return false
	}
	if len(payload) > 4000 {
		payload = payload[:3900]
		payload = append(payload, []byte("...\"}")...)
	}

	resp, err := s.httpClient.Post(s.cfg.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("alerts: slack webhook error: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Printf("alerts: slack webhook failed with status %d", resp.StatusCode)
		return false
	}
	return true
}

func (s *SlackClient) formatMessage(req AlertRequest) SlackMessage {
	emoji := "ℹ️"
	color := "good"
	switch req.Pattern {
	case types.PatternIssuerOutage, types.PatternSystemicFailure:
		emoji, color = "🚨", "danger"
	case types.PatternRetryStorm, types.PatternLatencySpike, types.PatternIssuerDegradation:
		emoji, color = "⚠️", "warning"
	}

	text := fmt.Sprintf("%s Payment ops: %s on %s", emoji, req.Pattern, req.Target)
	fields := []SlackField{
		{Title: "Pattern", Value: string(req.Pattern), Short: true},
		{Title: "Option", Value: string(req.Option), Short: true},
		{Title: "NRV", Value: fmt.Sprintf("%.2f", req.NRV), Short: true},
		{Title: "Confidence", Value: fmt.Sprintf("%.2f", req.Confidence), Short: true},
		{Title: "Time", Value: req.Timestamp.Format("15:04:05 MST"), Short: true},
	}
	if req.Rationale != "" {
		fields = append(fields, SlackField{Title: "Rationale", Value: req.Rationale, Short: false})
	}

	return SlackMessage{
		Channel:     s.cfg.ChannelDefault,
		Text:        text,
		Attachments: []SlackAttachment{{Color: color, Fields: fields}},
	}
}

func (s *SlackClient) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			cutoff := time.Now().Add(-5 * time.Minute)
			for hash, ts := range s.dedupeCache {
				if ts.Before(cutoff) {
					delete(s.dedupeCache, hash)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *SlackClient) Close() { s.cancel() }

func (s *SlackClient) GetMetrics() AlertMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.metrics
}

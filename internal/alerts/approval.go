// Package alerts also implements the human-approval workflow for
// decisions the guardrail pipeline marks RequiresHumanApproval (spec.md
// §1 "a human-approval interface is mandated but its implementation is
// out of scope" — the interface is in scope; this is one concrete,
// minimal implementation of it). Grounded on the teacher's
// internal/alerts/rbac.go ValidateRequest: the same v0:timestamp:body
// HMAC-SHA256 signature scheme and 300s replay window, trimmed from
// full Slack-command RBAC down to a single approve/deny decision per
// pending intervention.
package alerts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// maxApprovalAge bounds how old a callback's timestamp may be before
// ValidateSignature rejects it as a replay risk (matches the teacher's
// rbac.go window).
const maxApprovalAge = 300 * time.Second

// ApprovalSink is the narrow interface the orchestrator depends on: it
// asks for approval and gets a best-effort acknowledgement back,
// without caring how or whether a human ultimately responds (spec.md
// §4.F "requires_human_approval: notify, do not apply autonomously").
type ApprovalSink interface {
	RequestApproval(key string, req AlertRequest) error
}

// PendingApproval is a decision awaiting a human's approve/deny.
type PendingApproval struct {
	Key       string
	Request   AlertRequest
	CreatedAt time.Time
}

// SlackApprovalSink posts a decision to Slack for review and tracks it
// as pending until RecordDecision resolves it. It embeds a SlackClient
// for delivery rather than re-implementing webhook posting.
type SlackApprovalSink struct {
	client        *SlackClient
	signingSecret string

	mu      sync.Mutex
	pending map[string]PendingApproval
}

// NewSlackApprovalSink wraps an existing SlackClient. signingSecret
// verifies the Slack interactive-message callback that carries the
// human's decision (spec.md's "human-approval interface").
func NewSlackApprovalSink(client *SlackClient, signingSecret string) *SlackApprovalSink {
	return &SlackApprovalSink{
		client:        client,
		signingSecret: signingSecret,
		pending:       make(map[string]PendingApproval),
	}
}

// RequestApproval sends the alert and records it as pending a human
// decision under key (typically "cycle-<n>").
func (s *SlackApprovalSink) RequestApproval(key string, req AlertRequest) error {
	s.client.SendAlert(req)

	s.mu.Lock()
	s.pending[key] = PendingApproval{Key: key, Request: req, CreatedAt: time.Now()}
	s.mu.Unlock()
	return nil
}

// ValidateSignature verifies a Slack-style v0 HMAC signature over
// "v0:timestamp:body" and rejects requests older than maxApprovalAge,
// exactly as the teacher's rbac.go ValidateRequest does.
func (s *SlackApprovalSink) ValidateSignature(signature, timestamp, body string) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("alerts: invalid timestamp: %w", err)
	}
	if time.Now().Unix()-ts > int64(maxApprovalAge.Seconds()) {
		return fmt.Errorf("alerts: approval callback too old")
	}

	baseString := fmt.Sprintf("v0:%s:%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(s.signingSecret))
	mac.Write([]byte(baseString))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("alerts: invalid approval signature")
	}
	return nil
}

// RecordDecision verifies the callback's signature and resolves the
// pending approval identified by key, returning whether it was found.
// The caller (the approval-callback HTTP handler) is responsible for
// acting on approved; this method only settles bookkeeping.
func (s *SlackApprovalSink) RecordDecision(key, signature, timestamp, body string, approved bool) (PendingApproval, bool, error) {
	if err := s.ValidateSignature(signature, timestamp, body); err != nil {
		return PendingApproval{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pa, ok := s.pending[key]
	if !ok {
		return PendingApproval{}, false, nil
	}
	delete(s.pending, key)
	return pa, true, nil
}

// Pending lists approvals awaiting a decision, used by the dashboard
// and by tests.
func (s *SlackApprovalSink) Pending() []PendingApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingApproval, 0, len(s.pending))
	for _, pa := range s.pending {
		out = append(out, pa)
	}
	return out
}

// Package telemetry broadcasts one JSON envelope per cycle to every
// connected dashboard client over a WebSocket (spec.md §6 "Telemetry
// broadcast"). Grounded on niceyeti-tabular's
// tabular/server/fastview/client.go: the same per-client
// publish/ping-pong goroutine pair coordinated with errgroup, adapted
// from a generic single-client publisher into a hub that fans one
// broadcast out to many clients and skips the update for a client
// whose outbound channel is full rather than blocking the cycle that
// produced it.
package telemetry

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait  = 2 * time.Second
	pingPeriod = 20 * time.Second
	pongWait   = 4 * pingPeriod
	clientBuf  = 4 // only the freshest cycles matter; slow clients drop frames
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// InterventionHistoryEntry is one row of the envelope's
// intervention_history (spec.md §6).
type InterventionHistoryEntry struct {
	Action string  `json:"action"`
	Reason string  `json:"reason"`
	TS     int64   `json:"ts"`
	Result string  `json:"result"`
	Rate   float64 `json:"rate"`
}

// SafetyMetrics mirrors observ.SafetyMetrics for the envelope's
// safety_metrics block (spec.md §6).
type SafetyMetrics struct {
	FalsePositiveRate  float64 `json:"false_positive_rate"`
	AvgResponseTimeSec float64 `json:"avg_response_time_s"`
	RollbackRate       float64 `json:"rollback_rate"`
	HumanEscalations   int64   `json:"human_escalations"`
}

// Envelope is the required per-cycle payload (spec.md §6).
type Envelope struct {
	Timestamp           int64                      `json:"timestamp"`
	ThinkingLog         []string                   `json:"thinking_log"`
	TotalVolume         int                        `json:"total_volume"`
	FailRate            float64                    `json:"fail_rate"`
	ActiveGateway       string                     `json:"active_gateway"`
	SuccessSeries       []float64                  `json:"success_series"`
	LatencySeries       []float64                  `json:"latency_series"`
	NRV                 float64                    `json:"nrv"`
	Confidence          float64                    `json:"confidence"`
	InterventionHistory []InterventionHistoryEntry `json:"intervention_history"`
	SafetyMetrics       SafetyMetrics              `json:"safety_metrics"`
}

// Hub owns the set of connected dashboard clients and fans each
// Broadcast call out to all of them. Reconnecting clients receive only
// the next cycle's envelope; there is no replay of history (spec.md
// §6 "Reconnecting clients receive the next cycle; no replay").
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

type client struct {
	conn *websocket.Conn
	send chan Envelope
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection with the hub until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan Envelope, clientBuf)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	group, ctx := errgroup.WithContext(r.Context())
	group.Go(func() error { return c.readLoop(ctx) })
	group.Go(func() error { return c.writeLoop(ctx) })
	if err := group.Wait(); err != nil {
		log.Printf("telemetry: client disconnected: %v", err)
	}
}

// readLoop only drains control frames (pong) and detects disconnects;
// the dashboard never sends application messages upstream.
func (c *client) readLoop(ctx context.Context) error {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func (c *client) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case env, ok := <-c.send:
			if !ok {
				return nil
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return err
			}
		}
	}
}

// Broadcast pushes env to every connected client, dropping it for any
// client whose outbound buffer (clientBuf envelopes) is still full
// rather than blocking the control loop.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
		}
	}
}

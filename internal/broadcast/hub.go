// Package broadcast relays measurements to WebSocket clients: the latest value
// is replayed on connect, pushed values fan out to everyone, and the latest
// value is re-sent periodically.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polarlab/coincidence-rig/internal/observability"
	"github.com/polarlab/coincidence-rig/internal/simulator"
	"github.com/polarlab/coincidence-rig/internal/wire"
)

// #region constants
const (
	DefaultInterval = 2 * time.Second
	sendBuffer      = 16
	writeWait       = 10 * time.Second
	maxMessageSize  = 64 << 10
)
// #endregion constants

// #region hub-struct
// MeasureFunc turns knob_values into peaks; typically backed by a dispatcher.
type MeasureFunc func(ctx context.Context, angles simulator.AngleTriple) (simulator.CoincidencePeaks, error)

// Options configures a Hub.
type Options struct {
	Interval time.Duration // periodic re-broadcast; DefaultInterval when zero
	Measure  MeasureFunc   // handles knob_values; nil rejects them
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Hub owns the set of connected clients and the latest value.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	latest   json.RawMessage
	interval time.Duration
	measure  MeasureFunc
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(opts Options) *Hub {
	h := &Hub{
		clients:  make(map[*client]struct{}),
		interval: opts.Interval,
		measure:  opts.Measure,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if h.interval <= 0 {
		h.interval = DefaultInterval
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}
// #endregion hub-struct

// #region state
// Latest returns the most recent value, if any.
func (h *Hub) Latest() (json.RawMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.latest != nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish stores data as the latest value and sends it to every client.
func (h *Hub) Publish(trigger string, data json.RawMessage) {
	frame, err := encodeEvent(wire.EventNumericalData, data)
	if err != nil {
		h.logger.Error("encode broadcast", "error", err)
		return
	}
	h.mu.Lock()
	h.latest = data
	h.fanOut(frame)
	h.mu.Unlock()
	h.metrics.Broadcast(trigger)
}

// fanOut must be called with h.mu held. Clients that cannot keep up are dropped.
func (h *Hub) fanOut(frame []byte) {
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping slow client", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.ClientDisconnected()
}
// #endregion state

// #region run
// Run re-broadcasts the latest value every interval until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.removeLocked(c)
			}
			h.mu.Unlock()
			return nil
		case <-ticker.C:
			if data, ok := h.Latest(); ok {
				h.Publish("periodic", data)
			}
		}
	}
}
// #endregion run

// #region connection
// ServeHTTP upgrades the request and serves one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.latest != nil {
		if frame, err := encodeEvent(wire.EventNumericalData, h.latest); err == nil {
			c.send <- frame
		}
	}
	h.mu.Unlock()
	h.metrics.ClientConnected()
	h.logger.Info("client connected", "remote", conn.RemoteAddr().String())

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readPump(c *client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.mu.Lock()
		h.removeLocked(c)
		h.mu.Unlock()
		h.logger.Info("client disconnected", "remote", c.conn.RemoteAddr().String())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev wire.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			h.reply(c, wire.EventError, wire.ErrorMessage{Message: "invalid event: " + err.Error()})
			continue
		}
		h.handle(ctx, c, ev)
	}
}
// #endregion connection

// #region events
func (h *Hub) handle(ctx context.Context, c *client, ev wire.Event) {
	switch ev.Event {
	case wire.EventRequestData:
		if data, ok := h.Latest(); ok {
			h.reply(c, wire.EventNumericalData, data)
			h.metrics.Broadcast("request")
		}
	case wire.EventPushData:
		if len(ev.Data) == 0 || bytes.Equal(ev.Data, []byte("null")) {
			h.reply(c, wire.EventError, wire.ErrorMessage{Message: "push_data without data"})
			return
		}
		h.Publish("push", ev.Data)
	case wire.EventKnobValues:
		h.handleKnobs(ctx, c, ev.Data)
	default:
		h.reply(c, wire.EventError, wire.ErrorMessage{Message: "unknown event " + ev.Event})
	}
}

func (h *Hub) handleKnobs(ctx context.Context, c *client, data json.RawMessage) {
	if h.measure == nil {
		h.reply(c, wire.EventError, wire.ErrorMessage{Message: "measurements not enabled"})
		return
	}
	angles, err := wire.DecodeKnobs(data)
	if err != nil {
		h.reply(c, wire.EventError, wire.ErrorMessage{Message: err.Error()})
		return
	}
	peaks, err := h.measure(ctx, angles)
	if err != nil {
		h.logger.Error("measure", "error", err)
		h.reply(c, wire.EventError, wire.ErrorMessage{Message: err.Error()})
		return
	}
	raw, err := json.Marshal(wire.NewEntanglementMessage(peaks))
	if err != nil {
		h.logger.Error("encode peaks", "error", err)
		return
	}
	h.Publish("knobs", raw)
}

// reply sends one event to a single client.
func (h *Hub) reply(c *client, name string, payload any) {
	frame, err := encodeEvent(name, payload)
	if err != nil {
		h.logger.Error("encode reply", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.removeLocked(c)
	}
}

func encodeEvent(name string, payload any) ([]byte, error) {
	ev, err := wire.NewEvent(name, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}
// #endregion events

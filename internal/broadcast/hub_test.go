package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarlab/coincidence-rig/internal/simulator"
	"github.com/polarlab/coincidence-rig/internal/wire"
)

// #region helpers
func startHub(t *testing.T, opts Options) (*Hub, string) {
	t.Helper()
	h := NewHub(opts)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, name string, payload any) {
	t.Helper()
	ev, err := wire.NewEvent(name, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ev))
}

func read(t *testing.T, conn *websocket.Conn) wire.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev wire.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 5*time.Second, 5*time.Millisecond)
}
// #endregion helpers

// #region relay-tests
func TestPushDataFansOut(t *testing.T) {
	h, url := startHub(t, Options{Interval: time.Hour})
	a := dial(t, url)
	b := dial(t, url)
	waitClients(t, h, 2)

	send(t, a, wire.EventPushData, map[string]int{"value": 7})

	for _, conn := range []*websocket.Conn{a, b} {
		ev := read(t, conn)
		assert.Equal(t, wire.EventNumericalData, ev.Event)
		assert.JSONEq(t, `{"value":7}`, string(ev.Data))
	}
}

func TestLatestReplayedOnConnect(t *testing.T) {
	h, url := startHub(t, Options{Interval: time.Hour})
	h.Publish("push", json.RawMessage(`{"entanglement":[1,2,3,4]}`))

	conn := dial(t, url)
	ev := read(t, conn)
	assert.Equal(t, wire.EventNumericalData, ev.Event)
	assert.JSONEq(t, `{"entanglement":[1,2,3,4]}`, string(ev.Data))
}

func TestRequestData(t *testing.T) {
	h, url := startHub(t, Options{Interval: time.Hour})
	conn := dial(t, url)
	waitClients(t, h, 1)

	h.Publish("push", json.RawMessage(`[9]`))
	read(t, conn)

	send(t, conn, wire.EventRequestData, nil)
	ev := read(t, conn)
	assert.Equal(t, wire.EventNumericalData, ev.Event)
	assert.JSONEq(t, `[9]`, string(ev.Data))
}

func TestUnknownEventAndBadFrame(t *testing.T) {
	h, url := startHub(t, Options{Interval: time.Hour})
	conn := dial(t, url)
	waitClients(t, h, 1)

	send(t, conn, "dance", nil)
	ev := read(t, conn)
	assert.Equal(t, wire.EventError, ev.Event)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev = read(t, conn)
	assert.Equal(t, wire.EventError, ev.Event)

	send(t, conn, wire.EventPushData, nil)
	ev = read(t, conn)
	assert.Equal(t, wire.EventError, ev.Event)
}
// #endregion relay-tests

// #region knob-tests
func TestKnobValuesMeasuresAndBroadcasts(t *testing.T) {
	got := make(chan simulator.AngleTriple, 1)
	measure := func(_ context.Context, a simulator.AngleTriple) (simulator.CoincidencePeaks, error) {
		got <- a
		return simulator.CoincidencePeaks{10, 20, 30, 40}, nil
	}
	h, url := startHub(t, Options{Interval: time.Hour, Measure: measure})
	requester := dial(t, url)
	watcher := dial(t, url)
	waitClients(t, h, 2)

	send(t, requester, wire.EventKnobValues, wire.KnobRequest{KnobValues: []float64{45, 90, 135}})

	for _, conn := range []*websocket.Conn{requester, watcher} {
		ev := read(t, conn)
		require.Equal(t, wire.EventNumericalData, ev.Event)
		var msg wire.EntanglementMessage
		require.NoError(t, json.Unmarshal(ev.Data, &msg))
		assert.Equal(t, []int{10, 20, 30, 40}, msg.Entanglement)
	}
	assert.Equal(t, simulator.AngleTriple{45, 90, 135}, <-got)
}

func TestKnobValuesErrors(t *testing.T) {
	failing := func(context.Context, simulator.AngleTriple) (simulator.CoincidencePeaks, error) {
		return simulator.CoincidencePeaks{}, errors.New("bridge down")
	}
	h, url := startHub(t, Options{Interval: time.Hour, Measure: failing})
	conn := dial(t, url)
	waitClients(t, h, 1)

	send(t, conn, wire.EventKnobValues, map[string]any{"knob_values": []float64{1, 2}})
	ev := read(t, conn)
	require.Equal(t, wire.EventError, ev.Event)
	assert.Contains(t, string(ev.Data), "invalid input")

	send(t, conn, wire.EventKnobValues, wire.KnobRequest{KnobValues: []float64{1, 2, 3}})
	ev = read(t, conn)
	require.Equal(t, wire.EventError, ev.Event)
	assert.Contains(t, string(ev.Data), "bridge down")

	_, ok := h.Latest()
	assert.False(t, ok)
}

func TestKnobValuesWithoutMeasure(t *testing.T) {
	h, url := startHub(t, Options{Interval: time.Hour})
	conn := dial(t, url)
	waitClients(t, h, 1)

	send(t, conn, wire.EventKnobValues, wire.KnobRequest{KnobValues: []float64{1, 2, 3}})
	ev := read(t, conn)
	assert.Equal(t, wire.EventError, ev.Event)
}
// #endregion knob-tests

// #region run-tests
func TestRunRebroadcastsPeriodically(t *testing.T) {
	h, url := startHub(t, Options{Interval: 20 * time.Millisecond})
	h.Publish("push", json.RawMessage(`{"n":1}`))
	conn := dial(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	for i := 0; i < 3; i++ {
		ev := read(t, conn)
		assert.JSONEq(t, `{"n":1}`, string(ev.Data))
	}

	cancel()
	require.NoError(t, <-done)
	waitClients(t, h, 0)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	h, url := startHub(t, Options{Interval: time.Hour})
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)
}
// #endregion run-tests

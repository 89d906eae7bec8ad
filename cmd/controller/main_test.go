package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/polarlab/coincidence-rig/internal/config"
	"github.com/polarlab/coincidence-rig/internal/dispatch"
	"github.com/polarlab/coincidence-rig/internal/simulator"
)

func testDispatcher() *dispatch.Dispatcher {
	return dispatch.New(
		dispatch.WithSeed(func() uint64 { return 3 }),
		dispatch.WithSimulatorOptions(simulator.WithSleep(func(context.Context, time.Duration) error { return nil })),
		dispatch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestRun_AnswersEachLine(t *testing.T) {
	in := strings.NewReader("{\"knob_values\":[45,90,135]}\n\n{\"knob_values\":[1,2]}\n{\"knob_values\":[10,20,30]}\n")
	var out bytes.Buffer

	err := run(context.Background(), in, &out, testDispatcher(), config.Default, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 output lines, got %d: %q", len(lines), out.String())
	}

	var first struct {
		Entanglement []int `json:"entanglement"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(first.Entanglement) != 4 {
		t.Fatalf("expected 4 peaks, got %v", first.Entanglement)
	}

	var bad errorLine
	if err := json.Unmarshal([]byte(lines[1]), &bad); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(bad.Error, "invalid input") {
		t.Fatalf("expected invalid input error, got %q", bad.Error)
	}

	if !strings.HasPrefix(lines[2], `{"entanglement":[`) {
		t.Fatalf("expected entanglement line, got %s", lines[2])
	}
}

func TestRun_UsesCurrentConfigPerRequest(t *testing.T) {
	calls := 0
	current := func() config.Config {
		calls++
		return config.Default()
	}
	in := strings.NewReader("{\"knob_values\":[1,2,3]}\n{\"knob_values\":[4,5,6]}\n")
	if err := run(context.Background(), in, io.Discard, testDispatcher(), current, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected config to be read per request, got %d reads", calls)
	}
}

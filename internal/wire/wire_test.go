package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/polarlab/coincidence-rig/internal/simulator"
)

func TestDecodeKnobs(t *testing.T) {
	a, err := DecodeKnobs([]byte(`{"knob_values":[45,90,135]}`))
	if err != nil {
		t.Fatalf("DecodeKnobs: %v", err)
	}
	if a != (simulator.AngleTriple{45, 90, 135}) {
		t.Fatalf("unexpected angles %v", a)
	}
}

func TestDecodeKnobsInvalid(t *testing.T) {
	cases := map[string]string{
		"not-json":    `knob_values=45`,
		"missing":     `{}`,
		"null":        `{"knob_values":null}`,
		"two-values":  `{"knob_values":[45,90]}`,
		"four-values": `{"knob_values":[1,2,3,4]}`,
		"string":      `{"knob_values":["45",90,135]}`,
		"object":      `{"knob_values":{"a":1}}`,
	}
	for name, body := range cases {
		_, err := DecodeKnobs([]byte(body))
		if !errors.Is(err, simulator.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestKnobsToEntanglementRoundTrip(t *testing.T) {
	angles, err := DecodeKnobs([]byte(`{"knob_values":[45,90,135]}`))
	if err != nil {
		t.Fatalf("DecodeKnobs: %v", err)
	}
	cfg := simulator.DefaultConfig()
	cfg.Latency = 0
	sim, _ := simulator.New(cfg)
	peaks, err := sim.Simulate(simulator.NewSource(5), angles.Slice())
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	body, err := EncodeEntanglement(peaks)
	if err != nil {
		t.Fatalf("EncodeEntanglement: %v", err)
	}

	var generic map[string][]json.Number
	if err := json.Unmarshal(body, &generic); err != nil {
		t.Fatalf("unmarshal %s: %v", body, err)
	}
	vals, ok := generic["entanglement"]
	if !ok || len(vals) != 4 {
		t.Fatalf("expected 4 entanglement values, got %s", body)
	}
	for i, v := range vals {
		n, err := v.Int64()
		if err != nil || n < 0 {
			t.Fatalf("value %d (%s) is not a non-negative integer", i, v)
		}
	}
}

func TestEntanglementMessagePeaks(t *testing.T) {
	p, err := EntanglementMessage{Entanglement: []int{1, 2, 3, 4}}.Peaks()
	if err != nil {
		t.Fatalf("Peaks: %v", err)
	}
	if p != (simulator.CoincidencePeaks{1, 2, 3, 4}) {
		t.Fatalf("unexpected peaks %v", p)
	}
	if _, err := (EntanglementMessage{Entanglement: []int{1, 2, 3}}).Peaks(); err == nil {
		t.Fatal("expected error for three peaks")
	}
	if _, err := (EntanglementMessage{Entanglement: []int{1, -2, 3, 4}}).Peaks(); err == nil {
		t.Fatal("expected error for negative peak")
	}
}

func TestBridgeEnvelopeOmitsEmpty(t *testing.T) {
	body, _ := json.Marshal(BridgeEnvelope{Success: false, Error: "boom"})
	if string(body) != `{"success":false,"error":"boom"}` {
		t.Fatalf("unexpected envelope %s", body)
	}
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent(EventNumericalData, NewEntanglementMessage(simulator.CoincidencePeaks{9, 8, 7, 6}))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	body, _ := json.Marshal(ev)
	want := `{"event":"numerical_data","data":{"entanglement":[9,8,7,6]}}`
	if string(body) != want {
		t.Fatalf("expected %s, got %s", want, body)
	}
}

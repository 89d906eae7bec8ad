// Package wire holds the JSON shapes exchanged with the front end, the hardware
// bridge, and broadcast clients.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region event-names
const (
	EventNumericalData = "numerical_data"
	EventRequestData   = "request_data"
	EventPushData      = "push_data"
	EventKnobValues    = "knob_values"
	EventError         = "error"
)
// #endregion event-names

// #region knob-request
// KnobRequest carries the three paddle angles from the front end.
type KnobRequest struct {
	KnobValues []float64 `json:"knob_values"`
}

// Angles validates the request into an AngleTriple.
func (r KnobRequest) Angles() (simulator.AngleTriple, error) {
	return simulator.NewAngleTriple(r.KnobValues)
}

// NewKnobRequest builds a request from a validated triple.
func NewKnobRequest(a simulator.AngleTriple) KnobRequest {
	return KnobRequest{KnobValues: a.Slice()}
}

// DecodeKnobs parses a knob_values object. Any malformed, non-numeric, or
// wrong-arity payload is reported as simulator.ErrInvalidInput.
func DecodeKnobs(data []byte) (simulator.AngleTriple, error) {
	var req KnobRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return simulator.AngleTriple{}, fmt.Errorf("%w: %v", simulator.ErrInvalidInput, err)
	}
	if req.KnobValues == nil {
		return simulator.AngleTriple{}, fmt.Errorf("%w: missing knob_values", simulator.ErrInvalidInput)
	}
	return req.Angles()
}
// #endregion knob-request

// #region entanglement
// EntanglementMessage carries the four coincidence peaks back to the front end.
type EntanglementMessage struct {
	Entanglement []int `json:"entanglement"`
}

// NewEntanglementMessage converts peaks into their wire form; it always has four entries.
func NewEntanglementMessage(p simulator.CoincidencePeaks) EntanglementMessage {
	return EntanglementMessage{Entanglement: p.Slice()}
}

// Peaks converts the message back into CoincidencePeaks, rejecting anything that
// is not exactly four non-negative counts.
func (m EntanglementMessage) Peaks() (simulator.CoincidencePeaks, error) {
	var p simulator.CoincidencePeaks
	if len(m.Entanglement) != len(p) {
		return p, fmt.Errorf("expected 4 peaks, got %d", len(m.Entanglement))
	}
	for i, v := range m.Entanglement {
		if v < 0 {
			return p, fmt.Errorf("peak %d is negative: %d", i, v)
		}
		p[i] = v
	}
	return p, nil
}

// EncodeEntanglement marshals peaks as a single JSON line body.
func EncodeEntanglement(p simulator.CoincidencePeaks) ([]byte, error) {
	return json.Marshal(NewEntanglementMessage(p))
}
// #endregion entanglement

// #region bridge-envelope
// BridgeEnvelope is the response body of the bridge execute endpoint.
type BridgeEnvelope struct {
	Success bool                 `json:"success"`
	Data    *EntanglementMessage `json:"data,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// HardwareStatus is the body of the bridge status endpoint.
type HardwareStatus struct {
	BridgeOnline      bool     `json:"bridge_online"`
	HardwareConnected bool     `json:"hardware_connected"`
	DeviceID          string   `json:"device_id,omitempty"`
	AvailableDevices  []string `json:"available_devices,omitempty"`
	Error             string   `json:"error,omitempty"`
}
// #endregion bridge-envelope

// #region event
// Event is one broadcast frame: a name and its JSON payload.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event.
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Event: name, Data: raw}, nil
}

// ErrorMessage is the payload of an error event.
type ErrorMessage struct {
	Message string `json:"message"`
}
// #endregion event

package pusher

import (
	"encoding/json"
	"fmt"
)

// Frame is the wire shape of every message exchanged with the push backend.
// Data may be a JSON object or a JSON-encoded string, depending on the
// event; both directions use this envelope.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Canonical action names for outbound control intents. Envelope strategies
// map these onto the concrete wire events their backend generation expects.
const (
	ActionShowerControl  = "shower_control"
	ActionSetTemperature = "set_temperature"
	ActionActivatePreset = "activate_preset"
	ActionOutletsSet     = "outlets_set"
)

// Envelope serializes an outbound control intent into a client-event frame.
// Two backend generations exist with incompatible conventions, so the
// strategy is configurable rather than hard-coded.
type Envelope interface {
	// Encode builds the outbound frame for an action on a channel.
	Encode(channel, action string, params any) (*Frame, error)
	// Name identifies the strategy in configuration files.
	Name() string
}

// ClientEventEnvelope emits flat "client-<name>" events with the params as
// the frame data. This matches the older backend generation:
//
//	{"event":"client-shower-control","channel":"private-x","data":{"mode":"on"}}
type ClientEventEnvelope struct{}

// flat event names observed on the wire for each canonical action
var clientEventNames = map[string]string{
	ActionShowerControl:  "client-shower-control",
	ActionSetTemperature: "client-set-temperature",
	ActionActivatePreset: "client-activate-preset",
	ActionOutletsSet:     "client-outlets-set",
}

func (ClientEventEnvelope) Name() string { return "client-event" }

func (ClientEventEnvelope) Encode(channel, action string, params any) (*Frame, error) {
	name, ok := clientEventNames[action]
	if !ok {
		name = "client-" + action
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params for %s: %w", action, err)
	}
	return &Frame{Event: name, Channel: channel, Data: data}, nil
}

// ControlEnvelope wraps every intent in a single "client-state-desired"
// event with a nested type/data envelope. This matches the newer backend
// generation:
//
//	{"event":"client-state-desired","channel":"private-x",
//	 "data":{"type":"control","data":{"action":"shower_control","params":{...}}}}
type ControlEnvelope struct{}

func (ControlEnvelope) Name() string { return "control" }

func (ControlEnvelope) Encode(channel, action string, params any) (*Frame, error) {
	inner := map[string]any{
		"type": "control",
		"data": map[string]any{
			"action": action,
			"params": params,
		},
	}
	data, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("encode params for %s: %w", action, err)
	}
	return &Frame{Event: "client-state-desired", Channel: channel, Data: data}, nil
}

// EnvelopeByName returns the envelope strategy with the given configuration
// name, defaulting to ClientEventEnvelope for unknown or empty names.
func EnvelopeByName(name string) Envelope {
	switch name {
	case "control":
		return ControlEnvelope{}
	default:
		return ClientEventEnvelope{}
	}
}

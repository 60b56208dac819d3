package coordinator

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/muurk/moentap/internal/api"
	"github.com/muurk/moentap/internal/logging"
)

// EventStateReported is the push event carrying device state patches.
const EventStateReported = "client-state-reported"

// Envelope types that carry state fields. Anything else wrapped in a
// type/data envelope (settings, debug) is ignored.
const (
	envelopeStateChange  = "state_change"
	envelopeShowerReport = "shower_report"
)

// recognized external field names, in the order the vendor emits them
var patchFields = []string{
	"current_mode",
	"target_temperature",
	"current_temperature",
	"outlets",
	"active_preset",
	"timer_enabled",
	"time_remaining",
	"presets",
}

// Handler returns the push event handler for one device's channel. State
// patches flow through ApplyPatch; any event the merger does not understand
// falls back to a coalesced full refresh, treating "we don't understand
// this" as "go get the truth".
func (c *Coordinator) Handler(serial string) func(event string, data any) {
	return func(event string, data any) {
		if event != EventStateReported {
			logging.Debug("Unknown push event, requesting refresh",
				zap.String("serial", serial),
				zap.String("event", event),
			)
			c.RequestRefresh()
			return
		}
		c.ApplyPatch(serial, data)
	}
}

// ApplyPatch merges a push-event payload into a device's record. Both
// envelope shapes are accepted: the nested {type, data} form discriminated
// by a state-carrying type value, and the flat field map. Only fields
// present in the payload are copied; everything else is untouched. A
// payload with no recognized field triggers a single coalesced refresh. A
// patch can never create a device: unknown serials are logged no-ops.
func (c *Coordinator) ApplyPatch(serial string, payload any) {
	fields, ignore := unwrapEnvelope(payload)
	if ignore {
		logging.Debug("Ignoring non-state push payload",
			zap.String("serial", serial),
		)
		return
	}
	if fields == nil {
		logging.Debug("Unrecognized push payload, requesting refresh",
			zap.String("serial", serial),
		)
		c.RequestRefresh()
		return
	}

	c.mu.Lock()
	prev, ok := c.devices[serial]
	if !ok {
		c.mu.Unlock()
		logging.Warn("Patch for unknown device dropped",
			zap.String("serial", serial),
		)
		return
	}

	merged := prev.Clone()
	if !mergeFields(merged, fields) {
		c.mu.Unlock()
		logging.Debug("No recognized fields in push payload, requesting refresh",
			zap.String("serial", serial),
		)
		c.RequestRefresh()
		return
	}

	c.devices[serial] = merged
	notify := c.notifyLocked(serial, merged)
	c.mu.Unlock()

	logging.LogDeviceUpdate(serial, "push")
	notify()
}

// unwrapEnvelope normalizes the two envelope shapes into one flat field
// map. It returns (nil, true) for envelopes that are understood but carry
// no state (to be ignored), and (nil, false) for shapes it cannot
// interpret at all (caller refreshes).
func unwrapEnvelope(payload any) (map[string]any, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, false
	}

	typ, hasType := m["type"].(string)
	if !hasType {
		// Flat shape: the field map itself.
		return m, false
	}

	switch typ {
	case envelopeStateChange, envelopeShowerReport:
		inner, ok := m["data"].(map[string]any)
		if !ok {
			return nil, false
		}
		return inner, false
	default:
		// Known envelope, non-state content (settings, debug, ...).
		return nil, true
	}
}

// mergeFields copies recognized fields from the payload into the record.
// The merge is field-local: absent fields are left untouched. Returns
// false when no recognized field was present.
func mergeFields(st *api.DeviceState, fields map[string]any) bool {
	recognized := false
	for _, name := range patchFields {
		v, present := fields[name]
		if !present {
			continue
		}
		if applyField(st, name, v) {
			recognized = true
		}
	}
	return recognized
}

// applyField sets one attribute from its external field value. Values with
// the wrong shape are skipped rather than corrupting the record.
func applyField(st *api.DeviceState, name string, v any) bool {
	switch name {
	case "current_mode":
		s, ok := v.(string)
		if !ok {
			return false
		}
		st.Mode = s
	case "target_temperature":
		f, ok := asFloat(v)
		if !ok {
			return false
		}
		st.TargetTemperature = f
	case "current_temperature":
		f, ok := asFloat(v)
		if !ok {
			return false
		}
		st.CurrentTemperature = f
	case "outlets":
		var outlets []api.Outlet
		if !reencode(v, &outlets) {
			return false
		}
		st.Outlets = outlets
	case "active_preset":
		if v == nil {
			st.ActivePreset = nil
			return true
		}
		f, ok := asFloat(v)
		if !ok {
			return false
		}
		pos := int(f)
		st.ActivePreset = &pos
	case "timer_enabled":
		b, ok := v.(bool)
		if !ok {
			return false
		}
		st.TimerEnabled = b
	case "time_remaining":
		f, ok := asFloat(v)
		if !ok {
			return false
		}
		st.TimerRemaining = int(f)
	case "presets":
		var presets []api.Preset
		if !reencode(v, &presets) {
			return false
		}
		st.Presets = presets
	default:
		return false
	}
	return true
}

// asFloat accepts the numeric shapes JSON decoding can hand us.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// reencode converts a decoded-JSON value into a typed structure by going
// back through the JSON codec.
func reencode(v any, out any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

package optimistic

import (
	"fmt"
	"sync"
)

// Attribute identifies one controllable attribute of a device.
type Attribute string

const (
	// AttrPower is the whole-shower on/off state.
	AttrPower Attribute = "power"
	// AttrTargetTemperature is the requested water temperature.
	AttrTargetTemperature Attribute = "target_temperature"
)

// OutletAttr returns the attribute key for one outlet position.
func OutletAttr(position int) Attribute {
	return Attribute(fmt.Sprintf("outlet.%d", position))
}

// Overlay holds per-(device, attribute) optimistic overrides. A caller
// asserts a value it just wrote; reads prefer the override until the next
// authoritative update for that device clears every one of its overrides.
//
// The clear is unconditional: the overlay never diffs the authoritative
// value against the guess. Any fresher truth wins, so a wrong guess
// self-heals within one update cycle instead of sticking.
type Overlay struct {
	mu     sync.Mutex
	values map[string]map[Attribute]any
}

// New creates an empty overlay.
func New() *Overlay {
	return &Overlay{values: make(map[string]map[Attribute]any)}
}

// Set asserts an optimistic value for a device attribute.
func (o *Overlay) Set(serial string, attr Attribute, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.values[serial]
	if !ok {
		m = make(map[Attribute]any)
		o.values[serial] = m
	}
	m[attr] = value
}

// Value returns the optimistic override for a device attribute, if one is
// in effect.
func (o *Overlay) Value(serial string, attr Attribute) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.values[serial][attr]
	return v, ok
}

// Bool returns a boolean override, treating a non-bool or absent override
// as absent.
func (o *Overlay) Bool(serial string, attr Attribute) (bool, bool) {
	v, ok := o.Value(serial, attr)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// ClearDevice drops all overrides for a device. Wired to the registry's
// update notification so arrival of authoritative state always clears.
func (o *Overlay) ClearDevice(serial string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.values, serial)
}

// Len reports how many devices currently have overrides. Used in tests.
func (o *Overlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.values)
}

package api

// Operating modes reported by the shower controller. The mode field is an
// open string enumeration and newer firmware may report values not listed
// here; consumers should treat unknown modes as "running".
const (
	// ModeOff means the shower is idle
	ModeOff = "off"
	// ModeAdjusting means the shower is heating toward the target temperature
	ModeAdjusting = "adjusting"
	// ModeReady means the target temperature has been reached
	ModeReady = "ready"
	// ModePause means flow is paused by the user
	ModePause = "pause"
	// ModePausePreset means flow is paused by an active preset's timer
	ModePausePreset = "paused_by_preset"
)

// DeviceSummary is a single entry from the device list endpoint (/v2/showers).
// Only the serial number is required; the detail endpoint provides everything else.
type DeviceSummary struct {
	SerialNumber string `json:"serial_number"`
	Name         string `json:"name,omitempty"`
}

// DeviceState is the full state of a shower controller as returned by the
// detail endpoint (/v5/showers/{serial}). The same field names appear in
// push event payloads, which carry partial subsets of these fields.
type DeviceState struct {
	SerialNumber       string   `json:"serial_number"`
	Name               string   `json:"name,omitempty"`
	Mode               string   `json:"mode"`
	CurrentTemperature float64  `json:"current_temperature"`
	TargetTemperature  float64  `json:"target_temperature"`
	MaxTemp            float64  `json:"max_temp,omitempty"`
	Outlets            []Outlet `json:"outlets,omitempty"`
	ActivePreset       *int     `json:"active_preset,omitempty"`
	TimerEnabled       bool     `json:"timer_enabled"`
	TimerRemaining     int      `json:"timer_remaining,omitempty"`
	Presets            []Preset `json:"presets,omitempty"`
	FirmwareVersion    string   `json:"current_firmware_version,omitempty"`
	BatteryLevel       *int     `json:"battery_level,omitempty"`

	// Channel is the device's private push channel identifier. It is
	// stable per device and required to subscribe for live updates.
	Channel string `json:"channel,omitempty"`
}

// Outlet is one water outlet on the controller. Position is unique within a
// device. IconIndex is a presentation hint from the vendor API and is opaque
// to the sync engine.
type Outlet struct {
	Position  int  `json:"position"`
	Active    bool `json:"active"`
	IconIndex int  `json:"icon_index,omitempty"`
}

// Preset is a stored shower configuration. Presets are read-only snapshots
// from the detail fetch; activating one is a push command referencing the
// preset's position.
type Preset struct {
	Position          int     `json:"position"`
	Title             string  `json:"title,omitempty"`
	TargetTemperature float64 `json:"target_temperature,omitempty"`
	Outlets           []int   `json:"outlets,omitempty"`
	TimerEnabled      bool    `json:"timer_enabled,omitempty"`
	TimerDuration     int     `json:"timer_duration,omitempty"`
}

// PushCredentials are the vendor-issued credentials for the push backend
// (/v3/credentials).
type PushCredentials struct {
	AppKey  string `json:"app_key"`
	Cluster string `json:"cluster"`
}

// Clone returns a deep copy of the device state. The registry hands out
// clones so observers never share slices with the canonical record.
func (d *DeviceState) Clone() *DeviceState {
	if d == nil {
		return nil
	}
	out := *d
	if d.Outlets != nil {
		out.Outlets = make([]Outlet, len(d.Outlets))
		copy(out.Outlets, d.Outlets)
	}
	if d.Presets != nil {
		out.Presets = make([]Preset, len(d.Presets))
		for i, p := range d.Presets {
			out.Presets[i] = p
			if p.Outlets != nil {
				out.Presets[i].Outlets = make([]int, len(p.Outlets))
				copy(out.Presets[i].Outlets, p.Outlets)
			}
		}
	}
	if d.ActivePreset != nil {
		v := *d.ActivePreset
		out.ActivePreset = &v
	}
	if d.BatteryLevel != nil {
		v := *d.BatteryLevel
		out.BatteryLevel = &v
	}
	return &out
}

// OutletAt returns the outlet record with the given position, or nil if the
// device has no outlet at that position.
func (d *DeviceState) OutletAt(position int) *Outlet {
	for i := range d.Outlets {
		if d.Outlets[i].Position == position {
			return &d.Outlets[i]
		}
	}
	return nil
}

// ActiveOutlets returns the positions of all currently active outlets.
func (d *DeviceState) ActiveOutlets() []int {
	var active []int
	for _, o := range d.Outlets {
		if o.Active {
			active = append(active, o.Position)
		}
	}
	return active
}

// Running reports whether the shower is in any mode other than off.
func (d *DeviceState) Running() bool {
	return d.Mode != ModeOff
}

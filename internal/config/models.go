package config

import (
	"sync"
	"time"
)

// Registry represents the entire user configuration file.
// This stores the account reference, user-defined device metadata and
// application preferences.
//
// Device metadata is mutated at runtime from coordinator observers, which
// fire from both the poll goroutine and the push read loop, so all map
// access goes through the methods below under mu.
type Registry struct {
	Version     int                `yaml:"version"`
	Account     *Account           `yaml:"account,omitempty"`
	Devices     map[string]*Device `yaml:"devices,omitempty"` // Keyed by device serial number
	Preferences *Preferences       `yaml:"preferences,omitempty"`

	mu sync.Mutex
}

// Account holds the cloud account reference.
// The password is NEVER stored; it comes from the MOENTAP_PASSWORD
// environment variable or a prompt.
type Account struct {
	Email string `yaml:"email"`
}

// Device represents user-defined metadata for a single shower controller.
// This is keyed by the device's serial number in the Registry.
type Device struct {
	Nickname string              `yaml:"nickname,omitempty"`  // User-friendly name
	LastSeen time.Time           `yaml:"last_seen,omitempty"` // Last successful fetch time
	Outlets  map[int]*OutletMeta `yaml:"outlets,omitempty"`   // Outlet metadata (keyed by outlet position)
}

// OutletMeta represents user-defined metadata for a single outlet.
// This is purely client-side information layered over the vendor's
// icon_index hint.
type OutletMeta struct {
	Label string `yaml:"label"`          // User-defined label (e.g., "Rain Shower Head")
	Icon  string `yaml:"icon,omitempty"` // Optional emoji/icon for display
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`    // Registry refresh period
	CommandEnvelope     string `yaml:"command_envelope"`         // "client-event" or "control"
	PushReconnect       bool   `yaml:"push_reconnect,omitempty"` // Redial the push backend after drops
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version: 1,
		Devices: make(map[string]*Device),
		Preferences: &Preferences{
			PollIntervalSeconds: 30,
			CommandEnvelope:     "client-event",
			PushReconnect:       true,
		},
	}
}

// GetDevice retrieves device metadata by serial number.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(serial string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Devices[serial]
}

// ensureDeviceLocked creates the device entry if missing. Caller holds mu.
func (r *Registry) ensureDeviceLocked(serial string) *Device {
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}

	if device, exists := r.Devices[serial]; exists {
		return device
	}

	device := &Device{
		Outlets: make(map[int]*OutletMeta),
	}
	r.Devices[serial] = device
	return device
}

// EnsureDevice ensures a device entry exists in the registry.
// If the device doesn't exist, creates a new entry with default values.
// Returns the device entry (existing or newly created).
func (r *Registry) EnsureDevice(serial string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureDeviceLocked(serial)
}

// UpdateDeviceLastSeen updates the last seen timestamp for a device.
// Safe to call from concurrent observer callbacks.
func (r *Registry) UpdateDeviceLastSeen(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureDeviceLocked(serial).LastSeen = time.Now()
}

// DeviceLastSeen returns the last seen timestamp for a device, or the zero
// time if the device is unknown.
func (r *Registry) DeviceLastSeen(serial string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if device, exists := r.Devices[serial]; exists {
		return device.LastSeen
	}
	return time.Time{}
}

// SetOutletLabel sets or updates the outlet metadata for a device.
func (r *Registry) SetOutletLabel(serial string, position int, label, icon string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device := r.ensureDeviceLocked(serial)

	if device.Outlets == nil {
		device.Outlets = make(map[int]*OutletMeta)
	}

	device.Outlets[position] = &OutletMeta{
		Label: label,
		Icon:  icon,
	}
}

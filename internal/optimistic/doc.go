// Package optimistic implements the write-latency mask for control
// operations.
//
// A command sent over the push channel is only confirmed when the device
// reports its new state, which can take a poll interval in the worst case.
// The overlay lets a control assert "assume this value" immediately after
// sending, and clears every override for a device the moment any
// authoritative update for it arrives - whether or not the update agrees
// with the guess. Overrides are in-memory only and never persisted.
package optimistic

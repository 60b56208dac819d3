// Package control translates user intents (mode, temperature, presets,
// outlets) into push events on a device's private channel.
//
// Writes go through the optimistic overlay first so readers see the
// intended state immediately, then out over the configured envelope
// strategy. Preconditions are surfaced synchronously: a write against an
// unsubscribed channel or a dead connection returns the pusher package's
// sentinel errors rather than silently no-op-ing, and nothing here retries.
package control

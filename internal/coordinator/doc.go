// Package coordinator keeps the canonical in-memory model of all shower
// controllers synchronized with the vendor cloud.
//
// Two update paths feed it: a scheduled full refresh over HTTP (the device
// list plus per-device detail), and incremental patches pushed over each
// device's private channel. The coordinator is the single authoritative
// writer for device records; the push client never mutates state directly,
// it only hands payloads to ApplyPatch.
//
// # Refresh Semantics
//
// A per-device detail failure during a refresh keeps that device's previous
// record and is reported as a PartialError note; the refresh still
// succeeds. Failure to fetch the device list at all is a total
// UpdateFailedError. Stale data always beats absent data: a device that
// was ever fetched stays in the registry through later per-device failures.
//
// # Patch Semantics
//
// Push payloads arrive in two envelope shapes (a flat field map, and a
// nested {type, data} form discriminated by "state_change" or
// "shower_report"). Recognized fields are shallow-merged field-locally; a
// payload with no recognized field triggers a full refresh instead of
// being dropped, so schema drift degrades to polling rather than to silent
// staleness. Refresh triggers coalesce: many unknown patches in flight
// cause one refresh.
//
// # Observers
//
// OnDeviceUpdated observers receive a cloned record per notification, so a
// reader never sees a half-applied patch and may retain the value.
// Overlay clearing for optimistic writes hangs off these notifications.
package coordinator

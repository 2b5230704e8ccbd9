// Package simulator provides in-memory manufacturer devices for the
// integration core.
//
// A Device speaks its backend's wire format through the device side of a
// protocol.Codec and is reached through a Link that satisfies protocol.Link.
// Faults (offline, lost acks, latency) and physical interactions (button
// presses, measured temperature changes) can be injected at runtime, which
// lets the full backend, bridge, adapter and hub pipeline run without
// hardware.
package simulator

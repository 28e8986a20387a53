// Package device holds the simulated device entities and the fleet registry.
//
// A Device pairs an immutable identity (id, type, topic segments) with a
// mutable, schema-exact state. The state is the per-device serialisation
// boundary: every read returns a deep-copied snapshot and every write
// (Update for telemetry read-modify-writes, Merge for validated commands,
// Replace for whole-state swaps) is atomic under the device's own lock, so
// mutations of one device are strictly ordered while different devices
// never contend. Update holds the lock across the caller's transform, so a
// command landing mid-derivation can never be overwritten by a stale copy.
//
//	                  ┌──────────────┐
//	 telemetry tick ─▶│              │─▶ Update (locked transform)
//	                  │    Device    │
//	 valid command ──▶│  state + mu  │─▶ Merge -> full state copy
//	                  └──────────────┘
//
// The Registry indexes the live fleet by ID. It supports registering and
// unregistering devices while the simulation runs; nothing here touches
// MQTT or scheduling, that wiring lives in the simulation engine.
package device

// Package schema defines the static state schemas for every simulated
// device type and validates commands against them.
//
// This package manages:
//   - The catalog of ten device types (five sensors, five actuators)
//   - Field definitions: kind, inclusive numeric range, writable flag
//   - Command validation with whole-command rejection
//   - Default schema-conformant states
//
// # Catalog
//
// Every device type carries two diagnostic fields, battery and linkquality,
// both int [0,100] and never writable. On top of those:
//
//	temperature-sensor  temperature float [-20,50], humidity float [0,100]
//	motion-sensor       on bool, alert bool
//	window-sensor       open bool
//	door-sensor         open bool
//	smoke-sensor        on bool, alert bool
//	led-bulb            on bool (writable)
//	fire-alarm          alert bool (writable)
//	shutter             active bool, percentage int [0,100] (both writable)
//	door-opener         open bool (writable)
//	thermostat          active bool, state int [0,100] (both writable)
//
// Sensors have no writable fields, so every command against a sensor is
// rejected with ErrReadOnlyField.
//
// # Validation
//
// Commands are validated field by field and rejected as a whole on the
// first failure; a delta is only returned when every field passes. Merging
// a delta can change values but never the field set, so a state that was
// schema-conformant stays schema-conformant.
//
//	fields, err := schema.DecodeCommand(payload)
//	if err != nil {
//	    // malformed JSON - reject
//	}
//	delta, err := schema.Validate("led-bulb", fields)
//	if err != nil {
//	    // unknown/read-only field, wrong type, or out of range - reject
//	}
package schema

package schema

import "errors"

// Domain errors for the schema package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, schema.ErrOutOfRange) {
//	    // reject the command
//	}
//
// All of them describe a rejected payload, never a fault in the simulator.
var (
	// ErrUnknownDeviceType is returned when a device type has no schema.
	ErrUnknownDeviceType = errors.New("schema: unknown device type")

	// ErrUnknownField is returned when a payload names a field the schema
	// does not define.
	ErrUnknownField = errors.New("schema: unknown field")

	// ErrReadOnlyField is returned when a command targets a field that is
	// not writable.
	ErrReadOnlyField = errors.New("schema: field is read-only")

	// ErrTypeMismatch is returned when a field value has the wrong kind.
	ErrTypeMismatch = errors.New("schema: type mismatch")

	// ErrOutOfRange is returned when a numeric value falls outside the
	// field's inclusive range.
	ErrOutOfRange = errors.New("schema: value out of range")

	// ErrMalformedPayload is returned when a command payload is not a JSON
	// object.
	ErrMalformedPayload = errors.New("schema: malformed payload")
)

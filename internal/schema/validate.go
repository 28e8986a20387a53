package schema

import (
	"encoding/json"
	"fmt"
	"math"
)

// State holds a device's field values keyed by field name.
//
// Values are always one of bool, int, or float64, matching the field's
// declared kind. A schema-conformant state contains exactly the schema's
// fields, nothing more, nothing less.
type State map[string]any

// Delta holds the validated subset of fields a command wants to change.
// Values carry the same normalised types as State.
type Delta map[string]any

// maxCommandSize bounds inbound command payloads to prevent memory
// exhaustion from a hostile publisher.
const maxCommandSize = 64 << 10 // 64KB

// Clone returns a deep copy of the state.
// Values are scalars, so a key-by-key copy is a full deep copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Conforms checks that the state matches the schema exactly: every schema
// field present with the right kind and range, and no extra fields.
func (s State) Conforms(sc Schema) error {
	if len(s) != len(sc.Fields) {
		return fmt.Errorf("%w: state has %d fields, schema %q has %d",
			ErrUnknownField, len(s), sc.Type, len(sc.Fields))
	}
	for _, f := range sc.Fields {
		v, ok := s[f.Name]
		if !ok {
			return fmt.Errorf("%w: state is missing %q", ErrUnknownField, f.Name)
		}
		if _, err := normaliseValue(f, v); err != nil {
			return err
		}
	}
	return nil
}

// DefaultState returns a schema-conformant state for a device type:
// booleans false, numeric fields at zero clamped into their range.
//
// Returns:
//   - State: Field values in the schema's declared kinds
//   - error: ErrUnknownDeviceType if the type is not in the catalog
func DefaultState(deviceType string) (State, error) {
	sc, err := SchemaFor(deviceType)
	if err != nil {
		return nil, err
	}

	st := make(State, len(sc.Fields))
	for _, f := range sc.Fields {
		switch f.Kind {
		case KindBool:
			st[f.Name] = false
		case KindInt:
			st[f.Name] = int(clampToRange(f, 0))
		case KindFloat:
			st[f.Name] = clampToRange(f, 0)
		}
	}
	return st, nil
}

// clampToRange pulls v into the field's inclusive range.
func clampToRange(f FieldDef, v float64) float64 {
	if !f.HasRange {
		return v
	}
	if v < f.Min {
		return f.Min
	}
	if v > f.Max {
		return f.Max
	}
	return v
}

// DecodeCommand parses a raw command payload into a field map.
//
// Anything that is not a JSON object is a malformed command: invalid JSON,
// arrays, bare scalars, or oversized payloads all return ErrMalformedPayload.
// Malformed commands are rejections to be logged, never faults.
func DecodeCommand(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if len(payload) > maxCommandSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes",
			ErrMalformedPayload, len(payload), maxCommandSize)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return fields, nil
}

// Validate checks a command payload against a device type's schema and
// returns the normalised delta to merge into the device state.
//
// Every field must pass all checks or the whole command is rejected and no
// partial delta is returned:
//  1. The field exists in the schema (ErrUnknownField)
//  2. The field is writable (ErrReadOnlyField) - sensors reject everything
//  3. The value matches the field's kind (ErrTypeMismatch)
//  4. Numeric values fall inside the inclusive range (ErrOutOfRange)
//
// An empty payload validates to an empty delta.
//
// Parameters:
//   - deviceType: The catalog type the command targets
//   - payload: Decoded command fields (from DecodeCommand)
//
// Returns:
//   - Delta: Normalised field values ready for an atomic merge
//   - error: ErrUnknownDeviceType or the first field rejection found
func Validate(deviceType string, payload map[string]any) (Delta, error) {
	sc, err := SchemaFor(deviceType)
	if err != nil {
		return nil, err
	}

	delta := make(Delta, len(payload))
	for name, raw := range payload {
		f, ok := sc.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a field of %q", ErrUnknownField, name, deviceType)
		}
		if !f.Writable {
			return nil, fmt.Errorf("%w: %q on %q", ErrReadOnlyField, name, deviceType)
		}

		v, err := normaliseValue(f, raw)
		if err != nil {
			return nil, err
		}
		delta[name] = v
	}

	return delta, nil
}

// normaliseValue checks raw against the field's kind and range and returns
// it with the canonical Go type for the kind.
//
// JSON decoding produces float64 for every number, so integer fields accept
// a float64 with no fractional part. Native int values are accepted too so
// programmatic callers do not have to round-trip through JSON.
func normaliseValue(f FieldDef, raw any) (any, error) {
	switch f.Kind {
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %q wants bool, got %T", ErrTypeMismatch, f.Name, raw)
		}
		return b, nil

	case KindInt:
		var v float64
		switch n := raw.(type) {
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("%w: %q wants int, got %v", ErrTypeMismatch, f.Name, n)
			}
			v = n
		case int:
			v = float64(n)
		default:
			return nil, fmt.Errorf("%w: %q wants int, got %T", ErrTypeMismatch, f.Name, raw)
		}
		if !f.InRange(v) {
			return nil, fmt.Errorf("%w: %q = %v, range [%v, %v]", ErrOutOfRange, f.Name, v, f.Min, f.Max)
		}
		return int(v), nil

	case KindFloat:
		var v float64
		switch n := raw.(type) {
		case float64:
			v = n
		case int:
			v = float64(n)
		default:
			return nil, fmt.Errorf("%w: %q wants float, got %T", ErrTypeMismatch, f.Name, raw)
		}
		if !f.InRange(v) {
			return nil, fmt.Errorf("%w: %q = %v, range [%v, %v]", ErrOutOfRange, f.Name, v, f.Min, f.Max)
		}
		return v, nil
	}

	return nil, fmt.Errorf("%w: %q has unknown kind %q", ErrTypeMismatch, f.Name, f.Kind)
}

package schema

import "fmt"

// Kind enumerates the value kinds a field can hold.
type Kind string

// Field value kinds.
const (
	KindBool  Kind = "bool"
	KindInt   Kind = "int"
	KindFloat Kind = "float"
)

// Category identifies the direction a device type works in.
type Category string

// Device categories. Sensors only publish; actuators also accept commands.
const (
	CategorySensor   Category = "sensor"
	CategoryActuator Category = "actuator"
)

// Device type identifiers. These appear verbatim in MQTT topics.
const (
	TypeTemperatureSensor = "temperature-sensor"
	TypeMotionSensor      = "motion-sensor"
	TypeWindowSensor      = "window-sensor"
	TypeDoorSensor        = "door-sensor"
	TypeSmokeSensor       = "smoke-sensor"
	TypeLEDBulb           = "led-bulb"
	TypeFireAlarm         = "fire-alarm"
	TypeShutter           = "shutter"
	TypeDoorOpener        = "door-opener"
	TypeThermostat        = "thermostat"
)

// Common field names shared by every device type.
const (
	FieldBattery     = "battery"
	FieldLinkQuality = "linkquality"
)

// FieldDef describes one field of a device state.
//
// Min/Max form an inclusive range and are only meaningful when HasRange is
// true. Boolean fields never carry a range.
type FieldDef struct {
	Name     string
	Kind     Kind
	Min      float64
	Max      float64
	HasRange bool
	Writable bool
}

// InRange reports whether v satisfies the field's range constraint.
// Fields without a range accept any value.
func (f FieldDef) InRange(v float64) bool {
	if !f.HasRange {
		return true
	}
	return v >= f.Min && v <= f.Max
}

// Schema is the full field layout of one device type.
//
// Fields keeps the catalog's declaration order so published JSON and
// generated states are stable across runs.
type Schema struct {
	Type     string
	Category Category
	Fields   []FieldDef
}

// Field returns the definition for name, if the schema has it.
func (s Schema) Field(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// IsActuator reports whether the device type accepts commands.
func (s Schema) IsActuator() bool {
	return s.Category == CategoryActuator
}

// WritableFields returns the fields a command may set, in declaration order.
// Empty for every sensor type.
func (s Schema) WritableFields() []FieldDef {
	var out []FieldDef
	for _, f := range s.Fields {
		if f.Writable {
			out = append(out, f)
		}
	}
	return out
}

// boolField returns a boolean field definition.
func boolField(name string, writable bool) FieldDef {
	return FieldDef{Name: name, Kind: KindBool, Writable: writable}
}

// intField returns an integer field definition with an inclusive range.
func intField(name string, min, max float64, writable bool) FieldDef {
	return FieldDef{Name: name, Kind: KindInt, Min: min, Max: max, HasRange: true, Writable: writable}
}

// floatField returns a float field definition with an inclusive range.
func floatField(name string, min, max float64, writable bool) FieldDef {
	return FieldDef{Name: name, Kind: KindFloat, Min: min, Max: max, HasRange: true, Writable: writable}
}

// diagnosticFields are the battery and link quality readings every device
// reports. They are never writable, even on actuators.
func diagnosticFields() []FieldDef {
	return []FieldDef{
		intField(FieldBattery, 0, 100, false),
		intField(FieldLinkQuality, 0, 100, false),
	}
}

// catalog holds the static schema for every supported device type.
// Built once at startup; never mutated afterwards.
var catalog = buildCatalog()

func buildCatalog() map[string]Schema {
	schemas := []Schema{
		{
			Type:     TypeTemperatureSensor,
			Category: CategorySensor,
			Fields: append([]FieldDef{
				floatField("temperature", -20, 50, false),
				floatField("humidity", 0, 100, false),
			}, diagnosticFields()...),
		},
		{
			Type:     TypeMotionSensor,
			Category: CategorySensor,
			Fields: append([]FieldDef{
				boolField("on", false),
				boolField("alert", false),
			}, diagnosticFields()...),
		},
		{
			Type:     TypeWindowSensor,
			Category: CategorySensor,
			Fields: append([]FieldDef{
				boolField("open", false),
			}, diagnosticFields()...),
		},
		{
			Type:     TypeDoorSensor,
			Category: CategorySensor,
			Fields: append([]FieldDef{
				boolField("open", false),
			}, diagnosticFields()...),
		},
		{
			Type:     TypeSmokeSensor,
			Category: CategorySensor,
			Fields: append([]FieldDef{
				boolField("on", false),
				boolField("alert", false),
			}, diagnosticFields()...),
		},
		{
			Type:     TypeLEDBulb,
			Category: CategoryActuator,
			Fields: append([]FieldDef{
				boolField("on", true),
			}, diagnosticFields()...),
		},
		{
			Type:     TypeFireAlarm,
			Category: CategoryActuator,
			Fields: append([]FieldDef{
				boolField("alert", true),
			}, diagnosticFields()...),
		},
		{
			Type:     TypeShutter,
			Category: CategoryActuator,
			Fields: append([]FieldDef{
				boolField("active", true),
				intField("percentage", 0, 100, true),
			}, diagnosticFields()...),
		},
		{
			Type:     TypeDoorOpener,
			Category: CategoryActuator,
			Fields: append([]FieldDef{
				boolField("open", true),
			}, diagnosticFields()...),
		},
		{
			Type:     TypeThermostat,
			Category: CategoryActuator,
			Fields: append([]FieldDef{
				boolField("active", true),
				intField("state", 0, 100, true),
			}, diagnosticFields()...),
		},
	}

	m := make(map[string]Schema, len(schemas))
	for _, s := range schemas {
		m[s.Type] = s
	}
	return m
}

// typeOrder fixes the iteration order for AllTypes.
var typeOrder = []string{
	TypeTemperatureSensor,
	TypeMotionSensor,
	TypeWindowSensor,
	TypeDoorSensor,
	TypeSmokeSensor,
	TypeLEDBulb,
	TypeFireAlarm,
	TypeShutter,
	TypeDoorOpener,
	TypeThermostat,
}

// SchemaFor returns the schema for a device type.
//
// Returns:
//   - Schema: The field layout for the type
//   - error: ErrUnknownDeviceType if the type is not in the catalog
func SchemaFor(deviceType string) (Schema, error) {
	s, ok := catalog[deviceType]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownDeviceType, deviceType)
	}
	return s, nil
}

// IsKnownType reports whether a device type has a schema.
func IsKnownType(deviceType string) bool {
	_, ok := catalog[deviceType]
	return ok
}

// AllTypes returns every supported device type identifier in a stable order.
func AllTypes() []string {
	out := make([]string, len(typeOrder))
	copy(out, typeOrder)
	return out
}

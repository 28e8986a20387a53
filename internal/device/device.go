package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simhaus/simhaus/internal/schema"
)

// Device is one simulated device instance.
//
// ID, Type and the derived topic identity are immutable after construction.
// The state is guarded by an internal mutex: it is read and written only as
// a whole, under the lock, so every observer sees a consistent snapshot and
// concurrent mutations of the same device are strictly serialised. State
// values pass the boundary as deep copies in both directions.
type Device struct {
	id         string
	deviceType string
	category   schema.Category
	sch        schema.Schema

	mu            sync.Mutex
	state         schema.State
	lastPublished time.Time
}

// New creates a device of the given type with a schema-conformant default
// state. An empty id gets a generated UUID.
//
// Returns:
//   - *Device: Ready-to-register device
//   - error: schema.ErrUnknownDeviceType if the type has no schema
func New(id, deviceType string) (*Device, error) {
	sch, err := schema.SchemaFor(deviceType)
	if err != nil {
		return nil, err
	}

	st, err := schema.DefaultState(deviceType)
	if err != nil {
		return nil, err
	}

	if id == "" {
		id = GenerateID()
	}

	return &Device{
		id:         id,
		deviceType: deviceType,
		category:   sch.Category,
		sch:        sch,
		state:      st,
	}, nil
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}

// ID returns the device's unique identifier.
func (d *Device) ID() string {
	return d.id
}

// Type returns the device's catalog type, e.g. "led-bulb".
func (d *Device) Type() string {
	return d.deviceType
}

// Category returns "sensor" or "actuator".
func (d *Device) Category() schema.Category {
	return d.category
}

// IsActuator reports whether the device accepts commands.
func (d *Device) IsActuator() bool {
	return d.category == schema.CategoryActuator
}

// Schema returns the device type's field layout.
func (d *Device) Schema() schema.Schema {
	return d.sch
}

// TopicIdentity returns the three topic segments identifying this device:
// category, type and id, in topic order.
func (d *Device) TopicIdentity() (category, deviceType, id string) {
	return string(d.category), d.deviceType, d.id
}

// Snapshot returns a deep copy of the current state.
func (d *Device) Snapshot() schema.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Clone()
}

// Replace swaps the whole state atomically.
//
// The new state must conform to the device's schema; a non-conformant
// state is rejected and the current state is untouched.
func (d *Device) Replace(st schema.State) error {
	if err := st.Conforms(d.sch); err != nil {
		return fmt.Errorf("replacing state of %s: %w", d.id, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = st.Clone()
	return nil
}

// Update runs one atomic read-modify-write: fn receives a private copy of
// the current state and returns the replacement, all under the device lock.
// Nothing else can touch the state between the read and the write, so a
// concurrent Merge can never be computed over and then overwritten by a
// stale copy.
//
// fn must not call other methods of the same device. A result that does
// not conform to the schema is rejected and the state keeps its previous
// value.
func (d *Device) Update(fn func(schema.State) schema.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := fn(d.state.Clone())
	if err := next.Conforms(d.sch); err != nil {
		return fmt.Errorf("updating state of %s: %w", d.id, err)
	}

	d.state = next.Clone()
	return nil
}

// Merge applies a validated delta atomically and returns the resulting
// state as a deep copy.
//
// Merging changes values only. The field set is fixed by the schema, so a
// delta can never add or remove fields; deltas come from schema.Validate
// which guarantees every key is a writable schema field in range.
func (d *Device) Merge(delta schema.Delta) schema.State {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, v := range delta {
		d.state[k] = v
	}
	return d.state.Clone()
}

// LastPublished returns when the device last published its state.
// Zero until the first publish.
func (d *Device) LastPublished() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastPublished
}

// MarkPublished records a successful state publish at t.
func (d *Device) MarkPublished(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastPublished = t
}

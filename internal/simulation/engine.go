package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/simhaus/simhaus/internal/device"
	"github.com/simhaus/simhaus/internal/infrastructure/mqtt"
	"github.com/simhaus/simhaus/internal/schema"
)

// Logger defines the logging interface used by the simulation engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Connection is the slice of the MQTT client the engine needs. Tests
// substitute an in-memory fake; production wiring passes *mqtt.Client.
type Connection interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Options configures an Engine.
type Options struct {
	// Connection carries publishes and command subscriptions. Required.
	Connection Connection

	// Topics builds the topic tree the fleet lives under.
	Topics mqtt.Topics

	// QoS applies to every publish and command subscription.
	QoS byte

	// RetainTelemetry marks periodic state publishes as retained.
	// Command echoes are always retained so late subscribers see the
	// last commanded state.
	RetainTelemetry bool

	// Interval is the base telemetry interval per device.
	Interval time.Duration

	// Jitter spreads the fleet's publishes, as a fraction of Interval.
	Jitter float64

	// Workers bounds concurrent telemetry ticks.
	Workers int

	// Logger receives engine activity. Optional.
	Logger Logger

	// Rand seeds the generator and scheduler. Optional; tests pass a
	// fixed seed for reproducible runs.
	Rand *rand.Rand
}

// Engine runs the device fleet against a broker.
//
// It owns the canonical state of every device: telemetry ticks move
// sensor readings through the Generator and publish the result, while
// inbound commands on actuator set-topics are validated against the
// device schema, merged, and echoed back as a retained full-state
// publish. Invalid commands are logged and dropped without touching
// state or publishing anything.
//
// Devices can be added and removed while the engine runs. Run blocks
// until the context is cancelled, then drains in-flight ticks and
// removes every command subscription before returning.
type Engine struct {
	conn   Connection
	topics mqtt.Topics
	qos    byte
	retain bool
	logger Logger

	registry *device.Registry
	gen      *Generator
	sched    *Scheduler
}

// NewEngine wires up an engine from Options.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	// Generator and scheduler lock independently, so they must not share
	// one rand.Rand; derive a second source from the supplied seed.
	genRng := opts.Rand
	var schedRng *rand.Rand
	if opts.Rand != nil {
		schedRng = rand.New(rand.NewSource(opts.Rand.Int63()))
	}

	e := &Engine{
		conn:     opts.Connection,
		topics:   opts.Topics,
		qos:      opts.QoS,
		retain:   opts.RetainTelemetry,
		logger:   logger,
		registry: device.NewRegistry(),
		gen:      NewGenerator(DefaultGeneratorParams(), genRng),
	}
	e.registry.SetLogger(logger)
	e.sched = NewScheduler(SchedulerConfig{
		Interval: opts.Interval,
		Jitter:   opts.Jitter,
		Workers:  opts.Workers,
	}, e.handleTick, logger, schedRng)

	return e
}

// Registry exposes the live fleet, for inspection and tests.
func (e *Engine) Registry() *device.Registry {
	return e.registry
}

// AddDevice brings a device into the running fleet: it is registered,
// seeded with a randomised initial state, subscribed on its command
// topic when it is an actuator, announced with an initial state publish,
// and scheduled for telemetry.
//
// Returns device.ErrDeviceExists if the ID is already in the fleet.
func (e *Engine) AddDevice(d *device.Device) error {
	if err := e.registry.Register(d); err != nil {
		return err
	}

	if err := d.Replace(e.gen.InitialState(d.Schema())); err != nil {
		_ = e.registry.Unregister(d.ID())
		return fmt.Errorf("seeding initial state for %s: %w", d.ID(), err)
	}

	if d.IsActuator() {
		category, deviceType, id := d.TopicIdentity()
		topic := e.topics.DeviceCommand(category, deviceType, id)
		if err := e.conn.Subscribe(topic, e.qos, e.handleCommand); err != nil {
			_ = e.registry.Unregister(d.ID())
			return fmt.Errorf("subscribing command topic for %s: %w", d.ID(), err)
		}
	}

	e.publishState(d, e.retain)
	e.sched.Schedule(d.ID())

	e.logger.Info("device added",
		"device_id", d.ID(),
		"type", d.Type(),
		"category", string(d.Category()))
	return nil
}

// RemoveDevice takes a device out of the fleet: its pending telemetry is
// dropped, its command subscription is removed, and it is unregistered.
//
// Returns device.ErrDeviceNotFound if the ID is not in the fleet.
func (e *Engine) RemoveDevice(id string) error {
	d, err := e.registry.Get(id)
	if err != nil {
		return err
	}

	e.sched.Unschedule(id)

	if d.IsActuator() {
		category, deviceType, devID := d.TopicIdentity()
		topic := e.topics.DeviceCommand(category, deviceType, devID)
		if err := e.conn.Unsubscribe(topic); err != nil {
			e.logger.Error("failed to unsubscribe command topic",
				"device_id", id, "topic", topic, "error", err)
		}
	}

	if err := e.registry.Unregister(id); err != nil {
		return err
	}

	e.logger.Info("device removed", "device_id", id)
	return nil
}

// Run drives telemetry until the context is cancelled, then shuts down:
// the scheduler drains its in-flight ticks and every actuator command
// subscription is removed. Run blocks for the whole simulation.
func (e *Engine) Run(ctx context.Context) error {
	err := e.sched.Run(ctx)
	e.removeCommandSubscriptions()
	return err
}

// removeCommandSubscriptions drops every actuator's command subscription
// during shutdown. Failures are logged, not fatal: the connection may
// already be gone.
func (e *Engine) removeCommandSubscriptions() {
	for _, d := range e.registry.List() {
		if !d.IsActuator() {
			continue
		}
		category, deviceType, id := d.TopicIdentity()
		topic := e.topics.DeviceCommand(category, deviceType, id)
		if err := e.conn.Unsubscribe(topic); err != nil {
			e.logger.Warn("unsubscribe during shutdown failed",
				"topic", topic, "error", err)
		}
	}
}

// handleTick advances one device's telemetry and publishes the result.
// Runs on a scheduler worker.
func (e *Engine) handleTick(ctx context.Context, deviceID string) {
	if ctx.Err() != nil {
		return
	}

	d, err := e.registry.Get(deviceID)
	if err != nil {
		// Removed between scheduling and firing
		return
	}

	// One critical section from read to write: a command merging between
	// a snapshot and a later replace would be reverted by the stale copy.
	err = d.Update(func(prev schema.State) schema.State {
		return e.gen.Next(d.Schema(), prev)
	})
	if err != nil {
		e.logger.Error("generated state rejected",
			"device_id", deviceID, "error", err)
		return
	}

	e.publishState(d, e.retain)
}

// handleCommand processes one inbound command on an actuator set-topic.
// Validation is all-or-nothing: any bad field rejects the whole command,
// leaving state untouched and publishing nothing.
func (e *Engine) handleCommand(topic string, payload []byte) error {
	dt, err := mqtt.ParseDeviceTopic(topic)
	if err != nil {
		e.logger.Warn("command on unparseable topic", "topic", topic, "error", err)
		return nil
	}

	d, err := e.registry.Get(dt.ID)
	if err != nil {
		e.logger.Warn("command for unknown device",
			"device_id", dt.ID, "topic", topic)
		return nil
	}

	fields, err := schema.DecodeCommand(payload)
	if err != nil {
		e.logger.Warn("command rejected",
			"device_id", d.ID(), "reason", err.Error())
		return nil
	}

	delta, err := schema.Validate(d.Type(), fields)
	if err != nil {
		e.logger.Warn("command rejected",
			"device_id", d.ID(), "reason", err.Error())
		return nil
	}

	d.Merge(delta)
	e.publishState(d, true)

	e.logger.Debug("command applied",
		"device_id", d.ID(), "fields", len(delta))
	return nil
}

// publishState sends a device's full current state to its state topic.
func (e *Engine) publishState(d *device.Device, retained bool) {
	snap := d.Snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		e.logger.Error("state marshal failed", "device_id", d.ID(), "error", err)
		return
	}

	category, deviceType, id := d.TopicIdentity()
	topic := e.topics.DeviceState(category, deviceType, id)

	if err := e.conn.Publish(topic, payload, e.qos, retained); err != nil {
		if !errors.Is(err, mqtt.ErrNotConnected) {
			e.logger.Error("state publish failed",
				"device_id", d.ID(), "topic", topic, "error", err)
			return
		}
		// Offline gaps are expected; the next tick republishes
		e.logger.Debug("state publish skipped, not connected", "device_id", d.ID())
		return
	}

	d.MarkPublished(time.Now())
}

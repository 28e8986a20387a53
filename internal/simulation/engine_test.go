package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/simhaus/simhaus/internal/device"
	"github.com/simhaus/simhaus/internal/infrastructure/mqtt"
	"github.com/simhaus/simhaus/internal/schema"
)

// publishRecord is one captured publish.
type publishRecord struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeConn is an in-memory Connection for engine tests.
type fakeConn struct {
	mu         sync.Mutex
	published  []publishRecord
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeConn) Publish(topic string, payload []byte, qos byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publishRecord{
		topic:    topic,
		payload:  append([]byte(nil), payload...),
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (c *fakeConn) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return nil
}

func (c *fakeConn) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	return nil
}

// deliver simulates a broker pushing a message to a subscribed handler.
func (c *fakeConn) deliver(topic string, payload []byte) error {
	c.mu.Lock()
	handler, ok := c.handlers[topic]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no handler for %s", topic)
	}
	return handler(topic, payload)
}

func (c *fakeConn) publishesTo(topic string) []publishRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []publishRecord
	for _, p := range c.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (c *fakeConn) publishCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *fakeConn) subscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

func newTestEngine(conn *fakeConn, interval time.Duration) *Engine {
	return NewEngine(Options{
		Connection: conn,
		Topics:     mqtt.NewTopics("simhaus"),
		QoS:        1,
		Interval:   interval,
		Jitter:     0,
		Workers:    2,
		Rand:       rand.New(rand.NewSource(1)),
	})
}

func addDevice(t *testing.T, e *Engine, id, deviceType string) *device.Device {
	t.Helper()

	d, err := device.New(id, deviceType)
	if err != nil {
		t.Fatalf("device.New(%q, %q) error = %v", id, deviceType, err)
	}
	if err := e.AddDevice(d); err != nil {
		t.Fatalf("AddDevice(%q) error = %v", id, err)
	}
	return d
}

// ============================================================================
// Fleet membership
// ============================================================================

func TestEngine_AddSensor(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, time.Minute)

	addDevice(t, e, "m-1", schema.TypeMotionSensor)

	stateTopic := "simhaus/sensor/motion-sensor/m-1/state"
	if got := conn.publishesTo(stateTopic); len(got) != 1 {
		t.Errorf("initial state publishes = %d, want 1", len(got))
	}
	if conn.subscriptionCount() != 0 {
		t.Error("sensor should not get a command subscription")
	}
	if !e.sched.IsScheduled("m-1") {
		t.Error("added device is not scheduled for telemetry")
	}
}

func TestEngine_AddActuatorSubscribesCommands(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, time.Minute)

	addDevice(t, e, "bulb-1", schema.TypeLEDBulb)

	if conn.subscriptionCount() != 1 {
		t.Fatalf("subscriptions = %d, want 1", conn.subscriptionCount())
	}
	if _, ok := conn.handlers["simhaus/actuator/led-bulb/bulb-1/set"]; !ok {
		t.Error("command subscription is on the wrong topic")
	}
}

func TestEngine_AddDuplicate(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, time.Minute)

	addDevice(t, e, "bulb-1", schema.TypeLEDBulb)

	d, err := device.New("bulb-1", schema.TypeLEDBulb)
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	if err := e.AddDevice(d); !errors.Is(err, device.ErrDeviceExists) {
		t.Errorf("AddDevice() duplicate error = %v, want ErrDeviceExists", err)
	}
}

func TestEngine_RemoveDevice(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, time.Minute)

	addDevice(t, e, "bulb-1", schema.TypeLEDBulb)

	if err := e.RemoveDevice("bulb-1"); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}

	if conn.subscriptionCount() != 0 {
		t.Error("command subscription survived removal")
	}
	if e.sched.IsScheduled("bulb-1") {
		t.Error("removed device is still scheduled")
	}
	if _, err := e.Registry().Get("bulb-1"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Get() after removal error = %v, want ErrDeviceNotFound", err)
	}
}

func TestEngine_RemoveUnknown(t *testing.T) {
	e := newTestEngine(newFakeConn(), time.Minute)

	if err := e.RemoveDevice("ghost"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("RemoveDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

// ============================================================================
// Commands
// ============================================================================

func TestEngine_CommandAppliedAndEchoed(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, time.Minute)

	d := addDevice(t, e, "bulb-1", schema.TypeLEDBulb)
	cmdTopic := "simhaus/actuator/led-bulb/bulb-1/set"
	stateTopic := "simhaus/actuator/led-bulb/bulb-1/state"

	if err := conn.deliver(cmdTopic, []byte(`{"on": true}`)); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	if d.Snapshot()["on"] != true {
		t.Error("command did not update device state")
	}

	echoes := conn.publishesTo(stateTopic)
	if len(echoes) != 2 { // initial publish + echo
		t.Fatalf("state publishes = %d, want 2", len(echoes))
	}
	echo := echoes[len(echoes)-1]
	if !echo.retained {
		t.Error("command echo should be retained")
	}

	var got map[string]any
	if err := json.Unmarshal(echo.payload, &got); err != nil {
		t.Fatalf("echo payload is not valid JSON: %v", err)
	}
	if got["on"] != true {
		t.Errorf("echo on = %v, want true", got["on"])
	}
	if _, ok := got["battery"]; !ok {
		t.Error("echo should carry the full state, battery missing")
	}
}

func TestEngine_CommandRejectedPublishesNothing(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"read-only field", `{"battery": 5}`},
		{"unknown field", `{"warp": 9}`},
		{"type mismatch", `{"on": "yes"}`},
		{"one bad field rejects all", `{"on": true, "warp": 1}`},
		{"malformed json", `{"on": tr`},
		{"non-object", `[1, 2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			e := newTestEngine(conn, time.Minute)

			d := addDevice(t, e, "bulb-1", schema.TypeLEDBulb)
			before := d.Snapshot()
			published := conn.publishCount()

			err := conn.deliver("simhaus/actuator/led-bulb/bulb-1/set", []byte(tt.payload))
			if err != nil {
				t.Fatalf("deliver() error = %v", err)
			}

			if conn.publishCount() != published {
				t.Error("rejected command caused a publish")
			}
			after := d.Snapshot()
			for k, v := range before {
				if after[k] != v {
					t.Errorf("rejected command changed state: %q = %v, want %v", k, after[k], v)
				}
			}
		})
	}
}

func TestEngine_CommandForUnknownDevice(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, time.Minute)

	addDevice(t, e, "bulb-1", schema.TypeLEDBulb)
	published := conn.publishCount()

	// Re-point the registered handler at a device that no longer exists
	handler := conn.handlers["simhaus/actuator/led-bulb/bulb-1/set"]
	if err := handler("simhaus/actuator/led-bulb/ghost/set", []byte(`{"on": true}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	if conn.publishCount() != published {
		t.Error("command for unknown device caused a publish")
	}
}

func TestEngine_EmptyCommandIsNoopEcho(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, time.Minute)

	d := addDevice(t, e, "bulb-1", schema.TypeLEDBulb)
	before := d.Snapshot()

	if err := conn.deliver("simhaus/actuator/led-bulb/bulb-1/set", []byte(`{}`)); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	// State untouched, but the full state is still echoed
	after := d.Snapshot()
	for k, v := range before {
		if after[k] != v {
			t.Errorf("empty command changed state: %q = %v, want %v", k, after[k], v)
		}
	}
	if got := conn.publishesTo("simhaus/actuator/led-bulb/bulb-1/state"); len(got) != 2 {
		t.Errorf("state publishes = %d, want 2 (initial + echo)", len(got))
	}
}

func TestNewEngine_SplitsRandSource(t *testing.T) {
	e := NewEngine(Options{
		Connection: newFakeConn(),
		Topics:     mqtt.NewTopics("simhaus"),
		Interval:   time.Minute,
		Jitter:     0.3,
		Workers:    2,
		Rand:       rand.New(rand.NewSource(1)),
	})

	// The generator and scheduler serialise their randomness behind
	// different mutexes, so handing them one rand.Rand would race.
	if e.gen.rng == e.sched.rng {
		t.Fatal("generator and scheduler share one rand source")
	}

	// Exercise both sides concurrently; the race detector flags any
	// sharing this assertion misses.
	sc := mustSchema(t, schema.TypeTemperatureSensor)
	st := e.gen.InitialState(sc)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s := st
		for i := 0; i < 2000; i++ {
			s = e.gen.Next(sc, s)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			e.sched.Schedule("dev-1")
			e.sched.Unschedule("dev-1")
		}
	}()
	wg.Wait()
}

func TestEngine_CommandSurvivesConcurrentTicks(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, time.Minute)

	d := addDevice(t, e, "bulb-1", schema.TypeLEDBulb)
	cmdTopic := "simhaus/actuator/led-bulb/bulb-1/set"

	// Hammer telemetry ticks while commands stream in. A tick computed
	// from a stale snapshot would revert the commanded value.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			e.handleTick(ctx, "bulb-1")
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	for i := 0; i < 300; i++ {
		want := i%2 == 0
		payload := []byte(`{"on": false}`)
		if want {
			payload = []byte(`{"on": true}`)
		}
		if err := conn.deliver(cmdTopic, payload); err != nil {
			t.Fatalf("deliver() error = %v", err)
		}

		for j := 0; j < 5; j++ {
			if got := d.Snapshot()["on"]; got != want {
				t.Fatalf("command %d: commanded on=%v was lost, canonical state has on=%v", i, want, got)
			}
		}
	}
}

// ============================================================================
// Telemetry
// ============================================================================

func TestEngine_TicksPublishTelemetry(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, 15*time.Millisecond)

	addDevice(t, e, "t-1", schema.TypeTemperatureSensor)
	stateTopic := "simhaus/sensor/temperature-sensor/t-1/state"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(conn.publishesTo(stateTopic)) < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got := conn.publishesTo(stateTopic)
	if len(got) < 4 {
		t.Fatalf("telemetry publishes = %d, want at least 4", len(got))
	}

	sc, _ := schema.SchemaFor(schema.TypeTemperatureSensor)
	for i, p := range got {
		var st map[string]any
		if err := json.Unmarshal(p.payload, &st); err != nil {
			t.Fatalf("publish %d is not valid JSON: %v", i, err)
		}
		if len(st) != len(sc.Fields) {
			t.Errorf("publish %d carries %d fields, want %d", i, len(st), len(sc.Fields))
		}
		if p.qos != 1 {
			t.Errorf("publish %d qos = %d, want 1", i, p.qos)
		}
	}
}

func TestEngine_ShutdownRemovesSubscriptions(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, time.Minute)

	addDevice(t, e, "bulb-1", schema.TypeLEDBulb)
	addDevice(t, e, "alarm-1", schema.TypeFireAlarm)
	addDevice(t, e, "m-1", schema.TypeMotionSensor)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop within 5s")
	}

	if conn.subscriptionCount() != 0 {
		t.Errorf("subscriptions after shutdown = %d, want 0", conn.subscriptionCount())
	}
	if e.sched.PendingCount() != 0 {
		t.Errorf("pending fires after shutdown = %d, want 0", e.sched.PendingCount())
	}
}

func TestEngine_PublishFailureDoesNotMarkPublished(t *testing.T) {
	conn := newFakeConn()
	conn.publishErr = fmt.Errorf("publish %s: %w", "x", mqtt.ErrNotConnected)
	e := newTestEngine(conn, time.Minute)

	d := addDevice(t, e, "m-1", schema.TypeMotionSensor)

	if !d.LastPublished().IsZero() {
		t.Error("LastPublished() set even though the publish failed")
	}
}

// ============================================================================
// Fleet building
// ============================================================================

func TestBuildFleet(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(conn, time.Minute)

	err := BuildFleet(e, map[string]int{
		schema.TypeLEDBulb:      2,
		schema.TypeMotionSensor: 3,
	})
	if err != nil {
		t.Fatalf("BuildFleet() error = %v", err)
	}

	if got := e.Registry().Count(); got != 5 {
		t.Errorf("Count() = %d, want 5", got)
	}

	for _, id := range []string{"led-bulb-1", "led-bulb-2", "motion-sensor-3"} {
		if _, err := e.Registry().Get(id); err != nil {
			t.Errorf("Get(%q) error = %v", id, err)
		}
	}

	// Two actuators, two command subscriptions
	if conn.subscriptionCount() != 2 {
		t.Errorf("subscriptions = %d, want 2", conn.subscriptionCount())
	}
}

func TestBuildFleet_UnknownType(t *testing.T) {
	e := newTestEngine(newFakeConn(), time.Minute)

	err := BuildFleet(e, map[string]int{"hovercraft": 1})
	if !errors.Is(err, schema.ErrUnknownDeviceType) {
		t.Errorf("BuildFleet() error = %v, want ErrUnknownDeviceType", err)
	}
	if !strings.Contains(err.Error(), "hovercraft") {
		t.Errorf("error %q should name the offending type", err)
	}
}

func TestBuildFleet_ZeroCountSkipsType(t *testing.T) {
	e := newTestEngine(newFakeConn(), time.Minute)

	if err := BuildFleet(e, map[string]int{schema.TypeShutter: 0}); err != nil {
		t.Fatalf("BuildFleet() error = %v", err)
	}
	if got := e.Registry().Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

package simulation

import (
	"math/rand"
	"sync"
	"time"

	"github.com/simhaus/simhaus/internal/schema"
)

// GeneratorParams tunes the synthetic telemetry.
//
// Odds fields are "1 in N": an event with odds 8 happens on roughly one
// tick out of eight. Step fields bound the per-tick random walk.
type GeneratorParams struct {
	// TemperatureStep bounds the per-tick temperature walk in degrees.
	TemperatureStep float64

	// HumidityStep bounds the per-tick humidity walk in percent.
	HumidityStep float64

	// LinkQualityStep bounds the per-tick link quality walk.
	LinkQualityStep int

	// EventOdds is the 1-in-N chance a sensor event field (motion,
	// window, door contact) flips on a tick.
	EventOdds int

	// SmokeAlertOdds is the 1-in-N chance a smoke sensor raises or
	// clears its alert. Rarer than ordinary events.
	SmokeAlertOdds int

	// BatteryDrainOdds is the 1-in-N chance the battery loses one
	// percent on a tick. Batteries never recover.
	BatteryDrainOdds int
}

// DefaultGeneratorParams returns the tuning used in normal runs.
func DefaultGeneratorParams() GeneratorParams {
	return GeneratorParams{
		TemperatureStep:  0.5,
		HumidityStep:     2.0,
		LinkQualityStep:  5,
		EventOdds:        8,
		SmokeAlertOdds:   11,
		BatteryDrainOdds: 50,
	}
}

// Generator produces schema-conformant telemetry states.
//
// Numeric readings follow a bounded random walk clamped to the field's
// range; boolean event fields flip with per-type odds; diagnostics drift
// realistically (battery monotone non-increasing, link quality wandering).
// Writable actuator fields are never touched: those only change through
// commands, telemetry ticks just refresh the diagnostics around them.
//
// Thread Safety:
//   - All methods are safe for concurrent use; the random source is
//     guarded internally.
type Generator struct {
	params GeneratorParams

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a Generator. A nil rng gets a time-seeded source;
// tests inject a fixed seed for reproducible sequences.
func NewGenerator(params GeneratorParams, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{
		params: params,
		rng:    rng,
	}
}

// InitialState returns a randomised, schema-conformant starting state.
//
// Environmental readings start in a plausible indoor band rather than at
// the range edges; diagnostics start healthy; every boolean starts false
// so the first published states are quiet.
func (g *Generator) InitialState(sc schema.Schema) schema.State {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := make(schema.State, len(sc.Fields))
	for _, f := range sc.Fields {
		switch {
		case f.Kind == schema.KindBool:
			st[f.Name] = false
		case f.Name == schema.FieldBattery:
			st[f.Name] = 70 + g.rng.Intn(31) // 70..100
		case f.Name == schema.FieldLinkQuality:
			st[f.Name] = 40 + g.rng.Intn(61) // 40..100
		case f.Name == "temperature":
			st[f.Name] = clampFloat(f, 18+g.rng.Float64()*6) // 18..24
		case f.Name == "humidity":
			st[f.Name] = clampFloat(f, 30+g.rng.Float64()*30) // 30..60
		case f.Kind == schema.KindInt:
			st[f.Name] = int(clampFloat(f, 0))
		default:
			st[f.Name] = clampFloat(f, 0)
		}
	}
	return st
}

// Next derives the following telemetry state from the previous one.
//
// The previous state is not modified; the result always conforms to the
// schema when the input did.
func (g *Generator) Next(sc schema.Schema, prev schema.State) schema.State {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := prev.Clone()
	for _, f := range sc.Fields {
		// Commands own the writable fields
		if f.Writable {
			continue
		}

		switch {
		case f.Name == schema.FieldBattery:
			next[f.Name] = g.drainBattery(asInt(prev[f.Name]))
		case f.Name == schema.FieldLinkQuality:
			next[f.Name] = g.walkInt(f, asInt(prev[f.Name]), g.params.LinkQualityStep)
		case f.Kind == schema.KindBool:
			next[f.Name] = g.maybeFlip(sc.Type, f.Name, prev[f.Name] == true)
		case f.Name == "temperature":
			next[f.Name] = g.walkFloat(f, asFloat(prev[f.Name]), g.params.TemperatureStep)
		case f.Name == "humidity":
			next[f.Name] = g.walkFloat(f, asFloat(prev[f.Name]), g.params.HumidityStep)
		case f.Kind == schema.KindInt:
			next[f.Name] = g.walkInt(f, asInt(prev[f.Name]), 1)
		default:
			next[f.Name] = g.walkFloat(f, asFloat(prev[f.Name]), 1)
		}
	}
	return next
}

// drainBattery loses one percent with the configured odds, floor zero.
func (g *Generator) drainBattery(prev int) int {
	if prev <= 0 {
		return 0
	}
	if g.params.BatteryDrainOdds > 0 && g.rng.Intn(g.params.BatteryDrainOdds) == 0 {
		return prev - 1
	}
	return prev
}

// maybeFlip flips a boolean event field with per-type odds.
func (g *Generator) maybeFlip(deviceType, field string, prev bool) bool {
	odds := g.params.EventOdds
	if deviceType == schema.TypeSmokeSensor && field == "alert" {
		odds = g.params.SmokeAlertOdds
	}
	if odds > 0 && g.rng.Intn(odds) == 0 {
		return !prev
	}
	return prev
}

// walkFloat moves prev by a uniform offset in [-step, step], clamped.
func (g *Generator) walkFloat(f schema.FieldDef, prev, step float64) float64 {
	return clampFloat(f, prev+(g.rng.Float64()*2-1)*step)
}

// walkInt moves prev by a uniform offset in [-step, step], clamped.
func (g *Generator) walkInt(f schema.FieldDef, prev, step int) int {
	if step <= 0 {
		return prev
	}
	return int(clampFloat(f, float64(prev+g.rng.Intn(2*step+1)-step)))
}

// clampFloat pulls v into the field's inclusive range.
func clampFloat(f schema.FieldDef, v float64) float64 {
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

// asInt reads a state value that may hold int or float64.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// asFloat reads a state value that may hold int or float64.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

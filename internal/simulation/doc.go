// Package simulation drives the simulated device fleet.
//
// The Engine is the hub: it owns the canonical state of every device and
// connects three moving parts.
//
//	              ┌───────────┐   tick    ┌───────────┐
//	              │ Scheduler │──────────▶│ Generator │
//	              └───────────┘           └─────┬─────┘
//	                    ▲                       │ next state
//	     schedule/      │                       ▼
//	     unschedule ┌───┴────────────────────────────┐
//	                │            Engine              │
//	  command in ──▶│  validate -> merge -> publish  │──▶ state out
//	                └────────────────────────────────┘
//
// The Scheduler fires each device once per jittered interval through a
// bounded worker pool; the Generator turns the previous state into the
// next plausible one (bounded random walks, event flips, battery decay);
// the Engine publishes the result and applies validated commands arriving
// on actuator set-topics. Every mutation of a device goes through the
// device's own lock, so concurrent ticks and commands on one device are
// strictly ordered.
//
// BuildFleet constructs the initial population from configured per-type
// counts; AddDevice and RemoveDevice reshape the fleet while it runs.
package simulation

// Simhaus - MQTT smart-home device fleet simulator
//
// Simhaus populates an MQTT broker with a configurable fleet of simulated
// sensors and actuators. Sensors publish drifting telemetry on a jittered
// interval; actuators additionally accept commands on their set-topics and
// echo the resulting state. Point a dashboard, automation engine, or load
// test at the broker and it sees a living smart home.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// rootCmd runs the simulator in the foreground until interrupted.
var rootCmd = &cobra.Command{
	Use:   "simhaus",
	Short: "Simulate a fleet of MQTT smart-home devices",
	Long: `Simhaus connects to an MQTT broker (or starts its own embedded one) and
runs a configurable fleet of simulated devices: temperature, motion, window,
door and smoke sensors, plus commandable bulbs, shutters, door openers, fire
alarms and thermostats.

Each device publishes its full JSON state to
<base>/<category>/<type>/<id>/state on a jittered interval; actuators accept
commands on the matching .../set topic and echo the merged state retained.

Configuration is read from a YAML file (see configs/config.yaml), overridden
by SIMHAUS_* environment variables, then by command-line flags.`,
	Example: `  # Run against a local broker with defaults
  simhaus

  # Run fully self-contained with the embedded broker
  simhaus --embedded-broker

  # Faster telemetry against a remote broker
  simhaus --host broker.example.com --interval 5 --jitter 0.3`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("simhaus %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	registerFlags(rootCmd)
	rootCmd.AddCommand(versionCmd)
}

// registerFlags attaches the simulator flags to a command. Split out so
// tests can build fresh commands without sharing rootCmd's flag state.
func registerFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.StringP("config", "c", "", "Path to configuration file (or set SIMHAUS_CONFIG)")

	// Broker connection
	f.String("host", "", "MQTT broker host")
	f.Int("port", 0, "MQTT broker port")
	f.String("client-id", "", "MQTT client ID")
	f.Int("qos", -1, "QoS for publishes and command subscriptions (0-2)")

	// Simulation shape
	f.String("topic-base", "", "Root segment of the topic tree")
	f.Int("interval", 0, "Base publish interval in seconds")
	f.Float64("jitter", -1, "Interval jitter fraction in [0, 1)")
	f.Int("workers", 0, "Concurrent telemetry workers")
	f.Bool("retain", false, "Mark periodic telemetry publishes as retained")

	// Embedded broker
	f.Bool("embedded-broker", false, "Start an embedded MQTT broker and connect to it")
	f.Int("embedded-port", 0, "Port for the embedded broker")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

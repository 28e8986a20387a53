package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/simhaus/simhaus/internal/broker"
	"github.com/simhaus/simhaus/internal/infrastructure/config"
	"github.com/simhaus/simhaus/internal/infrastructure/logging"
	"github.com/simhaus/simhaus/internal/infrastructure/mqtt"
	"github.com/simhaus/simhaus/internal/simulation"
)

// brokerStopTimeout bounds the embedded broker's shutdown.
const brokerStopTimeout = 5 * time.Second

// runRoot wires flags into config and hands off to run.
func runRoot(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(cfg, cmd); err != nil {
		return err
	}

	return run(ctx, cfg)
}

// loadConfig resolves the configuration source: an explicit --config flag or
// SIMHAUS_CONFIG must load; the default path loads only when present; with
// no file at all the built-in defaults apply.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = os.Getenv("SIMHAUS_CONFIG")
	}
	if path != "" {
		cfg, loadErr := config.Load(path)
		if loadErr != nil {
			return nil, fmt.Errorf("loading config: %w", loadErr)
		}
		return cfg, nil
	}

	if _, statErr := os.Stat(defaultConfigPath); statErr == nil {
		cfg, loadErr := config.Load(defaultConfigPath)
		if loadErr != nil {
			return nil, fmt.Errorf("loading config: %w", loadErr)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// applyFlagOverrides copies explicitly-set flags over the loaded config and
// revalidates. Flags the user did not pass leave the config untouched.
func applyFlagOverrides(cfg *config.Config, cmd *cobra.Command) error {
	f := cmd.Flags()

	if f.Changed("host") {
		cfg.MQTT.Broker.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.MQTT.Broker.Port, _ = f.GetInt("port")
	}
	if f.Changed("client-id") {
		cfg.MQTT.Broker.ClientID, _ = f.GetString("client-id")
	}
	if f.Changed("qos") {
		cfg.MQTT.QoS, _ = f.GetInt("qos")
	}
	if f.Changed("topic-base") {
		cfg.Simulation.TopicBase, _ = f.GetString("topic-base")
	}
	if f.Changed("interval") {
		cfg.Simulation.PublishInterval, _ = f.GetInt("interval")
	}
	if f.Changed("jitter") {
		cfg.Simulation.Jitter, _ = f.GetFloat64("jitter")
	}
	if f.Changed("workers") {
		cfg.Simulation.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("retain") {
		cfg.Simulation.RetainTelemetry, _ = f.GetBool("retain")
	}
	if f.Changed("embedded-broker") {
		cfg.Broker.Enabled, _ = f.GetBool("embedded-broker")
	}
	if f.Changed("embedded-port") {
		cfg.Broker.Port, _ = f.GetInt("embedded-port")
	}

	// Running the embedded broker implies connecting to it
	if cfg.Broker.Enabled && !f.Changed("host") && !f.Changed("port") {
		cfg.MQTT.Broker.Host = "localhost"
		cfg.MQTT.Broker.Port = cfg.Broker.Port
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// run is the actual application logic, separated from the cobra wiring for
// testability. Returning an error lets main handle exit codes consistently.
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting Simhaus",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Embedded broker (optional)
	if cfg.Broker.Enabled {
		embedded, err := broker.New(cfg.Broker.Port, log)
		if err != nil {
			return fmt.Errorf("creating embedded broker: %w", err)
		}
		if err := embedded.Start(); err != nil {
			return fmt.Errorf("starting embedded broker: %w", err)
		}
		defer func() {
			log.Info("stopping embedded broker")
			if stopErr := embedded.Stop(context.Background(), brokerStopTimeout); stopErr != nil {
				log.Error("error stopping embedded broker", "error", stopErr)
			}
		}()
		log.Info("embedded broker started", "port", embedded.Port())
	}

	// Connect to the MQTT broker
	topics := mqtt.NewTopics(cfg.Simulation.TopicBase)
	client, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", client.ClientID(),
	)

	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// A burned reconnect budget is fatal: surface it to the main loop
	fatalErr := make(chan error, 1)
	client.SetOnReconnectExhausted(func(err error) {
		select {
		case fatalErr <- err:
		default:
		}
	})

	if err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Build and run the fleet
	engine := simulation.NewEngine(simulation.Options{
		Connection:      client,
		Topics:          topics,
		QoS:             byte(cfg.MQTT.QoS),
		RetainTelemetry: cfg.Simulation.RetainTelemetry,
		Interval:        cfg.GetPublishInterval(),
		Jitter:          cfg.Simulation.Jitter,
		Workers:         cfg.Simulation.Workers,
		Logger:          log,
	})

	if err := simulation.BuildFleet(engine, cfg.Simulation.Devices); err != nil {
		return fmt.Errorf("building fleet: %w", err)
	}
	log.Info("simulation running",
		"devices", engine.Registry().Count(),
		"interval", cfg.GetPublishInterval().String(),
		"jitter", cfg.Simulation.Jitter,
		"topic_base", cfg.Simulation.TopicBase,
	)

	engineCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(engineCtx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
		stopEngine()
		<-engineDone
		log.Info("Simhaus stopped")
		return nil

	case err := <-fatalErr:
		log.Error("broker connection lost for good", "error", err)
		stopEngine()
		<-engineDone
		return err

	case err := <-engineDone:
		if err != nil {
			return fmt.Errorf("simulation stopped: %w", err)
		}
		return nil
	}
}

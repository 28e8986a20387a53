// Package mqtt provides MQTT client connectivity for Simhaus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Simhaus speaks plain MQTT so it can stand in for real device fleets in
// front of any home-automation backend. Every simulated device publishes
// its state to, and actuators receive commands from, topics under a
// configurable base:
//
//	{base}/{category}/{type}/{id}/state   full state, published by the device
//	{base}/{category}/{type}/{id}/set     commands, consumed by actuators
//	{base}/system/status                  retained online/offline + LWT
//
// # Reconnection
//
// Connection loss triggers paho's auto-reconnect with exponential backoff
// between the configured initial and maximum delays. Tracked subscriptions
// are restored on every reconnect. When reconnect.max_attempts is set,
// spending the budget fires the reconnect-exhausted callback with
// ErrReconnectExhausted so the process can exit instead of retrying forever.
//
// # Security Considerations
//
//   - TLS is available for remote brokers (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Simulation.TopicBase)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to one actuator's command topic
//	err = client.Subscribe(topics.DeviceCommand("actuator", "led-bulb", id), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a state update
//	topic := topics.DeviceState("actuator", "led-bulb", id)
//	client.Publish(topic, []byte(`{"on":true}`), 1, false)
package mqtt

// Package broker embeds a mochi-mqtt server for self-contained runs.
//
// The simulator normally connects to an external broker (Mosquitto or
// similar). When embedded_broker.enabled is set, this package serves a
// broker in-process on a local TCP port and the simulator connects to
// itself, which removes the external dependency for demos and tests.
//
//	broker, err := broker.New(1883, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := broker.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer broker.Stop(ctx, 5*time.Second)
//
// All client connections are accepted without authentication. This is a
// development convenience, not a production broker.
package broker

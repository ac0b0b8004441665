// Package mqtt provides MQTT client connectivity for cansub.
//
// This package manages:
//   - Connection to the broker over plain TCP using MQTT 3.1.1
//   - Reporting of every CONNACK status code to a callback
//   - Topic subscriptions with wildcard support and sequential delivery
//   - A small publisher used by the diagnostic CLI and by tests
//   - Topic name and filter validation and matching
//
// # Delivery
//
// The client enables paho's ordered mode: handlers run one at a time, in the
// order messages arrive on the connection. There is no internal buffering
// beyond paho's own inbound queue.
//
// # Reconnection
//
// The initial connect is attempted once. After a session is established,
// paho reconnects automatically unless disabled in config; each successful
// reconnect invokes the on-connect callback again with status 0.
//
// # Usage
//
//	client := mqtt.NewClient(cfg.MQTT)
//	client.SetOnConnect(func(code byte) {
//	    fmt.Printf("connect %s status %d\n", cfg.MQTT.Broker.Host, code)
//	    _ = client.Subscribe(mqtt.Topics{}.AllCANFrames(), 0, handler)
//	})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt

// Package subscriber prints every message published under an MQTT topic
// filter.
//
// A Subscriber owns two callbacks. OnConnect runs once per CONNACK: it
// prints a "connect <host> status <code>" line and then subscribes to the
// configured filter, whatever the code. OnMessage runs once per delivery and
// prints "topic=<topic>" followed by "payload=<payload>".
//
// The transport is anything satisfying Transport; production code passes an
// *mqtt.Client from internal/infrastructure/mqtt.
//
//	sub, err := subscriber.New(cfg, client, os.Stdout, logger)
//	if err != nil {
//	    return err
//	}
//	return sub.Run(ctx)
package subscriber

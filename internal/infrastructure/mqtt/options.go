package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/cansub/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultOperationTimeout is the maximum time to wait for SUBACK, UNSUBACK
	// or publish acknowledgment.
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// protocolVersion311 selects MQTT 3.1.1 in the CONNECT packet.
	protocolVersion311 = 4

	// clientIDPrefix is used when no client ID is configured.
	clientIDPrefix = "cansub"

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// buildClientOptions creates paho MQTT options from cansub config.
//
// This configures:
//   - Broker URL (plain tcp://)
//   - Client ID, generated when not configured
//   - MQTT 3.1.1 with a clean session
//   - Ordered, sequential delivery to message handlers
//   - Keepalive and CONNACK timeout
//   - Auto-reconnect after a lost connection (library default), but no
//     retry of the initial connect
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker("tcp://" + cfg.Broker.Address())

	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("%s-%d", clientIDPrefix, time.Now().UnixNano())
	}
	opts.SetClientID(clientID)

	opts.SetProtocolVersion(protocolVersion311)
	opts.SetCleanSession(true)

	// Handlers run one at a time on the router goroutine, in arrival order.
	opts.SetOrderMatters(true)

	opts.SetKeepAlive(cfg.Broker.GetKeepAlive())
	opts.SetConnectTimeout(cfg.Broker.GetConnectTimeout())

	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(cfg.Reconnect.Enabled)
	if cfg.Reconnect.Enabled {
		opts.SetMaxReconnectInterval(cfg.Reconnect.GetMaxReconnectDelay())
	}

	return opts
}

package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/cansub/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang with cansub-specific functionality.
//
// It reports every CONNACK through a status-code callback, tracks
// subscriptions, and delivers messages to handlers sequentially in the order
// they arrive.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// subscriptions tracks active subscriptions by filter.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    ConnectHandler
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// subscription holds subscription details.
type subscription struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run one at a time, in arrival order, on the client's delivery
// goroutine. A slow handler delays every later message.
//
// Parameters:
//   - topic: The concrete topic the message was published on
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged; does not affect acknowledgment
type MessageHandler func(topic string, payload []byte) error

// ConnectHandler receives the CONNACK return code of each connection
// attempt that reached the broker. 0 means accepted; 1..5 are the MQTT 3.1.1
// refusal codes.
type ConnectHandler func(code byte)

// NewClient creates a client for the configured broker without connecting.
//
// Register callbacks with SetOnConnect and SetOnDisconnect before calling
// Connect so the first CONNACK is observed.
func NewClient(cfg config.MQTTConfig) *Client {
	opts := buildClientOptions(cfg)

	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]subscription),
	}

	// paho only calls this for accepted sessions, on first connect and on
	// every automatic reconnect.
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect(packets.Accepted)
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Info("MQTT reconnecting", "broker", cfg.Broker.Address())
		}
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect establishes a connection to the MQTT broker.
//
// It waits for the CONNACK, bounded by ctx and the configured connect
// timeout. When the broker refuses the session the on-connect callback
// receives the refusal code before Connect returns ErrConnectionRefused.
// Transport failures (DNS, refused TCP, timeout) return ErrConnectionFailed
// and never invoke the callback.
//
// Returns:
//   - error: nil once the session is accepted
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	if err := token.Error(); err != nil {
		if code, ok := refusalCode(token); ok {
			c.handleConnect(code)
			return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect handler runs asynchronously and may not have executed
	// yet, so the state is set here as well.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Info("MQTT connected",
			"broker", c.cfg.Broker.Address(),
			"client_id", c.ClientID(),
		)
	}

	return nil
}

// refusalCode extracts a broker refusal code (1..5) from a failed connect token.
// Network failures carry paho's internal codes and are not refusals.
func refusalCode(token pahomqtt.Token) (byte, bool) {
	ct, ok := token.(*pahomqtt.ConnectToken)
	if !ok {
		return 0, false
	}
	rc := ct.ReturnCode()
	if rc == packets.Accepted || rc > packets.ErrRefusedNotAuthorised {
		return 0, false
	}
	return rc, true
}

// handleConnect records the connection state and notifies the callback.
func (c *Client) handleConnect(code byte) {
	c.connMu.Lock()
	c.connected = code == packets.Accepted
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(code)
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Close gracefully disconnects from the MQTT broker.
//
// Pending operations get a short quiesce period. Closing a client that never
// connected is not an error.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// ClientID returns the identifier sent in CONNECT.
func (c *Client) ClientID() string {
	if c.options == nil {
		return ""
	}
	return c.options.ClientID
}

// SetOnConnect sets a callback invoked with the CONNACK return code of every
// connection attempt that reaches the broker, including reconnects.
func (c *Client) SetOnConnect(callback ConnectHandler) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection, error and panic logging.
// If not set, these events are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}

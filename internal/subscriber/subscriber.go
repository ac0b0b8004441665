package subscriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/nerrad567/cansub/internal/infrastructure/config"
	"github.com/nerrad567/cansub/internal/infrastructure/mqtt"
)

// Transport is the MQTT session the Subscriber drives.
type Transport interface {
	SetOnConnect(callback mqtt.ConnectHandler)
	SetOnDisconnect(callback func(err error))
	Connect(ctx context.Context) error
	Subscribe(filter string, qos byte, handler mqtt.MessageHandler) error
	Close() error
}

// Logger receives diagnostics. Printed lines never go through it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config is fixed for the lifetime of a Subscriber.
type Config struct {
	Host      string
	Port      int
	KeepAlive int

	TopicFilter   string
	QoS           byte
	PayloadFormat PayloadFormat

	// AutoReconnect mirrors the transport's reconnect setting. When false a
	// lost connection or a refused CONNACK ends Run.
	AutoReconnect bool

	// RetryDelay is the first wait after a refused CONNACK. It doubles per
	// refusal up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// defaultRetryDelay is the first wait after a refused CONNACK.
const defaultRetryDelay = time.Second

// ConfigFrom derives a subscriber Config from the loaded application config.
func ConfigFrom(cfg *config.Config) (Config, error) {
	format, err := ParsePayloadFormat(cfg.Subscriber.PayloadFormat)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Host:          cfg.MQTT.Broker.Host,
		Port:          cfg.MQTT.Broker.Port,
		KeepAlive:     cfg.MQTT.Broker.KeepAlive,
		TopicFilter:   cfg.Subscriber.TopicFilter,
		QoS:           byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2 by config
		PayloadFormat: format,
		AutoReconnect: cfg.MQTT.Reconnect.Enabled,
		RetryDelay:    defaultRetryDelay,
		MaxRetryDelay: cfg.MQTT.Reconnect.GetMaxReconnectDelay(),
	}, nil
}

// Subscriber wires the connect and message callbacks to a Printer.
type Subscriber struct {
	cfg       Config
	transport Transport
	printer   *Printer
	logger    Logger
}

// New creates a Subscriber.
//
// Parameters:
//   - cfg: endpoint, filter and output settings
//   - transport: the MQTT session to drive
//   - out: where status and message lines are written
//   - logger: diagnostics sink
//
// Returns:
//   - *Subscriber: ready to Run
//   - error: if the filter, QoS or payload format is invalid
func New(cfg Config, transport Transport, out io.Writer, logger Logger) (*Subscriber, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidConfig)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if err := mqtt.ValidateFilter(cfg.TopicFilter); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, mqtt.ErrInvalidQoS)
	}
	if cfg.PayloadFormat == "" {
		cfg.PayloadFormat = FormatRepr
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if _, err := ParsePayloadFormat(string(cfg.PayloadFormat)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &Subscriber{
		cfg:       cfg,
		transport: transport,
		printer:   NewPrinter(out, cfg.PayloadFormat),
		logger:    logger,
	}, nil
}

// OnConnect handles a CONNACK. It prints the status line and then
// subscribes to the topic filter even when code is non-zero. A failed
// subscription is logged and otherwise ignored.
//
// For a non-zero code the transport already considers the session closed,
// so Subscribe fails locally with mqtt.ErrNotConnected and no SUBSCRIBE
// packet reaches the broker.
func (s *Subscriber) OnConnect(code byte) {
	if err := s.printer.Status(s.cfg.Host, code); err != nil {
		s.logger.Error("writing status line", "error", err)
	}
	if code != 0 {
		s.logger.Warn("broker refused session, subscribing anyway",
			"host", s.cfg.Host,
			"code", code,
		)
	}

	if err := s.transport.Subscribe(s.cfg.TopicFilter, s.cfg.QoS, s.OnMessage); err != nil {
		s.logger.Error("subscribe failed",
			"filter", s.cfg.TopicFilter,
			"error", err,
		)
		return
	}
	s.logger.Info("subscribed",
		"filter", s.cfg.TopicFilter,
		"qos", s.cfg.QoS,
	)
}

// OnMessage prints one delivery as a topic line and a payload line.
// Deliveries outside the subscribed filter are dropped with ErrTopicMismatch.
func (s *Subscriber) OnMessage(topic string, payload []byte) error {
	if !mqtt.MatchFilter(s.cfg.TopicFilter, topic) {
		return fmt.Errorf("%w: %q not under %q", ErrTopicMismatch, topic, s.cfg.TopicFilter)
	}
	s.logger.Debug("message received", "topic", topic, "bytes", len(payload))
	if err := s.printer.Message(topic, payload); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Run registers the callbacks, connects and blocks.
//
// It returns nil once ctx is cancelled, including mid-connect or while
// waiting to retry. A refused CONNACK is retried with a doubling delay while
// AutoReconnect is on, each attempt printing its own status line; with
// AutoReconnect off it is returned. Any other connect error is returned
// immediately. A session that drops while AutoReconnect is off ends Run with
// an error wrapping ErrConnectionLost. The transport is closed on return.
func (s *Subscriber) Run(ctx context.Context) error {
	lost := make(chan error, 1)

	s.transport.SetOnConnect(s.OnConnect)
	s.transport.SetOnDisconnect(func(err error) {
		if s.cfg.AutoReconnect {
			s.logger.Warn("connection lost, reconnecting", "error", err)
			return
		}
		select {
		case lost <- err:
		default:
		}
	})

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.logger.Info("connecting",
		"broker", addr,
		"keepalive", s.cfg.KeepAlive,
		"filter", s.cfg.TopicFilter,
	)
	if err := s.connect(ctx); err != nil {
		if ctx.Err() != nil {
			s.logger.Info("shutting down before connect completed")
			return nil
		}
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer func() {
		if err := s.transport.Close(); err != nil {
			s.logger.Error("closing transport", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
		return nil
	case err := <-lost:
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
}

// connect calls Connect until a session is accepted, retrying refusals
// while AutoReconnect is on.
func (s *Subscriber) connect(ctx context.Context) error {
	delay := s.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		err := s.transport.Connect(ctx)
		if err == nil {
			return nil
		}
		if !s.cfg.AutoReconnect || !errors.Is(err, mqtt.ErrConnectionRefused) || ctx.Err() != nil {
			return err
		}

		s.logger.Warn("connection refused, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = min(delay*2, s.cfg.MaxRetryDelay)
	}
}

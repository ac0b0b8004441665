package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/cansub/internal/infrastructure/config"
	"github.com/nerrad567/cansub/internal/testutil"
)

// testConfig returns an MQTT configuration pointing at the given host and port.
func testConfig(host string, port int) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:           host,
			Port:           port,
			ClientID:       fmt.Sprintf("cansub-test-%d", time.Now().UnixNano()),
			KeepAlive:      60,
			ConnectTimeout: 3,
		},
		QoS: 0,
		Reconnect: config.MQTTReconnectConfig{
			Enabled:  false,
			MaxDelay: 5,
		},
	}
}

// connectTo starts a client against broker and closes it when the test ends.
func connectTo(t *testing.T, broker *testutil.Broker) *Client {
	t.Helper()

	client := NewClient(testConfig(broker.Host, broker.Port))
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestConnect_OnConnectReceivesAccepted(t *testing.T) {
	broker := testutil.StartBroker(t)

	client := NewClient(testConfig(broker.Host, broker.Port))
	codes := make(chan byte, 4)
	client.SetOnConnect(func(code byte) {
		codes <- code
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	select {
	case code := <-codes:
		if code != 0 {
			t.Errorf("OnConnect code = %d, want 0", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect was not called")
	}

	select {
	case code := <-codes:
		t.Errorf("OnConnect called twice (second code %d)", code)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnect_Unreachable(t *testing.T) {
	host, port := testutil.ReserveTCPAddr(t)

	client := NewClient(testConfig(host, port))
	called := make(chan byte, 1)
	client.SetOnConnect(func(code byte) {
		called <- code
	})

	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect() expected error for unreachable broker")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}

	select {
	case code := <-called:
		t.Errorf("OnConnect called with %d for an unreachable broker", code)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnect_Refused(t *testing.T) {
	broker := testutil.StartRejectingBroker(t)

	client := NewClient(testConfig(broker.Host, broker.Port))
	codes := make(chan byte, 1)
	client.SetOnConnect(func(code byte) {
		codes <- code
	})

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("Connect() error = %v, want ErrConnectionRefused", err)
	}

	select {
	case code := <-codes:
		if code < 1 || code > 5 {
			t.Errorf("OnConnect code = %d, want a refusal code 1..5", code)
		}
	default:
		t.Fatal("OnConnect was not called before Connect returned")
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after refusal, want false")
	}
}

// TestConnect_RefusedSubscribeFailsLocally verifies a subscribe issued from
// the callback of a refused session never reaches the broker.
func TestConnect_RefusedSubscribeFailsLocally(t *testing.T) {
	broker := testutil.StartRejectingBroker(t)

	client := NewClient(testConfig(broker.Host, broker.Port))
	subErrs := make(chan error, 1)
	client.SetOnConnect(func(byte) {
		subErrs <- client.Subscribe("/can/#", 0, func(string, []byte) error { return nil })
	})

	if err := client.Connect(context.Background()); !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("Connect() error = %v, want ErrConnectionRefused", err)
	}

	if err := <-subErrs; !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if client.HasSubscription("/can/#") {
		t.Error("HasSubscription() = true on a refused session")
	}
	if subs := broker.Server.Topics.Subscribers("/can/1"); len(subs.Subscriptions) != 0 {
		t.Errorf("broker holds %d subscriptions, want 0", len(subs.Subscriptions))
	}
}

// TestConnect_RefusedCanRetry verifies the same client can connect again
// after a refusal, reporting a status code each time.
func TestConnect_RefusedCanRetry(t *testing.T) {
	broker := testutil.StartRejectingBroker(t)

	client := NewClient(testConfig(broker.Host, broker.Port))
	var calls int
	var mu sync.Mutex
	client.SetOnConnect(func(byte) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	for i := 0; i < 2; i++ {
		if err := client.Connect(context.Background()); !errors.Is(err, ErrConnectionRefused) {
			t.Fatalf("Connect() attempt %d error = %v, want ErrConnectionRefused", i+1, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("OnConnect called %d times, want 2", calls)
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	broker := testutil.StartBroker(t)

	client := NewClient(testConfig(broker.Host, broker.Port))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Connect(ctx)
	// The CONNACK can win the race against the cancelled context.
	if err != nil && !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want nil or ErrConnectionFailed", err)
	}
	_ = client.Close()
}

func TestClose(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestClientID_Generated(t *testing.T) {
	cfg := testConfig("127.0.0.1", 1883)
	cfg.Broker.ClientID = ""

	client := NewClient(cfg)
	if got := client.ClientID(); len(got) <= len(clientIDPrefix) {
		t.Errorf("ClientID() = %q, want generated %s-<n>", got, clientIDPrefix)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("10.1.2.3", 1884)
	cfg.Broker.KeepAlive = 45
	cfg.Reconnect.Enabled = true
	cfg.Reconnect.MaxDelay = 30

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://10.1.2.3:1884" {
		t.Errorf("Servers = %v, want [tcp://10.1.2.3:1884]", opts.Servers)
	}
	if opts.ProtocolVersion != protocolVersion311 {
		t.Errorf("ProtocolVersion = %d, want %d", opts.ProtocolVersion, protocolVersion311)
	}
	if opts.KeepAlive != 45 {
		t.Errorf("KeepAlive = %d, want 45", opts.KeepAlive)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if !opts.Order {
		t.Error("Order = false, want ordered delivery")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want initial connect to fail fast")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.MaxReconnectInterval != 30*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 30s", opts.MaxReconnectInterval)
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)

	err := client.Publish(Topics{}.CANFrame("101"), []byte{0x01, 0x02}, 0, false)
	if err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 0, wantErr: ErrInvalidTopic},
		{name: "wildcard topic", topic: "/can/#", qos: 0, wantErr: ErrInvalidTopic},
		{name: "invalid QoS", topic: "/can/1", qos: 3, wantErr: ErrInvalidQoS},
		{name: "oversized payload", topic: "/can/1", payload: make([]byte, maxPayloadSize+1), wantErr: ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishDisconnected(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)
	client.Close()

	err := client.Publish("/can/1", []byte("test"), 0, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribe(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)

	filter := Topics{}.AllCANFrames()
	if err := client.Subscribe(filter, 0, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if !client.HasSubscription(filter) {
		t.Error("HasSubscription() = false, want true")
	}
}

func TestSubscribe_Validation(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		filter  string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{name: "empty filter", filter: "", handler: noop, wantErr: ErrInvalidFilter},
		{name: "hash not last", filter: "/can/#/x", handler: noop, wantErr: ErrInvalidFilter},
		{name: "partial plus", filter: "/can/a+", handler: noop, wantErr: ErrInvalidFilter},
		{name: "invalid QoS", filter: "/can/#", qos: 3, handler: noop, wantErr: ErrInvalidQoS},
		{name: "nil handler", filter: "/can/#", handler: nil, wantErr: ErrSubscribeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Subscribe(tt.filter, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	for _, filter := range []string{"", "/can/#/x", "/can/a+", "/can/#"} {
		if client.HasSubscription(filter) {
			t.Errorf("HasSubscription(%q) = true after rejected subscribe", filter)
		}
	}
}

func TestSubscribeDisconnected(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)
	client.Close()

	err := client.Subscribe("/can/#", 0, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Delivery Tests
// =============================================================================

func TestWildcardDelivery(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)

	var mu sync.Mutex
	var received []string

	err := client.Subscribe("/can/#", 0, func(topic string, _ []byte) error {
		mu.Lock()
		received = append(received, topic)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	broker.Publish(t, "/other/1", []byte("ignored"))
	broker.Publish(t, "/can/101", []byte{0x01, 0x02})
	broker.Publish(t, "/can/102/data", []byte{0x03})

	testutil.WaitUntil(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 2
	}, "did not receive /can messages")

	// Allow a stray /other delivery to surface before asserting.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/can/101", "/can/102/data"}
	if len(received) != len(want) {
		t.Fatalf("received topics = %v, want %v", received, want)
	}
	for i := range want {
		if received[i] != want[i] {
			t.Errorf("received[%d] = %q, want %q", i, received[i], want[i])
		}
	}
}

func TestDeliveryOrder(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)

	const total = 50
	payloads := make(chan string, total)

	err := client.Subscribe("/can/#", 0, func(_ string, payload []byte) error {
		payloads <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := 0; i < total; i++ {
		broker.Publish(t, "/can/seq", []byte(fmt.Sprintf("m%02d", i)))
	}

	for i := 0; i < total; i++ {
		select {
		case got := <-payloads:
			if want := fmt.Sprintf("m%02d", i); got != want {
				t.Fatalf("message %d = %q, want %q", i, got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout after %d messages", i)
		}
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	broker := testutil.StartBroker(t)
	pub := connectTo(t, broker)
	sub := connectTo(t, broker)

	received := make(chan []byte, 1)
	err := sub.Subscribe("/can/#", 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := pub.Publish("/can/101", []byte{0x01, 0x02}, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != "\x01\x02" {
			t.Errorf("payload = %x, want 0102", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Info(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns), len(l.errs)
}

func TestHandlerErrorAndPanicAreLogged(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)
	logger := &recordingLogger{}
	client.SetLogger(logger)

	err := client.Subscribe("/can/#", 0, func(topic string, _ []byte) error {
		if topic == "/can/panic" {
			panic("boom")
		}
		return errors.New("handler error")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	broker.Publish(t, "/can/panic", nil)
	broker.Publish(t, "/can/error", nil)

	testutil.WaitUntil(t, 3*time.Second, func() bool {
		warns, errs := logger.counts()
		return warns == 1 && errs == 1
	}, "handler panic and error were not both logged")

	// Delivery continues after a panic.
	if !client.IsConnected() {
		t.Error("IsConnected() = false after handler panic, want true")
	}
}

func TestOnDisconnectCallback(t *testing.T) {
	broker := testutil.StartBroker(t)
	client := connectTo(t, broker)

	lost := make(chan error, 1)
	client.SetOnDisconnect(func(err error) {
		lost <- err
	})

	broker.Close()

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("OnDisconnect was not called after the broker went away")
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after connection loss, want false")
	}
}

// Package testutil provides an in-process MQTT broker for tests, so the
// suite does not depend on an external Mosquitto instance.
package testutil

import (
	"bytes"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Broker is a running mochi-mqtt server bound to a loopback port.
type Broker struct {
	Server *mochi.Server
	Host   string
	Port   int

	closeOnce sync.Once
}

// StartBroker starts a broker that accepts every client.
// It is closed automatically when the test ends.
func StartBroker(t testing.TB) *Broker {
	t.Helper()
	return startBroker(t, new(auth.AllowHook))
}

// StartRejectingBroker starts a broker that answers every CONNECT with a
// refusal CONNACK.
func StartRejectingBroker(t testing.TB) *Broker {
	t.Helper()
	return startBroker(t, new(rejectHook))
}

// StartBrokerAt starts an accepting broker on a given loopback address,
// typically the one a closed Broker held, to simulate a broker restart.
func StartBrokerAt(t testing.TB, host string, port int) *Broker {
	t.Helper()
	return startBrokerOn(t, new(auth.AllowHook), host, port)
}

func startBroker(t testing.TB, hook mochi.Hook) *Broker {
	t.Helper()
	host, port := ReserveTCPAddr(t)
	return startBrokerOn(t, hook, host, port)
}

func startBrokerOn(t testing.TB, hook mochi.Hook, host string, port int) *Broker {
	t.Helper()

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(hook, nil); err != nil {
		t.Fatalf("AddHook: %v", err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Address: addr,
	})); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	go func() {
		_ = server.Serve()
	}()

	WaitUntil(t, 3*time.Second, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, "broker did not start listening in time")

	b := &Broker{Server: server, Host: host, Port: port}
	t.Cleanup(b.Close)

	return b
}

// Close stops the broker and drops its clients. It is safe to call more
// than once; mochi panics on a second Server.Close.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		_ = b.Server.Close()
	})
}

// Publish injects a message from the broker's inline client.
func (b *Broker) Publish(t testing.TB, topic string, payload []byte) {
	t.Helper()
	b.publish(t, topic, payload, false)
}

// PublishRetained injects a retained message. It reaches a subscriber
// exactly once whether it subscribes before or after the call.
func (b *Broker) PublishRetained(t testing.TB, topic string, payload []byte) {
	t.Helper()
	b.publish(t, topic, payload, true)
}

func (b *Broker) publish(t testing.TB, topic string, payload []byte, retain bool) {
	t.Helper()
	if err := b.Server.Publish(topic, payload, retain, 0); err != nil {
		t.Fatalf("broker publish %s: %v", topic, err)
	}
}

// ReserveTCPAddr returns a loopback port that was free a moment ago and now
// has no listener. Dialing it fails with connection refused.
func ReserveTCPAddr(t testing.TB) (string, int) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve listen addr: %v", err)
	}
	tcpAddr := l.Addr().(*net.TCPAddr)
	if err := l.Close(); err != nil {
		t.Fatalf("close reserved listener: %v", err)
	}
	return tcpAddr.IP.String(), tcpAddr.Port
}

// WaitUntil polls check until it returns true or the timeout expires.
func WaitUntil(t testing.TB, timeout time.Duration, check func() bool, failMsg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(failMsg)
}

// rejectHook refuses every connection and denies every topic.
type rejectHook struct {
	mochi.HookBase
}

func (h *rejectHook) ID() string {
	return "reject-all"
}

func (h *rejectHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnConnectAuthenticate,
		mochi.OnACLCheck,
	}, []byte{b})
}

func (h *rejectHook) OnConnectAuthenticate(_ *mochi.Client, _ packets.Packet) bool {
	return false
}

func (h *rejectHook) OnACLCheck(_ *mochi.Client, _ string, _ bool) bool {
	return false
}

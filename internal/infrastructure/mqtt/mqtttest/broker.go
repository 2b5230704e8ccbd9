// Package mqtttest runs an embedded MQTT broker for tests.
package mqtttest

import (
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/config"
)

var clientSeq atomic.Uint64

// StartBroker starts an in-process broker on a free loopback port, stops it
// when the test ends, and returns a client configuration pointing at it.
// Every call returns a distinct client ID.
func StartBroker(tb testing.TB) config.MQTTConfig {
	tb.Helper()

	port := freePort(tb)
	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		tb.Fatalf("adding auth hook: %v", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: fmt.Sprintf("127.0.0.1:%d", port)})
	if err := server.AddListener(tcp); err != nil {
		tb.Fatalf("adding listener: %v", err)
	}

	go func() {
		if err := server.Serve(); err != nil {
			tb.Logf("broker stopped: %v", err)
		}
	}()
	tb.Cleanup(func() { server.Close() }) //nolint:errcheck // test cleanup

	waitListening(tb, port)
	return ClientConfig(port)
}

// ClientConfig returns a client configuration for a broker on port.
func ClientConfig(port int) config.MQTTConfig {
	cfg := config.Default().MQTT
	cfg.Enabled = true
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.Port = port
	cfg.Broker.ClientID = fmt.Sprintf("graylogic-test-%d", clientSeq.Add(1))
	cfg.Reconnect.InitialDelay = 100 * time.Millisecond
	cfg.Reconnect.MaxDelay = time.Second
	return cfg
}

func freePort(tb testing.TB) int {
	tb.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("finding free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitListening(tb testing.TB, port int) {
	tb.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	tb.Fatalf("broker did not start listening on %s", addr)
}

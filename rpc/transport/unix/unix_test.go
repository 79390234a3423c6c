package unix

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/transport"
)

func TestListenReplacesStaleSocket(t *testing.T) {
	config := common.DefaultRelayConfig()
	config.Endpoint = filepath.Join(t.TempDir(), "relay.sock")

	// leftover file from a crashed relay
	if err := os.WriteFile(config.Endpoint, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	c := NewConnector()
	if c.Name() != "unix" {
		t.Errorf("Expected name unix, got %s", c.Name())
	}

	listener, err := c.Listen(config)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer listener.Close()

	accepted := make(chan []byte, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, payload, err := transport.ReadFrame(conn)
		if err == nil {
			accepted <- payload
		}
	}()

	conn, err := c.Dial(context.Background(), config)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := transport.WriteFrame(conn, transport.FrameJoin, []byte("settings")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if got := string(<-accepted); got != "settings" {
		t.Errorf("Expected payload settings, got %q", got)
	}
}

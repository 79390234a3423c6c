package tcp

import (
	"context"
	"net"
	"testing"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/transport"
)

func TestListenAndDial(t *testing.T) {
	config := common.DefaultRelayConfig()
	config.Endpoint = "127.0.0.1:0"
	config.TCPConf.TCPKeepAliveSec = 30

	c := NewConnector()
	if c.Name() != "tcp" {
		t.Errorf("Expected name tcp, got %s", c.Name())
	}

	listener, err := c.Listen(config)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer listener.Close()
	config.Endpoint = listener.Addr().String()

	type result struct {
		conn net.Conn
		kind transport.FrameKind
		data []byte
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		kind, data, err := transport.ReadFrame(conn)
		if err != nil {
			conn.Close()
			return
		}
		accepted <- result{conn, kind, data}
	}()

	conn, err := c.Dial(context.Background(), config)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := transport.WriteFrame(conn, transport.FrameMessage, []byte("payload")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	res := <-accepted
	defer res.conn.Close()
	if _, ok := res.conn.(*net.TCPConn); !ok {
		t.Errorf("Expected accepted *net.TCPConn, got %T", res.conn)
	}
	if res.kind != transport.FrameMessage || string(res.data) != "payload" {
		t.Errorf("Unexpected frame %s %q", res.kind, res.data)
	}
}

func TestUpgradeConnectionIgnoresOtherConns(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	if err := upgradeConnection(a, common.TCPConf{TCPNoDelay: true, TCPKeepAliveSec: 10}); err != nil {
		t.Errorf("Expected nil for non tcp conn, got %v", err)
	}
}

func TestDialRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	config := common.DefaultRelayConfig()
	config.Endpoint = listener.Addr().String()
	listener.Close()

	if _, err := NewConnector().Dial(context.Background(), config); err == nil {
		t.Error("Expected dial error on closed port")
	}
}

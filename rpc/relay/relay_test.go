package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/broadcast"
	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/serializer"
	"github.com/ValentinKolb/tkv/rpc/transport"
	"github.com/ValentinKolb/tkv/rpc/transport/tcp"
	"github.com/ValentinKolb/tkv/rpc/transport/unix"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

// startServer runs a relay in the background and returns the config clients dial with
func startServer(t *testing.T, connector transport.Connector, endpoint string) (*Server, common.RelayConfig) {
	t.Helper()

	config := common.DefaultRelayConfig()
	config.Transport = connector.Name()
	config.Endpoint = endpoint
	config.TimeoutSecond = 2

	s := NewServer(config, connector)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Listen()
	}()

	waitFor(t, "listener", func() bool { return s.Addr() != nil })
	config.Endpoint = s.Addr().String()

	t.Cleanup(func() {
		_ = s.Close()
		if err := <-errCh; !errors.Is(err, ErrServerClosed) {
			t.Errorf("Expected ErrServerClosed from Listen, got %v", err)
		}
	})
	return s, config
}

func startUnixServer(t *testing.T) (*Server, common.RelayConfig) {
	return startServer(t, unix.NewConnector(), filepath.Join(t.TempDir(), "relay.sock"))
}

func dial(t *testing.T, config common.RelayConfig, connector transport.Connector, name string) broadcast.Channel {
	t.Helper()
	ch, err := Dial(context.Background(), config, connector, serializer.NewBinarySerializer(), name)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, ch broadcast.Channel) *broadcast.Message {
	t.Helper()
	select {
	case msg, ok := <-ch.Messages():
		if !ok {
			t.Fatalf("Channel closed while waiting for a message")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for a message")
	}
	return nil
}

func expectSilence(t *testing.T, ch broadcast.Channel) {
	t.Helper()
	select {
	case msg := <-ch.Messages():
		t.Errorf("Expected no message, got %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestFanOut(t *testing.T) {
	s, config := startUnixServer(t)
	connector := unix.NewConnector()

	a := dial(t, config, connector, "tkv")
	b := dial(t, config, connector, "tkv")
	c := dial(t, config, connector, "tkv")
	other := dial(t, config, connector, "other")

	waitFor(t, "joins", func() bool { return s.Peers("tkv") == 3 && s.Peers("other") == 1 })

	if err := a.Post(broadcast.Update("theme")); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	for _, ch := range []broadcast.Channel{b, c} {
		msg := receive(t, ch)
		if msg.Type != broadcast.TypeUpdate || msg.Key != "theme" {
			t.Errorf("Unexpected message %v", msg)
		}
	}
	expectSilence(t, a)
	expectSilence(t, other)
}

func TestOrderPerSender(t *testing.T) {
	s, config := startUnixServer(t)
	connector := unix.NewConnector()

	a := dial(t, config, connector, "tkv")
	b := dial(t, config, connector, "tkv")
	waitFor(t, "joins", func() bool { return s.Peers("tkv") == 2 })

	const n = 200
	for i := 0; i < n; i++ {
		if err := a.Post(broadcast.Invalidate(fmt.Sprintf("key-%d", i))); err != nil {
			t.Fatalf("Post %d failed: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		msg := receive(t, b)
		if want := fmt.Sprintf("key-%d", i); msg.Key != want {
			t.Fatalf("Expected %s at position %d, got %s", want, i, msg.Key)
		}
	}
}

func TestLeaveAndRejoin(t *testing.T) {
	s, config := startUnixServer(t)
	connector := unix.NewConnector()

	a := dial(t, config, connector, "tkv")
	b := dial(t, config, connector, "tkv")
	waitFor(t, "joins", func() bool { return s.Peers("tkv") == 2 })

	_ = b.Close()
	waitFor(t, "leave", func() bool { return s.Peers("tkv") == 1 })

	if err := a.Post(broadcast.InvalidateAll()); err != nil {
		t.Errorf("Post with no other members failed: %v", err)
	}
	if err := b.Post(broadcast.InvalidateAll()); !errors.Is(err, broadcast.ErrChannelClosed) {
		t.Errorf("Expected ErrChannelClosed, got %v", err)
	}

	_ = a.Close()
	waitFor(t, "empty room", func() bool { return s.Peers("tkv") == 0 })
}

func TestServerCloseEndsChannels(t *testing.T) {
	s, config := startUnixServer(t)
	ch := dial(t, config, unix.NewConnector(), "tkv")
	waitFor(t, "join", func() bool { return s.Peers("tkv") == 1 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case _, ok := <-ch.Messages():
		if ok {
			t.Errorf("Expected closed message channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Message channel still open after server close")
	}
}

func TestBroadcasterOverRelay(t *testing.T) {
	s, config := startUnixServer(t)
	opener := Opener(config, unix.NewConnector(), serializer.NewJSONSerializer())

	target := &recorder{}
	local := broadcast.New("tkv", opener, nil)
	remote := broadcast.New("tkv", opener, target)
	defer local.Close()
	defer remote.Close()

	waitFor(t, "joins", func() bool { return s.Peers("tkv") == 2 })

	local.PostUpdate("theme")
	local.PostInvalidateAll()
	waitFor(t, "delivery", func() bool { return remote.Received() == 2 })

	if got := target.String(); got != "theme,*" {
		t.Errorf("Expected theme,* got %s", got)
	}

	// the relay going away degrades the remote side
	_ = s.Close()
	waitFor(t, "degraded", remote.Degraded)
}

func TestOversizedMessageKeepsChannel(t *testing.T) {
	s, config := startUnixServer(t)
	connector := unix.NewConnector()

	a := dial(t, config, connector, "tkv")
	b := dial(t, config, connector, "tkv")
	waitFor(t, "joins", func() bool { return s.Peers("tkv") == 2 })

	huge := strings.Repeat("k", transport.MaxFrameSize)
	err := a.Post(broadcast.Update(huge))
	if !errors.Is(err, broadcast.ErrInvalidMessage) || !errors.Is(err, transport.ErrFrameTooLarge) {
		t.Fatalf("Expected rejected message, got %v", err)
	}

	if err := a.Post(broadcast.Update("")); err != nil {
		t.Fatalf("Post after rejected message failed: %v", err)
	}
	if msg := receive(t, b); msg.Type != broadcast.TypeUpdate || msg.All || msg.Key != "" {
		t.Errorf("Expected update of the empty key, got %v", msg)
	}

	// a broadcaster drops the message and stays active
	opener := Opener(config, connector, serializer.NewBinarySerializer())
	target := &recorder{}
	local := broadcast.New("tkv", opener, nil)
	remote := broadcast.New("tkv", opener, target)
	defer local.Close()
	defer remote.Close()
	waitFor(t, "joins", func() bool { return s.Peers("tkv") == 4 })

	local.PostUpdate(huge)
	local.PostUpdate("theme")
	waitFor(t, "delivery", func() bool { return remote.Received() == 1 })

	if local.Degraded() || local.Dropped() != 1 {
		t.Errorf("Expected active broadcaster with 1 dropped message, degraded=%v dropped=%d", local.Degraded(), local.Dropped())
	}
	if got := target.String(); got != "theme" {
		t.Errorf("Expected theme, got %s", got)
	}
}

func TestRejectsMissingJoin(t *testing.T) {
	s, config := startUnixServer(t)

	conn, err := unix.NewConnector().Dial(context.Background(), config)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_ = transport.WriteFrame(conn, transport.FrameMessage, []byte{1, 0})

	// the server hangs up
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := transport.ReadFrame(conn); err == nil {
		t.Errorf("Expected connection to be closed")
	}

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	if !strings.Contains(buf.String(), "tkv_relay_rejected_connections_total 1") {
		t.Errorf("Expected rejected connection in metrics:\n%s", buf.String())
	}
}

func TestTCP(t *testing.T) {
	s, config := startServer(t, tcp.NewConnector(), "127.0.0.1:0")
	connector := tcp.NewConnector()

	a := dial(t, config, connector, "tkv")
	b := dial(t, config, connector, "tkv")
	waitFor(t, "joins", func() bool { return s.Peers("tkv") == 2 })

	_ = b.Post(broadcast.Invalidate("locale"))
	if msg := receive(t, a); msg.Key != "locale" {
		t.Errorf("Unexpected message %v", msg)
	}
}

func TestConfigString(t *testing.T) {
	config := common.DefaultRelayConfig()
	out := config.String()
	for _, want := range []string{"RELAY", "TCP", "disabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %s", want, out)
		}
	}
}

// recorder collects invalidations as a comma separated list, "*" for all
type recorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *recorder) Invalidate(key string) {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
}

func (r *recorder) InvalidateAll() {
	r.Invalidate("*")
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.keys, ",")
}

package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("relay")

// ErrServerClosed is returned by Serve and Listen after Close
var ErrServerClosed = errors.New("relay: server closed")

// maxChannelName bounds the payload of a join frame
const maxChannelName = 256

// Server forwards broadcast messages between processes. Every connection
// joins one named channel with its first frame; every message frame it sends
// afterwards is written verbatim to all other members of that channel.
//
// Usage:
//
//	s := relay.NewServer(config, tcp.NewConnector())
//	if err := s.Listen(); err != nil {
//		panic(err)
//	}
type Server struct {
	config    common.RelayConfig
	connector transport.Connector

	mu       sync.Mutex
	listener net.Listener
	closed   atomic.Bool
	wg       sync.WaitGroup

	rooms *xsync.MapOf[string, *room]
	peers *xsync.MapOf[string, *peer]

	set       *metrics.Set
	forwarded *metrics.Counter
	dropped   *metrics.Counter
	rejected  *metrics.Counter
}

// room is the set of peers joined to one channel
type room struct {
	peers *xsync.MapOf[string, *peer]
}

// peer is one client connection
type peer struct {
	id      string
	channel string
	conn    net.Conn
	writeMu sync.Mutex
	gone    atomic.Bool
}

// NewServer creates a relay server
func NewServer(config common.RelayConfig, connector transport.Connector) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &Server{
		config:    config,
		connector: connector,
		rooms:     xsync.NewMapOf[string, *room](),
		peers:     xsync.NewMapOf[string, *peer](),
		set:       metrics.NewSet(),
	}

	s.forwarded = s.set.NewCounter("tkv_relay_forwarded_total")
	s.dropped = s.set.NewCounter("tkv_relay_dropped_peers_total")
	s.rejected = s.set.NewCounter("tkv_relay_rejected_connections_total")
	s.set.NewGauge("tkv_relay_peers", func() float64 {
		return float64(s.peers.Size())
	})
	s.set.NewGauge("tkv_relay_channels", func() float64 {
		return float64(s.rooms.Size())
	})

	return s
}

// Listen creates the listener through the connector and serves it
func (s *Server) Listen() error {
	listener, err := s.connector.Listen(s.config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Close is called
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	Logger.Infof("Starting %s relay on %s", s.connector.Name(), listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				Logger.Warningf("Accept error: %v", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Addr returns the listener address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops the listener, disconnects every peer and waits for their handlers
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Unlock()

	s.peers.Range(func(_ string, p *peer) bool {
		_ = p.conn.Close()
		return true
	})
	s.wg.Wait()

	Logger.Infof("relay stopped")
	return err
}

// Peers returns the number of joined peers of channel
func (s *Server) Peers(channel string) int {
	r, ok := s.rooms.Load(channel)
	if !ok {
		return 0
	}
	return r.peers.Size()
}

// WritePrometheus writes the relay metrics in Prometheus text format
func (s *Server) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Connection handling
// --------------------------------------------------------------------------

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	p, err := s.join(conn)
	if err != nil {
		s.rejected.Inc()
		Logger.Warningf("rejected connection from %s: %v", conn.RemoteAddr(), err)
		return
	}
	defer s.leave(p)

	// Close may have run between accept and join
	if s.closed.Load() {
		return
	}

	Logger.Debugf("peer %s joined channel %s", p.id, p.channel)

	for {
		kind, data, err := transport.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() && !p.gone.Load() {
				Logger.Warningf("peer %s: %v", p.id, err)
			}
			return
		}
		if kind != transport.FrameMessage {
			Logger.Warningf("peer %s sent a second %s frame, disconnecting", p.id, kind)
			return
		}
		s.forward(p, data)
	}
}

// join reads the join frame and registers the peer in its room
func (s *Server) join(conn net.Conn) (*peer, error) {
	if timeout := s.config.Timeout(); timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}

	kind, data, err := transport.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	if kind != transport.FrameJoin {
		return nil, fmt.Errorf("expected join frame, got %s", kind)
	}
	if len(data) == 0 || len(data) > maxChannelName {
		return nil, fmt.Errorf("invalid channel name length %d", len(data))
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	p := &peer{
		id:      uuid.NewString(),
		channel: string(data),
		conn:    conn,
	}

	s.peers.Store(p.id, p)
	s.rooms.Compute(p.channel, func(r *room, loaded bool) (*room, bool) {
		if !loaded {
			r = &room{peers: xsync.NewMapOf[string, *peer]()}
		}
		r.peers.Store(p.id, p)
		return r, false
	})

	return p, nil
}

// leave removes the peer and drops its room once empty
func (s *Server) leave(p *peer) {
	s.peers.Delete(p.id)
	s.rooms.Compute(p.channel, func(r *room, loaded bool) (*room, bool) {
		if !loaded {
			return nil, true
		}
		r.peers.Delete(p.id)
		return r, r.peers.Size() == 0
	})
	Logger.Debugf("peer %s left channel %s", p.id, p.channel)
}

// forward writes data to every other peer of the sender's channel
func (s *Server) forward(from *peer, data []byte) {
	r, ok := s.rooms.Load(from.channel)
	if !ok {
		return
	}

	r.peers.Range(func(id string, to *peer) bool {
		if id == from.id {
			return true
		}
		if err := s.write(to, data); err != nil {
			s.drop(to, err)
			return true
		}
		s.forwarded.Inc()
		return true
	})
}

// write sends one message frame to p, bounded by the configured timeout
func (s *Server) write(p *peer, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if timeout := s.config.Timeout(); timeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return transport.WriteFrame(p.conn, transport.FrameMessage, data)
}

// drop disconnects a peer that could not be written to. Its read loop ends
// and removes it from the room.
func (s *Server) drop(p *peer, cause error) {
	if !p.gone.CompareAndSwap(false, true) {
		return
	}
	s.dropped.Inc()
	Logger.Warningf("dropping peer %s of channel %s: %v", p.id, p.channel, cause)
	_ = p.conn.Close()
}

package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/transport"
)

// connector implements transport.Connector for TCP sockets
type connector struct{}

// NewConnector creates a TCP connector
func NewConnector() transport.Connector {
	return &connector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.Connector)
// --------------------------------------------------------------------------

func (c *connector) Name() string {
	return "tcp"
}

func (c *connector) Listen(config common.RelayConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}
	return &listenerWithOptions{Listener: listener, conf: config.TCPConf}, nil
}

func (c *connector) Dial(ctx context.Context, config common.RelayConfig) (net.Conn, error) {
	d := net.Dialer{Timeout: config.Timeout()}
	conn, err := d.DialContext(ctx, "tcp", config.Endpoint)
	if err != nil {
		return nil, err
	}
	if err := upgradeConnection(conn, config.TCPConf); err != nil {
		transport.Logger.Warningf("could not apply tcp options to %s: %v", conn.RemoteAddr(), err)
	}
	return conn, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// listenerWithOptions applies the socket options to every accepted connection
type listenerWithOptions struct {
	net.Listener
	conf common.TCPConf
}

func (l *listenerWithOptions) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if err := upgradeConnection(conn, l.conf); err != nil {
		transport.Logger.Warningf("could not apply tcp options to %s: %v", conn.RemoteAddr(), err)
	}
	return conn, nil
}

// upgradeConnection applies the TCPConf options to a TCP connection
func upgradeConnection(conn net.Conn, conf common.TCPConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm if configured, messages are tiny
	if err := tcpConn.SetNoDelay(conf.TCPNoDelay); err != nil {
		return err
	}

	if conf.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(conf.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	if conf.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(conf.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

package unix

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/transport"
)

// connector implements transport.Connector for Unix sockets
type connector struct{}

// NewConnector creates a Unix socket connector
func NewConnector() transport.Connector {
	return &connector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.Connector)
// --------------------------------------------------------------------------

func (c *connector) Name() string {
	return "unix"
}

func (c *connector) Listen(config common.RelayConfig) (net.Listener, error) {
	socketPath := config.Endpoint

	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %v", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %v", err)
	}

	return listener, nil
}

func (c *connector) Dial(ctx context.Context, config common.RelayConfig) (net.Conn, error) {
	d := net.Dialer{Timeout: config.Timeout()}
	return d.DialContext(ctx, "unix", config.Endpoint)
}

package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// Connector creates the stream connections the relay runs on. Implementations
// differ only in how sockets are created; framing is shared.
type Connector interface {
	// Name returns the name of the transport type (e.g., "unix", "tcp")
	Name() string
	// Listen creates a listener on config.Endpoint
	Listen(config common.RelayConfig) (net.Listener, error)
	// Dial connects to config.Endpoint
	Dial(ctx context.Context, config common.RelayConfig) (net.Conn, error)
}

package common

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Relay configuration struct
// --------------------------------------------------------------------------

// TCPConf holds socket options applied to tcp connections
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// RelayConfig configures the relay server and the clients dialing it
type RelayConfig struct {
	// Endpoint is the listen or dial address (host:port or socket path)
	Endpoint string
	// Transport is the name of the connector (tcp, unix)
	Transport string
	// TimeoutSecond bounds dials and single frame writes, 0 disables it
	TimeoutSecond int64
	// MetricsEndpoint serves /metrics if set (server only)
	MetricsEndpoint string
	// Serializer is the message encoding shared by all clients (json, gob, binary)
	Serializer string
	// LogLevel of all tkv loggers
	LogLevel string

	TCPConf TCPConf
}

// DefaultRelayConfig returns the default relay configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Endpoint:      "localhost:7411",
		Transport:     "tcp",
		TimeoutSecond: 5,
		Serializer:    "binary",
		LogLevel:      "info",
		TCPConf: TCPConf{
			TCPNoDelay:   true,
			TCPLingerSec: -1,
		},
	}
}

// Timeout returns TimeoutSecond as a duration
func (c *RelayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the configuration
func (c *RelayConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Relay")
	addField("Endpoint", c.Endpoint)
	addField("Transport", c.Transport)
	addField("Serializer", c.Serializer)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	if c.Transport == "tcp" {
		addSection("TCP")
		addField("No Delay", fmt.Sprintf("%t", c.TCPConf.TCPNoDelay))
		addField("Keep Alive", fmt.Sprintf("%d sec", c.TCPConf.TCPKeepAliveSec))
		addField("Linger", fmt.Sprintf("%d sec", c.TCPConf.TCPLingerSec))
	}

	addSection("Observability")
	metricsEndpoint := c.MetricsEndpoint
	if metricsEndpoint == "" {
		metricsEndpoint = "disabled"
	}
	addField("Metrics Endpoint", metricsEndpoint)
	addField("Log Level", c.LogLevel)

	return sb.String()
}

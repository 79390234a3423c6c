package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/serializer"
	"github.com/ValentinKolb/tkv/rpc/transport"
	"github.com/ValentinKolb/tkv/rpc/transport/tcp"
	"github.com/ValentinKolb/tkv/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupRelayFlags adds the flags shared by the relay server and its clients
func SetupRelayFlags(cmd *cobra.Command, endpointFlag, endpointDefault, endpointHelp string) {
	cmd.PersistentFlags().String(endpointFlag, endpointDefault, WrapString(endpointHelp))

	key := "timeout"
	cmd.PersistentFlags().Int64(key, 5, WrapString("Timeout in seconds for dialing the relay and for writing a single message (0 disables it)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval in seconds (only for tcp, 0 disables it)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time in seconds (only for tcp, negative keeps the OS default)"))
}

// InitConfig loads .env files and makes viper read TKV_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("tkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetRelayConfig reads the relay configuration from viper
func GetRelayConfig(endpointFlag string) common.RelayConfig {
	return common.RelayConfig{
		Endpoint:        viper.GetString(endpointFlag),
		Transport:       viper.GetString("transport"),
		TimeoutSecond:   viper.GetInt64("timeout"),
		MetricsEndpoint: viper.GetString("metrics-endpoint"),
		Serializer:      viper.GetString("serializer"),
		LogLevel:        viper.GetString("log-level"),
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
		},
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IMessageSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetConnector creates the transport connector based on configuration
func GetConnector() (transport.Connector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewConnector(), nil
	case "unix":
		return unix.NewConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// InitLoggers sets up the loggers with the configured level
func InitLoggers() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

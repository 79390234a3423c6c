package relay

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/tkv/cmd/util"
	"github.com/ValentinKolb/tkv/rpc/relay"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// RelayCmd starts a relay server
	RelayCmd = &cobra.Command{
		Use:   "relay",
		Short: "Start a relay that connects tKV engines of different processes",
		Long: `Start a relay. Engines started with --relay-endpoint join a channel on the
relay and receive the invalidations of every other engine on that channel.
The configuration can be set via command line flags or environment variables
in the format TKV_<flag> (e.g. TKV_METRICS_ENDPOINT=:9100)`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmdUtil.BindCommandFlags(cmd)
		},
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupRelayFlags(RelayCmd, "endpoint", "0.0.0.0:7411", "The address on which the relay will listen (e.g. localhost:7411, /tmp/tkv.sock, ...)")

	key := "metrics-endpoint"
	RelayCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address on which /metrics is served in Prometheus format (e.g. :9100, empty disables it)"))
}

// run starts the relay and blocks until it is stopped by a signal
func run(_ *cobra.Command, _ []string) error {
	if err := cmdUtil.InitLoggers(); err != nil {
		return err
	}

	config := cmdUtil.GetRelayConfig("endpoint")

	connector, err := cmdUtil.GetConnector()
	if err != nil {
		return err
	}

	server := relay.NewServer(config, connector)
	relay.Logger.Infof("relay configuration:%s", config.String())

	if config.MetricsEndpoint != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			server.WritePrometheus(w)
			metrics.WriteProcessMetrics(w)
		})
		go func() {
			relay.Logger.Infof("serving metrics on %s/metrics", config.MetricsEndpoint)
			if err := http.ListenAndServe(config.MetricsEndpoint, mux); err != nil {
				relay.Logger.Errorf("metrics endpoint stopped: %v", err)
			}
		}()
	}

	// stop on interrupt
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		relay.Logger.Infof("received %s, shutting down", sig)
		_ = server.Close()
	}()

	fmt.Printf("relay listening on %s (%s, %s)\n", config.Endpoint, connector.Name(), viper.GetString("serializer"))

	if err := server.Listen(); err != nil && !errors.Is(err, relay.ErrServerClosed) {
		return err
	}
	return nil
}

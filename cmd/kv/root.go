package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/tkv/cmd/util"
	"github.com/ValentinKolb/tkv/lib/broadcast"
	"github.com/ValentinKolb/tkv/lib/bulk"
	"github.com/ValentinKolb/tkv/lib/bulk/drivers/bolt"
	"github.com/ValentinKolb/tkv/lib/bulk/drivers/sqlite"
	"github.com/ValentinKolb/tkv/lib/fast"
	"github.com/ValentinKolb/tkv/lib/store/tstore"
	"github.com/ValentinKolb/tkv/rpc/relay"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	engine  *tstore.Engine
	factory *bulk.Factory

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value operations on a local engine",
		PersistentPreRunE:  setupEngine,
		PersistentPostRunE: shutdownEngine,
	}
)

func init() {
	key := "data-dir"
	KeyValueCommands.PersistentFlags().String(key, ".tkv", util.WrapString("Directory of the fast tier snapshot and the bulk tier database"))

	key = "bulk-driver"
	KeyValueCommands.PersistentFlags().String(key, "bolt", util.WrapString("Database driver of the bulk tier (bolt, sqlite)"))

	key = "fast-quota"
	KeyValueCommands.PersistentFlags().Int(key, 5*1024*1024, util.WrapString("Byte budget of the fast tier (0 = unlimited)"))

	key = "channel"
	KeyValueCommands.PersistentFlags().String(key, "tkv", util.WrapString("Name of the broadcast channel shared by coherent engines"))

	key = "cache-ttl"
	KeyValueCommands.PersistentFlags().Duration(key, 5*time.Second, util.WrapString("How long a cached value is trusted"))

	key = "strict-writes"
	KeyValueCommands.PersistentFlags().Bool(key, false, util.WrapString("Fail writes that no tier accepted instead of only logging them"))

	util.SetupRelayFlags(KeyValueCommands, "relay-endpoint", "", "Address of a relay to join (empty runs without cross-process coherence)")

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(keysCmd)
	KeyValueCommands.AddCommand(clearCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// getDriver returns the configured bulk tier driver
func getDriver() (bulk.Driver, error) {
	switch viper.GetString("bulk-driver") {
	case "bolt":
		return bolt.New(), nil
	case "sqlite":
		return sqlite.New(), nil
	default:
		return nil, fmt.Errorf("invalid bulk driver %s", viper.GetString("bulk-driver"))
	}
}

// setupEngine opens both tiers and creates the engine
func setupEngine(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLoggers(); err != nil {
		return err
	}

	dataDir := viper.GetString("data-dir")

	driver, err := getDriver()
	if err != nil {
		return err
	}

	fastOpts := fast.DefaultOptions()
	fastOpts.QuotaBytes = viper.GetInt("fast-quota")
	fastOpts.SnapshotPath = filepath.Join(dataDir, "fast.snapshot")
	fastTier, err := fast.Open(fastOpts)
	if err != nil {
		return err
	}

	factory = bulk.NewFactory(dataDir, driver)
	bulkTier := bulk.NewAdapter(factory, nil)

	var opener broadcast.Opener
	if endpoint := viper.GetString("relay-endpoint"); endpoint != "" {
		config := util.GetRelayConfig("relay-endpoint")
		connector, err := util.GetConnector()
		if err != nil {
			return err
		}
		s, err := util.GetSerializer()
		if err != nil {
			return err
		}
		opener = relay.Opener(config, connector, s)
	}

	cfg := tstore.DefaultConfig()
	cfg.Name = viper.GetString("channel")
	cfg.CacheTTL = viper.GetDuration("cache-ttl")
	cfg.StrictWrites = viper.GetBool("strict-writes")

	engine = tstore.New(cfg, fastTier, bulkTier, opener)
	return engine.Init(cmd.Context())
}

// shutdownEngine closes the engine, which writes the fast tier snapshot
func shutdownEngine(cmd *cobra.Command, _ []string) error {
	if engine == nil {
		return nil
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return errors.Join(engine.Shutdown(ctx), factory.Close())
}

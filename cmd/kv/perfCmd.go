package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/cmd/util"
	"github.com/ValentinKolb/tkv/lib/tier"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the local engine",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 6 * 1024
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// perfCase is one benchmark of the perf command
type perfCase struct {
	name string
	// long keys are routed to the bulk tier when their values are large
	longKeys bool
	prepare  func(ctx context.Context, key string) error
	op       func(ctx context.Context, key string) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 6*1024, util.WrapString("How large the value for the bulk tier tests should be (in KB). Only values of at least 5 MiB under long keys are written to the bulk tier"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for the local engine")

	// Print configuration
	cfg := engine.Config()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Print(cfg.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	small := map[string]string{"theme": "dark", "fontSize": "14"}
	large := strings.Repeat("x", perfLargeValueSizeKB*1024)

	set := func(v any) func(ctx context.Context, key string) error {
		return func(ctx context.Context, key string) error {
			return engine.Set(ctx, key, v)
		}
	}
	get := func(ctx context.Context, key string) error {
		_, _, err := engine.Get(ctx, key)
		return err
	}

	cases := []perfCase{
		{name: "set", op: set(small)},
		{name: "set-large", longKeys: true, op: set(large)},
		{name: "get", prepare: set(small), op: get},
		{name: "get-large", longKeys: true, prepare: set(large), op: get},
		{name: "delete", prepare: set(small), op: engine.Delete},
	}

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	for _, c := range cases {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(c.name) {
				return
			}

			getKey, iter := getKeys(c.name, c.longKeys)

			if c.prepare != nil {
				iter(func(k string) {
					if err := c.prepare(ctx, k); err != nil {
						log.Printf("(%s) - error preparing key: %v\n", c.name, err)
					}
				})
			}

			// cleanup
			b.Cleanup(func() {
				iter(func(k string) {
					if err := engine.Delete(ctx, k); err != nil {
						log.Printf("(%s) - error deleting key: %v\n", c.name, err)
					}
				})
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := c.op(ctx, getKey(counter)); err != nil {
						log.Printf("(%s) - error: %v\n", c.name, err)
					}
					counter++
				}
			})
		})

		results[c.name] = result
		printResult(c.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string, long bool) (func(int) string, func(func(string))) {
	padding := ""
	if long {
		padding = strings.Repeat("_", tier.DefaultMaxKeyLength)
	}

	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s%s-%d", perfKeyPrefix, prefix, padding, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	cfg := engine.Config()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"BulkDriver", "CacheTTL", "RelayEndpoint", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			viper.GetString("bulk-driver"),
			cfg.CacheTTL.String(),
			viper.GetString("relay-endpoint"),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}

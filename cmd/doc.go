// Package cmd implements the command-line interface of tKV.
//
// The package is organized into several subpackages:
//
//   - kv: Operations on a local engine (get, set, del, keys, clear, info, perf)
//   - relay: Runs the relay that connects engines of different processes
//   - util: Shared utilities for flags and configuration (internal use)
//
// Every flag can also be set through the environment as TKV_<FLAG> with dashes
// replaced by underscores (e.g. TKV_DATA_DIR=/var/lib/tkv). .env and .env.local
// in the working directory are loaded first.
//
// See tkv --help for a list of all commands.
package cmd

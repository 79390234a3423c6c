// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - RunKVDBTests: a conformance suite covering copy semantics, prefix listing,
//     byte accounting, quota enforcement, snapshots and concurrent access
//   - RunKVDBBenchmarks: throughput measurements for the common operations
//
// Example usage:
//
//	factory := func(quotaBytes int) db.KVDB {
//		return NewMyDatabase(quotaBytes)
//	}
//
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
//	dbtesting.RunKVDBBenchmarks(b, "MyDatabase", factory)
package testing

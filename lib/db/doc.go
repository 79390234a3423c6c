// Package db defines the physical key-value store that backs the fast tier of
// the tKV storage engine.
//
// The fast tier is small, synchronous and always available, like a browser's
// localStorage: every call returns immediately and the whole content fits in
// memory. Durability comes from snapshots (Save/Load) that the fast tier
// adapter writes in the background.
//
// Key Components:
//
//   - KVDB Interface: Set, Get, Has, Delete, Keys(prefix), size accounting,
//     snapshot persistence and feature discovery.
//
//   - Quota: implementations that advertise FeatureQuota reject writes that
//     would exceed their byte budget with ErrQuotaExceeded. The budget counts
//     len(key)+len(value) of every entry, which is how browsers account
//     localStorage.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     advertise through SupportsFeature.
//
//   - Database Information: DatabaseInfo reports entry count, accounted size,
//     quota and implementation specific metadata. Sizes reported in the
//     metadata may be estimates.
//
// Related Packages:
//
// The engines/maple package (github.com/ValentinKolb/tkv/lib/db/engines/maple)
// is the sharded in-memory implementation used by the engine.
//
// The testing package (github.com/ValentinKolb/tkv/lib/db/testing) provides a
// conformance suite (RunKVDBTests) and benchmarks (RunKVDBBenchmarks) for any
// KVDB implementation.
package db

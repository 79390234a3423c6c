// Package util provides the small building blocks shared by the tKV storage
// engine components.
//
// The package contains:
//   - functions: seeded FNV-1a string hashing and seed generation (used for shard selection)
//   - mapheap: a priority queue with key-based access, used by the read cache for
//     least-recently-used eviction
//   - lockfreempsc: a lock-free multi-producer single-consumer queue, used as the
//     mailbox of broadcast channel members and as the lifecycle event queue of
//     bulk tier connections
//   - statistics: a size histogram and distribution statistics used to report
//     on the fast tier store without full scans
//
// None of the components depend on other tKV packages.
package util

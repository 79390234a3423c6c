// Package maple implements the sharded in-memory key-value database behind the
// fast tier. It provides a complete implementation of the db.KVDB interface.
//
// Key Components:
//
//   - mapleImpl: The central structure implementing db.KVDB. It owns the shards,
//     the hash seed and the byte accounting.
//
//   - Shard: A partition of the key space backed by an xsync.MapOf. Keys are
//     assigned to shards by hashing them with a database specific seed and
//     using the higher bits of the result.
//
//   - Entry: The stored value. The key is the map key of the shard.
//
// Quota:
//
// Every entry counts len(key)+len(value) bytes. Writes reserve the size
// difference to the previous value with a CompareAndSwap loop on the shared
// counter while the per-key lock of the shard map is held, so concurrent writers
// on different keys can never push the total above the quota. A rejected write
// returns db.ErrQuotaExceeded and leaves the previous value in place.
//
// Persistence Format:
//
//  1. Magic number "TKVFAST\x00"
//  2. Version number (currently 1)
//  3. Seed of the hash function
//  4. Number of entries
//  5. For each entry: key length, key, value length, value
//
// Save copies entries shard by shard without blocking writers, so the snapshot
// is not a consistent cut under concurrent writes. Load builds new shards and
// swaps them in at once.
package maple

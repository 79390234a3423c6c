// Package tstore implements store.IStore on top of two storage tiers.
//
// An Engine routes every key to the fast tier (small, synchronous, always
// available) or the bulk tier (large, connection oriented). Reads go through
// a read cache with a fixed TTL and fall back to the other tier when the
// chosen one fails or misses. Writes update the cache first and fall back to
// the other tier when the chosen one rejects them.
//
// Engines that share a broadcast channel name invalidate each other's caches:
// every write posts an update message, every delete and clear an invalidate
// message. Without a channel the staleness of a cached value is bounded by
// the TTL alone.
//
// Tier failures are logged and absorbed. Get returns an error only when both
// tiers failed; Set, Delete and Clear return errors only with StrictWrites.
// Every error returned by an Engine is a *store.Error.
//
// Lifecycle:
//
//	e := tstore.New(tstore.DefaultConfig(), fastTier, bulkTier, hub.Opener())
//	if err := e.Init(ctx); err != nil { ... }
//	defer e.Shutdown(ctx)
package tstore

// Package cache is the in-process read cache of the storage engine.
//
// Entries carry the time they were cached. The cache itself never expires
// anything; the engine compares entry age against its TTL with Fresh and
// treats stale entries as misses. Size is bounded by evicting the least
// recently used key, tracked in a util.MapHeap keyed by access order.
package cache

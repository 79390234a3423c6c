// Package store defines the public contract of the tKV storage engine.
//
// Key Components:
//
//   - IStore Interface: get/set/delete/keys/clear over JSON values. Callers
//     never see tiers, caches or coherence messages.
//
//   - GetAs / SetAs: typed helpers that decode and encode values with
//     encoding/json.
//
//   - Error System: a structured error with a RetCode and a message. Errors
//     wrap the underlying sentinel, so errors.Is keeps working across the
//     public boundary.
//
// Implementations:
//
//	The tstore package (github.com/ValentinKolb/tkv/lib/store/tstore) is the
//	dual-tier engine: a fast tier for small config values, a bulk tier for
//	large values, an in-process read cache and a coherence broadcaster that
//	keeps several engine instances in sync.
package store

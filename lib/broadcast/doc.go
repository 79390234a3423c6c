// Package broadcast keeps the read caches of several engine instances
// coherent by passing messages over a named channel.
//
// A Channel is one membership in a named channel. The Hub provides channels
// between engines of one process; rpc/relay provides them across processes.
// Messages are {"type": "invalidate"|"update", "key": ...}. Delivery is
// best-effort and ordered per sender; a sender never receives its own
// messages.
//
// The Broadcaster applies inbound messages to an Invalidator (the engine's
// read cache): invalidate drops the key, or every key when none is given, and
// update drops the key so the next read goes to the tier again. A message the
// channel rejects is dropped and counted; only losing the channel degrades the
// broadcaster.
package broadcast

// Package bulk implements the bulk tier: a larger, connection based and
// versioned store modelled after a browser's IndexedDB.
//
// Key Components:
//
//   - Driver / Database: the physical database made of named object stores.
//     Implementations live in drivers/bolt (go.etcd.io/bbolt) and
//     drivers/sqlite (modernc.org/sqlite). The testing package holds the
//     conformance suite both pass.
//
//   - Factory: hands out connections to named databases and manages schema
//     versions. Opening a database at a higher version first sends
//     EventVersionChange to every open connection of that database and detaches
//     it. CloseDatabase closes a database from the outside with EventClose.
//
//   - Conn: a connection with an event queue. Events are delivered through a
//     lock-free MPSC queue; after an event every operation fails with
//     ErrConnClosed.
//
//   - Adapter: the tier.Adapter of the bulk tier. It owns a single connection
//     and moves through the states
//
//     Uninitialized -> Opening -> Ready -> (event or backend error) -> Uninitialized
//
//     Concurrent callers arriving while the connection is being opened share one
//     open attempt. A failed open returns the error to all of them and leaves the
//     adapter Uninitialized; there is no retry loop. When an event takes the
//     connection away, the registered ResetHandler runs so the owner can drop
//     cached state. Close moves the adapter to Closed for good.
//
// Records are StorageItems encoded as JSON {"key", "value", "timestamp"}, one per
// key, the timestamp being the unix milliseconds of the last write.
package bulk

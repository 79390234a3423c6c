// Package fast implements the fast tier: a synchronous, size limited and
// namespaced key-value store holding JSON text, modelled after a browser's
// localStorage.
//
// Every key is stored under Prefix+key in a maple database, so unrelated data
// in the same physical store is never listed or cleared. Values are validated
// as JSON on write and on read. Quota and serialization errors are logged with
// the key and returned as errors; the adapter never panics.
//
// With a snapshot path the content survives restarts: Open loads the snapshot
// and a background goroutine writes it whenever the store changed.
package fast

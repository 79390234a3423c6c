package bulk

import (
	"context"
	"errors"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrVersion is returned when a database is opened with a version lower
	// than the stored one, or with version 0.
	ErrVersion = errors.New("bulk: requested version is lower than the stored version")
	// ErrNoStore is returned by drivers when an object store does not exist.
	ErrNoStore = errors.New("bulk: object store not found")
	// ErrConnClosed is returned by a connection after it received an event or was closed.
	ErrConnClosed = errors.New("bulk: connection closed")
	// ErrFactoryClosed is returned by Open after the factory was closed.
	ErrFactoryClosed = errors.New("bulk: factory closed")
	// ErrAdapterClosed is returned by every adapter method after Close.
	ErrAdapterClosed = errors.New("bulk: adapter closed")
)

// --------------------------------------------------------------------------
// Driver Interface
// --------------------------------------------------------------------------

// Driver opens physical databases.
type Driver interface {
	// Name identifies the driver. It is used as the file extension.
	Name() string

	// Open opens or creates the physical database at path.
	Open(ctx context.Context, path string) (Database, error)
}

// Database is a physical versioned database made of named object stores.
// Every store maps string keys to opaque records. Implementations must be
// safe for concurrent use.
type Database interface {
	// Version returns the stored schema version, 0 for a new database.
	Version(ctx context.Context) (uint64, error)

	// Upgrade creates the missing stores and records version, atomically.
	Upgrade(ctx context.Context, version uint64, stores []string) error

	// HasStore reports whether the object store exists.
	HasStore(ctx context.Context, store string) (bool, error)

	// Get returns the record for key. A missing key is not an error.
	Get(ctx context.Context, store, key string) (record []byte, loaded bool, err error)

	// Put inserts or replaces the record for key.
	Put(ctx context.Context, store, key string, record []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, store, key string) error

	// Keys returns all keys of the store in ascending order.
	Keys(ctx context.Context, store string) ([]string, error)

	// Clear removes every record of the store. The store itself remains.
	Clear(ctx context.Context, store string) error

	// Close releases the database.
	Close() error
}

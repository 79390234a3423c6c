package bulk

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/tkv/lib/util"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// EventType tells why a connection was closed by its factory
type EventType int

const (
	// EventClose means the database was closed from the outside.
	EventClose EventType = iota + 1
	// EventVersionChange means another party upgrades the schema.
	EventVersionChange
)

func (t EventType) String() string {
	switch t {
	case EventClose:
		return "close"
	case EventVersionChange:
		return "versionchange"
	default:
		return "unknown"
	}
}

// Event is delivered on Conn.Events when the factory takes a connection away.
type Event struct {
	Type       EventType
	Name       string
	OldVersion uint64
	NewVersion uint64
}

func (e *Event) String() string {
	if e.Type == EventVersionChange {
		return fmt.Sprintf("%s(%s %d->%d)", e.Type, e.Name, e.OldVersion, e.NewVersion)
	}
	return fmt.Sprintf("%s(%s)", e.Type, e.Name)
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// Conn is a handle to a database opened through a Factory. After an event was
// delivered or Close was called, every operation returns ErrConnClosed.
type Conn struct {
	id      string
	version uint64
	factory *Factory
	shared  *sharedDB

	closed atomic.Bool
	events *util.LockFreeMPSC[Event]
}

func newConn(f *Factory, shared *sharedDB, version uint64) *Conn {
	return &Conn{
		id:      uuid.NewString(),
		version: version,
		factory: f,
		shared:  shared,
		events:  util.NewLockFreeMPSC[Event](),
	}
}

// ID returns the unique id of the connection.
func (c *Conn) ID() string { return c.id }

// Name returns the database name.
func (c *Conn) Name() string { return c.shared.name }

// Version returns the version the connection was opened with.
func (c *Conn) Version() uint64 { return c.version }

// Events returns the event channel. It is closed after the connection is closed,
// once the pending event (if any) was received. At most one event is delivered.
func (c *Conn) Events() <-chan *Event {
	return c.events.Recv()
}

// deliver closes the connection because of ev. Called by the factory with its lock held.
func (c *Conn) deliver(ev *Event) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.events.Push(ev)
	c.events.Close()
}

// Close closes the connection. Calling Close more than once is a no-op.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.events.Close()
	return c.factory.closeConn(c)
}

// Closed reports whether the connection can no longer be used.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// HasStore reports whether the object store exists.
func (c *Conn) HasStore(ctx context.Context, store string) (bool, error) {
	if c.closed.Load() {
		return false, ErrConnClosed
	}
	return c.shared.db.HasStore(ctx, store)
}

// Get returns the record stored under key.
func (c *Conn) Get(ctx context.Context, store, key string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrConnClosed
	}
	return c.shared.db.Get(ctx, store, key)
}

// Put inserts or replaces the record stored under key.
func (c *Conn) Put(ctx context.Context, store, key string, record []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.shared.db.Put(ctx, store, key, record)
}

// Delete removes key from the store.
func (c *Conn) Delete(ctx context.Context, store, key string) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.shared.db.Delete(ctx, store, key)
}

// Keys returns all keys of the store.
func (c *Conn) Keys(ctx context.Context, store string) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	return c.shared.db.Keys(ctx, store)
}

// Clear removes all records of the store.
func (c *Conn) Clear(ctx context.Context, store string) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.shared.db.Clear(ctx, store)
}

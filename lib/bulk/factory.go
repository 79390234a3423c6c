package bulk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("bulk")

// --------------------------------------------------------------------------
// Factory
// --------------------------------------------------------------------------

// Factory hands out connections to named databases in one directory. It plays
// the role of the IndexedDB factory of an origin: all connections to a name
// share one physical database, and schema upgrades are announced to every
// open connection before they happen.
type Factory struct {
	dir    string
	driver Driver

	mu     sync.Mutex
	dbs    map[string]*sharedDB
	closed bool
}

// sharedDB is one physical database and its open connections
type sharedDB struct {
	name  string
	db    Database
	conns map[*Conn]struct{}
}

// NewFactory creates a factory storing databases in dir with the given driver.
func NewFactory(dir string, driver Driver) *Factory {
	return &Factory{
		dir:    dir,
		driver: driver,
		dbs:    make(map[string]*sharedDB),
	}
}

// Driver returns the driver of the factory.
func (f *Factory) Driver() Driver {
	return f.driver
}

// Open returns a connection to database name at the given version.
//
//   - version lower than the stored version: ErrVersion
//   - version higher than the stored version: every open connection to name
//     receives EventVersionChange and is detached, then the missing stores
//     are created and the version is recorded
//   - equal versions: plain open
func (f *Factory) Open(ctx context.Context, name string, version uint64, stores []string) (*Conn, error) {
	if version == 0 {
		return nil, fmt.Errorf("%w: version must be at least 1", ErrVersion)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrFactoryClosed
	}

	shared, err := f.physical(ctx, name)
	if err != nil {
		return nil, err
	}

	stored, err := shared.db.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("bulk: read version of %s: %w", name, err)
	}

	switch {
	case version < stored:
		return nil, fmt.Errorf("%w: %s is at version %d, requested %d", ErrVersion, name, stored, version)

	case version > stored:
		if n := len(shared.conns); n > 0 {
			Logger.Infof("upgrading %s from version %d to %d, closing %d connection(s)", name, stored, version, n)
		}
		f.detachAll(shared, &Event{Type: EventVersionChange, Name: name, OldVersion: stored, NewVersion: version})

		if err := shared.db.Upgrade(ctx, version, stores); err != nil {
			return nil, fmt.Errorf("bulk: upgrade %s to version %d: %w", name, version, err)
		}
	}

	conn := newConn(f, shared, version)
	shared.conns[conn] = struct{}{}
	return conn, nil
}

// physical returns the shared database for name, opening it if needed.
// The caller must hold f.mu.
func (f *Factory) physical(ctx context.Context, name string) (*sharedDB, error) {
	if shared, ok := f.dbs[name]; ok {
		return shared, nil
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, fmt.Errorf("bulk: create data dir: %w", err)
	}

	path := filepath.Join(f.dir, name+"."+f.driver.Name())
	database, err := f.driver.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("bulk: open %s: %w", path, err)
	}

	shared := &sharedDB{
		name:  name,
		db:    database,
		conns: make(map[*Conn]struct{}),
	}
	f.dbs[name] = shared
	return shared, nil
}

// detachAll delivers ev to every connection of shared and forgets them.
// The caller must hold f.mu.
func (f *Factory) detachAll(shared *sharedDB, ev *Event) {
	for conn := range shared.conns {
		e := *ev
		conn.deliver(&e)
		delete(shared.conns, conn)
	}
}

// release closes the physical database if it has no connections left.
// The caller must hold f.mu.
func (f *Factory) release(shared *sharedDB) error {
	if len(shared.conns) > 0 || f.dbs[shared.name] != shared {
		return nil
	}
	delete(f.dbs, shared.name)
	return shared.db.Close()
}

// SignalVersionChange fires EventVersionChange on every connection to name
// without changing the schema, as an external schema tool would.
func (f *Factory) SignalVersionChange(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	shared, ok := f.dbs[name]
	if !ok {
		return nil
	}

	stored, err := shared.db.Version(context.Background())
	if err != nil {
		return fmt.Errorf("bulk: read version of %s: %w", name, err)
	}

	f.detachAll(shared, &Event{Type: EventVersionChange, Name: name, OldVersion: stored, NewVersion: stored})
	return f.release(shared)
}

// CloseDatabase closes database name from the outside: every connection
// receives EventClose, then the physical database is closed.
func (f *Factory) CloseDatabase(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	shared, ok := f.dbs[name]
	if !ok {
		return nil
	}

	f.detachAll(shared, &Event{Type: EventClose, Name: name})
	return f.release(shared)
}

// Close closes every database. Later calls to Open return ErrFactoryClosed.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for _, shared := range f.dbs {
		f.detachAll(shared, &Event{Type: EventClose, Name: shared.name})
		if err := f.release(shared); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// closeConn forgets conn and closes the physical database when it was the last one.
func (f *Factory) closeConn(conn *Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := conn.shared.conns[conn]; !ok {
		return nil
	}
	delete(conn.shared.conns, conn)
	return f.release(conn.shared)
}

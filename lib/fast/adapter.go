package fast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/tkv/lib/db"
	"github.com/ValentinKolb/tkv/lib/db/engines/maple"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("fast")

// ErrSerialization is returned when a value is not valid JSON text.
var ErrSerialization = errors.New("fast: value is not valid JSON")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the fast tier adapter
type Options struct {
	Prefix        string        // Namespace prefix of every physical key
	QuotaBytes    int           // Byte budget of the physical store (0 = unlimited)
	NumShards     int           // Shards of the physical store (0 = number of CPUs)
	SnapshotPath  string        // Snapshot file, empty disables persistence
	FlushInterval time.Duration // How often a dirty store is written to the snapshot
}

// DefaultOptions returns the default fast tier options. Persistence is disabled.
func DefaultOptions() *Options {
	return &Options{
		Prefix:        "tkv:",
		QuotaBytes:    maple.DefaultQuotaBytes,
		FlushInterval: time.Second,
	}
}

// --------------------------------------------------------------------------
// Adapter
// --------------------------------------------------------------------------

// Adapter is the synchronous fast tier. It never blocks on I/O: the snapshot is
// written by a background goroutine. All methods are safe for concurrent use.
type Adapter struct {
	database     db.KVDB
	prefix       string
	snapshotPath string

	dirty  atomic.Bool
	closed atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup
	saveMu sync.Mutex
}

// Open creates a fast tier adapter with its own physical store. If a snapshot
// exists at opts.SnapshotPath it is loaded. An unreadable snapshot is logged
// and the adapter starts empty.
func Open(opts *Options) (*Adapter, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	database := maple.NewMapleDB(&maple.DBOptions{
		NumShards:  opts.NumShards,
		QuotaBytes: opts.QuotaBytes,
	})

	a := NewWithDB(database, opts.Prefix)
	a.snapshotPath = opts.SnapshotPath

	if a.snapshotPath == "" {
		return a, nil
	}

	if err := os.MkdirAll(filepath.Dir(a.snapshotPath), 0o755); err != nil {
		return nil, fmt.Errorf("fast: create snapshot dir: %w", err)
	}

	if f, err := os.Open(a.snapshotPath); err == nil {
		if err := database.Load(f); err != nil {
			Logger.Warningf("ignoring unreadable snapshot %s: %v", a.snapshotPath, err)
		} else {
			Logger.Debugf("loaded %d entries from %s", database.Len(), a.snapshotPath)
		}
		_ = f.Close()
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("fast: open snapshot: %w", err)
	}

	interval := opts.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}

	a.wg.Add(1)
	go a.flushLoop(interval)

	return a, nil
}

// NewWithDB creates an adapter over an existing physical store without
// persistence. Several adapters with different prefixes may share one store.
func NewWithDB(database db.KVDB, prefix string) *Adapter {
	return &Adapter{
		database: database,
		prefix:   prefix,
		stop:     make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// tier.Adapter implementation
// --------------------------------------------------------------------------

// Read returns the JSON value stored for key. A stored value that does not
// parse is logged and reported as a miss.
func (a *Adapter) Read(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := a.database.Get(a.prefix + key)
	if !ok {
		return nil, false, nil
	}
	if !json.Valid(value) {
		Logger.Warningf("read %q: stored value is not valid JSON, treating as miss", key)
		return nil, false, nil
	}
	return value, true, nil
}

// Write stores value for key. Invalid JSON and quota errors are logged with the
// key and returned; the previous value stays in place.
func (a *Adapter) Write(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		Logger.Warningf("write %q: %v", key, ErrSerialization)
		return fmt.Errorf("write %q: %w", key, ErrSerialization)
	}
	if err := a.database.Set(a.prefix+key, value); err != nil {
		Logger.Warningf("write %q: %v", key, err)
		return fmt.Errorf("fast: write %q: %w", key, err)
	}
	a.dirty.Store(true)
	return nil
}

// Remove deletes key. Removing a missing key is a no-op.
func (a *Adapter) Remove(_ context.Context, key string) error {
	a.database.Delete(a.prefix + key)
	a.dirty.Store(true)
	return nil
}

// Keys returns all keys under the namespace, without the prefix.
func (a *Adapter) Keys(_ context.Context) ([]string, error) {
	physical := a.database.Keys(a.prefix)
	keys := make([]string, 0, len(physical))
	for _, k := range physical {
		keys = append(keys, strings.TrimPrefix(k, a.prefix))
	}
	return keys, nil
}

// Clear removes all keys under the namespace. Entries outside of it are kept.
func (a *Adapter) Clear(_ context.Context) error {
	for _, k := range a.database.Keys(a.prefix) {
		a.database.Delete(k)
	}
	a.dirty.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

func (a *Adapter) flushLoop(interval time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			if !a.dirty.Load() {
				continue
			}
			if err := a.Flush(); err != nil {
				Logger.Errorf("flush snapshot: %v", err)
			}
		}
	}
}

// Flush writes the snapshot file if persistence is enabled. The file is
// written to a temporary file in the same directory and renamed into place.
func (a *Adapter) Flush() error {
	if a.snapshotPath == "" {
		return nil
	}

	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	// cleared before saving so writes during the save mark it again
	a.dirty.Store(false)

	tmp, err := os.CreateTemp(filepath.Dir(a.snapshotPath), ".fast-*.tmp")
	if err != nil {
		a.dirty.Store(true)
		return fmt.Errorf("fast: create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if err := a.database.Save(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		a.dirty.Store(true)
		return fmt.Errorf("fast: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		a.dirty.Store(true)
		return fmt.Errorf("fast: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		a.dirty.Store(true)
		return fmt.Errorf("fast: close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, a.snapshotPath); err != nil {
		_ = os.Remove(tmpPath)
		a.dirty.Store(true)
		return fmt.Errorf("fast: rename snapshot: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Lifecycle and Info
// --------------------------------------------------------------------------

// Info returns information about the physical store.
func (a *Adapter) Info() db.DatabaseInfo {
	return a.database.GetInfo()
}

// Close stops the flusher, writes a final snapshot and releases the store.
// Calling Close more than once is a no-op.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(a.stop)
	a.wg.Wait()

	var err error
	if a.dirty.Load() {
		err = a.Flush()
	}
	return errors.Join(err, a.database.Close())
}

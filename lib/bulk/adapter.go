package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/singleflight"
)

// --------------------------------------------------------------------------
// Connection State
// --------------------------------------------------------------------------

// State is the lifecycle state of the adapter's connection
type State int

const (
	StateUninitialized State = iota
	StateOpening
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the bulk tier adapter
type Options struct {
	Name          string           // Database name
	Store         string           // Object store holding the items
	SchemaVersion uint64           // Version the adapter opens the database with
	Clock         func() time.Time // Source of item timestamps
}

// DefaultOptions returns the default adapter options
func DefaultOptions() *Options {
	return &Options{
		Name:          "tkv",
		Store:         "kv",
		SchemaVersion: 1,
		Clock:         time.Now,
	}
}

// --------------------------------------------------------------------------
// Adapter
// --------------------------------------------------------------------------

// ResetHandler is called after the connection was taken away by an event.
type ResetHandler func(ev *Event)

// Adapter is the bulk tier. It owns exactly one connection, opened lazily on
// the first operation and shared by all callers. Concurrent callers during the
// open wait for the same attempt.
type Adapter struct {
	factory *Factory
	opts    Options

	mu      sync.Mutex
	state   State
	conn    *Conn
	onReset ResetHandler

	group singleflight.Group

	registry    metrics.Registry
	opens       metrics.Counter
	resets      metrics.Counter
	failures    metrics.Counter
	readTimer   metrics.Timer
	writeTimer  metrics.Timer
	removeTimer metrics.Timer
	keysTimer   metrics.Timer
	clearTimer  metrics.Timer
}

// NewAdapter creates an adapter that opens its database through factory.
// Zero values in opts are replaced by the defaults.
func NewAdapter(factory *Factory, opts *Options) *Adapter {
	o := *DefaultOptions()
	if opts != nil {
		if opts.Name != "" {
			o.Name = opts.Name
		}
		if opts.Store != "" {
			o.Store = opts.Store
		}
		if opts.SchemaVersion != 0 {
			o.SchemaVersion = opts.SchemaVersion
		}
		if opts.Clock != nil {
			o.Clock = opts.Clock
		}
	}

	registry := metrics.NewRegistry()

	return &Adapter{
		factory:     factory,
		opts:        o,
		registry:    registry,
		opens:       metrics.NewRegisteredCounter("bulk.opens", registry),
		resets:      metrics.NewRegisteredCounter("bulk.resets", registry),
		failures:    metrics.NewRegisteredCounter("bulk.failures", registry),
		readTimer:   metrics.NewRegisteredTimer("bulk.read", registry),
		writeTimer:  metrics.NewRegisteredTimer("bulk.write", registry),
		removeTimer: metrics.NewRegisteredTimer("bulk.remove", registry),
		keysTimer:   metrics.NewRegisteredTimer("bulk.keys", registry),
		clearTimer:  metrics.NewRegisteredTimer("bulk.clear", registry),
	}
}

// SetResetHandler registers fn to run whenever a close or versionchange event
// takes the connection away.
func (a *Adapter) SetResetHandler(fn ResetHandler) {
	a.mu.Lock()
	a.onReset = fn
	a.mu.Unlock()
}

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Opens returns how many connections the adapter has opened so far.
func (a *Adapter) Opens() int64 {
	return a.opens.Count()
}

// --------------------------------------------------------------------------
// Connection lifecycle
// --------------------------------------------------------------------------

// connection returns the ready connection or opens one. All callers arriving
// while an open is in flight share its result. A connection closed by an event
// the watcher has not handled yet is replaced right away.
func (a *Adapter) connection(ctx context.Context) (*Conn, error) {
	a.mu.Lock()
	switch a.state {
	case StateClosed:
		a.mu.Unlock()
		return nil, ErrAdapterClosed
	case StateReady:
		if !a.conn.Closed() {
			conn := a.conn
			a.mu.Unlock()
			return conn, nil
		}
		a.conn = nil
	}
	a.state = StateOpening
	a.mu.Unlock()

	// the open outlives callers that give up, the others still wait for it
	openCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan("open", func() (any, error) {
		return a.open(openCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	}
}

func (a *Adapter) open(ctx context.Context) (*Conn, error) {
	// a caller may arrive here right after another open finished
	a.mu.Lock()
	if a.state == StateReady && !a.conn.Closed() {
		conn := a.conn
		a.mu.Unlock()
		return conn, nil
	}
	a.mu.Unlock()

	conn, err := a.factory.Open(ctx, a.opts.Name, a.opts.SchemaVersion, []string{a.opts.Store})

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateClosed {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, ErrAdapterClosed
	}
	if err != nil {
		a.state = StateUninitialized
		Logger.Warningf("open %s failed: %v", a.opts.Name, err)
		return nil, err
	}

	a.conn = conn
	a.state = StateReady
	a.opens.Inc(1)
	Logger.Debugf("opened %s at version %d (conn %s)", a.opts.Name, a.opts.SchemaVersion, conn.ID())

	go a.watch(conn)

	return conn, nil
}

// do runs fn on the current connection. If the connection was taken away by
// an event while fn ran, fn runs once more on a fresh connection. Any other
// failure discards the connection.
func (a *Adapter) do(ctx context.Context, op, key string, fn func(conn *Conn) error) error {
	for attempt := 0; ; attempt++ {
		conn, err := a.connection(ctx)
		if err != nil {
			return err
		}

		err = fn(conn)
		if err == nil {
			return nil
		}
		if conn.Closed() && attempt == 0 && ctx.Err() == nil {
			Logger.Debugf("%s %q: connection %s went away, retrying", op, key, conn.ID())
			continue
		}
		a.discard(conn, op, key, err)
		return err
	}
}

// watch consumes the event queue of conn until it is closed.
func (a *Adapter) watch(conn *Conn) {
	for ev := range conn.Events() {
		a.handleEvent(conn, ev)
	}
}

// handleEvent moves the adapter back to Uninitialized if conn is still the
// current connection. The reset handler runs for every event because data
// read through conn may be stale either way.
func (a *Adapter) handleEvent(conn *Conn, ev *Event) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
		if a.state != StateClosed {
			a.state = StateUninitialized
		}
	}
	handler := a.onReset
	a.mu.Unlock()

	_ = conn.Close()
	a.resets.Inc(1)
	Logger.Infof("connection %s reset by %s", conn.ID(), ev)

	if handler != nil {
		handler(ev)
	}
}

// discard drops conn after a backend error so the next call opens a new one.
func (a *Adapter) discard(conn *Conn, op, key string, cause error) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
		if a.state != StateClosed {
			a.state = StateUninitialized
		}
	}
	a.mu.Unlock()

	_ = conn.Close()
	a.failures.Inc(1)
	Logger.Warningf("%s %q failed, discarding connection %s: %v", op, key, conn.ID(), cause)
}

// Close closes the connection. Every later call returns ErrAdapterClosed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.state == StateClosed {
		a.mu.Unlock()
		return nil
	}
	a.state = StateClosed
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// tier.Adapter implementation
// --------------------------------------------------------------------------

// Read returns the value of the item stored under key.
func (a *Adapter) Read(ctx context.Context, key string) ([]byte, bool, error) {
	defer a.readTimer.UpdateSince(time.Now())

	var (
		record []byte
		ok     bool
	)
	err := a.do(ctx, "read", key, func(conn *Conn) (err error) {
		record, ok, err = conn.Get(ctx, a.opts.Store, key)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("bulk: read %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	item, err := DecodeStorageItem(record)
	if err != nil {
		return nil, false, fmt.Errorf("bulk: read %q: %w", key, err)
	}
	return item.Value, true, nil
}

// Write stores value as a new item for key, replacing any previous item.
func (a *Adapter) Write(ctx context.Context, key string, value []byte) error {
	defer a.writeTimer.UpdateSince(time.Now())

	record, err := NewStorageItem(key, value, a.opts.Clock()).Encode()
	if err != nil {
		return err
	}

	err = a.do(ctx, "write", key, func(conn *Conn) error {
		return conn.Put(ctx, a.opts.Store, key, record)
	})
	if err != nil {
		return fmt.Errorf("bulk: write %q: %w", key, err)
	}
	return nil
}

// Remove deletes the item for key.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	defer a.removeTimer.UpdateSince(time.Now())

	err := a.do(ctx, "remove", key, func(conn *Conn) error {
		return conn.Delete(ctx, a.opts.Store, key)
	})
	if err != nil {
		return fmt.Errorf("bulk: remove %q: %w", key, err)
	}
	return nil
}

// Keys returns the keys of all items.
func (a *Adapter) Keys(ctx context.Context) ([]string, error) {
	defer a.keysTimer.UpdateSince(time.Now())

	var keys []string
	err := a.do(ctx, "keys", "", func(conn *Conn) (err error) {
		keys, err = conn.Keys(ctx, a.opts.Store)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bulk: keys: %w", err)
	}
	return keys, nil
}

// Clear removes every item.
func (a *Adapter) Clear(ctx context.Context) error {
	defer a.clearTimer.UpdateSince(time.Now())

	err := a.do(ctx, "clear", "", func(conn *Conn) error {
		return conn.Clear(ctx, a.opts.Store)
	})
	if err != nil {
		return fmt.Errorf("bulk: clear: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// TimerStats summarizes one operation timer
type TimerStats struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P95   time.Duration `json:"p95"`
	Max   time.Duration `json:"max"`
}

// Stats is a snapshot of the adapter's lifecycle and latency figures
type Stats struct {
	Driver   string                `json:"driver"`
	State    string                `json:"state"`
	Opens    int64                 `json:"opens"`
	Resets   int64                 `json:"resets"`
	Failures int64                 `json:"failures"`
	Timers   map[string]TimerStats `json:"timers"`
}

// Stats returns a snapshot of the adapter metrics.
func (a *Adapter) Stats() Stats {
	stats := Stats{
		Driver:   a.factory.Driver().Name(),
		State:    a.State().String(),
		Opens:    a.opens.Count(),
		Resets:   a.resets.Count(),
		Failures: a.failures.Count(),
		Timers:   make(map[string]TimerStats),
	}

	a.registry.Each(func(name string, m interface{}) {
		timer, ok := m.(metrics.Timer)
		if !ok {
			return
		}
		snap := timer.Snapshot()
		stats.Timers[name] = TimerStats{
			Count: snap.Count(),
			Mean:  time.Duration(snap.Mean()),
			P95:   time.Duration(snap.Percentile(0.95)),
			Max:   time.Duration(snap.Max()),
		}
	})

	return stats
}

// IsClosed reports whether err means the adapter or its connection is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrAdapterClosed) || errors.Is(err, ErrConnClosed)
}

package tstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/tkv/lib/broadcast"
	"github.com/ValentinKolb/tkv/lib/bulk"
	"github.com/ValentinKolb/tkv/lib/cache"
	"github.com/ValentinKolb/tkv/lib/db"
	"github.com/ValentinKolb/tkv/lib/store"
	"github.com/ValentinKolb/tkv/lib/tier"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

var (
	// ErrAllTiersFailed is returned when neither tier could answer.
	ErrAllTiersFailed = errors.New("tstore: all tiers failed")
	// ErrNotPersisted is returned with StrictWrites when no tier accepted a write.
	ErrNotPersisted = errors.New("tstore: value was not persisted")
	// ErrSerialization is returned with StrictWrites when a value cannot be encoded.
	ErrSerialization = errors.New("tstore: value cannot be encoded as JSON")
	// ErrClosed is returned by every operation after Shutdown.
	ErrClosed = errors.New("tstore: engine is shut down")
)

// lifecycle states of the engine
const (
	stateNew int32 = iota
	stateReady
	stateClosed
)

// resettable is implemented by tiers that lose their connection on lifecycle events.
type resettable interface {
	SetResetHandler(fn bulk.ResetHandler)
}

// Engine is the storage facade: it routes keys to the fast or the bulk tier,
// caches reads, falls back to the other tier on failure and keeps other
// engines coherent through a broadcaster.
type Engine struct {
	id       string
	cfg      Config
	selector tier.Selector
	tiers    [tier.Count]tier.Adapter
	cache    *cache.Cache
	opener   broadcast.Opener
	metrics  *engineMetrics

	broadcaster atomic.Pointer[broadcast.Broadcaster]
	state       atomic.Int32
	initMu      sync.Mutex
}

// New creates an engine over the two tiers. opener joins the coherence
// channel; nil runs the engine without coherence messages.
// The engine initializes itself on first use; Init may be called earlier.
func New(cfg *Config, fast, bulk tier.Adapter, opener broadcast.Opener) *Engine {
	c := cfg.withDefaults()

	e := &Engine{
		id:       uuid.NewString(),
		cfg:      c,
		selector: tier.NewSelector(c.SmallKeys, c.MaxKeyLength, c.SizeThreshold),
		cache:    cache.New(c.CacheMaxEntries, c.Clock),
		opener:   opener,
	}
	e.tiers[tier.Fast] = fast
	e.tiers[tier.Bulk] = bulk
	e.metrics = newEngineMetrics(e)

	return e
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Init joins the coherence channel and registers the bulk reset handler.
// Calling Init more than once is a no-op.
func (e *Engine) Init(_ context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	switch e.state.Load() {
	case stateReady:
		return nil
	case stateClosed:
		return store.WrapError(store.RetCClosed, ErrClosed)
	}

	e.broadcaster.Store(broadcast.New(e.cfg.Name, e.opener, remoteInvalidator{e}))

	if r, ok := e.tiers[tier.Bulk].(resettable); ok {
		r.SetResetHandler(e.onBulkReset)
	}

	e.state.Store(stateReady)
	Logger.Debugf("engine %s ready on channel %s", e.id, e.cfg.Name)
	return nil
}

// ready initializes the engine on first use and rejects calls after Shutdown.
func (e *Engine) ready(ctx context.Context) error {
	switch e.state.Load() {
	case stateReady:
		return nil
	case stateClosed:
		return store.WrapError(store.RetCClosed, ErrClosed)
	}
	return e.Init(ctx)
}

// Shutdown leaves the coherence channel and closes both tiers.
// Every later operation returns ErrClosed.
func (e *Engine) Shutdown(_ context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if e.state.Swap(stateClosed) == stateClosed {
		return nil
	}

	var errs []error
	if b := e.broadcaster.Load(); b != nil {
		errs = append(errs, b.Close())
	}
	for _, t := range []tier.Tier{tier.Bulk, tier.Fast} {
		if c, ok := e.tiers[t].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s tier: %w", t, err))
			}
		}
	}
	e.cache.InvalidateAll()

	Logger.Debugf("engine %s shut down", e.id)
	return errors.Join(errs...)
}

// onBulkReset runs when the bulk connection was closed or is being upgraded.
// Cached values may be stale relative to the tier, here and in other engines.
func (e *Engine) onBulkReset(ev *bulk.Event) {
	e.metrics.resets.Inc()
	Logger.Infof("bulk tier reset (%s), dropping read cache", ev)
	e.cache.InvalidateAll()
	if b := e.broadcaster.Load(); b != nil {
		b.PostInvalidateAll()
	}
}

// remoteInvalidator applies coherence messages to the cache of an engine.
type remoteInvalidator struct {
	e *Engine
}

func (r remoteInvalidator) Invalidate(key string) {
	r.e.cache.Invalidate(key)
	r.e.metrics.remoteInvalidations.Inc()
}

func (r remoteInvalidator) InvalidateAll() {
	r.e.cache.InvalidateAll()
	r.e.metrics.remoteInvalidations.Inc()
}

func (e *Engine) postUpdate(key string) {
	if b := e.broadcaster.Load(); b != nil {
		b.PostUpdate(key)
	}
}

func (e *Engine) postInvalidate(key string) {
	if b := e.broadcaster.Load(); b != nil {
		b.PostInvalidate(key)
	}
}

func (e *Engine) postInvalidateAll() {
	if b := e.broadcaster.Load(); b != nil {
		b.PostInvalidateAll()
	}
}

// --------------------------------------------------------------------------
// Tier access
// --------------------------------------------------------------------------

func (e *Engine) read(ctx context.Context, t tier.Tier, key string) ([]byte, bool, error) {
	e.metrics.reads[t].Inc()
	value, ok, err := e.tiers[t].Read(ctx, key)
	if err != nil {
		e.metrics.readErrors[t].Inc()
		Logger.Warningf("get %q: %s tier failed: %v", key, t, err)
	}
	return value, ok, err
}

func (e *Engine) write(ctx context.Context, t tier.Tier, key string, value []byte) error {
	e.metrics.writes[t].Inc()
	err := e.tiers[t].Write(ctx, key, value)
	if err != nil {
		e.metrics.writeErrors[t].Inc()
		Logger.Warningf("set %q: %s tier failed: %v", key, t, err)
	}
	return err
}

// --------------------------------------------------------------------------
// IStore Interface Methods
// --------------------------------------------------------------------------

// Get returns the JSON value for key.
//
// A cached value younger than the TTL is returned without touching a tier.
// Otherwise the tier chosen for the key is read; on error or miss the other
// tier is read once. An error is returned only when both tiers failed.
func (e *Engine) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := e.ready(ctx); err != nil {
		return nil, false, err
	}

	if entry, ok := e.cache.Get(key); ok && cache.Fresh(entry, e.cfg.Clock(), e.cfg.CacheTTL) {
		e.metrics.cacheHits.Inc()
		return entry.Value, true, nil
	}
	e.metrics.cacheMisses.Inc()

	primary := e.selector.Select(key)
	value, ok, primaryErr := e.read(ctx, primary, key)
	if primaryErr == nil && ok {
		e.cache.Put(key, value)
		return value, true, nil
	}

	e.metrics.readFallbacks.Inc()
	value, ok, fallbackErr := e.read(ctx, tier.Other(primary), key)
	if fallbackErr == nil && ok {
		e.cache.Put(key, value)
		return value, true, nil
	}

	// an expired entry must not outlive the value it cached
	e.cache.Invalidate(key)

	if primaryErr != nil && fallbackErr != nil {
		err := errors.Join(ErrAllTiersFailed, primaryErr, fallbackErr)
		Logger.Errorf("get %q: %v", key, err)
		return nil, false, store.WrapError(store.RetCUnavailable, err)
	}
	return nil, false, nil
}

// Set stores value for key.
//
// The value is JSON encoded and put into the read cache first. It is written
// to the tier chosen by key and size: fast tier writes of values at or above
// the size threshold are mirrored to the bulk tier, and a failed write falls
// back to the other tier once. Any older copy in a tier that did not take the
// value is removed. Every persisted write is announced to other engines.
//
// Failures are logged and absorbed unless StrictWrites is set.
func (e *Engine) Set(ctx context.Context, key string, value any) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		Logger.Errorf("set %q: %v", key, err)
		if e.cfg.StrictWrites {
			return store.WrapError(store.RetCInvalidOperation, fmt.Errorf("%w: %v", ErrSerialization, err))
		}
		return nil
	}

	e.cache.Put(key, data)

	size := len(data)
	target := e.selector.SelectSized(key, size)
	written := [tier.Count]bool{}

	written[target] = e.write(ctx, target, key, data) == nil

	switch {
	case target == tier.Fast && size >= e.cfg.SizeThreshold:
		// large value under a small looking key, keep a copy in the bulk tier
		e.metrics.mirrors.Inc()
		written[tier.Bulk] = e.write(ctx, tier.Bulk, key, data) == nil
	case !written[target]:
		e.metrics.writeFallbacks.Inc()
		other := tier.Other(target)
		written[other] = e.write(ctx, other, key, data) == nil
	}

	if !written[tier.Fast] && !written[tier.Bulk] {
		e.metrics.lostWrites.Inc()
		Logger.Errorf("set %q: no tier accepted the value", key)
		if e.cfg.StrictWrites {
			return store.WrapError(store.RetCUnavailable, fmt.Errorf("%w: %q", ErrNotPersisted, key))
		}
		return nil
	}

	// either tier serves reads when the other fails, neither may keep an older value
	for _, t := range []tier.Tier{tier.Fast, tier.Bulk} {
		if written[t] {
			continue
		}
		if err := e.tiers[t].Remove(ctx, key); err != nil {
			Logger.Warningf("set %q: could not remove stale copy from %s tier: %v", key, t, err)
		}
	}

	e.postUpdate(key)
	return nil
}

// Delete removes key from the cache and both tiers and tells other engines
// to drop it. Bulk tier errors are logged.
func (e *Engine) Delete(ctx context.Context, key string) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	e.cache.Invalidate(key)

	var failed int
	for _, t := range []tier.Tier{tier.Fast, tier.Bulk} {
		if err := e.tiers[t].Remove(ctx, key); err != nil {
			failed++
			Logger.Warningf("delete %q: %s tier failed: %v", key, t, err)
		}
	}

	e.postInvalidate(key)

	if failed == tier.Count && e.cfg.StrictWrites {
		return store.WrapError(store.RetCUnavailable, fmt.Errorf("%w: delete %q", ErrNotPersisted, key))
	}
	return nil
}

// Keys returns the sorted union of the keys of both tiers.
// A failing tier is logged; an error is returned only if both failed.
func (e *Engine) Keys(ctx context.Context) ([]string, error) {
	if err := e.ready(ctx); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var errs []error

	for _, t := range []tier.Tier{tier.Fast, tier.Bulk} {
		keys, err := e.tiers[t].Keys(ctx)
		if err != nil {
			Logger.Warningf("keys: %s tier failed: %v", t, err)
			errs = append(errs, err)
			continue
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}

	if len(errs) == tier.Count {
		return nil, store.WrapError(store.RetCUnavailable, errors.Join(append([]error{ErrAllTiersFailed}, errs...)...))
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear empties the cache and both tiers and tells other engines to drop
// their caches. Bulk tier errors are logged.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	e.cache.InvalidateAll()

	var failed int
	for _, t := range []tier.Tier{tier.Fast, tier.Bulk} {
		if err := e.tiers[t].Clear(ctx); err != nil {
			failed++
			Logger.Warningf("clear: %s tier failed: %v", t, err)
		}
	}

	e.postInvalidateAll()

	if failed == tier.Count && e.cfg.StrictWrites {
		return store.WrapError(store.RetCUnavailable, fmt.Errorf("%w: clear", ErrNotPersisted))
	}
	return nil
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Info describes the state of an engine
type Info struct {
	ID           string           `json:"id"`
	Channel      string           `json:"channel"`
	State        string           `json:"state"`
	CacheEntries int              `json:"cache_entries"`
	CacheTTL     string           `json:"cache_ttl"`
	Degraded     bool             `json:"broadcast_degraded"`
	Fast         *db.DatabaseInfo `json:"fast,omitempty"`
	Bulk         *bulk.Stats      `json:"bulk,omitempty"`
}

// Info returns a snapshot of the engine state.
func (e *Engine) Info() Info {
	info := Info{
		ID:           e.id,
		Channel:      e.cfg.Name,
		CacheEntries: e.cache.Len(),
		CacheTTL:     e.cfg.CacheTTL.String(),
	}

	switch e.state.Load() {
	case stateNew:
		info.State = "new"
	case stateReady:
		info.State = "ready"
	default:
		info.State = "closed"
	}

	if b := e.broadcaster.Load(); b != nil {
		info.Degraded = b.Degraded()
	}
	if f, ok := e.tiers[tier.Fast].(interface{ Info() db.DatabaseInfo }); ok {
		fi := f.Info()
		info.Fast = &fi
	}
	if b, ok := e.tiers[tier.Bulk].(interface{ Stats() bulk.Stats }); ok {
		bs := b.Stats()
		info.Bulk = &bs
	}
	return info
}

// ID returns the unique id of the engine.
func (e *Engine) ID() string {
	return e.id
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

var _ store.IStore = (*Engine)(nil)

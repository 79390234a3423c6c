package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/tkv/lib/db"
	"github.com/ValentinKolb/tkv/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/tkv/lib/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum     = "TKVFAST\x00" // Snapshot format identifier
	mapleVersion = 1             // Snapshot format version

	// DefaultQuotaBytes mirrors the usual per-origin localStorage budget.
	DefaultQuotaBytes = 5 * 1024 * 1024
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl is a sharded in-memory store with byte accounting
type mapleImpl struct {
	numShards int
	quota     int64 // 0 = unlimited
	used      atomic.Int64

	// mu guards the shard slice and seed, which Load replaces.
	// Regular operations only take the read lock.
	mu     sync.RWMutex
	seed   uint64
	shards []*internal.Shard
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards  int // Number of shards (0 = number of CPUs)
	QuotaBytes int // Byte budget for len(key)+len(value) of all entries (0 = unlimited, negative = DefaultQuotaBytes)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards:  runtime.NumCPU(),
		QuotaBytes: DefaultQuotaBytes,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}

	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}

	quota := opts.QuotaBytes
	if quota < 0 {
		quota = DefaultQuotaBytes
	}

	return &mapleImpl{
		numShards: numShards,
		quota:     int64(quota),
		seed:      util.GenerateSeed(),
		shards:    newShards(numShards),
	}
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard()
	}
	return shards
}

// shard returns the shard for key. The caller must hold maple.mu (read).
func (maple *mapleImpl) shard(key string) *internal.Shard {
	return internal.GetShard(key, maple.seed, maple.shards)
}

// reserve accounts delta bytes. A growth that would cross the quota is refused.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) reserve(delta int64) bool {
	if delta <= 0 || maple.quota <= 0 {
		maple.used.Add(delta)
		return true
	}
	for {
		cur := maple.used.Load()
		if cur+delta > maple.quota {
			return false
		}
		if maple.used.CompareAndSwap(cur, cur+delta) {
			return true
		}
	}
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Set inserts or overwrites the value for key.
// The value is copied, the caller may reuse the slice.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Set(key string, value []byte) error {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	newSize := internal.AccountedSize(key, valueCopy)

	var rejected bool
	maple.shard(key).Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		var oldSize int64
		if loaded {
			oldSize = internal.AccountedSize(key, old.Value)
		}

		if !maple.reserve(newSize - oldSize) {
			rejected = true
			// keep the old entry, or do not create one
			return old, !loaded
		}
		return internal.Entry{Value: valueCopy}, false
	})

	if rejected {
		return fmt.Errorf("%w: writing %q needs %d bytes, %d of %d in use",
			db.ErrQuotaExceeded, key, newSize, maple.used.Load(), maple.quota)
	}
	return nil
}

// Delete removes key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	maple.shard(key).Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if loaded {
			maple.used.Add(-internal.AccountedSize(key, old.Value))
		}
		return old, true
	})
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get returns a copy of the value for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) ([]byte, bool) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	e, ok := maple.shard(key).Data.Load(key)
	if !ok {
		return nil, false
	}
	data := make([]byte, len(e.Value))
	copy(data, e.Value)
	return data, true
}

// Has reports whether key exists.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key string) bool {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	_, ok := maple.shard(key).Data.Load(key)
	return ok
}

// Keys returns all keys with the given prefix.
//
// Thread-safety: This method is thread-safe. Keys written concurrently may or
// may not be included.
func (maple *mapleImpl) Keys(prefix string) []string {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	keys := make([]string, 0)
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, _ internal.Entry) bool {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
			return true
		})
	}
	return keys
}

// Len returns the number of entries.
func (maple *mapleImpl) Len() int {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	n := 0
	for _, shard := range maple.shards {
		n += shard.Data.Size()
	}
	return n
}

// UsedBytes returns the accounted size of all entries.
func (maple *mapleImpl) UsedBytes() int {
	return int(maple.used.Load())
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a snapshot to w.
//
// Layout (little endian):
//
//	magic (8 bytes) | version (uint8) | seed (uint64) | count (uint64)
//	count x ( keyLen (uint32) | key | valueLen (uint32) | value )
//
// Thread-safety: concurrent writes are allowed, each shard is copied entry by entry.
func (maple *mapleImpl) Save(w io.Writer) error {
	type kv struct {
		key   string
		value []byte
	}

	maple.mu.RLock()
	seed := maple.seed
	var entries []kv
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			v := make([]byte, len(e.Value))
			copy(v, e.Value)
			entries = append(entries, kv{key, v})
			return true
		})
	}
	maple.mu.RUnlock()

	bw := bufio.NewWriterSize(w, 256*1024)

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, seed); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(e.key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.value))); err != nil {
			return err
		}
		if _, err := bw.Write(e.value); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the content with the snapshot read from r.
// The quota is not enforced for loaded data. On error the current content is kept.
//
// Thread-safety: Load blocks all other operations while the new shards are swapped in.
func (maple *mapleImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 256*1024)

	magic := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return err
	}
	if string(magic) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var seed uint64
	if err := binary.Read(br, binary.LittleEndian, &seed); err != nil {
		return err
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	shards := newShards(maple.numShards)
	var used int64

	for i := uint64(0); i < count; i++ {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		k := string(key)
		internal.GetShard(k, seed, shards).Data.Store(k, internal.Entry{Value: value})
		used += internal.AccountedSize(k, value)
	}

	maple.mu.Lock()
	maple.seed = seed
	maple.shards = shards
	maple.used.Store(used)
	maple.mu.Unlock()

	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	histogram := util.NewSizeHistogram()
	samplesPerShard := 100
	shardSizes := make([]float64, len(maple.shards))
	entries := 0

	for i, shard := range maple.shards {
		count := 0
		shard.Data.Range(func(_ string, e internal.Entry) bool {
			histogram.AddSample(len(e.Value))
			count++
			return count < samplesPerShard
		})
		size := shard.Data.Size()
		shardSizes[i] = float64(size)
		entries += size
	}

	meta := &struct {
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		MedianValueSize   int                    `json:"median_value_size"`
		P95ValueSize      int                    `json:"p95_value_size"`
		QuotaUsage        float64                `json:"quota_usage"`
		Info              string                 `json:"info"`
	}{
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		MedianValueSize:   histogram.MedianEstimate(),
		P95ValueSize:      histogram.GetPercentileEstimate(95),
		Info:              "Value size figures are estimates from a sample of each shard.",
	}
	if maple.quota > 0 {
		meta.QuotaUsage = float64(maple.used.Load()) / float64(maple.quota)
	}

	supportedFeatures := []db.Feature{
		db.FeatureSet, db.FeatureGet, db.FeatureDelete, db.FeatureHas,
		db.FeatureKeys, db.FeatureSave, db.FeatureLoad,
	}
	if maple.quota > 0 {
		supportedFeatures = append(supportedFeatures, db.FeatureQuota)
	}

	return db.DatabaseInfo{
		SizeBytes:         int(maple.used.Load()),
		QuotaBytes:        int(maple.quota),
		Entries:           entries,
		DbType:            db.ImplMaple,
		SupportedFeatures: supportedFeatures,
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supported := db.FeatureSet |
		db.FeatureGet |
		db.FeatureDelete |
		db.FeatureHas |
		db.FeatureKeys |
		db.FeatureSave |
		db.FeatureLoad
	if maple.quota > 0 {
		supported |= db.FeatureQuota
	}
	return supported&feature == feature
}

// Close drops all entries.
func (maple *mapleImpl) Close() error {
	maple.mu.Lock()
	defer maple.mu.Unlock()

	for _, shard := range maple.shards {
		shard.Data.Clear()
	}
	maple.used.Store(0)
	return nil
}

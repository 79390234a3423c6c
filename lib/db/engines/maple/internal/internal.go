package internal

import (
	"github.com/ValentinKolb/tkv/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type
// --------------------------------------------------------------------------

// Entry is a stored value. The key is the map key of the shard.
type Entry struct {
	Value []byte
}

// AccountedSize returns the number of bytes an entry counts against the quota.
func AccountedSize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard is one partition of the database with its own concurrent map.
type Shard struct {
	Data *xsync.MapOf[string, Entry]
}

// NewShard creates an empty shard.
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, Entry](),
	}
}

// GetShard returns the shard responsible for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key string, seed uint64, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	h := util.HashString(key, seed) >> 7
	return shards[h%uint64(len(shards))]
}

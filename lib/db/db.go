package db

import (
	"errors"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// ErrQuotaExceeded is returned by Set when the write would exceed the byte quota.
var ErrQuotaExceeded = errors.New("db: quota exceeded")

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureSet    Feature = 1 << iota // Support for Set operations
	FeatureGet                        // Support for Get operations
	FeatureDelete                     // Support for Delete operations
	FeatureHas                        // Support for Has operations
	FeatureKeys                       // Support for prefix key listing
	FeatureSave                       // Support for Save operations
	FeatureLoad                       // Support for Load operations
	FeatureQuota                      // Writes are bounded by a byte quota
)

func (f Feature) String() string {
	switch f {
	case FeatureSet:
		return "Set"
	case FeatureGet:
		return "Get"
	case FeatureDelete:
		return "Delete"
	case FeatureHas:
		return "Has"
	case FeatureKeys:
		return "Keys"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureQuota:
		return "Quota"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	QuotaBytes        int            `json:"quota_bytes"`
	Entries           int            `json:"entries"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB is the synchronous physical store beneath the fast tier.
// Every method returns immediately; none of them performs network I/O.
// Implementations must be safe for concurrent use.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or overwrites the value for key.
	// If the write would push the accounted size (len(key)+len(value) over all
	// entries) above the quota, ErrQuotaExceeded is returned and the previous
	// value stays in place.
	Set(key string, value []byte) (err error)

	// Delete removes key. Deleting a missing key is a no-op.
	Delete(key string)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns a copy of the value for key.
	// The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool)

	// Has reports whether key exists.
	Has(key string) (loaded bool)

	// Keys returns every key starting with prefix, in no particular order.
	// An empty prefix returns all keys.
	Keys(prefix string) (keys []string)

	// Len returns the number of entries.
	Len() int

	// UsedBytes returns the accounted size of all entries.
	UsedBytes() int

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save writes a snapshot of all entries to w.
	Save(w io.Writer) (err error)

	// Load replaces the current content with the snapshot read from r.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close releases the database. It does not persist anything.
	Close() (err error)
}

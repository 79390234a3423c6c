package tier

import (
	"context"
)

// --------------------------------------------------------------------------
// Tier Type
// --------------------------------------------------------------------------

// Tier identifies one of the two physical storage backends.
type Tier int

const (
	// Fast is the synchronous, size limited tier for small config values.
	Fast Tier = iota
	// Bulk is the connection based tier with larger capacity.
	Bulk
)

// Count is the number of tiers, useful for arrays indexed by Tier.
const Count = 2

func (t Tier) String() string {
	switch t {
	case Fast:
		return "fast"
	case Bulk:
		return "bulk"
	default:
		return "unknown"
	}
}

// Other returns the alternate tier, used for fallback reads and writes.
func Other(t Tier) Tier {
	if t == Fast {
		return Bulk
	}
	return Fast
}

// --------------------------------------------------------------------------
// Adapter Interface
// --------------------------------------------------------------------------

// Adapter is the capability every tier offers. Values are JSON text.
//
// Read returns loaded=false and a nil error on a miss. A non nil error means
// the tier could not answer, which is different from a miss.
type Adapter interface {
	Read(ctx context.Context, key string) (value []byte, loaded bool, err error)
	Write(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

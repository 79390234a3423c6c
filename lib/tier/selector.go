package tier

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// DefaultMaxKeyLength is the key length from which keys are no longer fast by name.
	DefaultMaxKeyLength = 50
	// DefaultSizeThreshold is the payload size from which values go to the bulk tier.
	DefaultSizeThreshold = 5 * 1024 * 1024
)

// DefaultSmallKeys is the allow-list of small config keys that always live in the fast tier.
var DefaultSmallKeys = []string{
	"theme",
	"language",
	"locale",
	"onboarding_complete",
	"notifications_enabled",
	"last_sync",
	"session_id",
	"user_preferences",
}

// --------------------------------------------------------------------------
// Selector
// --------------------------------------------------------------------------

// Selector maps keys to tiers. It is a value with no mutable state and
// safe for concurrent use as long as its fields are not modified.
type Selector struct {
	SmallKeys     map[string]struct{}
	MaxKeyLength  int
	SizeThreshold int
}

// DefaultSelector returns a selector with the default allow-list and thresholds.
func DefaultSelector() Selector {
	return NewSelector(nil, 0, 0)
}

// NewSelector creates a selector. A nil allow-list or zero thresholds are
// replaced by the defaults.
func NewSelector(smallKeys []string, maxKeyLength, sizeThreshold int) Selector {
	if smallKeys == nil {
		smallKeys = DefaultSmallKeys
	}
	if maxKeyLength <= 0 {
		maxKeyLength = DefaultMaxKeyLength
	}
	if sizeThreshold <= 0 {
		sizeThreshold = DefaultSizeThreshold
	}

	set := make(map[string]struct{}, len(smallKeys))
	for _, k := range smallKeys {
		set[k] = struct{}{}
	}

	return Selector{
		SmallKeys:     set,
		MaxKeyLength:  maxKeyLength,
		SizeThreshold: sizeThreshold,
	}
}

// Select returns the tier for key by identity alone. Used for reads.
func (s Selector) Select(key string) Tier {
	if _, ok := s.SmallKeys[key]; ok {
		return Fast
	}
	if len(key) < s.MaxKeyLength {
		return Fast
	}
	return Bulk
}

// SelectSized returns the tier for key given the estimated serialized size of
// the value. Used for writes.
func (s Selector) SelectSized(key string, estimatedSize int) Tier {
	if s.Select(key) == Fast {
		return Fast
	}
	if estimatedSize < s.SizeThreshold {
		return Fast
	}
	return Bulk
}

package tstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/tkv/lib/cache"
	"github.com/ValentinKolb/tkv/lib/tier"
)

// Config configures an Engine
type Config struct {
	Name            string           // Broadcast channel shared by coherent engines
	CacheTTL        time.Duration    // How long a cached value is trusted
	CacheMaxEntries int              // Bound of the read cache
	SmallKeys       []string         // Keys always routed to the fast tier (nil = tier.DefaultSmallKeys)
	MaxKeyLength    int              // Keys at least this long are bulk keys by name
	SizeThreshold   int              // Values at least this large go to the bulk tier
	StrictWrites    bool             // Return an error from Set/Delete when nothing was persisted
	Clock           func() time.Time // Time source for cache expiry
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		Name:            "tkv",
		CacheTTL:        5 * time.Second,
		CacheMaxEntries: cache.DefaultMaxEntries,
		MaxKeyLength:    tier.DefaultMaxKeyLength,
		SizeThreshold:   tier.DefaultSizeThreshold,
		Clock:           time.Now,
	}
}

// withDefaults returns a copy of c with zero values replaced by the defaults.
func (c *Config) withDefaults() Config {
	d := *DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Name == "" {
		out.Name = d.Name
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = d.CacheTTL
	}
	if out.CacheMaxEntries <= 0 {
		out.CacheMaxEntries = d.CacheMaxEntries
	}
	if out.MaxKeyLength <= 0 {
		out.MaxKeyLength = d.MaxKeyLength
	}
	if out.SizeThreshold <= 0 {
		out.SizeThreshold = d.SizeThreshold
	}
	if out.Clock == nil {
		out.Clock = d.Clock
	}
	return out
}

// String returns a formatted string representation of the engine configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Engine")
	addField("Channel", c.Name)
	addField("Strict Writes", fmt.Sprintf("%t", c.StrictWrites))

	addSection("Read Cache")
	addField("TTL", c.CacheTTL.String())
	addField("Max Entries", fmt.Sprintf("%d", c.CacheMaxEntries))

	addSection("Tier Selection")
	smallKeys := c.SmallKeys
	if smallKeys == nil {
		smallKeys = tier.DefaultSmallKeys
	}
	addField("Small Keys", strings.Join(smallKeys, ", "))
	addField("Max Key Length", fmt.Sprintf("%d", c.MaxKeyLength))
	addField("Size Threshold", fmt.Sprintf("%d bytes", c.SizeThreshold))

	return sb.String()
}

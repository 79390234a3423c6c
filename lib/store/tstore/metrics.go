package tstore

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/tkv/lib/tier"
	"github.com/VictoriaMetrics/metrics"
)

// engineMetrics holds the counters of one engine in its own set, so several
// engines in one process do not collide.
type engineMetrics struct {
	set *metrics.Set

	cacheHits   *metrics.Counter
	cacheMisses *metrics.Counter

	reads       [tier.Count]*metrics.Counter
	readErrors  [tier.Count]*metrics.Counter
	writes      [tier.Count]*metrics.Counter
	writeErrors [tier.Count]*metrics.Counter

	readFallbacks  *metrics.Counter
	writeFallbacks *metrics.Counter
	mirrors        *metrics.Counter
	lostWrites     *metrics.Counter
	resets         *metrics.Counter

	remoteInvalidations *metrics.Counter
}

func newEngineMetrics(e *Engine) *engineMetrics {
	set := metrics.NewSet()

	m := &engineMetrics{
		set:                 set,
		cacheHits:           set.NewCounter("tkv_cache_hits_total"),
		cacheMisses:         set.NewCounter("tkv_cache_misses_total"),
		readFallbacks:       set.NewCounter("tkv_read_fallbacks_total"),
		writeFallbacks:      set.NewCounter("tkv_write_fallbacks_total"),
		mirrors:             set.NewCounter("tkv_mirror_writes_total"),
		lostWrites:          set.NewCounter("tkv_unpersisted_writes_total"),
		resets:              set.NewCounter("tkv_bulk_resets_total"),
		remoteInvalidations: set.NewCounter("tkv_remote_invalidations_total"),
	}

	for _, t := range []tier.Tier{tier.Fast, tier.Bulk} {
		m.reads[t] = set.NewCounter(fmt.Sprintf(`tkv_tier_reads_total{tier=%q}`, t))
		m.readErrors[t] = set.NewCounter(fmt.Sprintf(`tkv_tier_read_errors_total{tier=%q}`, t))
		m.writes[t] = set.NewCounter(fmt.Sprintf(`tkv_tier_writes_total{tier=%q}`, t))
		m.writeErrors[t] = set.NewCounter(fmt.Sprintf(`tkv_tier_write_errors_total{tier=%q}`, t))
	}

	set.NewGauge("tkv_cache_entries", func() float64 {
		return float64(e.cache.Len())
	})
	set.NewGauge("tkv_broadcast_sent_total", func() float64 {
		if b := e.broadcaster.Load(); b != nil {
			return float64(b.Sent())
		}
		return 0
	})
	set.NewGauge("tkv_broadcast_received_total", func() float64 {
		if b := e.broadcaster.Load(); b != nil {
			return float64(b.Received())
		}
		return 0
	})
	set.NewGauge("tkv_broadcast_dropped_total", func() float64 {
		if b := e.broadcaster.Load(); b != nil {
			return float64(b.Dropped())
		}
		return 0
	})
	set.NewGauge("tkv_broadcast_degraded", func() float64 {
		if b := e.broadcaster.Load(); b != nil && b.Degraded() {
			return 1
		}
		return 0
	})

	return m
}

// WritePrometheus writes the engine metrics in Prometheus text format.
func (e *Engine) WritePrometheus(w io.Writer) {
	e.metrics.set.WritePrometheus(w)
}

package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	if s.Mean != 5 {
		t.Errorf("Expected mean 5, got %f", s.Mean)
	}
	if s.StdDeviation != 2 {
		t.Errorf("Expected std deviation 2, got %f", s.StdDeviation)
	}
	if s.Min != 2 || s.Max != 9 {
		t.Errorf("Expected min 2 and max 9, got %f %f", s.Min, s.Max)
	}
	if math.Abs(s.MinMaxRatio-2.0/9.0) > 1e-9 {
		t.Errorf("Unexpected min/max ratio %f", s.MinMaxRatio)
	}

	if empty := NewStats(nil); empty != (Stats{}) {
		t.Errorf("Expected zero stats for no values, got %+v", empty)
	}
}

func TestDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("Even distribution should have quality 1, got %f", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{0, 0, 0, 40})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("Skewed distribution should rate lower, got %f", skewed.DistributionQuality)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()

	if h.MedianEstimate() != 0 || h.AverageSize() != 0 {
		t.Error("Empty histogram should report zero")
	}

	for i := 0; i < 90; i++ {
		h.AddSample(100) // bucket (64, 256]
	}
	for i := 0; i < 10; i++ {
		h.AddSample(10_000) // bucket (4096, 16384]
	}

	if h.GetCount() != 100 {
		t.Errorf("Expected 100 samples, got %d", h.GetCount())
	}
	if h.AverageSize() != 1090 {
		t.Errorf("Expected average 1090, got %d", h.AverageSize())
	}
	if m := h.MedianEstimate(); m != 160 {
		t.Errorf("Expected median estimate 160, got %d", m)
	}
	if p := h.GetPercentileEstimate(99); p != 10240 {
		t.Errorf("Expected p99 estimate 10240, got %d", p)
	}
	if p := h.GetPercentileEstimate(101); p != 0 {
		t.Errorf("Out of range percentile should return 0, got %d", p)
	}
}

func TestHashString(t *testing.T) {
	if HashString("theme", 1) != HashString("theme", 1) {
		t.Error("HashString must be deterministic")
	}
	if HashString("theme", 1) == HashString("theme", 2) {
		t.Error("Different seeds should produce different hashes")
	}
	if HashString("theme", 0) == HashString("locale", 0) {
		t.Error("Different keys should produce different hashes")
	}
}

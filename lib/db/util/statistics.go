// Package util
//
// This file holds the size statistics reported by engine and store info:
// summary statistics over a set of values (used for shard balance) and an
// exponential SizeHistogram for value sizes that avoids full scans.
package util

import (
	"math"
	"math/bits"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

// Stats summarizes a set of values
type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation and range of values
// in a single pass
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Min: values[0], Max: values[0], MinMaxRatio: 1}
	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	n := float64(len(values))
	s.Mean = sum / n
	s.StdDeviation = math.Sqrt(math.Max(0, sumSq/n-s.Mean*s.Mean))
	if s.Max > 0 {
		s.MinMaxRatio = s.Min / s.Max
	}
	return s
}

// DistributionStats rates how evenly values are spread across shards
type DistributionStats struct {
	Stats
	// DistributionQuality is 1 for a perfectly even spread and approaches 0
	// the more the values differ. It averages 1-CV (capped) and Min/Max.
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates the spread of shardSizes
func NewDistributionStats(shardSizes []float64) DistributionStats {
	stats := NewStats(shardSizes)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1-math.Min(1, cv))/2 + stats.MinMaxRatio/2,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// histogramBuckets is the number of buckets. Bucket i < 15 holds sizes up to
// 4^(i+2) (16 B ... 4 GiB), the last bucket everything larger.
const histogramBuckets = 16

// SizeHistogram tracks the distribution of value sizes in power of four
// buckets. Estimates are exact to the bucket.
//
// Thread-safety: all methods are lock free and safe for concurrent use.
type SizeHistogram struct {
	buckets [histogramBuckets]atomic.Int64
	count   atomic.Int64
	sum     atomic.Int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// bucketOf returns the bucket holding size
func bucketOf(size int) int {
	if size <= 16 {
		return 0
	}
	// ceil(log4(size)) - 2
	return min((bits.Len(uint(size-1))+1)/2-2, histogramBuckets-1)
}

// upperBound returns the largest size of bucket i < histogramBuckets-1
func upperBound(i int) int {
	return 1 << (2 * (i + 2))
}

// AddSample adds a size sample to the histogram
func (h *SizeHistogram) AddSample(size int) {
	h.buckets[bucketOf(size)].Add(1)
	h.count.Add(1)
	h.sum.Add(int64(size))
}

// GetCount returns the total number of samples
func (h *SizeHistogram) GetCount() int64 {
	return h.count.Load()
}

// AverageSize returns the average size across all samples
func (h *SizeHistogram) AverageSize() int {
	count := h.count.Load()
	if count == 0 {
		return 0
	}
	return int(h.sum.Load() / count)
}

// GetPercentileEstimate returns an estimate for the given percentile
// (0-100): the middle of the bucket the percentile falls into.
func (h *SizeHistogram) GetPercentileEstimate(percentile int) int {
	count := h.count.Load()
	if count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(count) * float64(percentile) / 100))
	var seen int64
	for i := range h.buckets {
		seen += h.buckets[i].Load()
		if seen < target {
			continue
		}
		switch i {
		case 0:
			return upperBound(0) / 2
		case histogramBuckets - 1:
			return upperBound(histogramBuckets-2) * 2
		default:
			return (upperBound(i-1) + upperBound(i)) / 2
		}
	}
	// samples added concurrently with the scan
	return h.AverageSize()
}

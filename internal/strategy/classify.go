package strategy

import (
	"math"
	"time"
)

// Classification thresholds, in MB/s and milliseconds.
const (
	lowBandwidthMBs     = 0.5
	veryLowBandwidthMBs = 0.2
	highLatencyMs       = 500
	veryHighLatencyMs   = 1000

	unstableCV     = 0.3
	veryUnstableCV = 0.5

	// minVarianceSamples is how many bandwidth samples the variance
	// check needs before it has an opinion.
	minVarianceSamples = 3
	varianceWindow     = 5
)

// Sample is one network-quality measurement.
type Sample struct {
	Timestamp    time.Time
	LatencyMs    float64
	BandwidthMBs float64
}

// Classify maps recent samples to a scenario. Active proxy usage wins
// unconditionally; bandwidth variance is checked next (a jittery link
// matters more than its current throughput), then absolute bandwidth
// and latency tiers, most extreme first. No samples means no opinion:
// the default scenario.
func Classify(samples []Sample, proxyActive bool) Scenario {
	if proxyActive {
		return ScenarioProxyTransfer
	}
	if len(samples) == 0 {
		return ScenarioDefault
	}

	if cv, ok := bandwidthVariation(samples); ok {
		if cv > veryUnstableCV {
			return ScenarioVeryUnstable
		}
		if cv > unstableCV {
			return ScenarioUnstable
		}
	}

	latest := samples[len(samples)-1]
	if latest.BandwidthMBs > 0 {
		if latest.BandwidthMBs < veryLowBandwidthMBs {
			return ScenarioVeryLowBandwidth
		}
		if latest.BandwidthMBs < lowBandwidthMBs {
			return ScenarioLowBandwidth
		}
	}
	if latest.LatencyMs > veryHighLatencyMs {
		return ScenarioVeryHighLatency
	}
	if latest.LatencyMs > highLatencyMs {
		return ScenarioHighLatency
	}
	return ScenarioLocal
}

// bandwidthVariation computes the coefficient of variation over the
// last few bandwidth samples. Reports false with fewer than
// minVarianceSamples usable values.
func bandwidthVariation(samples []Sample) (float64, bool) {
	start := len(samples) - varianceWindow
	if start < 0 {
		start = 0
	}
	values := make([]float64, 0, varianceWindow)
	for _, s := range samples[start:] {
		if s.BandwidthMBs > 0 {
			values = append(values, s.BandwidthMBs)
		}
	}
	if len(values) < minVarianceSamples {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0, false
	}
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance) / mean, true
}

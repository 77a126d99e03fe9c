package strategy

import "testing"

func samplesFrom(bandwidths []float64, latency float64) []Sample {
	out := make([]Sample, 0, len(bandwidths))
	for _, bw := range bandwidths {
		out = append(out, Sample{LatencyMs: latency, BandwidthMBs: bw})
	}
	return out
}

func TestClassifyProxyWinsUnconditionally(t *testing.T) {
	// Even a perfect link classifies as proxy transfer while tunneled.
	samples := samplesFrom([]float64{5, 5, 5, 5, 5}, 10)
	if got := Classify(samples, true); got != ScenarioProxyTransfer {
		t.Fatalf("expected proxy_transfer, got %s", got)
	}
	if got := Classify(nil, true); got != ScenarioProxyTransfer {
		t.Fatalf("proxy wins even without samples, got %s", got)
	}
}

func TestClassifyNoSamplesIsDefault(t *testing.T) {
	if got := Classify(nil, false); got != ScenarioDefault {
		t.Fatalf("expected default, got %s", got)
	}
}

func TestClassifyHighVarianceIsVeryUnstable(t *testing.T) {
	samples := samplesFrom([]float64{0.4, 0.1, 0.6, 0.05, 0.5}, 50)
	if got := Classify(samples, false); got != ScenarioVeryUnstable {
		t.Fatalf("expected very_unstable for wildly swinging bandwidth, got %s", got)
	}
}

func TestClassifyModerateVarianceIsUnstable(t *testing.T) {
	samples := samplesFrom([]float64{1.0, 2.0, 1.0, 2.0, 1.0}, 50)
	if got := Classify(samples, false); got != ScenarioUnstable {
		t.Fatalf("expected unstable for moderately swinging bandwidth, got %s", got)
	}
}

func TestClassifyVarianceBeatsAbsoluteBandwidth(t *testing.T) {
	// The latest sample alone would read as very low bandwidth, but the
	// jitter across the window matters more.
	samples := samplesFrom([]float64{0.4, 0.1, 0.6, 0.05, 0.1}, 50)
	if got := Classify(samples, false); got != ScenarioVeryUnstable {
		t.Fatalf("expected instability to win, got %s", got)
	}
}

func TestClassifyBandwidthTiers(t *testing.T) {
	steady := func(bw float64) []Sample {
		return samplesFrom([]float64{bw, bw, bw, bw}, 50)
	}
	if got := Classify(steady(0.1), false); got != ScenarioVeryLowBandwidth {
		t.Fatalf("0.1 MB/s should be very_low_bandwidth, got %s", got)
	}
	if got := Classify(steady(0.3), false); got != ScenarioLowBandwidth {
		t.Fatalf("0.3 MB/s should be low_bandwidth, got %s", got)
	}
	if got := Classify(steady(2.0), false); got != ScenarioLocal {
		t.Fatalf("a fast steady link should be local, got %s", got)
	}
}

func TestClassifyLatencyTiers(t *testing.T) {
	if got := Classify(samplesFrom([]float64{2, 2, 2}, 600), false); got != ScenarioHighLatency {
		t.Fatalf("600ms should be high_latency, got %s", got)
	}
	if got := Classify(samplesFrom([]float64{2, 2, 2}, 1500), false); got != ScenarioVeryHighLatency {
		t.Fatalf("1500ms should be very_high_latency, got %s", got)
	}
}

func TestClassifyZeroBandwidthFallsThroughToLatency(t *testing.T) {
	// Bandwidth 0 means "not measured", not "infinitely slow".
	samples := samplesFrom([]float64{0, 0, 0}, 700)
	if got := Classify(samples, false); got != ScenarioHighLatency {
		t.Fatalf("expected latency tier, got %s", got)
	}
}

func TestClassifyTooFewSamplesForVariance(t *testing.T) {
	// Two samples cannot support a variance verdict; absolutes decide.
	samples := samplesFrom([]float64{0.4, 2.0}, 50)
	if got := Classify(samples, false); got != ScenarioLocal {
		t.Fatalf("expected local without a variance opinion, got %s", got)
	}
}

func TestBandwidthVariationWindow(t *testing.T) {
	// Only the trailing window counts: old chaos, recent calm.
	bw := []float64{0.05, 0.9, 0.02, 1.0, 1.0, 1.0, 1.0, 1.0}
	cv, ok := bandwidthVariation(samplesFrom(bw, 50))
	if !ok {
		t.Fatalf("expected a variance verdict")
	}
	if cv != 0 {
		t.Fatalf("steady trailing window should have zero variation, got %f", cv)
	}
}

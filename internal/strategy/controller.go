package strategy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Thresholds for the stable/unstable verdict in NetworkStatus.
const (
	stableMaxLatencyMs = 500
	stableMinBandwidth = 0.1
)

// ProbeFunc takes one network measurement. A failed probe is missing
// data, not a fault: the controller keeps the previous scenario.
type ProbeFunc func(ctx context.Context) (Sample, error)

// ApplyFunc pushes a newly selected parameter bundle into the layers
// below. It runs on the controller goroutine; the switch must be
// atomic for the next operation and must not disturb in-flight ones.
type ApplyFunc func(sc Scenario, p Params)

// NetworkStatus is the externally visible network view.
type NetworkStatus struct {
	Known        bool
	Stable       bool
	LatencyMs    float64
	BandwidthMBs float64
	Scenario     Scenario
	SampledAt    time.Time
}

// Controller is the only continuously running background task: it
// periodically samples the link, classifies a scenario, and applies
// the bound parameters on change.
type Controller struct {
	cfg         *Config
	probe       ProbeFunc
	apply       ApplyFunc
	proxyActive bool
	logger      *slog.Logger

	mu       sync.Mutex
	samples  []Sample
	scenario Scenario

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController builds the controller. proxyActive reflects the
// endpoint configuration and forces the proxy_transfer scenario.
func NewController(cfg *Config, probe ProbeFunc, apply ApplyFunc, proxyActive bool, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		cfg:         cfg,
		probe:       probe,
		apply:       apply,
		proxyActive: proxyActive,
		logger:      logger,
		scenario:    ScenarioDefault,
	}
}

// Start launches the periodic sampling loop. The controller is owned
// by its starter; Stop joins it.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.DetectionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Evaluate(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Evaluate performs one sample-classify-apply cycle.
func (c *Controller) Evaluate(ctx context.Context) {
	sample, err := c.probe(ctx)
	if err != nil {
		c.logger.Warn("network sample failed", "err", err)
	} else {
		c.record(sample)
	}

	c.mu.Lock()
	samples := c.samples
	current := c.scenario
	c.mu.Unlock()

	next := Classify(samples, c.proxyActive)
	if next == ScenarioDefault && current != ScenarioDefault {
		// Classification failure keeps the previous scenario.
		return
	}
	if next == current {
		return
	}
	params := c.cfg.ParamsFor(next)
	c.mu.Lock()
	c.scenario = next
	c.mu.Unlock()
	c.logger.Info("scenario change", "from", current, "to", next)
	if c.apply != nil {
		c.apply(next, params)
	}
}

// RecordSample feeds a passively observed measurement into the ring,
// e.g. transfer stats from a regular call.
func (c *Controller) RecordSample(s Sample) {
	c.record(s)
}

// Scenario returns the active classification.
func (c *Controller) Scenario() Scenario {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scenario
}

// Params returns the bundle bound to the active scenario.
func (c *Controller) Params() Params {
	return c.cfg.ParamsFor(c.Scenario())
}

// Samples returns a copy of the sample ring, oldest first.
func (c *Controller) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

// NetworkStatus summarizes the latest measurement.
func (c *Controller) NetworkStatus() NetworkStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := NetworkStatus{Scenario: c.scenario}
	if len(c.samples) == 0 {
		return status
	}
	latest := c.samples[len(c.samples)-1]
	status.Known = true
	status.LatencyMs = latest.LatencyMs
	status.BandwidthMBs = latest.BandwidthMBs
	status.SampledAt = latest.Timestamp
	status.Stable = latest.LatencyMs < stableMaxLatencyMs && latest.BandwidthMBs > stableMinBandwidth
	return status
}

func (c *Controller) record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.samples = append(c.samples, s)
	if limit := c.cfg.HistorySize; limit > 0 && len(c.samples) > limit {
		c.samples = c.samples[len(c.samples)-limit:]
	}
	c.mu.Unlock()
}

// Package client wires the transport pool, RPC channel, result cache,
// work queue, and strategy controller into the single object callers
// use to run remote commands.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkorolik/relayexec/internal/cache"
	"github.com/mkorolik/relayexec/internal/queue"
	"github.com/mkorolik/relayexec/internal/rpc"
	"github.com/mkorolik/relayexec/internal/strategy"
	"github.com/mkorolik/relayexec/internal/transport"
)

const (
	execMethod  = "tools/call"
	execTool    = "ssh_exec"
	probeTarget = "local"

	defaultRestartInterval = 2 * time.Second
	defaultRestartMaxWait  = 60 * time.Second
)

// Options configures a Client.
type Options struct {
	Endpoint transport.Endpoint
	Password string

	// Store holds the durable queue state. Required.
	Store queue.Store

	// StrategyConfig is the path to the scenario YAML file. Empty or
	// missing falls back to the built-in table.
	StrategyConfig string

	// Dial overrides the endpoint dialer, for tests.
	Dial transport.DialFunc

	Logger *slog.Logger
}

// ExecOptions tunes a single Execute call.
type ExecOptions struct {
	// Timeout is the remote execution budget. Zero means the active
	// strategy's timeout.
	Timeout time.Duration

	// UseCache consults and populates the result cache. Only set it
	// for commands the caller knows are idempotent.
	UseCache bool

	// WaitForRestart dispatches the command, then polls the endpoint
	// with short probe calls until it answers again. The polling loop
	// never touches the cache.
	WaitForRestart       bool
	RestartCheckInterval time.Duration
	RestartMaxWait       time.Duration
}

// Client executes remote commands over pooled disguised connections,
// adapting its parameters to measured network quality.
type Client struct {
	opts   Options
	logger *slog.Logger

	pool       *transport.Pool
	channel    *rpc.Channel
	cache      *cache.Cache
	queue      *queue.Queue
	worker     *queue.Worker
	controller *strategy.Controller
	events     *bus

	cbMu      sync.Mutex
	callbacks map[string]func(queue.Item)

	cancel context.CancelFunc
}

// New builds and starts a client: queue state is loaded, the worker
// and the sampling controller begin running immediately.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Store == nil {
		return nil, errors.New("client: queue store is required")
	}

	dial := opts.Dial
	if dial == nil {
		d := &transport.Dialer{Endpoint: opts.Endpoint, Timeout: 60 * time.Second}
		dial = d.Dial
	}

	cfg, err := strategy.LoadConfig(opts.StrategyConfig)
	if err != nil {
		return nil, fmt.Errorf("load strategy config: %w", err)
	}

	q, err := queue.Open(opts.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	c := &Client{
		opts:      opts,
		logger:    logger,
		cache:     cache.New(cache.DefaultTTL),
		queue:     q,
		events:    newBus(),
		callbacks: make(map[string]func(queue.Item)),
	}
	c.pool = transport.NewPool(dial, transport.DefaultPoolSize, transport.DefaultExpiry, logger)
	c.channel = rpc.NewChannel(c.pool, uuid.NewString()[:8], opts.Password, logger)
	c.worker = queue.NewWorker(q, c.runQueued, c.itemDone, logger)
	c.controller = strategy.NewController(cfg, c.probe, c.applyStrategy, opts.Endpoint.Proxy != nil, logger)

	// Proxy classification does not depend on measurements, so its
	// parameters apply from the first call rather than the first tick.
	if opts.Endpoint.Proxy != nil {
		c.applyStrategy(strategy.ScenarioProxyTransfer, cfg.ParamsFor(strategy.ScenarioProxyTransfer))
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.worker.Start(ctx)
	c.controller.Start(ctx)
	return c, nil
}

// Execute runs command on target and returns its output. Failures
// arrive as descriptive "Error: ..." strings rather than errors, so a
// script collecting outputs keeps running; only authentication
// failures (and context cancellation) return an error.
func (c *Client) Execute(ctx context.Context, target, command string, opts ExecOptions) (string, error) {
	if opts.WaitForRestart {
		return c.executeRestart(ctx, target, command, opts)
	}

	key := cache.Key(target, command)
	if opts.UseCache {
		if v, ok := c.cache.Lookup(key); ok {
			return v, nil
		}
	}

	out, err := c.dispatch(ctx, target, command, opts.Timeout)
	if err != nil {
		if terminal(err) {
			return "", err
		}
		return "Error: " + err.Error(), nil
	}
	if opts.UseCache {
		c.cache.Store(key, out)
	}
	return out, nil
}

// ExecuteBatch runs commands serially against one target, consulting
// the cache per command and dispatching only misses. Per-command
// failures become "Error: ..." values in the result map and never
// abort the rest of the batch; an authentication failure does, since
// every remaining command would hit it too.
func (c *Client) ExecuteBatch(ctx context.Context, target string, commands []string, timeout time.Duration) (map[string]string, error) {
	results := make(map[string]string, len(commands))
	for _, command := range commands {
		out, err := c.Execute(ctx, target, command, ExecOptions{Timeout: timeout, UseCache: true})
		if err != nil {
			return results, err
		}
		results[command] = out
	}
	return results, nil
}

// Enqueue appends a command to the durable queue and returns
// immediately. callback, when non-nil, fires once the item reaches a
// terminal state.
func (c *Client) Enqueue(target, command string, callback func(queue.Item)) queue.Item {
	item := c.queue.Enqueue(target, command)
	if callback != nil {
		c.cbMu.Lock()
		c.callbacks[item.ID] = callback
		c.cbMu.Unlock()
	}
	c.events.publish(Event{Kind: EventEnqueued, ItemID: item.ID, Target: target, Command: command})
	return *item
}

// Cancel marks a still-pending queue item failed. Items already
// dispatched run to completion.
func (c *Client) Cancel(id string) bool {
	ok := c.queue.Cancel(id)
	if ok {
		c.events.publish(Event{Kind: EventItemCancelled, ItemID: id})
	}
	return ok
}

// QueueStatus returns per-state counts.
func (c *Client) QueueStatus() queue.Summary { return c.queue.Status() }

// QueueItems returns a snapshot of every queue item in sequence order.
func (c *Client) QueueItems() []queue.Item { return c.queue.Items() }

// QueueItem looks up one item by id.
func (c *Client) QueueItem(id string) (queue.Item, bool) { return c.queue.Get(id) }

// NetworkStatus reports the latest measurement and the active
// scenario.
func (c *Client) NetworkStatus() strategy.NetworkStatus { return c.controller.NetworkStatus() }

// SampleNow takes one measurement immediately instead of waiting for
// the next sampler tick, then reports the resulting status.
func (c *Client) SampleNow(ctx context.Context) strategy.NetworkStatus {
	c.controller.Evaluate(ctx)
	return c.controller.NetworkStatus()
}

// NetworkTrend returns the retained measurement ring, oldest first.
func (c *Client) NetworkTrend() []strategy.Sample { return c.controller.Samples() }

// Scenario returns the active network classification.
func (c *Client) Scenario() strategy.Scenario { return c.controller.Scenario() }

// Subscribe attaches a progress/status event stream. A consumer that
// falls behind misses events rather than blocking the producers.
func (c *Client) Subscribe() (int64, <-chan Event) { return c.events.subscribe() }

// Unsubscribe detaches a stream and closes its channel.
func (c *Client) Unsubscribe(id int64) { c.events.unsubscribe(id) }

// ServerInfo fetches the endpoint's initialize metadata, cached well
// beyond the command TTL since it changes only on server upgrades.
func (c *Client) ServerInfo(ctx context.Context) (string, error) {
	return c.metadata(ctx, "initialize")
}

// ListTools fetches the endpoint's tool listing, cached like
// ServerInfo.
func (c *Client) ListTools(ctx context.Context) (string, error) {
	return c.metadata(ctx, "tools/list")
}

// Shutdown stops the sampler and the worker, closes pooled
// connections, and flushes queue state. The client is unusable
// afterwards.
func (c *Client) Shutdown() error {
	c.cancel()
	c.controller.Stop()
	c.worker.Stop()
	c.pool.Close()
	c.events.close()
	return c.queue.Close()
}

func (c *Client) metadata(ctx context.Context, method string) (string, error) {
	key := cache.Key("meta", method)
	if v, ok := c.cache.Lookup(key); ok {
		return v, nil
	}
	resp, err := c.channel.Call(ctx, method, nil)
	if err != nil {
		return "", err
	}
	out := string(resp.Result)
	c.cache.StoreFor(key, out, 5*c.cache.TTL())
	return out, nil
}

// dispatch sends one execution request, rewriting the command for the
// active scenario first. The rewrite is best-effort tuning, never
// correctness: the unmodified command is what callers see in results
// and cache keys.
func (c *Client) dispatch(ctx context.Context, target, command string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = c.channel.Tunables().Timeout
	}
	wire := strategy.OptimizeCommand(c.controller.Scenario(), command)
	resp, err := c.channel.Call(ctx, execMethod, map[string]any{
		"name": execTool,
		"arguments": map[string]any{
			"name":    target,
			"command": wire,
			"timeout": int(timeout / time.Second),
		},
	})
	if err != nil {
		return "", err
	}
	return parseExecResult(resp)
}

// executeRestart dispatches the command, then polls with short probes
// until the endpoint answers again or the wait budget runs out. The
// dispatch itself usually dies with the connection, so its failure is
// expected and only logged.
func (c *Client) executeRestart(ctx context.Context, target, command string, opts ExecOptions) (string, error) {
	interval := opts.RestartCheckInterval
	if interval <= 0 {
		interval = defaultRestartInterval
	}
	maxWait := opts.RestartMaxWait
	if maxWait <= 0 {
		maxWait = defaultRestartMaxWait
	}

	if _, err := c.dispatch(ctx, target, command, opts.Timeout); err != nil {
		if terminal(err) {
			return "", err
		}
		c.logger.Info("restart dispatch ended with error, polling for recovery", "target", target, "err", err)
	}

	started := time.Now()
	for time.Since(started) < maxWait {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
		if c.probeOnce(ctx, target) {
			return fmt.Sprintf("restart completed, endpoint answering after %.1fs", time.Since(started).Seconds()), nil
		}
	}
	return fmt.Sprintf("restart dispatched, endpoint still unreachable after %.0fs", maxWait.Seconds()), nil
}

// probeOnce issues a minimal echo with a short budget, bypassing the
// configured retry policy so a dead endpoint is detected quickly.
func (c *Client) probeOnce(ctx context.Context, target string) bool {
	tun := c.channel.Tunables()
	tun.Timeout = 5 * time.Second
	tun.RetryCount = 1
	tun.RetryDelay = 500 * time.Millisecond
	_, err := c.channel.CallTuned(ctx, execMethod, map[string]any{
		"name": execTool,
		"arguments": map[string]any{
			"name":    target,
			"command": "echo 1",
			"timeout": 5,
		},
	}, tun)
	return err == nil
}

// runQueued executes one dequeued item on behalf of the worker.
func (c *Client) runQueued(ctx context.Context, item queue.Item) (string, error) {
	c.events.publish(Event{Kind: EventItemStarted, ItemID: item.ID, Target: item.Target, Command: item.Command})
	return c.dispatch(ctx, item.Target, item.Command, 0)
}

// itemDone fires the caller's callback and publishes the terminal
// event once the worker records an outcome.
func (c *Client) itemDone(item queue.Item) {
	c.cbMu.Lock()
	cb := c.callbacks[item.ID]
	delete(c.callbacks, item.ID)
	c.cbMu.Unlock()
	if cb != nil {
		cb(item)
	}

	kind := EventItemCompleted
	msg := item.Result
	if item.Status == queue.StatusFailed {
		kind = EventItemFailed
		msg = item.Error
	}
	c.events.publish(Event{Kind: kind, ItemID: item.ID, Target: item.Target, Command: item.Command, Message: msg})
}

// probe measures one round trip for the strategy controller. Latency
// comes from a timed echo; throughput from the channel's transfer
// accounting for that exchange.
func (c *Client) probe(ctx context.Context) (strategy.Sample, error) {
	started := time.Now()
	if !c.probeOnce(ctx, probeTarget) {
		return strategy.Sample{}, errors.New("probe call failed")
	}
	sample := strategy.Sample{
		Timestamp: time.Now(),
		LatencyMs: float64(time.Since(started)) / float64(time.Millisecond),
	}
	if stats, ok := c.channel.LastTransfer(); ok {
		sample.BandwidthMBs = stats.ThroughputMBs
	}
	return sample, nil
}

// applyStrategy pushes a scenario's parameter bundle into every layer.
// Calls already in flight keep the parameters they captured at entry.
func (c *Client) applyStrategy(sc strategy.Scenario, p strategy.Params) {
	c.pool.Configure(p.PoolSize, p.ConnExpiry())
	maxDelay := 5 * time.Second
	if d := 4 * p.RetryDelay(); d > maxDelay {
		maxDelay = d
	}
	c.channel.Configure(rpc.Tunables{
		Timeout:            p.Timeout(),
		RetryCount:         p.RetryCount,
		RetryDelay:         p.RetryDelay(),
		MaxRetryDelay:      maxDelay,
		ExponentialBackoff: p.ExponentialBackoff,
		Compression:        p.Compression,
		MinimalPayload:     p.MinimalPayload,
	})
	c.cache.Configure(p.CacheTTL())
	c.events.publish(Event{Kind: EventScenarioChanged, Scenario: sc})
}

// terminal reports whether err must surface to the caller instead of
// degrading into an output string.
func terminal(err error) bool {
	var authErr *rpc.AuthError
	return errors.As(err, &authErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

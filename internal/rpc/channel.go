package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkorolik/relayexec/internal/transport"
)

// Tunables are the per-call parameters the strategy controller retunes.
// A Call captures them once at entry; a strategy switch applies to the
// next call, never one in flight.
type Tunables struct {
	Timeout            time.Duration
	RetryCount         int
	RetryDelay         time.Duration
	MaxRetryDelay      time.Duration
	ExponentialBackoff bool
	Compression        bool
	MinimalPayload     bool
}

// DefaultTunables mirrors the service defaults before any scenario is
// detected.
func DefaultTunables() Tunables {
	return Tunables{
		Timeout:       60 * time.Second,
		RetryCount:    3,
		RetryDelay:    500 * time.Millisecond,
		MaxRetryDelay: 5 * time.Second,
		Compression:   true,
	}
}

// TransferStats summarizes the most recent completed exchange, feeding
// the network sampler.
type TransferStats struct {
	LatencyMs     float64
	ThroughputMBs float64
	BytesOut      int64
	BytesIn       int64
	At            time.Time
}

// Channel performs one request/response exchange per call on a
// borrowed pooled connection, with bounded retries.
type Channel struct {
	pool      *transport.Pool
	logger    *slog.Logger
	sessionID string
	password  string

	nextID atomic.Int64

	mu    sync.Mutex
	tun   Tunables
	last  TransferStats
	ever  bool
	sleep func(ctx context.Context, d time.Duration) error
}

// NewChannel wires a channel over the pool. sessionID tags every
// request; password, when set, is attached as auth credentials.
func NewChannel(pool *transport.Pool, sessionID, password string, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Channel{
		pool:      pool,
		logger:    logger,
		sessionID: sessionID,
		password:  password,
		tun:       DefaultTunables(),
		sleep:     sleepCtx,
	}
	c.nextID.Store(time.Now().UnixMilli())
	return c
}

// Configure atomically replaces the tunables for subsequent calls.
func (c *Channel) Configure(t Tunables) {
	c.mu.Lock()
	c.tun = t
	c.mu.Unlock()
}

// Tunables returns the currently active parameter set.
func (c *Channel) Tunables() Tunables {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tun
}

// LastTransfer reports stats from the most recent successful exchange.
func (c *Channel) LastTransfer() (TransferStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.ever
}

// Call sends method+params and waits for the reply, retrying transient
// failures up to the configured bound. Authentication-flavored errors
// are terminal and surface immediately; otherwise only the final
// failure is returned. Each retry runs on a freshly acquired
// connection.
func (c *Channel) Call(ctx context.Context, method string, params map[string]any) (*Response, error) {
	return c.CallTuned(ctx, method, params, c.Tunables())
}

// CallTuned is Call with a one-off parameter set, leaving the
// configured tunables untouched. Used for short liveness probes that
// must not inherit a scenario's long timeouts.
func (c *Channel) CallTuned(ctx context.Context, method string, params map[string]any, tun Tunables) (*Response, error) {
	delay := tun.RetryDelay
	var lastErr error
	for attempt := 0; attempt <= tun.RetryCount; attempt++ {
		if attempt > 0 {
			delay = nextDelay(delay, tun)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		resp, err := c.attempt(ctx, method, params, tun)
		if err == nil {
			return resp, nil
		}
		if !Retryable(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("call failed", "method", method, "attempt", attempt+1, "err", err)
	}
	return nil, lastErr
}

func (c *Channel) attempt(ctx context.Context, method string, params map[string]any, tun Tunables) (*Response, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	healthy := false
	defer func() { c.pool.Release(conn, healthy) }()

	req := c.buildRequest(method, params, tun)
	payload, err := encodePayload(req, tun.Compression)
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(tun.Timeout))
	started := time.Now()
	if err := writeFrame(conn, payload); err != nil {
		return nil, classifyNetErr(err)
	}
	frame, err := readFrame(bufio.NewReader(conn))
	if err != nil {
		return nil, classifyNetErr(err)
	}
	elapsed := time.Since(started)
	_ = conn.SetDeadline(time.Time{})

	body, err := decodePayload(frame)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProtocolError{Reason: "malformed response", Err: err}
	}

	// A decodable response means the connection is still in protocol
	// sync, even when it carries an error object.
	healthy = true
	c.recordExchange(len(payload), len(frame), elapsed)

	if resp.Error != nil {
		if authFlavored(resp.Error.Message) {
			return nil, &AuthError{Message: resp.Error.Message}
		}
		return nil, &ProtocolError{Reason: "server error: " + resp.Error.Message}
	}
	return &resp, nil
}

func (c *Channel) buildRequest(method string, params map[string]any, tun Tunables) *Request {
	req := &Request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
		SID:     c.sessionID,
		TS:      time.Now().Unix(),
	}
	if c.password != "" {
		req.Auth = &Auth{Type: "password", Password: c.password}
	}
	if tun.MinimalPayload {
		req.TS = 0
		if len(req.Params) == 0 {
			req.Params = nil
		}
	}
	return req
}

func (c *Channel) recordExchange(bytesOut, bytesIn int, elapsed time.Duration) {
	stats := TransferStats{
		LatencyMs: float64(elapsed) / float64(time.Millisecond),
		BytesOut:  int64(bytesOut),
		BytesIn:   int64(bytesIn),
		At:        time.Now(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		stats.ThroughputMBs = float64(bytesOut+bytesIn) / (1 << 20) / secs
	}
	c.mu.Lock()
	c.last = stats
	c.ever = true
	c.mu.Unlock()
}

// nextDelay grows the backoff: doubled and capped at twice the maximum
// under exponential policy, otherwise multiplied by 1.5 and capped at
// the maximum. Either way the sequence never decreases.
func nextDelay(cur time.Duration, tun Tunables) time.Duration {
	if tun.ExponentialBackoff {
		next := cur * 2
		if ceil := tun.MaxRetryDelay * 2; next > ceil {
			next = ceil
		}
		return next
	}
	next := cur + cur/2
	if next > tun.MaxRetryDelay {
		next = tun.MaxRetryDelay
	}
	return next
}

func classifyNetErr(err error) error {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return err
	}
	if errors.Is(err, transport.ErrPoolClosed) {
		return &TransportError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ProtocolError{Reason: "empty or truncated read", Err: err}
	}
	return &TransportError{Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

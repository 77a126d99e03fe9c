package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	// DefaultPoolSize bounds how many idle connections are kept for
	// reuse. Acquire never blocks on capacity; extra connections are
	// simply not pooled on release.
	DefaultPoolSize = 5
	// DefaultExpiry is how long an idle connection stays reusable.
	DefaultExpiry = 300 * time.Second

	livenessProbeWindow = 10 * time.Millisecond
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// PooledConn is a connection owned either by the pool (while idle) or
// by exactly one in-flight call (while checked out).
type PooledConn struct {
	net.Conn
	createdAt  time.Time
	lastUsedAt time.Time
}

// Age reports how long ago the connection was established.
func (c *PooledConn) Age() time.Duration { return time.Since(c.createdAt) }

// Pool hands out established connections, reusing idle ones that are
// still fresh and alive.
type Pool struct {
	dial   DialFunc
	logger *slog.Logger

	mu       sync.Mutex
	idle     []*PooledConn
	capacity int
	expiry   time.Duration
	closed   bool
}

// NewPool creates a pool over the given dialer. Zero capacity or
// expiry take the defaults.
func NewPool(dial DialFunc, capacity int, expiry time.Duration, logger *slog.Logger) *Pool {
	if capacity <= 0 {
		capacity = DefaultPoolSize
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = discardLogger
	}
	return &Pool{dial: dial, capacity: capacity, expiry: expiry, logger: logger}
}

// Acquire returns a reusable pooled connection when one is alive, else
// dials a new one. Beyond capacity the new connection is transient:
// capacity bounds reuse, not concurrency.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	for {
		// Pop one candidate under the lock; the probe reads the socket,
		// so it runs with the lock released.
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		var conn *PooledConn
		if n := len(p.idle); n > 0 {
			conn = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		expiry := p.expiry
		p.mu.Unlock()

		if conn == nil {
			break
		}
		if conn.Age() >= expiry {
			_ = conn.Close()
			p.logger.Debug("evicted expired connection", "age", conn.Age())
			continue
		}
		if !probeAlive(conn.Conn) {
			_ = conn.Close()
			p.logger.Debug("evicted dead connection")
			continue
		}
		conn.lastUsedAt = time.Now()
		return conn, nil
	}

	raw, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &PooledConn{Conn: raw, createdAt: now, lastUsedAt: now}, nil
}

// Release returns the connection to the pool. Unhealthy connections,
// and healthy ones arriving while the pool is full, are closed instead.
func (p *Pool) Release(conn *PooledConn, healthy bool) {
	if conn == nil {
		return
	}
	if !healthy {
		_ = conn.Close()
		return
	}
	p.mu.Lock()
	if p.closed || len(p.idle) >= p.capacity || conn.Age() >= p.expiry {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	conn.lastUsedAt = time.Now()
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// Configure retunes capacity and expiry. Shrinking closes surplus idle
// connections immediately; checked-out connections are unaffected.
func (p *Pool) Configure(capacity int, expiry time.Duration) {
	if capacity <= 0 {
		capacity = DefaultPoolSize
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	p.mu.Lock()
	p.capacity = capacity
	p.expiry = expiry
	for len(p.idle) > capacity {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		_ = conn.Close()
	}
	p.mu.Unlock()
}

// IdleCount reports how many connections currently sit in the pool.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close discards all idle connections and rejects further acquires.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, conn := range p.idle {
		_ = conn.Close()
	}
	p.idle = nil
}

// probeAlive peeks at the socket under a tiny read deadline. A timeout
// means the peer is quiet but connected; EOF, a reset, or stray bytes
// mean the connection cannot be reused.
func probeAlive(conn net.Conn) bool {
	if err := conn.SetReadDeadline(time.Now().Add(livenessProbeWindow)); err != nil {
		return false
	}
	defer conn.SetReadDeadline(time.Time{})
	var one [1]byte
	n, err := conn.Read(one[:])
	if n > 0 {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

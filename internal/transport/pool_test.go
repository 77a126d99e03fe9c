package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"
)

// pipeDialer hands out client halves of in-memory pipes and keeps the
// server halves open so idle connections stay alive.
type pipeDialer struct {
	mu      sync.Mutex
	dials   int
	servers []net.Conn
}

func (d *pipeDialer) dial(context.Context) (net.Conn, error) {
	client, server := net.Pipe()
	d.mu.Lock()
	d.dials++
	d.servers = append(d.servers, server)
	d.mu.Unlock()
	return client, nil
}

func (d *pipeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *pipeDialer) closeLastServer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.servers[len(d.servers)-1].Close()
}

func TestPoolCapacityBoundsReuseNotConcurrency(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d.dial, 2, time.Minute, nil)
	defer p.Close()

	var conns []*PooledConn
	for i := 0; i < 3; i++ {
		conn, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		conns = append(conns, conn)
	}
	if got := d.dialCount(); got != 3 {
		t.Fatalf("expected 3 dials for 3 concurrent holders, got %d", got)
	}

	for _, conn := range conns {
		p.Release(conn, true)
	}
	if got := p.IdleCount(); got != 2 {
		t.Fatalf("expected at most capacity (2) idle connections, got %d", got)
	}
}

func TestPoolReusesReleasedConnection(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d.dial, 2, time.Minute, nil)
	defer p.Close()

	first, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(first, true)

	second, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if second != first {
		t.Fatalf("expected the released connection back")
	}
	if got := d.dialCount(); got != 1 {
		t.Fatalf("expected reuse without a second dial, got %d dials", got)
	}
}

func TestPoolEvictsExpiredConnection(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d.dial, 2, time.Minute, nil)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(conn, true)
	conn.createdAt = time.Now().Add(-2 * time.Minute)

	fresh, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if fresh == conn {
		t.Fatalf("expired connection must not be reused")
	}
	if got := d.dialCount(); got != 2 {
		t.Fatalf("expected a fresh dial after eviction, got %d dials", got)
	}
}

func TestPoolEvictsDeadConnection(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d.dial, 2, time.Minute, nil)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(conn, true)
	d.closeLastServer()

	fresh, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after peer close: %v", err)
	}
	if fresh == conn {
		t.Fatalf("dead connection must not be reused")
	}
}

// slowProbeConn takes far longer to answer a liveness read than the
// probe deadline allows, then reports the timeout.
type slowProbeConn struct {
	net.Conn
	delay   time.Duration
	once    sync.Once
	reading chan struct{}
}

func (c *slowProbeConn) Read([]byte) (int, error) {
	c.once.Do(func() { close(c.reading) })
	time.Sleep(c.delay)
	return 0, os.ErrDeadlineExceeded
}

func (c *slowProbeConn) SetReadDeadline(time.Time) error { return nil }

func TestPoolAcquireProbesWithoutHoldingLock(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d.dial, 2, time.Minute, nil)
	defer p.Close()

	client, server := net.Pipe()
	defer server.Close()
	slow := &slowProbeConn{Conn: client, delay: 150 * time.Millisecond, reading: make(chan struct{})}
	now := time.Now()
	p.idle = append(p.idle, &PooledConn{Conn: slow, createdAt: now, lastUsedAt: now})

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		conn, err := p.Acquire(context.Background())
		if err == nil {
			p.Release(conn, true)
		}
	}()

	// While the liveness check is mid-read, lock-taking calls must not
	// queue up behind it.
	<-slow.reading
	start := time.Now()
	p.IdleCount()
	if waited := time.Since(start); waited > 75*time.Millisecond {
		t.Fatalf("IdleCount stalled %v behind a liveness check", waited)
	}
	<-acquired
}

func TestPoolReleaseUnhealthyCloses(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d.dial, 2, time.Minute, nil)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(conn, false)
	if got := p.IdleCount(); got != 0 {
		t.Fatalf("unhealthy release must not pool, got %d idle", got)
	}
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected read on closed connection to fail")
	}
}

func TestPoolConfigureShrinksIdle(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d.dial, 5, time.Minute, nil)
	defer p.Close()

	var conns []*PooledConn
	for i := 0; i < 3; i++ {
		conn, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		p.Release(conn, true)
	}
	if got := p.IdleCount(); got != 3 {
		t.Fatalf("expected 3 idle, got %d", got)
	}

	p.Configure(1, time.Minute)
	if got := p.IdleCount(); got != 1 {
		t.Fatalf("expected shrink to 1 idle, got %d", got)
	}
}

func TestPoolAcquireAfterClose(t *testing.T) {
	d := &pipeDialer{}
	p := NewPool(d.dial, 2, time.Minute, nil)
	p.Close()
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

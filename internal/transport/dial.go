package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"
)

// DialFunc opens one ready-to-use connection to the endpoint. The pool
// is written against this signature so tests can substitute in-memory
// pipes.
type DialFunc func(ctx context.Context) (net.Conn, error)

// decoyDrainWindow is how long a quiet socket is taken to mean the
// decoy reply is fully consumed.
const decoyDrainWindow = 50 * time.Millisecond

// Dialer establishes disguised, optionally proxy-tunneled TLS
// connections to a single endpoint.
type Dialer struct {
	Endpoint Endpoint
	Timeout  time.Duration
}

// Browser-like cipher preference list. The disguise shapes the
// handshake to look like ordinary web traffic; it is not an
// authentication boundary, so verification stays off either way.
var disguiseCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
}

// Dial opens the raw socket (directly or through the proxy), optionally
// sends the decoy HTTP exchange, and completes the TLS handshake.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	nd := net.Dialer{Timeout: timeout}

	var raw net.Conn
	var err error
	if d.Endpoint.Proxy != nil {
		raw, err = nd.DialContext(ctx, "tcp", d.Endpoint.ProxyAddr())
		if err != nil {
			return nil, &ProxyError{Proxy: d.Endpoint.ProxyAddr(), Err: err}
		}
		_ = raw.SetDeadline(time.Now().Add(timeout))
		if err := tunnelThrough(raw, d.Endpoint.Addr()); err != nil {
			_ = raw.Close()
			return nil, &ProxyError{Proxy: d.Endpoint.ProxyAddr(), Err: err}
		}
	} else {
		raw, err = nd.DialContext(ctx, "tcp", d.Endpoint.Addr())
		if err != nil {
			return nil, &ConnectError{Addr: d.Endpoint.Addr(), Err: err}
		}
		_ = raw.SetDeadline(time.Now().Add(timeout))
	}

	if d.Endpoint.UseDisguise {
		if err := sendDecoyRequest(raw, d.Endpoint.Addr()); err != nil {
			_ = raw.Close()
			return nil, &ConnectError{Addr: d.Endpoint.Addr(), Err: err}
		}
		// Draining the decoy reply moved the read deadline; restore the
		// handshake budget.
		_ = raw.SetDeadline(time.Now().Add(timeout))
	}

	tlsConn := tls.Client(raw, d.tlsConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, &ConnectError{Addr: d.Endpoint.Addr(), Err: fmt.Errorf("tls handshake: %w", err)}
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}

func (d *Dialer) tlsConfig() *tls.Config {
	cfg := &tls.Config{
		// Cosmetic disguise only: the remote presents whatever
		// certificate it likes, on whatever port.
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS13,
		ServerName:         d.Endpoint.Host,
	}
	if d.Endpoint.UseDisguise {
		cfg.CipherSuites = disguiseCipherSuites
	}
	return cfg
}

// tunnelThrough performs the plaintext CONNECT exchange with the proxy
// and requires a success acknowledgment before the TLS handshake may
// proceed.
func tunnelThrough(conn net.Conn, target string) error {
	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&req, "Host: %s\r\n", target)
	req.WriteString("Connection: Keep-Alive\r\n\r\n")
	if _, err := conn.Write([]byte(req.String())); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read CONNECT response: %w", err)
	}
	if !connectAccepted(status) {
		return fmt.Errorf("tunnel refused: %s", strings.TrimSpace(status))
	}
	// Drain the remaining response headers up to the blank line.
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read CONNECT headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			return nil
		}
	}
}

func connectAccepted(statusLine string) bool {
	fields := strings.Fields(statusLine)
	return len(fields) >= 2 && strings.HasPrefix(fields[1], "2")
}

// sendDecoyRequest writes a plausible plaintext GET and discards
// whatever comes back, so the connection opens the way a browser visit
// would.
func sendDecoyRequest(conn net.Conn, hostport string) error {
	var req strings.Builder
	req.WriteString("GET / HTTP/1.1\r\n")
	fmt.Fprintf(&req, "Host: %s\r\n", hostport)
	req.WriteString("User-Agent: Mozilla/5.0 (Windows NT 10.0; Win64; x64)\r\n")
	req.WriteString("Accept: text/html,application/xhtml+xml\r\n")
	req.WriteString("Connection: keep-alive\r\n\r\n")
	if _, err := conn.Write([]byte(req.String())); err != nil {
		return fmt.Errorf("send decoy: %w", err)
	}
	// The whole reply must be consumed: a leftover byte would be read
	// as the start of the TLS handshake.
	buf := make([]byte, 4096)
	if _, err := conn.Read(buf); err != nil {
		return fmt.Errorf("read decoy reply: %w", err)
	}
	for {
		_ = conn.SetReadDeadline(time.Now().Add(decoyDrainWindow))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return fmt.Errorf("drain decoy reply: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}

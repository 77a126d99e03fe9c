package transport

import (
	"errors"
	"fmt"
)

// ErrPoolClosed marks an acquire against a pool that was shut down.
var ErrPoolClosed = errors.New("connection pool closed")

// ConnectError wraps a socket or TLS failure reaching the endpoint
// itself.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProxyError wraps a failure establishing the CONNECT tunnel through
// the intermediate host. Kept distinct from ConnectError so callers can
// tell the relay apart from the destination.
type ProxyError struct {
	Proxy string
	Err   error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s: %v", e.Proxy, e.Err)
}

func (e *ProxyError) Unwrap() error { return e.Err }

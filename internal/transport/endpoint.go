package transport

import (
	"fmt"
	"strconv"
)

// Endpoint describes the remote execution service and, optionally, the
// intermediate proxy the tunnel is relayed through. Immutable after
// construction.
type Endpoint struct {
	Host        string
	Port        int
	UseDisguise bool
	Proxy       *Proxy
}

// Proxy is an intermediate host that forwards raw TCP via an HTTP
// CONNECT exchange performed before the TLS handshake.
type Proxy struct {
	Host string
	Port int
}

// Addr returns the host:port of the real endpoint.
func (e Endpoint) Addr() string {
	return joinHostPort(e.Host, e.Port)
}

// ProxyAddr returns the host:port of the proxy, or "" when none is set.
func (e Endpoint) ProxyAddr() string {
	if e.Proxy == nil {
		return ""
	}
	return joinHostPort(e.Proxy.Host, e.Proxy.Port)
}

func (e Endpoint) String() string {
	s := e.Addr()
	if e.Proxy != nil {
		s = fmt.Sprintf("%s via %s", s, e.ProxyAddr())
	}
	return s
}

func joinHostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

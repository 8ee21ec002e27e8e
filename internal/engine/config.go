package engine

import (
	"net"
	"net/netip"
	"runtime"
	"strings"
	"time"

	"github.com/splitproxy/splitproxy/internal/resolver"
)

const (
	// bufferSize is the relay scratch buffer size and also the window the
	// request head must fit into for Host parsing.
	bufferSize = 4096

	// workerDelay bounds the CPU used by a worker's polling loop.
	workerDelay = time.Millisecond

	// MaxWorkers caps the worker pool regardless of configuration.
	MaxWorkers = 128
)

// HostSet holds the Host-header values forced through the upstream proxy.
// Matching is case-insensitive and exact; no wildcards.
type HostSet map[string]struct{}

func NewHostSet(hosts []string) HostSet {
	set := make(HostSet, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}

// Contains reports membership of an already-lowercased host value.
func (s HostSet) Contains(host string) bool {
	_, ok := s[host]
	return ok
}

// Config is immutable after construction and shared by reference across all
// workers; it needs no synchronization.
type Config struct {
	// ProxyAddr is the upstream proxy that matching hosts are relayed to.
	ProxyAddr netip.AddrPort

	// Hosts selects the PROXY path; everything else goes DIRECT.
	Hosts HostSet

	// Workers is the worker pool size; 0 means the number of CPUs.
	Workers int

	// Debug enables per-connection routing and error logging.
	Debug bool

	KeepAlive net.KeepAliveConfig

	Resolver *resolver.Cache
}

func (c *Config) workerCount() int {
	n := c.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return min(n, MaxWorkers)
}

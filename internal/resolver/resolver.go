package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// ErrResolve is wrapped into every resolution failure.
var ErrResolve = errors.New("name resolution failed")

// LookupFunc resolves a bare hostname (or IP literal) to addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

type Config struct {
	// Timeout bounds a single lookup.
	Timeout time.Duration

	// Lookup overrides the system resolver; nil means net.DefaultResolver.
	Lookup LookupFunc
}

// Cache resolves host[:port] keys to socket addresses, memoizing successes
// for the lifetime of the process. It is safe for concurrent use by all
// workers; concurrent misses for the same key are collapsed into one lookup.
type Cache struct {
	lookup  LookupFunc
	timeout time.Duration
	entries *gocache.Cache
	group   singleflight.Group
}

func New(cfg Config) *Cache {
	lookup := cfg.Lookup
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		}
	}

	return &Cache{
		lookup:  lookup,
		timeout: cfg.Timeout,
		entries: gocache.New(gocache.NoExpiration, 0),
	}
}

// Resolve maps a lowercased host[:port] key to a socket address, defaulting
// to port 80 when the key carries none. The first address a lookup returns
// wins and is cached; the same key never hits the system resolver twice.
func (c *Cache) Resolve(ctx context.Context, hostport string) (netip.AddrPort, error) {
	if cached, ok := c.entries.Get(hostport); ok {
		lookupsTotal.WithLabelValues("hit").Inc()
		return cached.(netip.AddrPort), nil
	}

	// Miss and error counts live inside the singleflight callback so
	// collapsed callers do not inflate them past the work actually done.
	v, err, _ := c.group.Do(hostport, func() (any, error) {
		addr, err := c.resolveMiss(ctx, hostport)
		if err != nil {
			lookupsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		lookupsTotal.WithLabelValues("miss").Inc()
		return addr, nil
	})
	if err != nil {
		return netip.AddrPort{}, err
	}

	return v.(netip.AddrPort), nil
}

func (c *Cache) resolveMiss(ctx context.Context, hostport string) (netip.AddrPort, error) {
	host, port, err := splitHostPort(hostport)
	if err != nil {
		return netip.AddrPort{}, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	addrs, err := c.lookup(ctx, host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w for %q: %v", ErrResolve, host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w for %q: no addresses", ErrResolve, host)
	}

	addr := netip.AddrPortFrom(addrs[0].Unmap(), port)
	c.entries.SetDefault(hostport, addr)
	return addr, nil
}

// splitHostPort separates an optional port suffix from a Host-header value.
// A leading '[' marks a bracketed IPv6 literal, whose internal colons must
// not be mistaken for a port separator; port 80 is the default.
func splitHostPort(hostport string) (string, uint16, error) {
	v6 := strings.HasPrefix(hostport, "[")
	if (v6 && !strings.Contains(hostport, "]:")) || (!v6 && !strings.Contains(hostport, ":")) {
		host := strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]")
		if host == "" {
			return "", 0, fmt.Errorf("%w: empty host %q", ErrResolve, hostport)
		}
		return host, 80, nil
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad host %q: %v", ErrResolve, hostport, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad port in %q: %v", ErrResolve, hostport, err)
	}
	return host, uint16(port), nil
}

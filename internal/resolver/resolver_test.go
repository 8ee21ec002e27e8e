package resolver

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port uint16
	}{
		{"example.com", "example.com", 80},
		{"example.com:8080", "example.com", 8080},
		{"127.0.0.1:9", "127.0.0.1", 9},
		{"[2001:db8::1]:443", "2001:db8::1", 443},
		{"[2001:db8::1]", "2001:db8::1", 80},
		{"[::1]:1", "::1", 1},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, port, err := splitHostPort(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.host, host)
			require.Equal(t, tt.port, port)
		})
	}

	for _, in := range []string{"", "example.com:notaport", "example.com:70000", "[]"} {
		t.Run("bad "+in, func(t *testing.T) {
			_, _, err := splitHostPort(in)
			require.ErrorIs(t, err, ErrResolve)
		})
	}
}

func TestResolveCachesFirstAddress(t *testing.T) {
	lookups := 0
	c := New(Config{
		Lookup: func(context.Context, string) ([]netip.Addr, error) {
			lookups++
			return []netip.Addr{
				netip.MustParseAddr("198.51.100.7"),
				netip.MustParseAddr("198.51.100.8"),
			}, nil
		},
	})

	ctx := context.Background()
	missBefore := promtestutil.ToFloat64(lookupsTotal.WithLabelValues("miss"))
	hitBefore := promtestutil.ToFloat64(lookupsTotal.WithLabelValues("hit"))

	addr, err := c.Resolve(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("198.51.100.7:80"), addr)
	require.Equal(t, 1, lookups)

	// Second resolution of the same key never reaches the lookup, and the
	// counters reflect one miss plus one hit.
	again, err := c.Resolve(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, addr, again)
	require.Equal(t, 1, lookups)
	require.Equal(t, 1.0, promtestutil.ToFloat64(lookupsTotal.WithLabelValues("miss"))-missBefore)
	require.Equal(t, 1.0, promtestutil.ToFloat64(lookupsTotal.WithLabelValues("hit"))-hitBefore)

	// A different port suffix is a different key.
	addr, err = c.Resolve(ctx, "example.com:8443")
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("198.51.100.7:8443"), addr)
	require.Equal(t, 2, lookups)
}

func TestResolveFailures(t *testing.T) {
	boom := errors.New("servfail")
	c := New(Config{
		Lookup: func(context.Context, string) ([]netip.Addr, error) {
			return nil, boom
		},
	})

	_, err := c.Resolve(context.Background(), "example.com")
	require.ErrorIs(t, err, ErrResolve)

	empty := New(Config{
		Lookup: func(context.Context, string) ([]netip.Addr, error) {
			return nil, nil
		},
	})

	_, err = empty.Resolve(context.Background(), "example.com")
	require.ErrorIs(t, err, ErrResolve)

	// Failures are not cached; the next call looks up again.
	hits := 0
	flaky := New(Config{
		Lookup: func(context.Context, string) ([]netip.Addr, error) {
			hits++
			if hits == 1 {
				return nil, boom
			}
			return []netip.Addr{netip.MustParseAddr("198.51.100.9")}, nil
		},
	})

	_, err = flaky.Resolve(context.Background(), "example.com")
	require.Error(t, err)
	addr, err := flaky.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("198.51.100.9:80"), addr)
}

func TestResolveLiteralAddress(t *testing.T) {
	// The default lookup handles IP literals without any network.
	c := New(Config{Timeout: 2 * time.Second})

	addr, err := c.Resolve(context.Background(), "127.0.0.1:8080")
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("127.0.0.1:8080"), addr)
}

func TestResolveCollapsesConcurrentMisses(t *testing.T) {
	var lookups atomic.Int32
	c := New(Config{
		Lookup: func(context.Context, string) ([]netip.Addr, error) {
			lookups.Add(1)
			time.Sleep(30 * time.Millisecond)
			return []netip.Addr{netip.MustParseAddr("198.51.100.7")}, nil
		},
	})

	missBefore := promtestutil.ToFloat64(lookupsTotal.WithLabelValues("miss"))

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			addr, err := c.Resolve(context.Background(), "example.com")
			if err != nil || addr != netip.MustParseAddrPort("198.51.100.7:80") {
				t.Errorf("Resolve: addr=%v err=%v", addr, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	// A straggler that arrives after the group forgets the key may trigger
	// one extra lookup; collapsing still beats eight.
	require.LessOrEqual(t, lookups.Load(), int32(2))
	// The miss counter tracks lookups performed, not callers collapsed.
	require.Equal(t, float64(lookups.Load()), promtestutil.ToFloat64(lookupsTotal.WithLabelValues("miss"))-missBefore)
}

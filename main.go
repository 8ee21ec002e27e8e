package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/splitproxy/splitproxy/internal/engine"
	"github.com/splitproxy/splitproxy/internal/resolver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		proxyAddr  = pflag.String("proxy", "", "Upstream proxy address (host:port) that matching hosts are relayed to")
		hosts      = pflag.StringSlice("hosts", nil, "Comma-separated Host values forced through the upstream proxy; all other hosts connect direct")
		listenPort = pflag.Uint16("listen-port", 3128, "TCP port to listen on (binds 0.0.0.0)")
		workers    = pflag.Int("workers", 0, fmt.Sprintf("Worker pool size (0 = number of CPUs, capped at %d)", engine.MaxWorkers))

		configPath = pflag.String("config", "", "Optional TOML config file; explicitly set flags override it")

		debugListen  = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
		dnsTimeout   = pflag.Duration("dns-timeout", 10*time.Second, "Timeout for name resolution on the direct path")
		tcpKeepAlive = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		debug        = pflag.Bool("debug", false, "Enable per-connection routing decision and error logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	if *configPath != "" {
		if err := applyConfigFile(*configPath); err != nil {
			return fmt.Errorf("invalid --config: %w", err)
		}
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	if *proxyAddr == "" {
		return errors.New("upstream proxy server not specified (set --proxy)")
	}
	if len(*hosts) == 0 {
		return errors.New("target hosts not specified (set --hosts)")
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := resolver.New(resolver.Config{Timeout: *dnsTimeout})

	upstream, err := resolveProxyAddr(ctx, res, *proxyAddr)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}

	cfg := engine.Config{
		ProxyAddr: upstream,
		Hosts:     engine.NewHostSet(*hosts),
		Workers:   *workers,
		Debug:     *debug,
		KeepAlive: ka,
		Resolver:  res,
	}

	if *debugListen != "" {
		http.Handle("/metrics", promhttp.Handler())
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Printf("debug listening on %s", *debugListen)
	}

	ln, err := engine.ListenTCP(ctx, "tcp", fmt.Sprintf(":%d", *listenPort), ka)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := engine.New(ctx, cfg)
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	log.Printf("upstream proxy %s", upstream)
	if *debug {
		for h := range cfg.Hosts {
			log.Printf("  host %s", h)
		}
		log.Printf("workers: %d", srv.Workers())
	}
	log.Printf("splitproxy listening on %s", ln.Addr())

	err = g.Wait()

	log.Print("shutting down")
	return err
}

// resolveProxyAddr resolves the --proxy value once at startup. Unlike Host
// headers it must carry an explicit port.
func resolveProxyAddr(ctx context.Context, res *resolver.Cache, addr string) (netip.AddrPort, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return netip.AddrPort{}, fmt.Errorf("expected host:port: %w", err)
	}
	return res.Resolve(ctx, strings.ToLower(addr))
}

// fileConfig mirrors the command-line flags for --config files.
type fileConfig struct {
	Proxy        string   `toml:"proxy"`
	Hosts        []string `toml:"hosts"`
	ListenPort   uint16   `toml:"listen_port"`
	Workers      int      `toml:"workers"`
	Debug        bool     `toml:"debug"`
	DebugListen  string   `toml:"debug_listen"`
	DNSTimeout   string   `toml:"dns_timeout"`
	TCPKeepAlive string   `toml:"tcp_keepalive"`
}

// applyConfigFile loads a TOML config file and applies it to any flag the
// user did not set explicitly on the command line.
func applyConfigFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return err
	}

	set := func(name, value string) error {
		if value == "" || pflag.CommandLine.Changed(name) {
			return nil
		}
		return pflag.CommandLine.Set(name, value)
	}

	if err := set("proxy", fc.Proxy); err != nil {
		return err
	}
	if err := set("hosts", strings.Join(fc.Hosts, ",")); err != nil {
		return err
	}
	if fc.ListenPort != 0 {
		if err := set("listen-port", strconv.Itoa(int(fc.ListenPort))); err != nil {
			return err
		}
	}
	if fc.Workers != 0 {
		if err := set("workers", strconv.Itoa(fc.Workers)); err != nil {
			return err
		}
	}
	if fc.Debug {
		if err := set("debug", "true"); err != nil {
			return err
		}
	}
	if err := set("debug-listen", fc.DebugListen); err != nil {
		return err
	}
	if err := set("dns-timeout", fc.DNSTimeout); err != nil {
		return err
	}
	return set("tcp-keepalive", fc.TCPKeepAlive)
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

// Command ospf2d runs a standalone OSPFv2 routing daemon over every
// eligible network interface (or, if configured, a named subset).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ospf2d/ospf2d/internal/config"
	"github.com/ospf2d/ospf2d/internal/fib"
	"github.com/ospf2d/ospf2d/internal/iface"
	"github.com/ospf2d/ospf2d/internal/router"
)

// metricsAddr is where the Prometheus exposition endpoint listens. Not
// configurable: a CLI flag surface is explicitly out of scope.
const metricsAddr = ":9324"

func main() {
	log := slog.Default()

	cfg := config.Default()
	if len(os.Args) > 1 {
		loaded, err := config.LoadFile(os.Args[1])
		if err != nil {
			log.Error("failed to load configuration", "path", os.Args[1], "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	links, err := discoverLinks(cfg)
	if err != nil {
		log.Error("failed to discover network interfaces", "error", err)
		os.Exit(1)
	}
	if len(links) == 0 {
		log.Error("no eligible network interfaces found")
		os.Exit(1)
	}
	for _, l := range links {
		log.Info("running OSPFv2 on interface", "interface", l.Ifi.Name, "address", l.Addr, "type", l.Type)
	}

	installer := fib.NewNoopInstaller(log)
	reg := prometheus.NewRegistry()

	r, err := router.New(cfg, links, installer, reg, log)
	if err != nil {
		log.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped unexpectedly", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = r.Run(ctx)
	_ = srv.Close()
	if err != nil && ctx.Err() == nil {
		log.Error("router stopped with error", "error", err)
		os.Exit(1)
	}
}

// discoverLinks resolves every interface this router should run OSPFv2 on:
// every non-loopback, administratively up, multicast-or-point-to-point
// interface with an IPv4 address, or if cfg.Interfaces names a subset, only
// those.
func discoverLinks(cfg config.Config) ([]router.Link, error) {
	ifis, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	named := make(map[string]bool, len(cfg.Interfaces))
	for _, ic := range cfg.Interfaces {
		named[ic.Name] = true
	}

	var links []router.Link
	for idx := range ifis {
		ifi := ifis[idx]

		if ifi.Flags&net.FlagLoopback != 0 || ifi.Flags&net.FlagUp == 0 {
			continue
		}
		if len(named) > 0 && !named[ifi.Name] {
			continue
		}

		addr, mask, ok := firstIPv4(&ifi)
		if !ok {
			continue
		}

		typ := iface.TypeBroadcast
		switch {
		case ifi.Flags&net.FlagPointToPoint != 0:
			typ = iface.TypePointToPoint
		case ifi.Flags&net.FlagMulticast == 0:
			// OSPF needs either point-to-point framing or multicast to
			// reach its neighbors; an interface with neither can't run it.
			continue
		}

		links = append(links, router.Link{Ifi: &ifi, Addr: addr, Mask: mask, Type: typ})
	}
	return links, nil
}

// firstIPv4 returns the first IPv4 address and network mask configured on
// ifi, if any.
func firstIPv4(ifi *net.Interface) (addr, mask net.IP, ok bool) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, nil, false
	}
	for _, a := range addrs {
		ipNet, isIPNet := a.(*net.IPNet)
		if !isIPNet {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		return ip4, net.IP(ipNet.Mask), true
	}
	return nil, nil, false
}

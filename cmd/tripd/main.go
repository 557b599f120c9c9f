// tripd is a minimal TRIP Location Server daemon (RFC 3219), wiring
// command-line flags directly to the Control API. There is no config-file
// reader or interactive CLI; flags are the only configuration surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/trip/internal/control"
	tripmetrics "github.com/dantte-lp/trip/internal/metrics"
	"github.com/dantte-lp/trip/internal/rib"
	"github.com/dantte-lp/trip/internal/trip"
	appversion "github.com/dantte-lp/trip/internal/version"
)

// shutdownTimeout bounds how long Shutdown waits for every session to
// reach Idle before the process exits anyway.
const shutdownTimeout = 10 * time.Second

var errMissingPeerAddr = errors.New("peer flag missing an address")

func main() {
	os.Exit(run())
}

func run() int {
	listenAddr := flag.String("listen", ":6069", "TRIP listen address")
	itad := flag.Uint("itad", 0, "local ITAD number")
	routerID := flag.Uint("id", 0, "local router id")
	hold := flag.Uint("hold", 90, "advertised hold time in seconds")
	metricsAddr := flag.String("metrics-addr", ":9469", "Prometheus metrics listen address")
	gobgpAddr := flag.String("gobgp-addr", "", "GoBGP gRPC address; empty disables RIB hand-off")
	peers := flag.String("peers", "", "comma-separated list of addr=itad configured peers")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Parse()

	logger := newLogger(*logFormat)
	logger.Info("tripd starting", slog.String("version", appversion.Version), slog.String("listen", *listenAddr))

	reg := prometheus.NewRegistry()
	collector := tripmetrics.NewCollector(reg)

	opts := []trip.ManagerOption{trip.WithManagerMetrics(collector)}

	var ribClient rib.Client
	if *gobgpAddr != "" {
		c, err := rib.NewGRPCClient(rib.GRPCClientConfig{Addr: *gobgpAddr}, logger)
		if err != nil {
			logger.Error("failed to create gobgp client", slog.String("error", err.Error()))
			return 1
		}
		ribClient = c
		defer ribClient.Close()

		handler := rib.NewHandler(rib.HandlerConfig{Client: ribClient, Logger: logger})
		opts = append(opts, control.WithRIBHandler(handler))
	}

	ctl := control.New(logger, opts...)
	defer ctl.Destroy() //nolint:errcheck // best-effort on exit

	if err := configure(ctl, *listenAddr, uint32(*itad), uint32(*routerID), uint16(*hold), *peers); err != nil {
		logger.Error("failed to configure tripd", slog.String("error", err.Error()))
		return 1
	}

	if err := runServers(ctl, reg, *metricsAddr, logger); err != nil {
		logger.Error("tripd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("tripd stopped")
	return 0
}

func configure(ctl *control.Controller, listenAddr string, itad, id uint32, hold uint16, peerList string) error {
	if err := ctl.SetITAD(itad); err != nil {
		return fmt.Errorf("configure itad: %w", err)
	}
	if err := ctl.SetID(id); err != nil {
		return fmt.Errorf("configure id: %w", err)
	}
	if err := ctl.SetHold(hold); err != nil {
		return fmt.Errorf("configure hold: %w", err)
	}
	if err := ctl.Bind(listenAddr); err != nil {
		return fmt.Errorf("configure listen: %w", err)
	}
	if err := addConfiguredPeers(ctl, peerList); err != nil {
		return fmt.Errorf("configure peers: %w", err)
	}
	return nil
}

// addConfiguredPeers parses "-peers" of the form "addr=itad,addr=itad,..."
// and registers each with the Control API.
func addConfiguredPeers(ctl *control.Controller, peerList string) error {
	if peerList == "" {
		return nil
	}
	for _, entry := range strings.Split(peerList, ",") {
		addrStr, itadStr, ok := strings.Cut(entry, "=")
		if !ok || addrStr == "" {
			return fmt.Errorf("%q: %w", entry, errMissingPeerAddr)
		}
		addr, err := netip.ParseAddr(addrStr)
		if err != nil {
			return fmt.Errorf("parse peer address %q: %w", addrStr, err)
		}
		var remoteITAD uint64
		if itadStr != "" {
			remoteITAD, err = parseUint(itadStr)
			if err != nil {
				return fmt.Errorf("parse peer itad %q: %w", itadStr, err)
			}
		}
		if err := ctl.AddPeer(addr, uint32(remoteITAD), 0, trip.TransMode(0)); err != nil {
			return fmt.Errorf("add peer %s: %w", addrStr, err)
		}
	}
	return nil
}

func parseUint(s string) (uint64, error) {
	var v uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a valid unsigned integer", s)
		}
		v = v*10 + uint64(r-'0')
	}
	return v, nil
}

// runServers runs the Control API and the Prometheus metrics HTTP server
// under an errgroup with a signal-aware context, shutting both down
// together once the context is canceled.
func runServers(ctl *control.Controller, reg *prometheus.Registry, metricsAddr string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(metricsAddr, reg)
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", metricsAddr))
		return listenAndServe(gCtx, metricsSrv)
	})

	g.Go(func() error {
		return ctl.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ctl.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown did not complete cleanly", slog.String("error", err.Error()))
		}
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func listenAndServe(ctx context.Context, srv *http.Server) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", srv.Addr, err)
	}
	return nil
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/onesided/raa/bench"
	"github.com/onesided/raa/config"
	"github.com/onesided/raa/llsc"
	"github.com/onesided/raa/membership"
	"github.com/onesided/raa/memory"
	"github.com/onesided/raa/metrics"
	"github.com/onesided/raa/node"
	"github.com/onesided/raa/transport"
)

var (
	configPath  string
	clientAddr  string
	metricsAddr string
	latencyDir  string
	logLevel    string
	dialTimeout time.Duration
)

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (want debug, info, warn, or error)", s)
	}
}

func main() {
	root := &cobra.Command{
		Use:   "raa-node <host_id>",
		Short: "Run one node of an atomic-operations cluster",
		Long: `raa-node bootstraps this node's membership links, starts serving
the FetchAndAdd/TestAndSet operations over its client port, and (if this
node is the configured LL/SC coordinator) runs the periodic recovery sweep.`,
		Args: cobra.ExactArgs(1),
		RunE: run,
	}

	root.Flags().StringVar(&configPath, "config", "cluster.json", "path to the cluster configuration file")
	root.Flags().StringVar(&clientAddr, "client-addr", fmt.Sprintf(":%d", bench.DefaultClientPort), "address the client-facing bench protocol listens on")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", ":9100", "address the Prometheus /metrics endpoint listens on")
	root.Flags().StringVar(&latencyDir, "latency-log-dir", "", "if set, write a per-client-connection CSV latency log under this directory")
	root.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	root.Flags().DurationVar(&dialTimeout, "dial-timeout", 10*time.Second, "timeout for dialing peers during membership bootstrap")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	hostID64, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid host_id %q: %w", args[0], err)
	}
	hostID := uint16(hostID64)

	level, err := parseLogLevel(logLevel)
	if err != nil {
		return err
	}
	logger := log.New("module", "raa-node", "host_id", hostID)
	logger.SetLevel(level)

	cfg, err := config.Load(configPath, hostID)
	if err != nil {
		return err
	}

	logger.Info("bootstrapping cluster membership", "host_id", hostID, "n", cfg.N)
	table, err := membership.Bootstrap(cfg, dialTimeout)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer table.Close()

	local := memory.New(cfg.Tunables.MaxSlots, int(cfg.N))
	tr := transport.NewTCP(table, local, logger)
	defer tr.Close()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	nodeCtx := node.New(tr, cfg.Tunables, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if hostID == cfg.Tunables.CoordinatorNode {
		coord := llsc.NewCoordinator(tr, logger)
		go coord.Run(ctx, 10*time.Millisecond)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		metricsServer.Close()
	}()

	server := bench.NewServer(nodeCtx, logger, latencyDir)
	logger.Info("serving client requests", "addr", clientAddr)
	if err := server.ListenAndServe(ctx, clientAddr); err != nil {
		return err
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/onesided/raa/bench"
	"github.com/onesided/raa/config"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "raa-bench <num_threads> <requests_per_thread>",
		Short: "Drive load against a running cluster and report throughput",
		Args:  cobra.ExactArgs(2),
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "cluster.json", "path to the cluster configuration file")
	root.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	numThreads, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid num_threads %q: %w", args[0], err)
	}
	requestsPerThread, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid requests_per_thread %q: %w", args[1], err)
	}

	cfg, err := config.Load(configPath, 0)
	if err != nil {
		return err
	}

	addrs := make([]string, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		addrs = append(addrs, fmt.Sprintf("%s:%d", n.IP, bench.DefaultClientPort))
	}

	logger := log.New("module", "raa-bench")
	switch logLevel {
	case "debug":
		logger.SetLevel(slog.LevelDebug)
	case "info":
		logger.SetLevel(slog.LevelInfo)
	case "warn":
		logger.SetLevel(slog.LevelWarn)
	case "error":
		logger.SetLevel(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q (want debug, info, warn, or error)", logLevel)
	}

	fmt.Println("================================")
	fmt.Println()
	fmt.Printf("Cluster nodes: %d\n", len(addrs))
	fmt.Printf("Client threads: %d\n", numThreads)
	fmt.Printf("Requests per thread: %d\n", requestsPerThread)
	fmt.Printf("Total requests: %d\n", numThreads*requestsPerThread)
	fmt.Println("================================")
	fmt.Println()

	result, err := bench.RunLoad(context.Background(), logger, addrs, numThreads, requestsPerThread)
	if err != nil {
		return err
	}

	fmt.Println("===============")
	fmt.Printf("Total time: %.2f seconds\n", result.Elapsed.Seconds())
	fmt.Printf("Throughput: %.2f ops/sec\n", result.Throughput())
	fmt.Println("===============")
	return nil
}

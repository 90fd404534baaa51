package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/scraper"
)

const usage = `usage: scraper <command> [flags]

commands:
  init      create the database schema
  reset     delete harvested listings and reset batch progress
  plan      fetch brand/model facets and queue capped search batches
  run       process every unprocessed batch (smallest first)
  run-one   reprocess a single batch by id
  release   return a batch left running by a crashed process to the queue
  status    print queue and listing counts
  export    write stored listings to CSV, JSONL or both

common flags:
  -config path      TOML config file
  -store driver     sqlite or postgres
  -db path          SQLite database path
  -metrics-addr a   Prometheus metrics listen address (e.g. :9090)
  -v                verbose logging
`

type commonFlags struct {
	configPath  string
	verbose     bool
	metricsAddr string
	dbPath      string
	store       string
	parallel    int
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	var common commonFlags
	fs.StringVar(&common.configPath, "config", "", "TOML config file")
	fs.BoolVar(&common.verbose, "v", false, "Enable verbose logging")
	fs.StringVar(&common.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	fs.StringVar(&common.dbPath, "db", "", "SQLite database path")
	fs.StringVar(&common.store, "store", "", "Store driver: sqlite or postgres")
	fs.IntVar(&common.parallel, "parallel", 0, "Number of concurrent page requests")
	var extra commandFlags
	if cmd.flags != nil {
		cmd.flags(fs, &extra)
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	cfg, err := loadConfig(fs, common)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, aborting the current batch and returning it to the queue")
	}()

	metrics := scraper.NewMetrics()
	metricsServer := startMetricsServer(cfg.MetricsAddr, metrics)

	runErr := cmd.run(ctx, &app{cfg: cfg, logger: logger, metrics: metrics, flags: extra})

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if runErr != nil {
		slog.Error(name+" failed", slog.Any("error", runErr))
		os.Exit(1)
	}
}

// loadConfig applies defaults, then the config file, then SCRAPER_* variables, then explicit flags.
func loadConfig(fs *flag.FlagSet, common commonFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if common.configPath != "" {
		if err := cfg.LoadFile(common.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			cfg.Verbose = common.verbose
		case "metrics-addr":
			cfg.MetricsAddr = common.metricsAddr
		case "db":
			cfg.DBPath = common.dbPath
		case "store":
			cfg.StoreDriver = strings.ToLower(common.store)
		case "parallel":
			cfg.Parallelism = common.parallel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

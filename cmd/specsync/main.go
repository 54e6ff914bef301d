// Command specsync synchronizes the project's specification documents with
// the facts reported by extractors and prints a run report.
package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"specsync/internal/config"
	"specsync/internal/extract"
	"specsync/internal/logger"
	"specsync/internal/observability"
	"specsync/internal/persistence"
	"specsync/internal/report"
	"specsync/internal/syncrun"
)

var exitFunc = os.Exit

// main runs the command-line interface using the program arguments and exits
// the process with the status code returned by cli.
func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

type options struct {
	configPath  string
	root        string
	factsDir    string
	domains     string
	format      string
	output      string
	storage     string
	metricsAddr string
	logLevel    string
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("specsync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "path to specsync.yaml (defaults apply when empty)")
	fs.StringVar(&opts.root, "root", "", "project root (overrides project.root)")
	fs.StringVar(&opts.factsDir, "facts", "", "directory holding <domain>.yaml fact files (overrides project.facts_dir)")
	fs.StringVar(&opts.domains, "domains", "", "comma separated domains to sync (default: all)")
	fs.StringVar(&opts.format, "format", "", "report format: markdown|json")
	fs.StringVar(&opts.output, "output", "", "write the report to this file instead of stdout")
	fs.StringVar(&opts.storage, "storage", "", "storage driver: fs|memory|s3|sqlite|postgres|redis")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve metrics on this address while the run is in progress")
	fs.StringVar(&opts.logLevel, "log-level", "", "debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "specsync: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed, err := run(ctx, cfg, stdout, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "specsync: %v\n", err)
		return 1
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// loadConfig layers flags over the config file and environment.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Project.Root, opts.root)
	set(&cfg.Project.FactsDir, opts.factsDir)
	set(&cfg.Report.Format, opts.format)
	set(&cfg.Report.Output, opts.output)
	set(&cfg.Storage.Driver, opts.storage)
	set(&cfg.Observability.MetricsAddr, opts.metricsAddr)
	set(&cfg.Logging.Level, opts.logLevel)
	if opts.domains != "" {
		cfg.Sync.Domains = strings.Split(opts.domains, ",")
	}
	if cfg.Observability.MetricsAddr != "" && cfg.Observability.Metrics == "none" {
		cfg.Observability.Metrics = "prometheus"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// run executes one synchronization run and returns the number of failed domains.
func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (int, error) {
	log := logger.New(stderr, cfg.Logging.Level, cfg.Logging.Format)
	log.Debug("configuration loaded", "config", cfg.String())

	domains, err := cfg.Domains()
	if err != nil {
		return 0, err
	}

	store, err := persistence.OpenDocumentStore(ctx, cfg.Storage)
	if err != nil {
		return 0, fmt.Errorf("open document store: %w", err)
	}
	defer func() {
		if cerr := persistence.Close(store); cerr != nil {
			log.Warn("closing document store failed", "error", cerr)
		}
	}()

	metrics, tracer := observability.FromConfig(cfg.Observability.Metrics, cfg.Observability.Tracing, stderr)
	if cfg.Observability.MetricsAddr != "" {
		shutdown, err := serveMetrics(cfg.Observability.MetricsAddr, metrics, log)
		if err != nil {
			return 0, err
		}
		defer shutdown()
	}

	sinks, err := report.FromConfig(cfg.Report, log, stdout)
	if err != nil {
		return 0, fmt.Errorf("configure report sinks: %w", err)
	}
	defer func() {
		if cerr := sinks.Close(); cerr != nil {
			log.Warn("closing report sinks failed", "error", cerr)
		}
	}()

	runner, err := syncrun.New(store,
		syncrun.WithConfig(*cfg),
		syncrun.WithLogger(log),
		syncrun.WithMetrics(metrics),
		syncrun.WithTracer(tracer),
		syncrun.WithDefaultExtractor(extract.NewFileExtractor(cfg.Project.FactsDir)),
	)
	if err != nil {
		return 0, err
	}
	result, err := runner.Run(ctx, domains...)
	if err != nil {
		return 0, err
	}
	if err := sinks.Publish(ctx, result); err != nil {
		return len(result.Failed()), fmt.Errorf("publish report: %w", err)
	}
	return len(result.Failed()), nil
}

// serveMetrics exposes the recorder over HTTP until the returned shutdown is called.
func serveMetrics(addr string, metrics observability.MetricsRecorder, log *logger.Logger) (func(), error) {
	mux := http.NewServeMux()
	switch m := metrics.(type) {
	case *observability.PrometheusMetrics:
		mux.Handle("/metrics", m.Handler())
	case *observability.ExpvarMetricsRecorder:
		mux.Handle("/debug/vars", expvar.Handler())
	default:
		return nil, fmt.Errorf("metrics backend %T cannot be served", metrics)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

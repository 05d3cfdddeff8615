package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/okian/neurogame/internal/adapters/repository"
	"github.com/okian/neurogame/internal/analytics"
	"github.com/okian/neurogame/internal/config"
	"github.com/okian/neurogame/pkg/logger"
)

// Source kinds.
const (
	sourceHTTP    = "http"
	sourceStore   = "store"
	sourceDataset = "dataset"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("analytics: " + err.Error() + "\n")
		if errors.Is(err, analytics.ErrInsufficientData) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	var (
		source       = flag.String("source", sourceHTTP, "Where events come from: http, store or dataset")
		server       = flag.String("server", cfg.AnalyticsServer, "Server base URL for the http source")
		apiKey       = flag.String("api-key", cfg.APIKey, "Export api key")
		pageSize     = flag.Int("page-size", cfg.AnalyticsPageSize, "Export page size")
		maxPages     = flag.Int("max-pages", cfg.AnalyticsMaxPages, "Maximum export pages")
		datasetDir   = flag.String("dataset", cfg.DatasetDir, "Dataset bridge directory")
		reportsDir   = flag.String("reports", cfg.ReportsDir, "Reports directory")
		permutations = flag.Int("permutations", cfg.Permutations, "Permutation test iterations")
		minSessions  = flag.Int("min-sessions", cfg.MinSessions, "Minimum sessions per mode")
		seed         = flag.Uint64("seed", cfg.Seed, "Permutation seed")
		window       = flag.Int("switch-window", cfg.SwitchWindow, "Answered tasks in the switch-cost baseline")
		metricList   = flag.String("metrics", strings.Join(cfg.CompareMetrics, ","), "Comma separated metrics to compare")
		verbose      = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return err
	}
	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	if err := logger.SetLevelString(level); err != nil {
		_ = logger.SetLevelString("info")
	}
	log := logger.Get().Named("analytics")

	var src analytics.Source
	switch *source {
	case sourceHTTP:
		src = analytics.NewHTTPSource(*server, *apiKey,
			analytics.WithPageSize(*pageSize),
			analytics.WithMaxPages(*maxPages),
			analytics.WithSourceLogger(log),
		)
	case sourceStore:
		st, err := repository.Open(ctx, cfg.StoreDriver, cfg.StorePath, cfg.PostgresDSN, repository.WithLogger(log))
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		src = analytics.NewStoreSource(st, *pageSize)
	case sourceDataset:
		src = analytics.NewDatasetSource(*datasetDir)
	default:
		return fmt.Errorf("unknown source %q", *source)
	}

	eng, err := analytics.NewEngine(src,
		analytics.WithDatasetDir(*datasetDir),
		analytics.WithReportsDir(*reportsDir),
		analytics.WithPermutations(*permutations),
		analytics.WithMinSessions(*minSessions),
		analytics.WithSeed(*seed),
		analytics.WithSwitchWindow(*window),
		analytics.WithMetrics(splitList(*metricList)...),
		analytics.WithLogger(log),
	)
	if err != nil {
		return err
	}
	rep, err := eng.Run(ctx)
	if err != nil {
		return err
	}
	printReport(rep)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printReport(rep *analytics.Report) {
	fmt.Printf("Sessions: %d (raw events %d)\n", len(rep.Sessions), rep.RawEvents)
	for mode, a := range rep.Aggregates {
		fmt.Printf("- %s (n=%d): acc=%.3f rt=%.1f var=%.1f switch=%.1f fatigue=%.3f\n",
			mode, a.Sessions, a.Accuracy, a.MeanRT, a.RTVariance, a.SwitchCost, a.FatigueTrend)
	}
	fmt.Printf("Comparison (baseline=%d, model=%d, permutations=%d):\n",
		rep.Comparison.BaselineSessions, rep.Comparison.ModelSessions, rep.Comparison.Permutations)
	for _, c := range rep.Comparison.Metrics {
		verdict := "not better"
		if c.ModelBetter {
			verdict = "better"
		}
		fmt.Printf("- %s: baseline=%.4f model=%.4f effect=%.4f p=%.4f -> model %s\n",
			c.Metric, c.BaselineMean, c.ModelMean, c.Effect, c.PValue, verdict)
	}
}

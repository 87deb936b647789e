// Command scraper collects Dutch horse-race results from ndr.nl for a
// user-supplied year-month range and writes them to delimited files in the
// output directory: an event-ID file, a results file with a fixed header,
// and an errors file that only appears when something went wrong.
package main

import (
	"bufio"
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

	"github.com/mkoolhoven/go-scrape-ndr/config"
	"github.com/mkoolhoven/go-scrape-ndr/models"
	"github.com/mkoolhoven/go-scrape-ndr/pipeline"
	"github.com/mkoolhoven/go-scrape-ndr/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const intro = `This tool fetches race results of Dutch horse races from ndr.nl within a
user-defined interval of months. It writes the event IDs and the race
results to csv files in the output directory; a third file logs errors if
any occur.`

func main() {
	defaultCfg := config.DefaultConfig()

	startDefault := ""
	if value, ok := config.EnvString("NDR_START"); ok {
		startDefault = value
	}
	endDefault := ""
	if value, ok := config.EnvString("NDR_END"); ok {
		endDefault = value
	}
	outputDefault := defaultCfg.OutputDir
	if value, ok := config.EnvString("NDR_OUTPUT_DIR"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("NDR_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	retriesDefault := defaultCfg.MaxRetries
	if value, ok, err := config.EnvInt("NDR_MAX_RETRIES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid NDR_MAX_RETRIES: %v\n", err)
		os.Exit(1)
	} else if ok {
		retriesDefault = value
	}

	start := flag.String("start", startDefault, "First month of the interval (YYYY-MM); prompted for when empty")
	end := flag.String("end", endDefault, "Last month of the interval (YYYY-MM); prompted for when empty")
	outputDir := flag.String("output-dir", outputDefault, "Directory for the output files")
	outputFormat := flag.String("format", "csv", "Results output format: csv, json, or dual")
	workers := flag.Int("workers", defaultCfg.Workers, "Pipeline workers (1 keeps file order deterministic)")
	delayMs := flag.Int("delay", int(defaultCfg.Delay/time.Millisecond), "Delay between requests (milliseconds)")
	randomDelayMs := flag.Int("random-delay", 0, "Random jitter added to delay (milliseconds)")
	timeoutSec := flag.Int("timeout", int(defaultCfg.Timeout/time.Second), "Request timeout (seconds)")
	maxRetries := flag.Int("max-retries", retriesDefault, "Maximum retry attempts per page")
	retryBackoffMs := flag.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	dedupeSize := flag.Int("dedupe-size", 0, "LRU size for duplicate-row suppression (0 disables)")
	listingURL := flag.String("listing-url", defaultCfg.ListingURL, "Listing page URL")
	resultsURL := flag.String("results-url", defaultCfg.ResultsURL, "Results endpoint URL")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	setLogLoggerLevel(level.Level())

	if *start == "" || *end == "" {
		fmt.Println(intro)
		fmt.Println()
		reader := bufio.NewReader(os.Stdin)
		if *start == "" {
			*start = promptLine(reader, "Please enter the start of the interval by typing year and month (e.g. '2013-02' for February 2013): ")
		}
		if *end == "" {
			*end = promptLine(reader, "Please enter the end of the interval by typing year and month (e.g. '2013-02' for February 2013): ")
		}
	}

	cfg := buildConfig(defaultCfg, *start, *end, *outputDir, *outputFormat, *workers, *delayMs, *randomDelayMs, *timeoutSec, *maxRetries, *retryBackoffMs, *retryBackoffMaxMs, *respectRobots, *dedupeSize, *listingURL, *resultsURL, *metricsAddr, *verbose)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	startMonth, _ := models.ParseMonth(cfg.StartMonth)
	endMonth, _ := models.ParseMonth(cfg.EndMonth)
	eventsPath, resultsPath, errorsPath := pipeline.OutputPaths(cfg.OutputDir, startMonth, endMonth)

	slog.Info("starting scrape",
		slog.String("start", cfg.StartMonth),
		slog.String("end", cfg.EndMonth),
		slog.String("output_dir", cfg.OutputDir),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(cfg.OutputFormat, resultsPath)
	if err != nil {
		slog.Error("creating results writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close results writer", slog.Any("error", err))
		}
	}()

	eventsWriter, err := pipeline.NewEventsWriter(eventsPath)
	if err != nil {
		slog.Error("creating events writer", slog.Any("error", err))
		os.Exit(1)
	}
	errorsWriter := pipeline.NewErrorsWriter(errorsPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing current page")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.Workers)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, err := s.Run(ctx, p)
	if err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := eventsWriter.WriteAll(result.Events); err != nil {
		slog.Error("writing events file failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := eventsWriter.Close(); err != nil {
		slog.Error("close events writer", slog.Any("error", err))
	}

	if err := errorsWriter.WriteAll(result.Errors); err != nil {
		slog.Error("writing errors file failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := errorsWriter.Close(); err != nil {
		slog.Error("close errors writer", slog.Any("error", err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, time.Since(startTime), eventsPath, resultsPath, errorsPath)
}

func promptLine(reader *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		slog.Error("reading input", slog.Any("error", err))
		os.Exit(1)
	}
	return strings.TrimSpace(line)
}

func buildConfig(cfg *config.Config, start, end, outputDir, outputFormat string, workers, delayMs, randomDelayMs, timeoutSec, maxRetries, retryBackoffMs, retryBackoffMaxMs int, respectRobots bool, dedupeSize int, listingURL, resultsURL, metricsAddr string, verbose bool) *config.Config {
	cfg.StartMonth = start
	cfg.EndMonth = end
	cfg.OutputDir = outputDir
	cfg.OutputFormat = strings.ToLower(outputFormat)
	cfg.Workers = workers
	cfg.Delay = time.Duration(delayMs) * time.Millisecond
	cfg.RandomDelay = time.Duration(randomDelayMs) * time.Millisecond
	cfg.Timeout = time.Duration(timeoutSec) * time.Second
	cfg.MaxRetries = maxRetries
	cfg.RetryBackoff = time.Duration(retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(retryBackoffMaxMs) * time.Millisecond
	cfg.RespectRobotsTxt = respectRobots
	cfg.DedupeMaxSize = dedupeSize
	cfg.ListingURL = listingURL
	cfg.ResultsURL = resultsURL
	cfg.MetricsAddr = metricsAddr
	cfg.Verbose = verbose
	return cfg
}

func createWriter(format, resultsPath string) (pipeline.OutputWriter, error) {
	jsonPath := strings.TrimSuffix(resultsPath, ".csv") + ".jsonl"
	switch format {
	case "json":
		return pipeline.NewJSONWriter(jsonPath)
	case "csv":
		return pipeline.NewCSVWriter(resultsPath)
	case "dual":
		return pipeline.NewDualWriter(resultsPath, jsonPath)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.ScraperResult, duration time.Duration, eventsPath, resultsPath, errorsPath string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	fmt.Printf("  Months:        %d\n", result.MonthCount)
	fmt.Printf("  Events:        %d\n", len(result.Events))
	fmt.Printf("  Result rows:   %d\n", result.RowCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Errors:        %d\n", len(result.Errors))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Events file:   %s\n", eventsPath)
	fmt.Printf("  Results file:  %s\n", resultsPath)
	if len(result.Errors) > 0 {
		fmt.Printf("  Errors file:   %s\n", errorsPath)
	}
	fmt.Println(separator)
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
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
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

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

const monthLayout = "2006-01"

// Config holds scraper configuration.
type Config struct {
	ListingURL string
	ResultsURL string

	// StartMonth and EndMonth bound the inclusive year-month range,
	// both in "YYYY-MM" form.
	StartMonth string
	EndMonth   string

	Workers          int
	Delay            time.Duration
	RandomDelay      time.Duration
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	OutputDir        string
	OutputFormat     string // csv, json, or dual
	UserAgent        string
	Verbose          bool
	RespectRobotsTxt bool
	MetricsAddr      string

	PipelineBufferSize int
	BatchSize          int
	// DedupeMaxSize bounds the LRU used for duplicate suppression.
	// Zero disables dedupe, which keeps rows in encounter order with
	// repeats preserved.
	DedupeMaxSize int
}

// DefaultConfig returns conservative defaults for the ndr.nl target.
func DefaultConfig() *Config {
	return &Config{
		ListingURL:         "https://ndr.nl/selectieproeven/",
		ResultsURL:         "https://ndr.nl/wp-content/plugins/ndr/ndr-print.php",
		Workers:            1,
		Delay:              500 * time.Millisecond,
		RandomDelay:        0,
		Timeout:            30 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		OutputDir:          ".",
		OutputFormat:       "csv",
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:            false,
		RespectRobotsTxt:   false,
		MetricsAddr:        "",
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      0,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateURL("listing URL", c.ListingURL); err != nil {
		return err
	}
	if err := validateURL("results URL", c.ResultsURL); err != nil {
		return err
	}

	start, err := time.Parse(monthLayout, c.StartMonth)
	if err != nil {
		return fmt.Errorf("invalid start month %q (want YYYY-MM)", c.StartMonth)
	}
	end, err := time.Parse(monthLayout, c.EndMonth)
	if err != nil {
		return fmt.Errorf("invalid end month %q (want YYYY-MM)", c.EndMonth)
	}
	if start.After(end) {
		return fmt.Errorf("start month %s is after end month %s", c.StartMonth, c.EndMonth)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize < 0 {
		return fmt.Errorf("dedupe max size cannot be negative")
	}

	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// EnvString reads a string environment override.
func EnvString(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// EnvInt reads an integer environment override.
func EnvInt(name string) (int, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	return value, true, nil
}

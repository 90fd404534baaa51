package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds harvester configuration.
type Config struct {
	BaseURL          string
	Referer          string
	UserAgent        string
	PageSize         int
	ChunkSize        int
	Parallelism      int
	Timeout          time.Duration
	ChunkDelay       time.Duration
	SequentialDelay  time.Duration
	BatchDelay       time.Duration
	FacetCap         int
	StoreDriver      string // sqlite or postgres
	DBPath           string
	PostgresDSN      string
	PostgresMaxConns int
	DedupeCacheSize  int
	MetricsAddr      string
	Verbose          bool
}

// DefaultConfig returns the defaults used against the live search endpoint.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://www.autowereld.nl/zoeken.html",
		Referer:          "https://www.autowereld.nl/",
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		PageSize:         100,
		ChunkSize:        10,
		Parallelism:      5,
		Timeout:          30 * time.Second,
		ChunkDelay:       100 * time.Millisecond,
		SequentialDelay:  300 * time.Millisecond,
		BatchDelay:       200 * time.Millisecond,
		FacetCap:         9000,
		StoreDriver:      "sqlite",
		DBPath:           "output/listings.db",
		PostgresMaxConns: 4,
		DedupeCacheSize:  100000,
		MetricsAddr:      "",
		Verbose:          false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ChunkDelay < 0 {
		return fmt.Errorf("chunk delay cannot be negative")
	}
	if c.SequentialDelay < 0 {
		return fmt.Errorf("sequential delay cannot be negative")
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("batch delay cannot be negative")
	}
	if c.FacetCap <= 0 {
		return fmt.Errorf("facet cap must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DedupeCacheSize < 0 {
		return fmt.Errorf("dedupe cache size cannot be negative")
	}

	switch c.StoreDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("db path cannot be empty for the sqlite store")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres DSN cannot be empty for the postgres store")
		}
		if c.PostgresMaxConns <= 0 {
			return fmt.Errorf("postgres max conns must be positive")
		}
	default:
		return fmt.Errorf("store driver must be sqlite or postgres")
	}

	return nil
}

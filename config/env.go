package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses key as a Go duration ("300ms", "30s").
func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// ApplyEnv overlays SCRAPER_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("SCRAPER_BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := EnvString("SCRAPER_USER_AGENT"); ok {
		c.UserAgent = v
	}
	if v, ok := EnvString("SCRAPER_STORE"); ok {
		c.StoreDriver = strings.ToLower(v)
	}
	if v, ok := EnvString("SCRAPER_DB"); ok {
		c.DBPath = v
	}
	if v, ok := EnvString("SCRAPER_PG_DSN"); ok {
		c.PostgresDSN = v
	}
	if v, ok := EnvString("SCRAPER_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SCRAPER_PARALLEL", &c.Parallelism},
		{"SCRAPER_CHUNK_SIZE", &c.ChunkSize},
		{"SCRAPER_FACET_CAP", &c.FacetCap},
		{"SCRAPER_DEDUPE_CACHE", &c.DedupeCacheSize},
	}
	for _, item := range ints {
		v, ok, err := EnvInt(item.key)
		if err != nil {
			return err
		}
		if ok {
			*item.dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SCRAPER_TIMEOUT", &c.Timeout},
		{"SCRAPER_CHUNK_DELAY", &c.ChunkDelay},
		{"SCRAPER_SEQUENTIAL_DELAY", &c.SequentialDelay},
		{"SCRAPER_BATCH_DELAY", &c.BatchDelay},
	}
	for _, item := range durations {
		v, ok, err := EnvDuration(item.key)
		if err != nil {
			return err
		}
		if ok {
			*item.dst = v
		}
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config for TOML files. Unset keys leave the current value alone.
type fileConfig struct {
	BaseURL          *string `toml:"base_url"`
	Referer          *string `toml:"referer"`
	UserAgent        *string `toml:"user_agent"`
	PageSize         *int    `toml:"page_size"`
	ChunkSize        *int    `toml:"chunk_size"`
	Parallelism      *int    `toml:"parallelism"`
	Timeout          *string `toml:"timeout"`
	ChunkDelay       *string `toml:"chunk_delay"`
	SequentialDelay  *string `toml:"sequential_delay"`
	BatchDelay       *string `toml:"batch_delay"`
	FacetCap         *int    `toml:"facet_cap"`
	StoreDriver      *string `toml:"store"`
	DBPath           *string `toml:"db_path"`
	PostgresDSN      *string `toml:"postgres_dsn"`
	PostgresMaxConns *int    `toml:"postgres_max_conns"`
	DedupeCacheSize  *int    `toml:"dedupe_cache_size"`
	MetricsAddr      *string `toml:"metrics_addr"`
	Verbose          *bool   `toml:"verbose"`
}

// LoadFile overlays the TOML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return c.decodeTOML(data)
}

func (c *Config) decodeTOML(data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.BaseURL, fc.BaseURL)
	setString(&c.Referer, fc.Referer)
	setString(&c.UserAgent, fc.UserAgent)
	setString(&c.StoreDriver, fc.StoreDriver)
	setString(&c.DBPath, fc.DBPath)
	setString(&c.PostgresDSN, fc.PostgresDSN)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	setInt(&c.PageSize, fc.PageSize)
	setInt(&c.ChunkSize, fc.ChunkSize)
	setInt(&c.Parallelism, fc.Parallelism)
	setInt(&c.FacetCap, fc.FacetCap)
	setInt(&c.PostgresMaxConns, fc.PostgresMaxConns)
	setInt(&c.DedupeCacheSize, fc.DedupeCacheSize)
	if fc.Verbose != nil {
		c.Verbose = *fc.Verbose
	}

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"timeout", fc.Timeout, &c.Timeout},
		{"chunk_delay", fc.ChunkDelay, &c.ChunkDelay},
		{"sequential_delay", fc.SequentialDelay, &c.SequentialDelay},
		{"batch_delay", fc.BatchDelay, &c.BatchDelay},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

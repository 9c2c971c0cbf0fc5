// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all tunables for the document engine, the VDF clock, the
// verifier, and the CLI. Defaults match the documented production set; tests
// shrink the iteration bounds to keep proofs fast.
type Config struct {
	// VDF clock settings.
	TargetTickInterval time.Duration // wall-clock target between ticks
	InitialIterations  uint64        // difficulty the clock starts at
	MinIterations      uint64        // lower clamp for difficulty updates
	MaxIterations      uint64        // upper clamp for difficulty updates
	ModulusBits        int           // size of freshly generated moduli

	// Difficulty controller settings.
	DifficultyWindowSize     int    // (sequence, time) samples retained
	DifficultyAdjustInterval uint64 // ticks between adjustment passes

	// Document limits.
	MaxContentSize int // bytes per paragraph
	MaxLeaves      int // committed paragraphs per document
	MaxBufferSize  int // editor buffer cap; checked by Validate only, the TUI does not enforce it

	// Persistence settings.
	PersistedTickCap int // ticks written to the primary .bq file

	// Verification settings.
	LeafGapThreshold uint64 // tick gap between adjacent leaves worth flagging

	// Recent-documents registry.
	RecentFilesCap int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Missing variables use defaults; only malformed values are rejected.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "bitquill"),
		LogLevel:     envStr("BITQUILL_LOG_LEVEL", "info"),
	}

	cfg.InitialIterations, errs = collectUint64(errs, "BITQUILL_INITIAL_ITERATIONS", 100_000)
	cfg.MinIterations, errs = collectUint64(errs, "BITQUILL_MIN_ITERATIONS", 100_000)
	cfg.MaxIterations, errs = collectUint64(errs, "BITQUILL_MAX_ITERATIONS", 1_000_000_000)
	cfg.DifficultyAdjustInterval, errs = collectUint64(errs, "BITQUILL_DIFFICULTY_ADJUST_INTERVAL", 1000)
	cfg.LeafGapThreshold, errs = collectUint64(errs, "BITQUILL_LEAF_GAP_THRESHOLD", 500)

	cfg.ModulusBits, errs = collectInt(errs, "BITQUILL_MODULUS_BITS", 2048)
	cfg.DifficultyWindowSize, errs = collectInt(errs, "BITQUILL_DIFFICULTY_WINDOW", 1000)
	cfg.MaxContentSize, errs = collectInt(errs, "BITQUILL_MAX_CONTENT_SIZE", 1_000_000)
	cfg.MaxLeaves, errs = collectInt(errs, "BITQUILL_MAX_LEAVES", 50_000)
	cfg.MaxBufferSize, errs = collectInt(errs, "BITQUILL_MAX_BUFFER", 10_000_000)
	cfg.PersistedTickCap, errs = collectInt(errs, "BITQUILL_TICK_CAP", 100)
	cfg.RecentFilesCap, errs = collectInt(errs, "BITQUILL_RECENT_CAP", 10)

	cfg.TargetTickInterval, errs = collectDuration(errs, "BITQUILL_TARGET_TICK_INTERVAL", time.Second)
	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the production configuration without consulting the
// environment. Library consumers that don't want env coupling start here and
// override fields through options.
func Default() Config {
	return Config{
		TargetTickInterval:       time.Second,
		InitialIterations:        100_000,
		MinIterations:            100_000,
		MaxIterations:            1_000_000_000,
		ModulusBits:              2048,
		DifficultyWindowSize:     1000,
		DifficultyAdjustInterval: 1000,
		MaxContentSize:           1_000_000,
		MaxLeaves:                50_000,
		MaxBufferSize:            10_000_000,
		PersistedTickCap:         100,
		LeafGapThreshold:         500,
		RecentFilesCap:           10,
		ServiceName:              "bitquill",
		LogLevel:                 "info",
	}
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	var errs []error

	if c.TargetTickInterval <= 0 {
		errs = append(errs, errors.New("config: BITQUILL_TARGET_TICK_INTERVAL must be positive"))
	}
	if c.MinIterations == 0 {
		errs = append(errs, errors.New("config: BITQUILL_MIN_ITERATIONS must be positive"))
	}
	if c.MaxIterations < c.MinIterations {
		errs = append(errs, errors.New("config: BITQUILL_MAX_ITERATIONS must not be below BITQUILL_MIN_ITERATIONS"))
	}
	if c.InitialIterations < c.MinIterations || c.InitialIterations > c.MaxIterations {
		errs = append(errs, errors.New("config: BITQUILL_INITIAL_ITERATIONS must lie within the min/max bounds"))
	}
	if c.ModulusBits < 1024 {
		errs = append(errs, errors.New("config: BITQUILL_MODULUS_BITS must be at least 1024"))
	}
	if c.DifficultyWindowSize <= 0 {
		errs = append(errs, errors.New("config: BITQUILL_DIFFICULTY_WINDOW must be positive"))
	}
	if c.DifficultyAdjustInterval == 0 {
		errs = append(errs, errors.New("config: BITQUILL_DIFFICULTY_ADJUST_INTERVAL must be positive"))
	}
	if c.MaxContentSize <= 0 {
		errs = append(errs, errors.New("config: BITQUILL_MAX_CONTENT_SIZE must be positive"))
	}
	if c.MaxLeaves <= 0 {
		errs = append(errs, errors.New("config: BITQUILL_MAX_LEAVES must be positive"))
	}
	if c.MaxBufferSize <= 0 {
		errs = append(errs, errors.New("config: BITQUILL_MAX_BUFFER must be positive"))
	}
	if c.PersistedTickCap <= 0 {
		errs = append(errs, errors.New("config: BITQUILL_TICK_CAP must be positive"))
	}
	if c.RecentFilesCap <= 0 {
		errs = append(errs, errors.New("config: BITQUILL_RECENT_CAP must be positive"))
	}

	return errors.Join(errs...)
}

func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectUint64(errs []error, key string, fallback uint64) (uint64, []error) {
	v, err := envUint64(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envUint64(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid unsigned integer", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

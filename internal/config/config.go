// Package config loads the pipeline's configuration from a YAML file,
// environment variables, and built-in defaults: environment variables
// override the file, and the file overrides the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ebookops/calibre-pipeline/internal/logger"
)

// Config holds every configurable aspect of the pipeline.
type Config struct {
	Logging struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"logging"`

	ASINLookup struct {
		CachePath string        `yaml:"cache_path" env:"ASIN_CACHE_PATH"`
		Sources   []string      `yaml:"sources" env:"ASIN_SOURCES"`
		RateLimit float64       `yaml:"rate_limit" env:"ASIN_RATE_LIMIT"`
		CacheTTL  time.Duration `yaml:"cache_ttl" env:"ASIN_CACHE_TTL"`
	} `yaml:"asin_lookup"`

	Validation struct {
		CachePath string `yaml:"cache_path" env:"VALIDATION_CACHE_PATH"`
		Workers   int    `yaml:"workers" env:"VALIDATION_WORKERS"`
	} `yaml:"validation"`

	Conversion struct {
		MaxParallel       int    `yaml:"max_parallel" env:"CONVERSION_MAX_PARALLEL"`
		OutputPath        string `yaml:"output_path" env:"CONVERSION_OUTPUT_PATH"`
		KFXPluginRequired bool   `yaml:"kfx_plugin_required" env:"CONVERSION_KFX_PLUGIN_REQUIRED"`
	} `yaml:"conversion"`
}

// DefaultConfig returns a fully populated Config using the pipeline's
// built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.ASINLookup.CachePath = "./cache/asin_cache.db"
	cfg.ASINLookup.Sources = []string{"isbn-direct", "amazon-search", "google-books", "openlibrary"}
	cfg.ASINLookup.RateLimit = 2.0
	cfg.ASINLookup.CacheTTL = 30 * 24 * time.Hour

	cfg.Validation.CachePath = "./cache/validation_cache.db"
	cfg.Validation.Workers = 4

	cfg.Conversion.MaxParallel = 4
	cfg.Conversion.OutputPath = "./converted"
	cfg.Conversion.KFXPluginRequired = true

	return cfg
}

// Load reads configFile (if non-empty and present), merges in environment
// variables, and returns the resulting Config. Priority: env > file >
// defaults.
func Load(configFile string) (*Config, error) {
	log := logger.Get().With("config")
	cfg := DefaultConfig()

	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err == nil {
			configFile = abs
		}

		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Warn().Str("path", configFile).Msg("config file not found, using defaults and environment")
		} else {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			fileCfg := &Config{}
			if err := yaml.Unmarshal(data, fileCfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
			mergeConfigs(cfg, fileCfg)
			log.Info().Str("path", configFile).Msg("loaded configuration file")
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("asin_cache_path", cfg.ASINLookup.CachePath).
		Float64("asin_rate_limit", cfg.ASINLookup.RateLimit).
		Int("conversion_max_parallel", cfg.Conversion.MaxParallel).
		Msg("configuration resolved")

	return cfg, nil
}

// Validate checks invariants that cannot be expressed by zero-value defaults.
func (c *Config) Validate() error {
	if c.Conversion.MaxParallel < 1 || c.Conversion.MaxParallel > 16 {
		return fmt.Errorf("conversion.max_parallel must be between 1 and 16, got %d", c.Conversion.MaxParallel)
	}
	if c.ASINLookup.RateLimit <= 0 {
		return fmt.Errorf("asin_lookup.rate_limit must be positive, got %f", c.ASINLookup.RateLimit)
	}
	if c.Validation.Workers < 1 {
		return fmt.Errorf("validation.workers must be at least 1, got %d", c.Validation.Workers)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("ASIN_CACHE_PATH"); v != "" {
		cfg.ASINLookup.CachePath = v
	}
	if v := os.Getenv("ASIN_SOURCES"); v != "" {
		cfg.ASINLookup.Sources = strings.Split(v, ",")
	}
	if v := getFloat64FromEnv("ASIN_RATE_LIMIT", 0); v > 0 {
		cfg.ASINLookup.RateLimit = v
	}
	if v := getDurationFromEnv("ASIN_CACHE_TTL", 0); v > 0 {
		cfg.ASINLookup.CacheTTL = v
	}

	if v := os.Getenv("VALIDATION_CACHE_PATH"); v != "" {
		cfg.Validation.CachePath = v
	}
	if v := getIntFromEnv("VALIDATION_WORKERS", 0); v > 0 {
		cfg.Validation.Workers = v
	}

	if v := getIntFromEnv("CONVERSION_MAX_PARALLEL", 0); v > 0 {
		cfg.Conversion.MaxParallel = v
	}
	if v := os.Getenv("CONVERSION_OUTPUT_PATH"); v != "" {
		cfg.Conversion.OutputPath = v
	}
	if v, set := os.LookupEnv("CONVERSION_KFX_PLUGIN_REQUIRED"); set {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Conversion.KFXPluginRequired = b
		}
	}
}

// mergeConfigs overlays non-zero-valued fields of src's one-level-nested
// struct sections onto dst, leaving dst's defaults wherever src is a zero
// value.
func mergeConfigs(dst, src *Config) {
	dstVal := reflect.ValueOf(dst).Elem()
	srcVal := reflect.ValueOf(src).Elem()

	for i := 0; i < dstVal.NumField(); i++ {
		mergeStructFields(dstVal.Field(i), srcVal.Field(i))
	}
}

func mergeStructFields(dst, src reflect.Value) {
	for i := 0; i < dst.NumField(); i++ {
		dstField := dst.Field(i)
		srcField := src.Field(i)
		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.String:
			if srcField.String() != "" {
				dstField.SetString(srcField.String())
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if srcField.Int() != 0 {
				dstField.SetInt(srcField.Int())
			}
		case reflect.Float32, reflect.Float64:
			if srcField.Float() != 0 {
				dstField.SetFloat(srcField.Float())
			}
		case reflect.Bool:
			if srcField.Bool() {
				dstField.SetBool(true)
			}
		case reflect.Slice:
			if srcField.Len() > 0 {
				dstField.Set(srcField)
			}
		}
	}
}

func getIntFromEnv(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getFloat64FromEnv(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDurationFromEnv(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

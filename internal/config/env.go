package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EVOPANEL_"

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from EVOPANEL_* variables found through lookup.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = Duration(d)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &cfg.Addr)
	str("SERVICE_URL", &cfg.ServiceURL)
	str("HINTS_PATH", &cfg.HintsPath)
	str("LOG_LEVEL", &cfg.LogLevel)
	boolean("DEV", &cfg.Dev)
	integer("OUTPUT_LAYERS", &cfg.OutputLayers)
	str("MERGED_NAME", &cfg.MergedName)
	integer("MODEL1_LAYERS", &cfg.LayerCounts.Model1)
	integer("MODEL2_LAYERS", &cfg.LayerCounts.Model2)
	integer("FALLBACK_LAYERS", &cfg.LayerCounts.Fallback)
	dur("POLL_INTERVAL", &cfg.Poll.Interval)
	dur("POLL_LIST_DELAY", &cfg.Poll.ListDelay)
	integer("POLL_MAX_ATTEMPTS", &cfg.Poll.MaxAttempts)
	dur("POLL_TIMEOUT", &cfg.Poll.Timeout)
	dur("REQUEST_TIMEOUT", &cfg.Client.RequestTimeout)
	dur("WAIT_TIMEOUT", &cfg.WaitTimeout)
	if v, ok := get("RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRPS: %w", EnvPrefix, err))
		} else {
			cfg.Client.RequestsPerSecond = f
		}
	}
	boolean("CORS_ENABLED", &cfg.CORS.Enabled)
	if v, ok := get("CORS_ORIGINS"); ok {
		cfg.CORS.Origins = SplitCSV(v)
	}
	return cfg, errors.Join(errs...)
}

// Resolve builds the effective configuration: .env files, then the config
// file (if path is set), then EVOPANEL_* overrides, then defaults.
func Resolve(path string, envFiles ...string) (Config, error) {
	if err := LoadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	var cfg Config
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return Config{}, err
		}
	}
	cfg, err := ApplyEnv(cfg, os.LookupEnv)
	if err != nil {
		return Config{}, err
	}
	return cfg.WithDefaults(), nil
}

// SplitCSV splits a comma-separated list, trimming blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

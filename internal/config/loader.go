package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"evopanel/internal/client"
	"evopanel/internal/hints"
	"evopanel/internal/recipe"
)

// Duration is a time.Duration written as "1s", "500ms" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PollConfig controls the task poller.
type PollConfig struct {
	Interval    Duration `json:"interval" yaml:"interval" toml:"interval"`
	ListDelay   Duration `json:"list_delay" yaml:"list_delay" toml:"list_delay"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	Timeout     Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// ClientConfig controls requests to the remote service.
type ClientConfig struct {
	RequestTimeout    Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	RequestsPerSecond float64  `json:"requests_per_second" yaml:"requests_per_second" toml:"requests_per_second"`
}

// CORSConfig enables CORS for a browser front end on another origin.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Config holds runtime parameters. Zero values mean "unspecified" and are
// replaced by WithDefaults.
type Config struct {
	Addr         string          `json:"addr" yaml:"addr" toml:"addr"`
	ServiceURL   string          `json:"service_url" yaml:"service_url" toml:"service_url"`
	HintsPath    string          `json:"hints_path" yaml:"hints_path" toml:"hints_path"`
	LogLevel     string          `json:"log_level" yaml:"log_level" toml:"log_level"`
	Dev          bool            `json:"dev" yaml:"dev" toml:"dev"`
	OutputLayers int             `json:"output_layers" yaml:"output_layers" toml:"output_layers"`
	MergedName   string          `json:"merged_name" yaml:"merged_name" toml:"merged_name"`
	LayerCounts  hints.Defaults  `json:"layer_counts" yaml:"layer_counts" toml:"layer_counts"`
	Recipe       recipe.Defaults `json:"recipe" yaml:"recipe" toml:"recipe"`
	Poll         PollConfig      `json:"poll" yaml:"poll" toml:"poll"`
	Client       ClientConfig    `json:"client" yaml:"client" toml:"client"`
	MaxBodyBytes int64           `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	WaitTimeout  Duration        `json:"wait_timeout" yaml:"wait_timeout" toml:"wait_timeout"`
	CORS         CORSConfig      `json:"cors" yaml:"cors" toml:"cors"`
}

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	return Config{
		Addr:         ":8080",
		ServiceURL:   client.DefaultBaseURL,
		HintsPath:    "~/.evopanel/layers.json",
		LogLevel:     "info",
		OutputLayers: 12,
		MergedName:   "merged",
		LayerCounts:  hints.DefaultDefaults(),
		Recipe:       recipe.DefaultDefaults(),
		Poll: PollConfig{
			Interval:  Duration(time.Second),
			ListDelay: Duration(time.Second),
		},
		Client: ClientConfig{
			RequestTimeout: Duration(30 * time.Second),
		},
		MaxBodyBytes: 1 << 20,
		WaitTimeout:  Duration(5 * time.Minute),
		CORS: CORSConfig{
			Methods: []string{"GET", "PUT", "POST", "PATCH", "DELETE", "OPTIONS"},
			Headers: []string{"Content-Type", "X-Log-Level"},
		},
	}
}

// WithDefaults fills every unspecified field from Defaults.
func (c Config) WithDefaults() Config {
	d := Defaults()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.ServiceURL == "" {
		c.ServiceURL = d.ServiceURL
	}
	if c.HintsPath == "" {
		c.HintsPath = d.HintsPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.OutputLayers <= 0 {
		c.OutputLayers = d.OutputLayers
	}
	if c.MergedName == "" {
		c.MergedName = d.MergedName
	}
	if c.LayerCounts.Model1 <= 0 {
		c.LayerCounts.Model1 = d.LayerCounts.Model1
	}
	if c.LayerCounts.Model2 <= 0 {
		c.LayerCounts.Model2 = d.LayerCounts.Model2
	}
	if c.LayerCounts.Fallback <= 0 {
		c.LayerCounts.Fallback = d.LayerCounts.Fallback
	}
	if c.Recipe.Weight <= 0 {
		c.Recipe.Weight = d.Recipe.Weight
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = d.Poll.Interval
	}
	if c.Poll.ListDelay <= 0 {
		c.Poll.ListDelay = d.Poll.ListDelay
	}
	if c.Client.RequestTimeout <= 0 {
		c.Client.RequestTimeout = d.Client.RequestTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if len(c.CORS.Methods) == 0 {
		c.CORS.Methods = d.CORS.Methods
	}
	if len(c.CORS.Headers) == 0 {
		c.CORS.Headers = d.CORS.Headers
	}
	return c
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Package config loads engine configuration from defaults, an optional
// YAML file, and SXM_-prefixed environment variables, in that order of
// precedence (later wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"sxmcli/internal/errs"
)

// Config represents the complete engine configuration
type Config struct {
	Engine  EngineConfig  `yaml:"engine" envconfig:"ENGINE"`
	Format  FormatConfig  `yaml:"format" envconfig:"FORMAT"`
	Fit     FitConfig     `yaml:"fit" envconfig:"FIT"`
	Export  ExportConfig  `yaml:"export" envconfig:"EXPORT"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// EngineConfig bounds the batch runner
type EngineConfig struct {
	Workers         int           `yaml:"workers" envconfig:"WORKERS"` // 0 means one per CPU
	QueueSize       int           `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	EventBuffer     int           `yaml:"event_buffer" envconfig:"EVENT_BUFFER"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	Tracing         bool          `yaml:"tracing" envconfig:"TRACING"`
}

// FormatConfig describes which files the dataset layer picks up
type FormatConfig struct {
	ScanExtensions  []string `yaml:"scan_extensions" envconfig:"SCAN_EXTENSIONS"`
	SweepExtensions []string `yaml:"sweep_extensions" envconfig:"SWEEP_EXTENSIONS"`
	MaxHeaderBytes  int      `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
}

// FitConfig tunes the parabola fitter
type FitConfig struct {
	VertexEpsilon float64 `yaml:"vertex_epsilon" envconfig:"VERTEX_EPSILON"`
}

// ExportConfig sets export destinations and naming
type ExportConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Workers:         runtime.NumCPU(),
			QueueSize:       256,
			EventBuffer:     1024,
			ShutdownTimeout: 10 * time.Second,
		},
		Format: FormatConfig{
			ScanExtensions:  []string{".sxm", ".dat"},
			SweepExtensions: []string{".dat", ".txt"},
			MaxHeaderBytes:  1 << 20,
		},
		Fit: FitConfig{
			VertexEpsilon: 1e-12,
		},
		Export: ExportConfig{
			Dir: "exports",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: filepath.Join("logs", "sxm.log"),
		},
	}
}

// Load builds the configuration: defaults, then the config file named by
// SXM_CONFIG (when it exists), then environment overrides.
func Load() (*Config, error) {
	path := os.Getenv("SXM_CONFIG")
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit file path. An empty path skips the
// file layer; a named file that is missing is an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, errs.Config(fmt.Sprintf("load config file %s", path), err)
		}
	}

	if err := envconfig.Process("SXM", cfg); err != nil {
		return nil, errs.Config("apply environment overrides", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile overlays YAML fields onto the current values. Keys absent
// from the file keep their defaults.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.Workers < 0 {
		return errs.Config(fmt.Sprintf("engine.workers must be >= 0, got %d", c.Engine.Workers), nil)
	}
	if c.Engine.QueueSize < 1 {
		return errs.Config(fmt.Sprintf("engine.queue_size must be >= 1, got %d", c.Engine.QueueSize), nil)
	}
	if c.Engine.EventBuffer < 1 {
		return errs.Config(fmt.Sprintf("engine.event_buffer must be >= 1, got %d", c.Engine.EventBuffer), nil)
	}
	if c.Fit.VertexEpsilon <= 0 {
		return errs.Config(fmt.Sprintf("fit.vertex_epsilon must be > 0, got %g", c.Fit.VertexEpsilon), nil)
	}
	if c.Format.MaxHeaderBytes < 1 {
		return errs.Config(fmt.Sprintf("format.max_header_bytes must be >= 1, got %d", c.Format.MaxHeaderBytes), nil)
	}
	if len(c.Format.ScanExtensions) == 0 {
		return errs.Config("format.scan_extensions must name at least one extension", nil)
	}
	for _, ext := range append(append([]string{}, c.Format.ScanExtensions...), c.Format.SweepExtensions...) {
		if !strings.HasPrefix(ext, ".") {
			return errs.Config(fmt.Sprintf("extension %q must start with a dot", ext), nil)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errs.Config(fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level), nil)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return errs.Config(fmt.Sprintf("logging.format %q is not one of json, text", c.Logging.Format), nil)
	}
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return errs.Config(fmt.Sprintf("logging.output %q is not one of console, file, both", c.Logging.Output), nil)
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return errs.Config("logging.file_path required when logging.output writes to a file", nil)
	}
	return nil
}

// WorkerCount resolves the effective pool size.
func (c *Config) WorkerCount() int {
	if c.Engine.Workers > 0 {
		return c.Engine.Workers
	}
	return runtime.NumCPU()
}

// IsScanFile reports whether path carries a scan frame extension.
func (c *Config) IsScanFile(path string) bool {
	return hasExtension(path, c.Format.ScanExtensions)
}

// IsSweepFile reports whether path carries a spectroscopy extension.
func (c *Config) IsSweepFile(path string) bool {
	return hasExtension(path, c.Format.SweepExtensions)
}

func hasExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

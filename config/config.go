package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dhcgn/ost-export/export"
)

const (
	EnvLogLevel = "OST_EXPORT_LOG_LEVEL"
	EnvLogDir   = "OST_EXPORT_LOG_DIR"
	EnvWorkers  = "OST_EXPORT_WORKERS"
)

var ErrInvalidFormat = export.ErrInvalidFormat

// Config captures all options required for an export run.
type Config struct {
	ContainerPath  string        `yaml:"-"`
	OutputDir      string        `yaml:"-"`
	Format         export.Format `yaml:"-"`
	LogLevel       string        `yaml:"log_level"`
	LogDir         string        `yaml:"log_dir"`
	Workers        int           `yaml:"workers"`
	Manifest       string        `yaml:"manifest"`
	Progress       string        `yaml:"progress"`
	IncludeFolder  []string      `yaml:"include_folder"`
	IncludeSubject []string      `yaml:"include_subject"`
	ExcludeFolder  []string      `yaml:"exclude_folder"`
	ExcludeSubject []string      `yaml:"exclude_subject"`
}

func defaults() Config {
	return Config{
		LogLevel: "info",
		Workers:  1,
		Progress: "auto",
	}
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) {
	d := defaults()
	flags := cmd.Flags()
	flags.String("config", "", "YAML file with default options")
	flags.String("log-level", d.LogLevel, "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for a copy of the log output")
	flags.Int("workers", d.Workers, "Number of parallel message builders")
	flags.String("manifest", "", "Write a JSONL record of every exported message to this file")
	flags.String("progress", d.Progress, "Progress display: auto, always, never")
	flags.StringArray("include-folder", nil, "Regex allow-list applied to folder paths (mutually exclusive with exclude flags)")
	flags.StringArray("include-subject", nil, "Regex allow-list applied to subjects (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-folder", nil, "Regex block-list applied to folder paths (mutually exclusive with include flags)")
	flags.StringArray("exclude-subject", nil, "Regex block-list applied to subjects (mutually exclusive with include flags)")
}

// LoadConfig builds a Config from the positional arguments
// (container, output directory, format) and the parsed flags. Values are
// layered as defaults, then the YAML file, then environment variables, then
// flags that were set explicitly.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	if len(args) != 3 {
		return Config{}, fmt.Errorf("expected <container> <output-dir> <format>, got %d arguments", len(args))
	}
	flags := cmd.Flags()

	cfg := defaults()
	path, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnvVars(); err != nil {
		return Config{}, err
	}

	stringFlags := map[string]*string{
		"log-level": &cfg.LogLevel,
		"log-dir":   &cfg.LogDir,
		"manifest":  &cfg.Manifest,
		"progress":  &cfg.Progress,
	}
	for name, dst := range stringFlags {
		if !flags.Changed(name) {
			continue
		}
		if *dst, err = flags.GetString(name); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("workers") {
		if cfg.Workers, err = flags.GetInt("workers"); err != nil {
			return Config{}, err
		}
	}
	arrayFlags := map[string]*[]string{
		"include-folder":  &cfg.IncludeFolder,
		"include-subject": &cfg.IncludeSubject,
		"exclude-folder":  &cfg.ExcludeFolder,
		"exclude-subject": &cfg.ExcludeSubject,
	}
	for name, dst := range arrayFlags {
		if !flags.Changed(name) {
			continue
		}
		if *dst, err = flags.GetStringArray(name); err != nil {
			return Config{}, err
		}
	}

	cfg.ContainerPath = args[0]
	cfg.OutputDir = filepath.Clean(args[1])
	cfg.Format = export.Format(strings.ToLower(strings.TrimSpace(args[2])))

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.Progress = strings.ToLower(cfg.Progress)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// applyEnvVars overrides values with non-empty environment variables.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvLogDir); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	return nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.ContainerPath) == "" {
		return errors.New("container path is required")
	}
	if _, err := export.ParseFormat(string(cfg.Format)); err != nil {
		return err
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be positive, got %d", cfg.Workers)
	}
	includeActive := len(cfg.IncludeFolder) > 0 || len(cfg.IncludeSubject) > 0
	excludeActive := len(cfg.ExcludeFolder) > 0 || len(cfg.ExcludeSubject) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	switch cfg.Progress {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("invalid --progress: %s", cfg.Progress)
	}

	return nil
}

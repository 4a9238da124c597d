package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Output format names accepted by --outputs and output.formats.
const (
	FormatExcel   = "excel"
	FormatParquet = "parquet"
	FormatDuckDB  = "duckdb"
	FormatSQLite  = "sqlite"
)

var SupportedFormats = []string{FormatExcel, FormatParquet, FormatDuckDB, FormatSQLite}

type Config struct {
	API      APIConfig         `yaml:"api" json:"api" mapstructure:"api"`
	VM       VulnExportConfig  `yaml:"vm" json:"vm" mapstructure:"vm"`
	WAS      VulnExportConfig  `yaml:"was" json:"was" mapstructure:"was"`
	Assets   AssetExportConfig `yaml:"assets" json:"assets" mapstructure:"assets"`
	Polling  PollingConfig     `yaml:"polling" json:"polling" mapstructure:"polling"`
	Output   OutputConfig      `yaml:"output" json:"output" mapstructure:"output"`
	Logging  LoggingConfig     `yaml:"logging" json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig     `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Schedule ScheduleConfig    `yaml:"schedule" json:"schedule" mapstructure:"schedule"`
}

type APIConfig struct {
	BaseURL       string        `yaml:"base_url" json:"base_url" mapstructure:"base_url"`
	AccessKey     string        `yaml:"access_key" json:"access_key" mapstructure:"access_key"`
	SecretKey     string        `yaml:"secret_key" json:"secret_key" mapstructure:"secret_key"`
	VerifySSL     bool          `yaml:"verify_ssl" json:"verify_ssl" mapstructure:"verify_ssl"`
	UserAgent     string        `yaml:"user_agent" json:"user_agent" mapstructure:"user_agent"`
	StartTimeout  time.Duration `yaml:"start_timeout" json:"start_timeout" mapstructure:"start_timeout"`
	StatusTimeout time.Duration `yaml:"status_timeout" json:"status_timeout" mapstructure:"status_timeout"`
	ChunkTimeout  time.Duration `yaml:"chunk_timeout" json:"chunk_timeout" mapstructure:"chunk_timeout"`
	RateLimit     float64       `yaml:"rate_limit" json:"rate_limit" mapstructure:"rate_limit"`
	RateBurst     int           `yaml:"rate_burst" json:"rate_burst" mapstructure:"rate_burst"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries" mapstructure:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" json:"retry_backoff" mapstructure:"retry_backoff"`
}

// VulnExportConfig tunes the vulnerability and web-app finding exports.
type VulnExportConfig struct {
	Enabled           bool     `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	NumAssets         int      `yaml:"num_assets" json:"num_assets" mapstructure:"num_assets"`
	IncludeUnlicensed bool     `yaml:"include_unlicensed" json:"include_unlicensed" mapstructure:"include_unlicensed"`
	Severity          []string `yaml:"severity" json:"severity" mapstructure:"severity"`
	State             []string `yaml:"state" json:"state" mapstructure:"state"`
	// Since is a unix timestamp; zero means no lower bound.
	Since int64 `yaml:"since,omitempty" json:"since,omitempty" mapstructure:"since"`
}

type AssetExportConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	ChunkSize int      `yaml:"chunk_size" json:"chunk_size" mapstructure:"chunk_size"`
	Types     []string `yaml:"types" json:"types" mapstructure:"types"`
}

type PollingConfig struct {
	Interval    time.Duration `yaml:"interval" json:"interval" mapstructure:"interval"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" mapstructure:"max_attempts"`
}

type OutputConfig struct {
	Formats           []string `yaml:"formats" json:"formats" mapstructure:"formats"`
	Directory         string   `yaml:"directory" json:"directory" mapstructure:"directory"`
	WriterConcurrency int      `yaml:"writer_concurrency" json:"writer_concurrency" mapstructure:"writer_concurrency"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" mapstructure:"level"`
	Format string `yaml:"format" json:"format" mapstructure:"format"`
	File   string `yaml:"file,omitempty" json:"file,omitempty" mapstructure:"file"`
}

type MetricsConfig struct {
	Address string `yaml:"address,omitempty" json:"address,omitempty" mapstructure:"address"`
}

type ScheduleConfig struct {
	Cron string `yaml:"cron,omitempty" json:"cron,omitempty" mapstructure:"cron"`
}

func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       "https://cloud.tenable.com",
			VerifySSL:     true,
			UserAgent:     "tenable-export-suite/1.0",
			StartTimeout:  300 * time.Second,
			StatusTimeout: 120 * time.Second,
			ChunkTimeout:  300 * time.Second,
			RateLimit:     5,
			RateBurst:     5,
			MaxRetries:    3,
			RetryBackoff:  time.Second,
		},
		VM: VulnExportConfig{
			Enabled:           true,
			NumAssets:         200,
			IncludeUnlicensed: true,
			Severity:          []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"},
			State:             []string{"OPEN", "REOPENED", "FIXED"},
		},
		WAS: VulnExportConfig{
			Enabled:           true,
			NumAssets:         50,
			IncludeUnlicensed: true,
			Severity:          []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"},
			State:             []string{"OPEN", "REOPENED"},
		},
		Assets: AssetExportConfig{
			Enabled:   true,
			ChunkSize: 4000,
			Types:     []string{"host", "webapp"},
		},
		Polling: PollingConfig{
			Interval:    5 * time.Second,
			MaxAttempts: 360,
		},
		Output: OutputConfig{
			Formats:           []string{FormatExcel, FormatParquet},
			Directory:         ".",
			WriterConcurrency: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the whole configuration, credentials included.
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateSettings checks everything except the credential pair, which usually
// arrives through the environment rather than a config file.
func (c *Config) ValidateSettings() error {
	return c.validate(false)
}

func (c *Config) validate(credentials bool) error {
	var errs []string

	if credentials {
		if strings.TrimSpace(c.API.AccessKey) == "" {
			errs = append(errs, "api.access_key must be set (TENABLE_ACCESS_KEY)")
		}
		if strings.TrimSpace(c.API.SecretKey) == "" {
			errs = append(errs, "api.secret_key must be set (TENABLE_SECRET_KEY)")
		}
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}
	if c.API.StartTimeout <= 0 || c.API.StatusTimeout <= 0 || c.API.ChunkTimeout <= 0 {
		errs = append(errs, "api timeouts must be > 0")
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, "api.rate_limit must be >= 0")
	}
	if c.API.RateLimit > 0 && c.API.RateBurst < 1 {
		errs = append(errs, "api.rate_burst must be >= 1 when api.rate_limit is set")
	}
	if c.API.MaxRetries < 0 {
		errs = append(errs, "api.max_retries must be >= 0")
	}
	if c.API.RetryBackoff < 0 {
		errs = append(errs, "api.retry_backoff must be >= 0")
	}

	for name, v := range map[string]VulnExportConfig{"vm": c.VM, "was": c.WAS} {
		if !v.Enabled {
			continue
		}
		if v.NumAssets <= 0 {
			errs = append(errs, fmt.Sprintf("%s.num_assets must be > 0", name))
		}
		if v.Since < 0 {
			errs = append(errs, fmt.Sprintf("%s.since must be >= 0", name))
		}
	}
	if c.Assets.Enabled {
		if c.Assets.ChunkSize <= 0 {
			errs = append(errs, "assets.chunk_size must be > 0")
		}
		if len(c.Assets.Types) == 0 {
			errs = append(errs, "assets.types must include at least one type")
		}
	}

	if c.Polling.Interval < 0 {
		errs = append(errs, "polling.interval must be >= 0")
	}
	if c.Polling.MaxAttempts < 1 {
		errs = append(errs, "polling.max_attempts must be >= 1")
	}

	if c.Output.Directory == "" {
		errs = append(errs, "output.directory must not be empty")
	}
	if len(c.Output.Formats) == 0 {
		errs = append(errs, "output.formats must include at least one format")
	}
	for _, f := range c.Output.Formats {
		if !IsSupportedFormat(f) {
			errs = append(errs, fmt.Sprintf("output format %q is not supported (choose from %s)", f, strings.Join(SupportedFormats, ", ")))
		}
	}
	if c.Output.WriterConcurrency < 1 {
		errs = append(errs, "output.writer_concurrency must be >= 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}

	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("schedule.cron: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func IsSupportedFormat(name string) bool {
	for _, f := range SupportedFormats {
		if f == name {
			return true
		}
	}
	return false
}

// Masked returns a copy safe for printing.
func (c *Config) Masked() *Config {
	out := *c
	out.API.AccessKey = maskSecret(c.API.AccessKey)
	out.API.SecretKey = maskSecret(c.API.SecretKey)
	return &out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", 8)
}

// Save writes the config atomically. Credentials are not required.
func (c *Config) Save(path string) error {
	if err := c.ValidateSettings(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	}

	return c.ValidateSettings()
}

// EnabledDomains lists the export domains in run order.
func (c *Config) EnabledDomains() []Domain {
	var out []Domain
	if c.VM.Enabled {
		out = append(out, DomainVM)
	}
	if c.WAS.Enabled {
		out = append(out, DomainWAS)
	}
	if c.Assets.Enabled {
		out = append(out, DomainAssets)
	}
	return out
}

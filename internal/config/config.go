package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type WorkerConfig struct {
	BatchSize            int     `yaml:"batch_size"`
	IdleEmpty            string  `yaml:"idle_empty"`
	IdleBusy             string  `yaml:"idle_busy"`
	Concurrency          int     `yaml:"concurrency"`
	PerSiteConcurrency   int     `yaml:"per_site_concurrency"`
	SiteDelay            string  `yaml:"site_delay"`
	RenderTimeout        string  `yaml:"render_timeout"`
	DropThresholdPercent float64 `yaml:"drop_threshold_percent"`
	CheckEveryMinutes    int     `yaml:"check_every_minutes"`
}

type RendererConfig struct {
	UserAgent string `yaml:"user_agent"`
	Timeout   string `yaml:"timeout"`
}

type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Worker   WorkerConfig   `yaml:"worker"`
	Renderer RendererConfig `yaml:"renderer"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Server   ServerConfig   `yaml:"server"`
}

func (c *Config) IdleEmptyDuration() time.Duration {
	return parseDuration(c.Worker.IdleEmpty, 10*time.Second)
}

func (c *Config) IdleBusyDuration() time.Duration {
	return parseDuration(c.Worker.IdleBusy, time.Second)
}

// SiteDelayDuration is zero unless configured.
func (c *Config) SiteDelayDuration() time.Duration {
	return parseDuration(c.Worker.SiteDelay, 0)
}

func (c *Config) RenderTimeoutDuration() time.Duration {
	return parseDuration(c.Worker.RenderTimeout, 45*time.Second)
}

func (c *Config) RendererTimeoutDuration() time.Duration {
	return parseDuration(c.Renderer.Timeout, 45*time.Second)
}

// DatabasePath returns the SQLite file, defaulting to the XDG data dir.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(xdg.DataHome, "pricewatch", "pricewatch.db")
}

// FromAddr falls back to the SMTP user.
func (c *Config) FromAddr() string {
	if c.SMTP.From != "" {
		return c.SMTP.From
	}
	return c.SMTP.User
}

// ToAddr falls back to the sender.
func (c *Config) ToAddr() string {
	if c.SMTP.To != "" {
		return c.SMTP.To
	}
	return c.FromAddr()
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "pricewatch", "config.yaml")
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load reads the config at path over the embedded defaults, then applies
// environment overrides. A missing file is created from the defaults.
func Load(path string) (*Config, error) {
	cfg, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Non-fatal: keep the embedded defaults
		_ = writeDefaults(path)
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, _ := defaultConfigFS.ReadFile("default_config.yaml")
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		cfg.SMTP.Port = port
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.SMTP.User = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.SMTP.Pass = v
	}
	if v := os.Getenv("FROM_ADDR"); v != "" {
		cfg.SMTP.From = v
	}
	if v := os.Getenv("TO_ADDR"); v != "" {
		cfg.SMTP.To = v
	}
	return nil
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database: dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database: unknown driver %q (valid: sqlite, postgres)", cfg.Database.Driver)
	}
	if cfg.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker: batch_size must be positive, got %d", cfg.Worker.BatchSize)
	}
	if cfg.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker: concurrency must be positive, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.DropThresholdPercent <= 0 || cfg.Worker.DropThresholdPercent > 100 {
		return fmt.Errorf("worker: drop_threshold_percent must be in (0, 100], got %v", cfg.Worker.DropThresholdPercent)
	}
	if cfg.Worker.CheckEveryMinutes <= 0 {
		return fmt.Errorf("worker: check_every_minutes must be positive, got %d", cfg.Worker.CheckEveryMinutes)
	}
	if cfg.SMTP.Port < 0 || cfg.SMTP.Port > 65535 {
		return fmt.Errorf("smtp: invalid port %d", cfg.SMTP.Port)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sophia-ai/sophia/pkg/catalog"
	"github.com/sophia-ai/sophia/pkg/models"
)

// Config holds all sophia configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	Log       LogConfig       `yaml:"log"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Inference InferenceConfig `yaml:"inference"`
	Cache     CacheConfig     `yaml:"cache"`
	Catalog   []catalog.Model `yaml:"catalog"`
	Router    RouterConfig    `yaml:"router"`
	Budget    BudgetConfig    `yaml:"budget"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" (default) or "console"
}

// LedgerConfig selects the usage ledger store.
// Driver is "sqlite" (default, DSN is a file path) or "postgres".
type LedgerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// InferenceConfig defines the upstream completion API and retry policy.
type InferenceConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CacheConfig controls the in-process response cache.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxEntries      int           `yaml:"max_entries"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	UsageTTL        time.Duration `yaml:"usage_ttl"`
}

// RouterConfig defines model aliases and failover chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a client-facing model alias to an ordered list of catalog models.
type RouteConfig struct {
	Model   string   `yaml:"model"`
	Targets []string `yaml:"targets"`
}

// BudgetConfig controls per-user spend enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ledger: LedgerConfig{
			Driver: "sqlite",
			DSN:    "sophia.db",
		},
		Inference: InferenceConfig{
			BaseURL:     "https://api.lambdalabs.com/v1",
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:         true,
			MaxEntries:      1000,
			DefaultTTL:      300 * time.Second,
			CleanupInterval: 300 * time.Second,
			UsageTTL:        time.Minute,
		},
		Catalog: catalog.DefaultModels(),
	}
}

// Load reads a YAML config file and expands environment variables. Any .env
// file in the working directory is loaded first so secrets can stay out of
// the YAML.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Inference.APIKey == "" {
		cfg.Inference.APIKey = os.Getenv("LAMBDA_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		_ = godotenv.Load()
		cfg := Default()
		cfg.Inference.APIKey = os.Getenv("LAMBDA_API_KEY")
		return cfg, nil
	}
	return Load(path)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Ledger.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("ledger.driver: unknown driver %q", c.Ledger.Driver))
	}
	if c.Ledger.DSN == "" {
		errs = append(errs, errors.New("ledger.dsn: must not be empty"))
	}
	if c.Inference.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("inference.max_attempts: must be at least 1, got %d", c.Inference.MaxAttempts))
	}
	if len(c.Catalog) == 0 {
		errs = append(errs, errors.New("catalog: at least one model is required"))
	}

	known := make(map[string]bool, len(c.Catalog))
	for _, m := range c.Catalog {
		if m.Name == "" {
			errs = append(errs, errors.New("catalog: model name must not be empty"))
		}
		if m.CostPerMillionTokens < 0 {
			errs = append(errs, fmt.Errorf("catalog: model %q has negative cost", m.Name))
		}
		known[m.Name] = true
	}
	for _, r := range c.Router.Routes {
		if len(r.Targets) == 0 {
			errs = append(errs, fmt.Errorf("router: route %q has no targets", r.Model))
		}
		for _, target := range r.Targets {
			if !known[target] {
				errs = append(errs, fmt.Errorf("router: route %q targets unknown model %q", r.Model, target))
			}
		}
	}
	for _, p := range c.Budget.Policies {
		switch p.Period {
		case models.BudgetDaily, models.BudgetMonthly:
		default:
			errs = append(errs, fmt.Errorf("budget: policy for %q has unknown period %q", p.UserID, p.Period))
		}
	}

	return errors.Join(errs...)
}

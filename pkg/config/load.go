package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// SourceConfig locates one input dataset: a file path or an http(s) URL.
type SourceConfig struct {
	Location string        `yaml:"location"`
	Format   string        `yaml:"format"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config is the process configuration. Values come from defaults, then the
// optional YAML file, then ADOPTBOARD_* environment variables.
type Config struct {
	Port            string `yaml:"port" split_words:"true"`
	DataDir         string `yaml:"data_dir" split_words:"true"`
	SnapshotBackend string `yaml:"snapshot_backend" split_words:"true"`
	MaxMemoryMB     int64  `yaml:"max_memory_mb" split_words:"true"`

	Identity SourceConfig `yaml:"identity"`
	Usage    SourceConfig `yaml:"usage"`

	ExcludedDomains []string      `yaml:"excluded_domains" split_words:"true"`
	DuplicatePolicy string        `yaml:"duplicate_policy" split_words:"true"`
	IdentitySuffix  string        `yaml:"identity_suffix" split_words:"true"`
	UsageSuffix     string        `yaml:"usage_suffix" split_words:"true"`
	CacheTTL        time.Duration `yaml:"cache_ttl" split_words:"true"`

	InitialBalance string `yaml:"initial_balance" split_words:"true"`
	DefaultFrom    string `yaml:"default_from" split_words:"true"`
	TopTitles      int    `yaml:"top_titles" split_words:"true"`
	TopCategories  int    `yaml:"top_categories" split_words:"true"`
	TopRegions     int    `yaml:"top_regions" split_words:"true"`
	TopUsers       int    `yaml:"top_users" split_words:"true"`

	LogLevel  string `yaml:"log_level" split_words:"true"`
	LogFormat string `yaml:"log_format" split_words:"true"`
}

// Default returns a Config populated with the package defaults.
func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		DataDir:         DefaultDataDir,
		SnapshotBackend: DefaultSnapshotBackend,
		MaxMemoryMB:     DefaultMaxMemoryMB,
		Identity:        SourceConfig{Format: "csv", Timeout: DefaultFetchTimeout},
		Usage:           SourceConfig{Format: "csv", Timeout: DefaultFetchTimeout},
		DuplicatePolicy: DefaultDuplicates,
		IdentitySuffix:  DefaultIdentitySuffix,
		UsageSuffix:     DefaultUsageSuffix,
		CacheTTL:        DefaultCacheTTL,
		InitialBalance:  DefaultInitialBalance,
		DefaultFrom:     DefaultFrom,
		TopTitles:       DefaultTopTitles,
		TopCategories:   DefaultTopCategories,
		TopRegions:      DefaultTopRegions,
		TopUsers:        DefaultTopUsers,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port: must not be empty"))
	}
	if c.Identity.Location == "" {
		errs = append(errs, errors.New("identity.location: must not be empty"))
	}
	if c.Usage.Location == "" {
		errs = append(errs, errors.New("usage.location: must not be empty"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache_ttl: must be positive, got %s", c.CacheTTL))
	}
	if _, err := decimal.NewFromString(c.InitialBalance); err != nil {
		errs = append(errs, fmt.Errorf("initial_balance: %w", err))
	}
	if _, err := time.Parse("2006-01-02", c.DefaultFrom); err != nil {
		errs = append(errs, fmt.Errorf("default_from: want YYYY-MM-DD: %w", err))
	}
	switch strings.ToLower(c.DuplicatePolicy) {
	case "collapse", "preserve":
	default:
		errs = append(errs, fmt.Errorf("duplicate_policy: want collapse or preserve, got %q", c.DuplicatePolicy))
	}
	switch c.SnapshotBackend {
	case "memory", "badger":
	default:
		errs = append(errs, fmt.Errorf("snapshot_backend: want memory or badger, got %q", c.SnapshotBackend))
	}
	for name, n := range map[string]int{
		"top_titles":     c.TopTitles,
		"top_categories": c.TopCategories,
		"top_regions":    c.TopRegions,
		"top_users":      c.TopUsers,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %d", name, n))
		}
	}
	if c.IdentitySuffix == c.UsageSuffix {
		errs = append(errs, fmt.Errorf("identity_suffix and usage_suffix must differ, both %q", c.IdentitySuffix))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Balance returns the initial balance. Validate has already checked it.
func (c *Config) Balance() decimal.Decimal {
	d, err := decimal.NewFromString(c.InitialBalance)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// From returns the default start of the date-range filter.
func (c *Config) From() time.Time {
	t, err := time.Parse("2006-01-02", c.DefaultFrom)
	if err != nil {
		t, _ = time.Parse("2006-01-02", DefaultFrom)
	}
	return t
}

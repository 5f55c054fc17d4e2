// Package config loads scour.yaml plus env overrides and exposes typed
// sections for the pipeline, the dispatcher chains and the backoff tracker.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree.
type Config struct {
	StateDir string         `mapstructure:"state_dir"`
	LogDir   string         `mapstructure:"log_dir"`
	Session  SessionConfig  `mapstructure:"session"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Backoff  BackoffConfig  `mapstructure:"backoff"`
	Backends []BackendDef   `mapstructure:"backends"`
	Chains   []ChainDef     `mapstructure:"chains"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type SessionConfig struct {
	// Timeout bounds one whole session; on expiry outstanding lookups are
	// cancelled and a partial report is produced from what completed.
	Timeout time.Duration `mapstructure:"timeout"`
}

type ExecutorConfig struct {
	Workers          int           `mapstructure:"workers"`
	LookupTimeout    time.Duration `mapstructure:"lookup_timeout"`
	MaxFollowups     int           `mapstructure:"max_followups"`
	FollowupInterval time.Duration `mapstructure:"followup_interval"`
}

type BackoffConfig struct {
	Cooldown     time.Duration `mapstructure:"cooldown"`
	GrowthFactor float64       `mapstructure:"growth_factor"`
	StateFile    string        `mapstructure:"state_file"`
	RedisAddr    string        `mapstructure:"redis_addr"`
}

// BackendDef names one backend in the shared pool and the model it runs.
type BackendDef struct {
	Name  string `mapstructure:"name"`
	Model string `mapstructure:"model"`
}

// ChainDef is one ordered fallback preference over the backend pool.
type ChainDef struct {
	Name     string        `mapstructure:"name"`
	Backends []string      `mapstructure:"backends"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// Dir returns the scour home directory: SCOUR_HOME or ~/.scour.
func Dir() string {
	if d := os.Getenv("SCOUR_HOME"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scour"
	}
	return filepath.Join(home, ".scour")
}

// Load reads scour.yaml from SCOUR_CONFIG, the scour home dir or the
// working directory, layered under SCOUR_* env overrides. A missing file
// yields pure defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCOUR")
	v.AutomaticEnv()

	if path := os.Getenv("SCOUR_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scour")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", Dir())
	v.SetDefault("log_dir", filepath.Join(Dir(), "logs"))
	v.SetDefault("session.timeout", "5m")
	v.SetDefault("executor.workers", 8)
	v.SetDefault("executor.lookup_timeout", "30s")
	v.SetDefault("executor.max_followups", 2)
	v.SetDefault("executor.followup_interval", "500ms")
	v.SetDefault("backoff.cooldown", "120s")
	v.SetDefault("backoff.growth_factor", 1.0)
	v.SetDefault("backoff.state_file", filepath.Join(Dir(), "backoff.json"))
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 2112)
	v.SetDefault("tracing.enabled", false)

	v.SetDefault("backends", []map[string]any{
		{"name": "anthropic", "model": "claude-sonnet-4-0"},
		{"name": "openai", "model": "gpt-4o"},
		{"name": "gemini", "model": "gemini-2.5-pro"},
		{"name": "deepseek", "model": "deepseek-chat"},
		{"name": "ollama", "model": "llama3"},
	})
	v.SetDefault("chains", []map[string]any{
		{"name": "default", "backends": []string{"anthropic", "openai", "gemini", "deepseek", "ollama"}, "timeout": "120s"},
		{"name": "high-reasoning", "backends": []string{"anthropic", "openai", "deepseek"}, "timeout": "180s"},
		{"name": "fast", "backends": []string{"gemini", "deepseek", "ollama", "openai"}, "timeout": "60s"},
	})
}

func (c *Config) validate() error {
	known := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("backend with empty name")
		}
		if known[b.Name] {
			return fmt.Errorf("duplicate backend %q", b.Name)
		}
		known[b.Name] = true
	}
	if len(c.Chains) == 0 {
		return errors.New("no chains configured")
	}
	for _, ch := range c.Chains {
		if len(ch.Backends) == 0 {
			return fmt.Errorf("chain %q has no backends", ch.Name)
		}
		for _, name := range ch.Backends {
			if !known[name] {
				return fmt.Errorf("chain %q references unknown backend %q", ch.Name, name)
			}
		}
	}
	if c.Executor.Workers <= 0 {
		return errors.New("executor.workers must be positive")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all koda configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Memory   MemoryConfig   `yaml:"memory"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

type LLMConfig struct {
	Provider  string        `yaml:"provider"` // "openai", "anthropic", "ollama", "gemini", "none"
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"` // openai-compatible endpoint or ollama host
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int           `yaml:"burst"`
}

type MemoryConfig struct {
	TopK                int     `yaml:"top_k"`
	PruneMaxAgeDays     int     `yaml:"prune_max_age_days"`
	PruneMinImportance  float64 `yaml:"prune_min_importance"`
	TopicWindow         int     `yaml:"topic_window"`
	KeywordCacheSize    int     `yaml:"keyword_cache_size"`
	MaintenanceSchedule string  `yaml:"maintenance_schedule"` // cron expression, empty disables
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38080,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "", // resolved at runtime via store.DefaultDBPath()
		},
		// Model stays empty so each provider falls back to its own default.
		LLM: LLMConfig{
			Provider: "openai",
			Timeout:  120 * time.Second,
		},
		Memory: MemoryConfig{
			TopK:                3,
			PruneMaxAgeDays:     365,
			PruneMinImportance:  0.3,
			TopicWindow:         6,
			KeywordCacheSize:    1024,
			MaintenanceSchedule: "0 4 * * *",
		},
		Log: LogConfig{Level: "info"},
	}
}

// DefaultPath returns ~/.koda/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", goerr.Wrap(err, "get home dir")
	}
	return filepath.Join(home, ".koda", "config.yaml"), nil
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, goerr.Wrap(err, "read config", goerr.V("path", path))
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, goerr.Wrap(err, "parse config", goerr.V("path", path))
			}
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("KODA_DB"); v != "" {
		c.Database.Driver = "sqlite"
		c.Database.Path = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.Driver = "postgres"
		c.Database.DSN = v
	}
	if v := getenv("KODA_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	// A provider key in the environment only fills the key for the
	// configured provider; it never switches providers on its own.
	keys := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GEMINI_API_KEY",
	}
	if env, ok := keys[c.LLM.Provider]; ok && c.LLM.APIKey == "" {
		c.LLM.APIKey = getenv(env)
	}
}

// Validate rejects settings the rest of the program cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return goerr.New("postgres driver requires database.dsn or DATABASE_URL")
		}
	default:
		return goerr.New("unknown database driver", goerr.V("driver", c.Database.Driver))
	}

	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama", "gemini", "none":
	default:
		return goerr.New("unknown llm provider", goerr.V("provider", c.LLM.Provider))
	}
	if c.LLM.RateLimit < 0 {
		return goerr.New("llm.rate_limit must not be negative")
	}

	if c.Memory.TopK < 1 {
		return goerr.New("memory.top_k must be at least 1", goerr.V("top_k", c.Memory.TopK))
	}
	if c.Memory.PruneMinImportance < 0 || c.Memory.PruneMinImportance > 1 {
		return goerr.New("memory.prune_min_importance must be within [0,1]",
			goerr.V("prune_min_importance", c.Memory.PruneMinImportance))
	}
	if s := c.Memory.MaintenanceSchedule; s != "" && !gronx.New().IsValid(s) {
		return goerr.New("invalid memory.maintenance_schedule", goerr.V("expr", s))
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

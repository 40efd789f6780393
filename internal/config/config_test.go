package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"KODA_DB", "DATABASE_URL", "KODA_LOG_LEVEL", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	gt.NoError(t, cfg.Validate())
	gt.Equal(t, cfg.ListenAddr(), "127.0.0.1:38080")
	gt.Equal(t, cfg.Memory.PruneMaxAgeDays, 365)
	gt.Equal(t, cfg.Memory.PruneMinImportance, 0.3)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	gt.NoError(t, err)
	gt.Equal(t, cfg.LLM.Provider, "openai")
}

func TestLoadOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9000
llm:
  provider: ollama
  model: qwen2.5
  timeout: 30s
memory:
  top_k: 5
  maintenance_schedule: "*/15 * * * *"
`)
	cfg, err := Load(path)
	gt.NoError(t, err)
	gt.Equal(t, cfg.Server.Port, 9000)
	gt.Equal(t, cfg.Server.Bind, "127.0.0.1")
	gt.Equal(t, cfg.LLM.Provider, "ollama")
	gt.Equal(t, cfg.LLM.Timeout, 30*time.Second)
	gt.Equal(t, cfg.Memory.TopK, 5)
	gt.Equal(t, cfg.Memory.PruneMaxAgeDays, 365)
}

func TestLoadProviderWithoutModel(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "llm:\n  provider: anthropic\n  api_key: k\n"))
	gt.NoError(t, err)
	gt.Equal(t, cfg.LLM.Provider, "anthropic")
	gt.Equal(t, cfg.LLM.Model, "")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://koda@localhost/koda")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "should-not-be-used")
	t.Setenv("KODA_LOG_LEVEL", "debug")

	cfg, err := Load("")
	gt.NoError(t, err)
	gt.Equal(t, cfg.Database.Driver, "postgres")
	gt.Equal(t, cfg.Database.DSN, "postgres://koda@localhost/koda")
	gt.Equal(t, cfg.LLM.APIKey, "sk-test")
	gt.Equal(t, cfg.Log.Level, "debug")
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown driver":    func(c *Config) { c.Database.Driver = "mysql" },
		"postgres sans dsn": func(c *Config) { c.Database.Driver = "postgres" },
		"unknown provider":  func(c *Config) { c.LLM.Provider = "claude-cli" },
		"zero top_k":        func(c *Config) { c.Memory.TopK = 0 },
		"importance > 1":    func(c *Config) { c.Memory.PruneMinImportance = 1.5 },
		"bad cron":          func(c *Config) { c.Memory.MaintenanceSchedule = "every day" },
		"negative rate":     func(c *Config) { c.LLM.RateLimit = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			gt.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "server: [unclosed"))
	gt.Error(t, err)
}

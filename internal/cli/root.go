package cli

import (
	"context"
	"os"

	"github.com/kodapet/koda/internal/config"
	"github.com/kodapet/koda/internal/engine"
	"github.com/kodapet/koda/internal/llm"
	"github.com/kodapet/koda/internal/logging"
	"github.com/kodapet/koda/internal/store"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "koda",
	Short: "Long-term memory for a pet companion",
	Long: "Koda remembers what you tell your pet companion: it scores, indexes and recalls " +
		"chat fragments, rolls chats up into conversations, and keeps the store tidy.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.koda/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(memoriesCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(dedupCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(petCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(moodCmd)
}

// app bundles what every command needs once configuration is loaded.
type app struct {
	cfg config.Config
	db  *store.DB
	eng *engine.Engine
}

// loadConfig resolves the config path, loads it and installs the logger.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logging.SetDefault(logging.New(cfg.Log.Level, os.Stderr))
	return cfg, nil
}

// openDB opens the configured database.
func openDB(ctx context.Context, cfg config.DatabaseConfig) (*store.DB, error) {
	if cfg.Driver == "postgres" {
		return store.OpenPostgres(ctx, cfg.DSN)
	}
	path := cfg.Path
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

func engineOptions(m config.MemoryConfig) engine.Options {
	return engine.Options{
		TopK:               m.TopK,
		PruneMaxAgeDays:    m.PruneMaxAgeDays,
		PruneMinImportance: m.PruneMinImportance,
		TopicWindow:        m.TopicWindow,
		KeywordCacheSize:   m.KeywordCacheSize,
	}
}

// openApp loads config, opens the store and builds the engine. An
// unconfigured model is not fatal: the engine falls back everywhere.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, goerr.Wrap(err, "load config")
	}
	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		return nil, goerr.Wrap(err, "open database")
	}

	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		logging.From(ctx).Warn("llm not configured, using fallbacks", "provider", cfg.LLM.Provider, "error", err)
		client = llm.Disabled{}
	}
	eng := engine.New(db, client, engineOptions(cfg.Memory))

	return &app{cfg: cfg, db: db, eng: eng}, nil
}

func (a *app) Close() {
	a.eng.Stop()
	a.db.Close()
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:rankpilot.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	API struct {
		Token string `yaml:"token" json:"token" jsonschema:"required,description=Token guarding inbound plugin API endpoints"`
	} `yaml:"api" json:"api" jsonschema:"description=Inbound API configuration"`

	Rank RankConfig `yaml:"rank" json:"rank" jsonschema:"description=Rank feed processing configuration"`

	Migration MigrationConfig `yaml:"migration" json:"migration" jsonschema:"description=Peer instance migration configuration"`
}

// RankConfig holds rank feed processing settings
type RankConfig struct {
	Enabled             bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Enable scheduled rank processing"`
	Cron                string        `yaml:"cron" json:"cron" jsonschema:"description=Cron expression for scheduled runs (daily at 08:00 if empty)"`
	RunOnce             bool          `yaml:"run_once" json:"run_once" jsonschema:"default=false,description=Run a single pass shortly after startup"`
	Proxy               string        `yaml:"proxy" json:"proxy" jsonschema:"description=Optional proxy URL for feed fetches"`
	SubscribeAllSeasons bool          `yaml:"subscribe_all_seasons" json:"subscribe_all_seasons" jsonschema:"default=true,description=Subscribe every season of a series"`
	OnlyMovies          bool          `yaml:"only_movies" json:"only_movies" jsonschema:"default=false,description=Skip anything recognized as a series"`
	StopOnRateLimit     bool          `yaml:"stop_on_rate_limit" json:"stop_on_rate_limit" jsonschema:"default=false,description=Abort the whole run when the provider rate-limits"`
	ClearHistory        bool          `yaml:"clear_history" json:"clear_history" jsonschema:"default=false,description=One-shot: clear all history at next run start"`
	ClearUnrecognized   bool          `yaml:"clear_unrecognized" json:"clear_unrecognized" jsonschema:"default=false,description=One-shot: clear unrecognized history at next run start"`
	MinVote             float64       `yaml:"min_vote" json:"min_vote" jsonschema:"default=0,description=Subscribe only when rating is at least this value"`
	MinYear             int           `yaml:"min_year" json:"min_year" jsonschema:"default=0,description=Subscribe only when release year is at least this value"`
	SleepTime           string        `yaml:"sleep_time" json:"sleep_time" jsonschema:"default=3\\,10,description=Politeness sleep range in seconds as min\\,max"`
	Addresses           []string      `yaml:"addresses" json:"addresses" jsonschema:"description=Custom rank feed addresses with optional ;save_path;@type@ suffixes"`
	Ranks               []string      `yaml:"ranks" json:"ranks" jsonschema:"description=Predefined rank names to process"`
	HistoryDisplay      string        `yaml:"history_display" json:"history_display" jsonschema:"default=latest,description=History view mode: latest recognized unrecognized all"`
	FeedTimeout         time.Duration `yaml:"feed_timeout" json:"feed_timeout" jsonschema:"default=4m,description=Feed fetch timeout"`
	Provider            struct {
		BaseURL string        `yaml:"base_url" json:"base_url" jsonschema:"description=Metadata provider API base URL"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Provider request timeout"`
	} `yaml:"provider" json:"provider" jsonschema:"description=Metadata provider configuration"`
}

// MigrationConfig holds peer-instance migration settings
type MigrationConfig struct {
	FromURL        string `yaml:"from_url" json:"from_url" jsonschema:"description=Base URL of the peer instance to migrate from"`
	APIToken       string `yaml:"api_token" json:"api_token" jsonschema:"description=API token of the peer instance"`
	Once           bool   `yaml:"once" json:"once" jsonschema:"default=false,description=One-shot: pull config and history before the next run"`
	WithSites      bool   `yaml:"with_sites" json:"with_sites" jsonschema:"default=false,description=Also migrate site configurations (resets local sites)"`
	WithSubHistory bool   `yaml:"with_sub_history" json:"with_sub_history" jsonschema:"default=false,description=Also migrate subscription history"`
}

// defaultCron runs the daily pass at 08:00 when no expression is configured
const defaultCron = "0 8 * * *"

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Config{}
	cfg.Rank.SubscribeAllSeasons = true // yaml zero value would otherwise disable it
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// set defaults for server
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	// set defaults for database
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:rankpilot.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	// set defaults for rank processing
	if cfg.Rank.Cron == "" {
		cfg.Rank.Cron = defaultCron
	}
	if cfg.Rank.SleepTime == "" {
		cfg.Rank.SleepTime = "3,10"
	}
	if cfg.Rank.HistoryDisplay == "" {
		cfg.Rank.HistoryDisplay = "latest"
	}
	if cfg.Rank.FeedTimeout == 0 {
		cfg.Rank.FeedTimeout = 4 * time.Minute
	}
	if cfg.Rank.Provider.BaseURL == "" {
		cfg.Rank.Provider.BaseURL = "https://frodo.douban.com/api/v2"
	}
	if cfg.Rank.Provider.Timeout == 0 {
		cfg.Rank.Provider.Timeout = 30 * time.Second
	}

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.API.Token == "" {
		return fmt.Errorf("api.token is required")
	}
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}
	if cfg.Rank.MinVote < 0 || cfg.Rank.MinVote > 10 {
		return fmt.Errorf("rank.min_vote must be between 0 and 10")
	}
	if cfg.Rank.MinYear != 0 && (cfg.Rank.MinYear < 1900 || cfg.Rank.MinYear > 2099) {
		return fmt.Errorf("rank.min_year must be between 1900 and 2099")
	}
	switch cfg.Rank.HistoryDisplay {
	case "latest", "recognized", "unrecognized", "all":
	default:
		return fmt.Errorf("rank.history_display must be one of latest, recognized, unrecognized, all")
	}
	if cfg.Migration.Once && (cfg.Migration.FromURL == "" || cfg.Migration.APIToken == "") {
		return fmt.Errorf("migration.from_url and migration.api_token are required when migration.once is set")
	}
	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// Sanitized returns the config with migration-only fields stripped, the form
// exposed over the migrate-config endpoint
func (c *Config) Sanitized() *Config {
	out := *c
	out.Migration = MigrationConfig{}
	out.API.Token = ""
	return &out
}

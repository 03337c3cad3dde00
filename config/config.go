// Package config loads process configuration. Values resolve in three
// layers: built-in defaults, then an optional YAML file
// (~/.teluguwire/config.yaml) for tunables, then environment variables for
// credentials and deploy-specific overrides. Missing credentials are a
// startup error, never a silent degradation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvDBPath        = "TELUGUWIRE_DB"
	EnvListenAddr    = "TELUGUWIRE_ADDR"
	EnvConfigFile    = "TELUGUWIRE_CONFIG"
	EnvGeminiAPIKey  = "GEMINI_API_KEY"
	EnvGeminiModel   = "GEMINI_MODEL"
	EnvSocialAPIKey  = "SOCIAL_API_KEY"
	EnvSocialAPIBase = "SOCIAL_API_BASE"
)

// Config holds everything the process needs at startup.
type Config struct {
	DBPath     string
	ListenAddr string

	GeminiAPIKey string
	GeminiModel  string

	SocialAPIKey  string
	SocialAPIBase string

	FeedCron   string
	SocialCron string
	DrainCron  string

	BatchSize           int
	ItemDelay           time.Duration
	RecentWindow        time.Duration
	SimilarityThreshold float64
	StrictURLMatch      bool
	Language            string
}

// FileConfig represents the structure of ~/.teluguwire/config.yaml. Only
// tunables live here; credentials come from the environment.
type FileConfig struct {
	DBPath              string  `yaml:"db_path"`
	ListenAddr          string  `yaml:"listen_addr"`
	GeminiModel         string  `yaml:"gemini_model"`
	SocialAPIBase       string  `yaml:"social_api_base"`
	FeedCron            string  `yaml:"feed_cron"`
	SocialCron          string  `yaml:"social_cron"`
	DrainCron           string  `yaml:"drain_cron"`
	BatchSize           int     `yaml:"batch_size"`
	ItemDelay           string  `yaml:"item_delay"`
	RecentWindow        string  `yaml:"recent_window"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	StrictURLMatch      *bool   `yaml:"strict_url_match"`
	Language            string  `yaml:"language"`
}

// defaults returns the built-in configuration.
func defaults() *Config {
	return &Config{
		DBPath:              "teluguwire.db",
		ListenAddr:          ":8080",
		GeminiModel:         "gemini-1.5-flash",
		SocialAPIBase:       "https://api.socialdata.tools",
		FeedCron:            "*/30 * * * *",
		SocialCron:          "*/15 * * * *",
		DrainCron:           "*/2 * * * *",
		BatchSize:           3,
		ItemDelay:           5 * time.Second,
		RecentWindow:        72 * time.Hour,
		SimilarityThreshold: 0.65,
		StrictURLMatch:      false,
		Language:            "te",
	}
}

// Load resolves the full configuration: defaults, then the optional config
// file, then environment variables. Returns an error when a required
// credential is absent or the config file is unreadable.
func Load() (*Config, error) {
	cfg := defaults()

	fileCfg, err := LoadConfigFile()
	if err != nil {
		return nil, err
	}
	if fileCfg != nil {
		if err := applyFile(cfg, fileCfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%s is required", EnvGeminiAPIKey)
	}
	if cfg.SocialAPIKey == "" {
		return nil, fmt.Errorf("%s is required", EnvSocialAPIKey)
	}

	return cfg, nil
}

// LoadConfigFile loads the YAML config file. The path defaults to
// ~/.teluguwire/config.yaml and can be overridden with TELUGUWIRE_CONFIG.
// Returns nil if the file doesn't exist (not an error). Returns an error if
// the file exists but cannot be parsed.
func LoadConfigFile() (*FileConfig, error) {
	configPath := os.Getenv(EnvConfigFile)
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, ".teluguwire", "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// applyFile overlays non-zero file values onto the config.
func applyFile(cfg *Config, file *FileConfig) error {
	if file.DBPath != "" {
		cfg.DBPath = file.DBPath
	}
	if file.ListenAddr != "" {
		cfg.ListenAddr = file.ListenAddr
	}
	if file.GeminiModel != "" {
		cfg.GeminiModel = file.GeminiModel
	}
	if file.SocialAPIBase != "" {
		cfg.SocialAPIBase = file.SocialAPIBase
	}
	if file.FeedCron != "" {
		cfg.FeedCron = file.FeedCron
	}
	if file.SocialCron != "" {
		cfg.SocialCron = file.SocialCron
	}
	if file.DrainCron != "" {
		cfg.DrainCron = file.DrainCron
	}
	if file.BatchSize > 0 {
		cfg.BatchSize = file.BatchSize
	}
	if file.ItemDelay != "" {
		delay, err := time.ParseDuration(file.ItemDelay)
		if err != nil {
			return fmt.Errorf("invalid item_delay: %w", err)
		}
		if delay < 0 {
			return errors.New("invalid item_delay: must not be negative")
		}
		cfg.ItemDelay = delay
	}
	if file.RecentWindow != "" {
		window, err := time.ParseDuration(file.RecentWindow)
		if err != nil {
			return fmt.Errorf("invalid recent_window: %w", err)
		}
		cfg.RecentWindow = window
	}
	if file.SimilarityThreshold > 0 {
		if file.SimilarityThreshold > 1 {
			return errors.New("invalid similarity_threshold: must be in (0, 1]")
		}
		cfg.SimilarityThreshold = file.SimilarityThreshold
	}
	if file.StrictURLMatch != nil {
		cfg.StrictURLMatch = *file.StrictURLMatch
	}
	if file.Language != "" {
		cfg.Language = file.Language
	}
	return nil
}

// applyEnv overlays environment variables onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvGeminiAPIKey); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv(EnvGeminiModel); v != "" {
		cfg.GeminiModel = v
	}
	if v := os.Getenv(EnvSocialAPIKey); v != "" {
		cfg.SocialAPIKey = v
	}
	if v := os.Getenv(EnvSocialAPIBase); v != "" {
		cfg.SocialAPIBase = v
	}
}

// String renders the config for startup logging with credentials masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"db=%s addr=%s model=%s batch=%d delay=%s window=%s threshold=%s strict_url=%t lang=%s",
		c.DBPath, c.ListenAddr, c.GeminiModel, c.BatchSize, c.ItemDelay,
		c.RecentWindow, strconv.FormatFloat(c.SimilarityThreshold, 'f', -1, 64),
		c.StrictURLMatch, c.Language,
	)
}

// Package config loads guildsnap settings from the environment, a
// project .env.local and the user's YAML config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const appName = "guildsnap"

// Config represents the application configuration
type Config struct {
	BackupDir string `yaml:"backup_dir"`
	DBPath    string `yaml:"db_path"`
	Token     string `yaml:"token"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Output    string `yaml:"output"`

	RateLimitDelay        time.Duration `yaml:"rate_limit_delay"`
	RequestsPerSecond     float64       `yaml:"requests_per_second"`
	RestoreMaxMessages    int           `yaml:"restore_max_messages"`
	RestoreMedia          bool          `yaml:"restore_media"`
	AttachmentsPerMessage int           `yaml:"attachments_per_message"`
	IgnoreEmojiLimit      bool          `yaml:"ignore_emoji_limit"`
	IgnoreStickerLimit    bool          `yaml:"ignore_sticker_limit"`
	SkipMedia             bool          `yaml:"skip_media"`

	// NotifyURLs receive a JSON summary when a restore run finishes.
	NotifyURLs []string `yaml:"notify_urls"`
}

// Policy is the per-run restore policy carried by the configuration.
type Policy struct {
	Delay                 time.Duration
	MaxMessages           int
	RestoreMedia          bool
	AttachmentsPerMessage int
	EmojiAdvisory         bool
	StickerAdvisory       bool
	SkipMedia             bool
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BackupDir:             "backups",
		LogLevel:              "info",
		LogFormat:             "text",
		Output:                "table",
		RateLimitDelay:        time.Second,
		RequestsPerSecond:     5,
		RestoreMaxMessages:    50,
		RestoreMedia:          true,
		AttachmentsPerMessage: 5,
	}
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/guildsnap/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := Default()

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	if err := loadYAMLConfig(cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		// Check for project-local database first
		local := filepath.Join("."+appName, "journal.db")
		if _, err := os.Stat(local); err == nil {
			cfg.DBPath = local
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			cfg.DBPath = filepath.Join(homeDir, ".local", "share", appName, "journal.db")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("GUILDSNAP_BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}
	if v := getEnvOrFile("GUILDSNAP_DB_PATH", "GUILDSNAP_DB_PATH_FILE"); v != "" {
		cfg.DBPath = v
	}
	if v := getEnvOrFile("GUILDSNAP_TOKEN", "GUILDSNAP_TOKEN_FILE"); v != "" {
		cfg.Token = v
	} else if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("GUILDSNAP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GUILDSNAP_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("GUILDSNAP_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("GUILDSNAP_NOTIFY_URLS"); v != "" {
		cfg.NotifyURLs = nil
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.NotifyURLs = append(cfg.NotifyURLs, u)
			}
		}
	}

	var err error
	if v := os.Getenv("GUILDSNAP_RATE_LIMIT_DELAY"); v != "" {
		if cfg.RateLimitDelay, err = parseDelay(v); err != nil {
			return fmt.Errorf("GUILDSNAP_RATE_LIMIT_DELAY: %w", err)
		}
	}
	if v := os.Getenv("GUILDSNAP_REQUESTS_PER_SECOND"); v != "" {
		if cfg.RequestsPerSecond, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("GUILDSNAP_REQUESTS_PER_SECOND: %w", err)
		}
	}
	ints := map[string]*int{
		"GUILDSNAP_RESTORE_MAX_MESSAGES":    &cfg.RestoreMaxMessages,
		"GUILDSNAP_ATTACHMENTS_PER_MESSAGE": &cfg.AttachmentsPerMessage,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			if *dst, err = strconv.Atoi(v); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	bools := map[string]*bool{
		"GUILDSNAP_RESTORE_MEDIA":        &cfg.RestoreMedia,
		"GUILDSNAP_IGNORE_EMOJI_LIMIT":   &cfg.IgnoreEmojiLimit,
		"GUILDSNAP_IGNORE_STICKER_LIMIT": &cfg.IgnoreStickerLimit,
		"GUILDSNAP_SKIP_MEDIA":           &cfg.SkipMedia,
	}
	for name, dst := range bools {
		if v := os.Getenv(name); v != "" {
			if *dst, err = strconv.ParseBool(v); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

// parseDelay accepts Go durations ("1.5s") and bare seconds ("1.5").
func parseDelay(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q (want text or json)", c.LogFormat)
	}
	switch c.Output {
	case "table", "json", "yaml", "tsv":
	default:
		return fmt.Errorf("invalid output %q (want table, json, yaml or tsv)", c.Output)
	}
	if c.RateLimitDelay < 0 {
		return fmt.Errorf("rate_limit_delay must not be negative")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if c.RestoreMaxMessages < 0 {
		return fmt.Errorf("restore_max_messages must not be negative (0 means unlimited)")
	}
	if c.AttachmentsPerMessage < 1 || c.AttachmentsPerMessage > 10 {
		return fmt.Errorf("attachments_per_message must be between 1 and 10")
	}
	return nil
}

// Policy returns the restore policy values.
func (c *Config) Policy() Policy {
	return Policy{
		Delay:                 c.RateLimitDelay,
		MaxMessages:           c.RestoreMaxMessages,
		RestoreMedia:          c.RestoreMedia,
		AttachmentsPerMessage: c.AttachmentsPerMessage,
		EmojiAdvisory:         c.IgnoreEmojiLimit,
		StickerAdvisory:       c.IgnoreStickerLimit,
		SkipMedia:             c.SkipMedia,
	}
}

// loadYAMLConfig loads configuration from ~/.config/guildsnap/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", appName, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, just check cwd
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}

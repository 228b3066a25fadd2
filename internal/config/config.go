package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ENCORE_TOOLS_SHELL.
const EnvPrefix = "ENCORE"

// Config is the application configuration loaded from defaults, an optional
// config file, .env and the environment.
type Config struct {
	Tools   ToolsConfig   `mapstructure:"tools"`
	Log     LogConfig     `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
	Events  EventsConfig  `mapstructure:"events"`
}

// ToolsConfig names the external tools and where to look for them.
type ToolsConfig struct {
	Enc2Ly     string   `mapstructure:"enc2ly"`
	Python     string   `mapstructure:"python"`
	Library    string   `mapstructure:"library"`
	Subcommand string   `mapstructure:"subcommand"`
	Shell      string   `mapstructure:"shell"`
	SearchDirs []string `mapstructure:"search_dirs"`
	ExtraDirs  []string `mapstructure:"extra_dirs"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// PruneCutoff returns the instant before which history entries are dropped.
// ok is false when retention is disabled.
func (h HistoryConfig) PruneCutoff(now time.Time) (cutoff time.Time, ok bool) {
	if h.RetentionDays <= 0 {
		return time.Time{}, false
	}
	return now.AddDate(0, 0, -h.RetentionDays), true
}

type EventsConfig struct {
	Max int `mapstructure:"max"`
}

// Load reads configuration. An empty configPath searches ./config.yaml and
// ~/.encore-converter/config.yaml; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(homeDir(), AppDirName))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tools.enc2ly", "go-enc2ly")
	v.SetDefault("tools.python", "python3")
	v.SetDefault("tools.library", "ly")
	v.SetDefault("tools.subcommand", "musicxml")
	v.SetDefault("tools.shell", "/bin/sh")
	v.SetDefault("tools.search_dirs", DefaultSearchDirs())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", filepath.Join(homeDir(), AppDirName, "logs", "converter.log"))
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", filepath.Join(homeDir(), AppDirName, "history.db"))
	v.SetDefault("history.retention_days", 90)
	v.SetDefault("events.max", 1000)
}

// Validate checks the fields the converter cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Tools.Enc2Ly) == "" {
		return fmt.Errorf("tools.enc2ly is required")
	}
	if strings.TrimSpace(c.Tools.Python) == "" {
		return fmt.Errorf("tools.python is required")
	}
	if strings.TrimSpace(c.Tools.Library) == "" {
		return fmt.Errorf("tools.library is required")
	}
	if strings.TrimSpace(c.Tools.Subcommand) == "" {
		return fmt.Errorf("tools.subcommand is required")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative")
	}
	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return nil
}

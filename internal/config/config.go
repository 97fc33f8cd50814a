// Package config loads the updater's application configuration via viper:
// a config file (optional) overlaid by environment variables, unmarshalled
// into a typed struct with sane defaults (spec.md §6 environment table).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the updater's top-level application configuration.
type Config struct {
	BaseDir string       `mapstructure:"base_dir"`
	HTTP    HTTPConfig   `mapstructure:"http"`
	Log     LogConfig    `mapstructure:"log"`
	Job     JobConfig    `mapstructure:"job"`
	Lock    LockConfig   `mapstructure:"lock"`
}

// HTTPConfig holds the job service's listen settings.
type HTTPConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// LogConfig mirrors pkg/logger.Config with mapstructure tags so it can be
// unmarshalled directly, then handed to logger.NewLogger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// JobConfig bounds the engine's per-job resources.
type JobConfig struct {
	LogCapacity int `mapstructure:"log_capacity"`
}

// LockConfig governs the process-wide single-job lock (spec.md §5).
type LockConfig struct {
	Filename string `mapstructure:"filename"`
}

// Validate rejects configuration values the rest of the system cannot work
// with.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("config: base_dir must not be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}
	if c.Job.LogCapacity <= 0 {
		return fmt.Errorf("config: job.log_capacity must be positive")
	}
	return nil
}

// Load reads configPath (if non-empty and present), overlays
// UPDATER_-prefixed environment variables (UPDATER_BASE_DIR,
// UPDATER_HTTP_PORT, ... per spec.md §6), and returns the validated result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("UPDATER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_dir", "/opt/updater")
	v.SetDefault("http.port", 8123)
	v.SetDefault("http.host", "0.0.0.0")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.compress", true)

	v.SetDefault("job.log_capacity", 500)
	v.SetDefault("lock.filename", ".lock")
}

// bindEnv maps the spec's flat UPDATER_BASE_DIR / UPDATER_HTTP_PORT
// variable names onto the nested config keys viper otherwise expects as
// UPDATER_HTTP_PORT (SetEnvKeyReplacer already turns "http.port" into
// "HTTP_PORT", so AutomaticEnv alone covers it); base_dir has no nesting so
// it needs no special-casing either. BindEnv calls here are for the names
// that would otherwise require the file-driven key to already exist.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("base_dir", "UPDATER_BASE_DIR")
	_ = v.BindEnv("http.port", "UPDATER_HTTP_PORT")
}

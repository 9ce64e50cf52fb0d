package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "MEDIA_COMPRESSOR"

// Config represents the main configuration structure
type Config struct {
	CacheDirectory string            `mapstructure:"cache_directory"`
	FFmpeg         FFmpegConfig      `mapstructure:"ffmpeg"`
	Performance    PerformanceConfig `mapstructure:"performance"`
	History        HistoryConfig     `mapstructure:"history"`
	Server         ServerConfig      `mapstructure:"server"`
	Logging        LoggingConfig     `mapstructure:"logging"`
}

// FFmpegConfig locates the external transcoding binaries
type FFmpegConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	Preset      string `mapstructure:"preset"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads        int           `mapstructure:"worker_threads"`
	ProgressBuffer       int           `mapstructure:"progress_buffer"`
	FinalProgressTimeout time.Duration `mapstructure:"final_progress_timeout"`
	JobTimeout           time.Duration `mapstructure:"job_timeout"` // 0 disables
	MinFreeDiskMB        uint64        `mapstructure:"min_free_disk_mb"`
}

// HistoryConfig controls the job journal
type HistoryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DatabasePath string `mapstructure:"database_path"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		CacheDirectory: filepath.Join(os.TempDir(), "media-compressor"),
		FFmpeg: FFmpegConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Preset:      "medium",
		},
		Performance: PerformanceConfig{
			WorkerThreads:        4,
			ProgressBuffer:       32,
			FinalProgressTimeout: 5 * time.Second,
			MinFreeDiskMB:        100,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "media-compressor.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
			Console:    true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	v := viper.New()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.media-compressor")
		v.AddConfigPath("/etc/media-compressor")
	}

	// Enable environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, config)

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindDefaults registers every key so AutomaticEnv can override keys that
// are absent from the config file.
func bindDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("cache_directory", c.CacheDirectory)
	v.SetDefault("ffmpeg.ffmpeg_path", c.FFmpeg.FFmpegPath)
	v.SetDefault("ffmpeg.ffprobe_path", c.FFmpeg.FFprobePath)
	v.SetDefault("ffmpeg.preset", c.FFmpeg.Preset)
	v.SetDefault("performance.worker_threads", c.Performance.WorkerThreads)
	v.SetDefault("performance.progress_buffer", c.Performance.ProgressBuffer)
	v.SetDefault("performance.final_progress_timeout", c.Performance.FinalProgressTimeout)
	v.SetDefault("performance.job_timeout", c.Performance.JobTimeout)
	v.SetDefault("performance.min_free_disk_mb", c.Performance.MinFreeDiskMB)
	v.SetDefault("history.enabled", c.History.Enabled)
	v.SetDefault("history.database_path", c.History.DatabasePath)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
	v.SetDefault("logging.console", c.Logging.Console)
}

// Validate validates the configuration and fills derived defaults
func (c *Config) Validate() error {
	if c.CacheDirectory == "" {
		return fmt.Errorf("cache_directory is required")
	}
	c.CacheDirectory = expandPath(c.CacheDirectory)

	if c.FFmpeg.FFmpegPath == "" {
		c.FFmpeg.FFmpegPath = "ffmpeg"
	}
	if c.FFmpeg.FFprobePath == "" {
		c.FFmpeg.FFprobePath = "ffprobe"
	}

	validPresets := map[string]bool{
		"ultrafast": true, "superfast": true, "veryfast": true, "faster": true, "fast": true,
		"medium": true, "slow": true, "slower": true, "veryslow": true,
	}
	if c.FFmpeg.Preset == "" {
		c.FFmpeg.Preset = "medium"
	}
	if !validPresets[c.FFmpeg.Preset] {
		return fmt.Errorf("invalid ffmpeg preset: %s", c.FFmpeg.Preset)
	}

	// Validate performance settings
	if c.Performance.WorkerThreads <= 0 {
		c.Performance.WorkerThreads = 4
	}
	if c.Performance.ProgressBuffer <= 0 {
		c.Performance.ProgressBuffer = 32
	}
	if c.Performance.FinalProgressTimeout <= 0 {
		c.Performance.FinalProgressTimeout = 5 * time.Second
	}
	if c.Performance.JobTimeout < 0 {
		return fmt.Errorf("invalid job_timeout: %s", c.Performance.JobTimeout)
	}

	if c.History.Enabled && c.History.DatabasePath == "" {
		c.History.DatabasePath = filepath.Join(c.CacheDirectory, "history.db")
	}
	c.History.DatabasePath = expandPath(c.History.DatabasePath)

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate logging settings
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// Helper functions

func expandPath(path string) string {
	if path == "" {
		return path
	}

	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return expandedPath
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}
	return expandedPath
}

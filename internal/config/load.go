package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from path. A missing file yields the defaults.
// If path is empty, DefaultPath is used.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("ephemeral", cfg.Ephemeral)
	v.SetDefault("log.path", cfg.Log.Path)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("browser.remote_url", cfg.Browser.RemoteURL)
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.start_url", cfg.Browser.StartURL)
	v.SetDefault("browser.user_data_dir", cfg.Browser.UserDataDir)
	v.SetDefault("browser.allowed_hosts", cfg.Browser.AllowedHosts)
	v.SetDefault("browser.process_names", cfg.Browser.ProcessNames)
	v.SetDefault("browser.step_timeout_seconds", cfg.Browser.StepTimeoutSeconds)
	v.SetDefault("defaults.delay_ms", cfg.Defaults.DelayMS)
	v.SetDefault("defaults.daily_limit", cfg.Defaults.DailyLimit)
	v.SetDefault("controller.max_attempts", cfg.Controller.MaxAttempts)
	v.SetDefault("controller.retry_backoff_ms", cfg.Controller.RetryBackoffMS)
	v.SetDefault("controller.requeue_bound", cfg.Controller.RequeueBound)
	v.SetDefault("controller.max_jitter_ms", cfg.Controller.MaxJitterMS)
	v.SetDefault("loader.max_iterations", cfg.Loader.MaxIterations)
	v.SetDefault("loader.no_new_limit", cfg.Loader.NoNewLimit)
	v.SetDefault("loader.no_new_limit_large", cfg.Loader.NoNewLimitLarge)
	v.SetDefault("loader.large_threshold", cfg.Loader.LargeThreshold)
	v.SetDefault("loader.stuck_limit", cfg.Loader.StuckLimit)
	v.SetDefault("loader.settle_ms", cfg.Loader.SettleMS)
	v.SetDefault("stream.chunk_threshold", cfg.Stream.ChunkThreshold)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges the rest of the program relies on.
func (c Config) Validate() error {
	switch {
	case c.HTTP.Addr == "":
		return fmt.Errorf("http.addr is required")
	case c.Browser.StepTimeoutSeconds <= 0:
		return fmt.Errorf("browser.step_timeout_seconds must be positive")
	case c.Controller.MaxAttempts <= 0:
		return fmt.Errorf("controller.max_attempts must be positive")
	case c.Controller.RetryBackoffMS < 0, c.Controller.MaxJitterMS < 0:
		return fmt.Errorf("controller durations must not be negative")
	case c.Controller.RequeueBound < 0:
		return fmt.Errorf("controller.requeue_bound must not be negative")
	case c.Loader.MaxIterations <= 0, c.Loader.NoNewLimit <= 0, c.Loader.StuckLimit <= 0:
		return fmt.Errorf("loader limits must be positive")
	case c.Stream.ChunkThreshold <= 0:
		return fmt.Errorf("stream.chunk_threshold must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log.level %q", c.Log.Level)
	}
	return nil
}

// resolvePaths expands ~ and environment variables and fills derived paths.
func (c *Config) resolvePaths() error {
	var err error
	if c.StateDir, err = expandPath(c.StateDir); err != nil {
		return err
	}
	if c.Log.Path == "" {
		c.Log.Path = filepath.Join(c.StateDir, "connprune.log")
	}
	if c.Log.Path, err = expandPath(c.Log.Path); err != nil {
		return err
	}
	c.Browser.UserDataDir, err = expandPath(c.Browser.UserDataDir)
	return err
}

func expandPath(value string) (string, error) {
	if value == "" {
		return value, nil
	}
	value = os.ExpandEnv(value)
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value, "~"))
	}
	return value, nil
}

// Write marshals cfg to path, creating parent directories.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

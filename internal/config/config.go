// Package config loads the connprune YAML configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/infra"
	"github.com/eliteGoblin/connprune/internal/usecase"
)

// Config is the full configuration.
type Config struct {
	StateDir   string           `mapstructure:"state_dir" yaml:"state_dir"`
	Ephemeral  bool             `mapstructure:"ephemeral" yaml:"ephemeral"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Defaults   DefaultsConfig   `mapstructure:"defaults" yaml:"defaults"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
	Loader     LoaderConfig     `mapstructure:"loader" yaml:"loader"`
	Stream     StreamConfig     `mapstructure:"stream" yaml:"stream"`
}

// LogConfig configures the log file.
type LogConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Level string `mapstructure:"level" yaml:"level"`
}

// HTTPConfig configures the command surface.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// BrowserConfig configures the controlled browser.
type BrowserConfig struct {
	RemoteURL          string   `mapstructure:"remote_url" yaml:"remote_url"`
	Headless           bool     `mapstructure:"headless" yaml:"headless"`
	StartURL           string   `mapstructure:"start_url" yaml:"start_url"`
	UserDataDir        string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	AllowedHosts       []string `mapstructure:"allowed_hosts" yaml:"allowed_hosts"`
	ProcessNames       []string `mapstructure:"process_names" yaml:"process_names"`
	StepTimeoutSeconds int      `mapstructure:"step_timeout_seconds" yaml:"step_timeout_seconds"`
}

// DefaultsConfig holds the settings used when none are stored.
type DefaultsConfig struct {
	DelayMS    int `mapstructure:"delay_ms" yaml:"delay_ms"`
	DailyLimit int `mapstructure:"daily_limit" yaml:"daily_limit"`
}

// ControllerConfig tunes retries and requeueing.
type ControllerConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	RequeueBound   int `mapstructure:"requeue_bound" yaml:"requeue_bound"`
	MaxJitterMS    int `mapstructure:"max_jitter_ms" yaml:"max_jitter_ms"`
}

// LoaderConfig tunes the bulk loader.
type LoaderConfig struct {
	MaxIterations   int `mapstructure:"max_iterations" yaml:"max_iterations"`
	NoNewLimit      int `mapstructure:"no_new_limit" yaml:"no_new_limit"`
	NoNewLimitLarge int `mapstructure:"no_new_limit_large" yaml:"no_new_limit_large"`
	LargeThreshold  int `mapstructure:"large_threshold" yaml:"large_threshold"`
	StuckLimit      int `mapstructure:"stuck_limit" yaml:"stuck_limit"`
	SettleMS        int `mapstructure:"settle_ms" yaml:"settle_ms"`
}

// StreamConfig configures the progress stream.
type StreamConfig struct {
	ChunkThreshold int `mapstructure:"chunk_threshold" yaml:"chunk_threshold"`
}

// Default returns a config with sensible defaults.
func Default() Config {
	ctrl := usecase.DefaultControllerConfig()
	loader := usecase.DefaultLoaderConfig()
	return Config{
		StateDir: "~/.connprune",
		Log: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:7787",
		},
		Browser: BrowserConfig{
			StartURL:           "https://www.facebook.com/friends/list",
			AllowedHosts:       []string{"facebook.com"},
			ProcessNames:       []string{"chrome", "chromium", "Google Chrome"},
			StepTimeoutSeconds: 5,
		},
		Defaults: DefaultsConfig{
			DelayMS:    int(domain.DefaultDelay / time.Millisecond),
			DailyLimit: 500,
		},
		Controller: ControllerConfig{
			MaxAttempts:    ctrl.MaxAttempts,
			RetryBackoffMS: int(ctrl.RetryBackoff / time.Millisecond),
			RequeueBound:   ctrl.RequeueBound,
			MaxJitterMS:    int(ctrl.MaxJitter / time.Millisecond),
		},
		Loader: LoaderConfig{
			MaxIterations:   loader.MaxIterations,
			NoNewLimit:      loader.NoNewLimit,
			NoNewLimitLarge: loader.NoNewLimitLarge,
			LargeThreshold:  loader.LargeThreshold,
			StuckLimit:      loader.StuckLimit,
			SettleMS:        int(loader.SettleDelay / time.Millisecond),
		},
		Stream: StreamConfig{
			ChunkThreshold: 500,
		},
	}
}

// DefaultPath returns the standard config path.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".connprune", "config.yaml"), nil
}

// Settings returns the default removal settings.
func (c Config) Settings() domain.Settings {
	return domain.Settings{
		Delay:      time.Duration(c.Defaults.DelayMS) * time.Millisecond,
		DailyLimit: c.Defaults.DailyLimit,
	}.Normalize()
}

// ControllerSettings converts to the controller's config.
func (c Config) ControllerSettings() usecase.ControllerConfig {
	return usecase.ControllerConfig{
		MaxAttempts:  c.Controller.MaxAttempts,
		RetryBackoff: time.Duration(c.Controller.RetryBackoffMS) * time.Millisecond,
		RequeueBound: c.Controller.RequeueBound,
		MaxJitter:    time.Duration(c.Controller.MaxJitterMS) * time.Millisecond,
		AllowedHosts: c.Browser.AllowedHosts,
	}
}

// LoaderSettings converts to the bulk loader's config.
func (c Config) LoaderSettings() usecase.LoaderConfig {
	return usecase.LoaderConfig{
		MaxIterations:   c.Loader.MaxIterations,
		NoNewLimit:      c.Loader.NoNewLimit,
		NoNewLimitLarge: c.Loader.NoNewLimitLarge,
		LargeThreshold:  c.Loader.LargeThreshold,
		StuckLimit:      c.Loader.StuckLimit,
		SettleDelay:     time.Duration(c.Loader.SettleMS) * time.Millisecond,
	}
}

// BrowserSettings converts to the browser session's config.
func (c Config) BrowserSettings() infra.BrowserConfig {
	return infra.BrowserConfig{
		RemoteURL:   c.Browser.RemoteURL,
		Headless:    c.Browser.Headless,
		UserDataDir: c.Browser.UserDataDir,
		StartURL:    c.Browser.StartURL,
		StepTimeout: c.StepTimeout(),
	}
}

// ExecutorSettings returns the executor timings with the configured step timeout.
func (c Config) ExecutorSettings() infra.ExecutorConfig {
	cfg := infra.DefaultExecutorConfig()
	cfg.StepTimeout = c.StepTimeout()
	if c.Browser.StartURL != "" {
		cfg.ListURL = c.Browser.StartURL
	}
	return cfg
}

// StepTimeout is the bound for a single browser step.
func (c Config) StepTimeout() time.Duration {
	return time.Duration(c.Browser.StepTimeoutSeconds) * time.Second
}

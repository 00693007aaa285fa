package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AccountConfig holds the mail account the daemon synchronises.
type AccountConfig struct {
	// Address is the chat identity, also used as SMTP envelope sender.
	Address string `mapstructure:"address" yaml:"address"`

	// Username defaults to Address when empty.
	Username string `mapstructure:"username" yaml:"username"`

	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`

	// TLS selects implicit TLS; false means STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// SentFolder is watched by the sentbox loop.
	SentFolder string `mapstructure:"sent_folder" yaml:"sent_folder"`

	// MvboxFolder receives chat messages moved out of INBOX.
	MvboxFolder string `mapstructure:"mvbox_folder" yaml:"mvbox_folder"`

	WatchSentbox bool `mapstructure:"watch_sentbox" yaml:"watch_sentbox"`
	MvboxMove    bool `mapstructure:"mvbox_move" yaml:"mvbox_move"`
}

// LoginName returns the IMAP/SMTP login, falling back to the address.
func (a AccountConfig) LoginName() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Address
}

// LifecycleConfig controls the worker lifecycle controller.
type LifecycleConfig struct {
	// WatchdogDelaySec is the period of the background-budget watchdog.
	WatchdogDelaySec int `mapstructure:"watchdog_delay_sec" yaml:"watchdog_delay_sec"`

	// SafetyThresholdSec is the remaining background time under which
	// the workers are stopped.
	SafetyThresholdSec int `mapstructure:"safety_threshold_sec" yaml:"safety_threshold_sec"`

	// BackgroundAllowanceSec is how long the platform grants background
	// execution after the daemon is backgrounded.
	BackgroundAllowanceSec int `mapstructure:"background_allowance_sec" yaml:"background_allowance_sec"`

	TerminateTimeoutSec int `mapstructure:"terminate_timeout_sec" yaml:"terminate_timeout_sec"`
}

func (c LifecycleConfig) WatchdogDelay() time.Duration {
	return time.Duration(c.WatchdogDelaySec) * time.Second
}

func (c LifecycleConfig) SafetyThreshold() time.Duration {
	return time.Duration(c.SafetyThresholdSec) * time.Second
}

func (c LifecycleConfig) BackgroundAllowance() time.Duration {
	return time.Duration(c.BackgroundAllowanceSec) * time.Second
}

func (c LifecycleConfig) TerminateTimeout() time.Duration {
	return time.Duration(c.TerminateTimeoutSec) * time.Second
}

// CoreConfig tunes the messaging core's blocking behaviour.
type CoreConfig struct {
	// IdleTimeoutSec bounds a single IMAP IDLE; servers drop idlers
	// after 30 minutes so this stays below that.
	IdleTimeoutSec  int `mapstructure:"idle_timeout_sec" yaml:"idle_timeout_sec"`
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	RetryDelaySec   int `mapstructure:"retry_delay_sec" yaml:"retry_delay_sec"`
}

func (c CoreConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

func (c CoreConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c CoreConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

// NetworkConfig controls reachability probing.
type NetworkConfig struct {
	// ProbeAddress defaults to the IMAP server when empty.
	ProbeAddress     string `mapstructure:"probe_address" yaml:"probe_address"`
	ProbeIntervalSec int    `mapstructure:"probe_interval_sec" yaml:"probe_interval_sec"`
	ProbeTimeoutSec  int    `mapstructure:"probe_timeout_sec" yaml:"probe_timeout_sec"`
}

func (c NetworkConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

func (c NetworkConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Account   AccountConfig   `mapstructure:"account" yaml:"account"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" yaml:"lifecycle"`
	Core      CoreConfig      `mapstructure:"core" yaml:"core"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
}

// ConfigError reports an unusable configuration value.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// Validate checks the settings the daemon cannot run without.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Account.Address == "" {
		errs = append(errs, &ConfigError{Key: "account.address", Message: "must be set"})
	}
	if c.Account.IMAPHost == "" {
		errs = append(errs, &ConfigError{Key: "account.imap_host", Message: "must be set"})
	}
	if c.Account.SMTPHost == "" {
		errs = append(errs, &ConfigError{Key: "account.smtp_host", Message: "must be set"})
	}
	durations := []struct {
		key string
		sec int
	}{
		{"lifecycle.watchdog_delay_sec", c.Lifecycle.WatchdogDelaySec},
		{"lifecycle.safety_threshold_sec", c.Lifecycle.SafetyThresholdSec},
		{"lifecycle.background_allowance_sec", c.Lifecycle.BackgroundAllowanceSec},
		{"lifecycle.terminate_timeout_sec", c.Lifecycle.TerminateTimeoutSec},
		{"core.idle_timeout_sec", c.Core.IdleTimeoutSec},
		{"core.poll_interval_sec", c.Core.PollIntervalSec},
		{"core.retry_delay_sec", c.Core.RetryDelaySec},
		{"network.probe_interval_sec", c.Network.ProbeIntervalSec},
		{"network.probe_timeout_sec", c.Network.ProbeTimeoutSec},
	}
	for _, d := range durations {
		if d.sec <= 0 {
			errs = append(errs, &ConfigError{Key: d.key, Message: "must be positive"})
		}
	}
	if c.Lifecycle.SafetyThresholdSec >= c.Lifecycle.BackgroundAllowanceSec {
		errs = append(errs, &ConfigError{
			Key:     "lifecycle.safety_threshold_sec",
			Message: "must be below lifecycle.background_allowance_sec",
		})
	}
	return errors.Join(errs...)
}

// ConfigDir returns ~/.config/mailsync.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailsync")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Account: AccountConfig{
			IMAPPort:     "993",
			SMTPPort:     "465",
			TLS:          true,
			SentFolder:   "Sent",
			MvboxFolder:  "DeltaChat",
			WatchSentbox: true,
			MvboxMove:    true,
		},
		Lifecycle: LifecycleConfig{
			WatchdogDelaySec:       3,
			SafetyThresholdSec:     10,
			BackgroundAllowanceSec: 30,
			TerminateTimeoutSec:    5,
		},
		Core: CoreConfig{
			IdleTimeoutSec:  1500,
			PollIntervalSec: 60,
			RetryDelaySec:   30,
		},
		Network: NetworkConfig{
			ProbeIntervalSec: 10,
			ProbeTimeoutSec:  5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(ConfigDir(), "mailsync.db"),
		},
	}
}

func setDefaults(v *viper.Viper, cfg *AppConfig) {
	v.SetDefault("account.imap_port", cfg.Account.IMAPPort)
	v.SetDefault("account.smtp_port", cfg.Account.SMTPPort)
	v.SetDefault("account.tls", cfg.Account.TLS)
	v.SetDefault("account.sent_folder", cfg.Account.SentFolder)
	v.SetDefault("account.mvbox_folder", cfg.Account.MvboxFolder)
	v.SetDefault("account.watch_sentbox", cfg.Account.WatchSentbox)
	v.SetDefault("account.mvbox_move", cfg.Account.MvboxMove)
	v.SetDefault("lifecycle.watchdog_delay_sec", cfg.Lifecycle.WatchdogDelaySec)
	v.SetDefault("lifecycle.safety_threshold_sec", cfg.Lifecycle.SafetyThresholdSec)
	v.SetDefault("lifecycle.background_allowance_sec", cfg.Lifecycle.BackgroundAllowanceSec)
	v.SetDefault("lifecycle.terminate_timeout_sec", cfg.Lifecycle.TerminateTimeoutSec)
	v.SetDefault("core.idle_timeout_sec", cfg.Core.IdleTimeoutSec)
	v.SetDefault("core.poll_interval_sec", cfg.Core.PollIntervalSec)
	v.SetDefault("core.retry_delay_sec", cfg.Core.RetryDelaySec)
	v.SetDefault("network.probe_interval_sec", cfg.Network.ProbeIntervalSec)
	v.SetDefault("network.probe_timeout_sec", cfg.Network.ProbeTimeoutSec)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("database.path", cfg.Database.Path)

	// Keys without a default must still be known to viper for
	// AutomaticEnv to resolve them during Unmarshal.
	for _, key := range []string{
		"account.address", "account.username",
		"account.imap_host", "account.smtp_host",
		"network.probe_address",
	} {
		v.SetDefault(key, "")
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration. Values
// may be overridden by MAILSYNC_* environment variables, e.g.
// MAILSYNC_ACCOUNT_IMAP_HOST.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("mailsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaultAppConfig()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("account", cfg.Account)
	v.Set("lifecycle", cfg.Lifecycle)
	v.Set("core", cfg.Core)
	v.Set("network", cfg.Network)
	v.Set("log", cfg.Log)
	v.Set("database", cfg.Database)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

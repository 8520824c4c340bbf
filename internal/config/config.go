package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AdminToken   string        `mapstructure:"admin_token"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// Timeout bounds one delivery from dial to QUIT.
	Timeout time.Duration `mapstructure:"timeout"`
}

type RecoveryConfig struct {
	// PollInterval drives the in-process runner. Zero disables it.
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	Workers          int           `mapstructure:"workers"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
	BatchTimeout     time.Duration `mapstructure:"batch_timeout"`
	TriggerSecret    string        `mapstructure:"trigger_secret"`
	TriggerTolerance time.Duration `mapstructure:"trigger_tolerance"`

	// MaxRetries and Schedules override the built-in policy per failure class.
	MaxRetries map[string]int             `mapstructure:"max_retries"`
	Schedules  map[string][]time.Duration `mapstructure:"schedules"`

	Notifications NotificationConfig `mapstructure:"notifications"`
}

type NotificationConfig struct {
	// ReminderAfter lists retry counts after which a card update reminder is sent.
	ReminderAfter []int `mapstructure:"reminder_after"`
	// ReminderBeforeExhaustion sends a reminder when this many attempts remain. Zero disables it.
	ReminderBeforeExhaustion int `mapstructure:"reminder_before_exhaustion"`
}

// Load reads the config file (if any) and RECLAIM_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("reclaim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reclaim")
	}

	setDefaults(v)

	v.SetEnvPrefix("RECLAIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	r := c.Recovery
	switch {
	case r.PollInterval < 0:
		return fmt.Errorf("recovery.poll_interval must be >= 0")
	case r.BatchSize <= 0:
		return fmt.Errorf("recovery.batch_size must be > 0")
	case r.Workers <= 0:
		return fmt.Errorf("recovery.workers must be > 0")
	case r.AttemptTimeout <= 0:
		return fmt.Errorf("recovery.attempt_timeout must be > 0")
	case r.BatchTimeout <= 0:
		return fmt.Errorf("recovery.batch_timeout must be > 0")
	case r.Notifications.ReminderBeforeExhaustion < 0:
		return fmt.Errorf("recovery.notifications.reminder_before_exhaustion must be >= 0")
	}
	if c.SMTP.Enabled && (c.SMTP.Host == "" || c.SMTP.From == "") {
		return fmt.Errorf("smtp.host and smtp.from are required when smtp is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.admin_token", "")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/reclaim.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.timeout", 10*time.Second)

	v.SetDefault("recovery.poll_interval", 15*time.Minute)
	v.SetDefault("recovery.batch_size", 500)
	v.SetDefault("recovery.workers", 8)
	v.SetDefault("recovery.attempt_timeout", 10*time.Second)
	v.SetDefault("recovery.batch_timeout", 50*time.Second)
	v.SetDefault("recovery.trigger_secret", "")
	v.SetDefault("recovery.trigger_tolerance", 5*time.Minute)
	v.SetDefault("recovery.notifications.reminder_after", []int{1})
	v.SetDefault("recovery.notifications.reminder_before_exhaustion", 1)
}

// Package config loads bot settings from an optional config file and
// SPIKE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Discord  DiscordConfig  `mapstructure:"discord"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Platform PlatformConfig `mapstructure:"platform"`
}

type DiscordConfig struct {
	// Token is empty when running without a gateway (memory platform).
	Token  string `mapstructure:"token"`
	Prefix string `mapstructure:"prefix" validate:"required"`
}

type StoreConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=file postgres memory"`
	LedgerPath    string        `mapstructure:"ledger_path" validate:"required_if=Backend file"`
	WagersPath    string        `mapstructure:"wagers_path" validate:"required_if=Backend file"`
	FlushEvery    int           `mapstructure:"flush_every" validate:"gte=1"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type HTTPConfig struct {
	// Addr is empty to disable the admin server.
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type PlatformConfig struct {
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.prefix", "$")
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.ledger_path", "data/records.json")
	v.SetDefault("store.wagers_path", "data/bets.json")
	v.SetDefault("store.flush_every", 5)
	v.SetDefault("store.flush_interval", 30*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 10*time.Minute)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("platform.lookup_timeout", 5*time.Second)
}

// Load reads configuration. path may be empty; a missing file is not an
// error. Environment variables such as SPIKE_DISCORD_TOKEN override both
// the file and the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("spike")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Backend == "postgres" && c.Database.URL == "" {
		return errors.New("invalid config: database.url is required for the postgres backend")
	}
	return nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

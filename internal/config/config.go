// Package config loads the benchmark's runtime configuration, following the
// teacher's internal/config/config.go viper idiom: SetDefault for every
// field, an environment prefix, and an optional YAML file.
package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration tree, per SPEC_FULL.md §10.5.
type Config struct {
	Run      RunConfig      `mapstructure:"run"`
	Venue    VenueConfig    `mapstructure:"venue"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// RunConfig covers a single plan-execution run.
type RunConfig struct {
	Network         string `mapstructure:"network"`
	EffectTimeoutMs int    `mapstructure:"effect_timeout_ms"`
	WindowMs        int64  `mapstructure:"window_ms"`
	PlanPath        string `mapstructure:"plan_path"`
	OutDir          string `mapstructure:"out_dir"`
	Demo            bool   `mapstructure:"demo"`
}

// VenueConfig identifies and authenticates against the trading venue.
// PrivateKeyEnv names the environment variable holding the signing key
// rather than the key itself, so a config file or repo never carries a
// secret directly.
type VenueConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	WalletAddress string `mapstructure:"wallet_address"`
	PrivateKeyEnv string `mapstructure:"private_key_env"`
	BuilderCode   string `mapstructure:"builder_code"`
	ChainID       int64  `mapstructure:"chain_id"`
}

// RedisConfig backs the optional cross-process run-status store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig backs the optional Score Report archive.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ServerConfig configures the run-status HTTP surface.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// LogConfig configures hlbench-run's structured logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads config.yaml from the working directory or ./configs, applies
// documented defaults for any field it omits, and layers HLBENCH_-prefixed
// environment variables on top.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	viper.SetEnvPrefix("hlbench")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("run.network", "hyperliquid-testnet")
	viper.SetDefault("run.effect_timeout_ms", 2000)
	viper.SetDefault("run.window_ms", 200)
	viper.SetDefault("run.out_dir", "./runs")
	viper.SetDefault("run.demo", false)
	viper.SetDefault("run.plan_path", "")

	viper.SetDefault("venue.base_url", "https://api.hyperliquid-testnet.xyz")
	viper.SetDefault("venue.wallet_address", "")
	viper.SetDefault("venue.private_key_env", "HLBENCH_VENUE_PRIVATE_KEY")
	viper.SetDefault("venue.builder_code", "")
	viper.SetDefault("venue.chain_id", 421614)

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("postgres.dsn", "")

	viper.SetDefault("server.port", "8090")

	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("no config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

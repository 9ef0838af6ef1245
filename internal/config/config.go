// Package config loads service configuration from file and
// environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/stratos-labs/quant-backend/internal/data"
)

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DataConfig selects where bars come from.
type DataConfig struct {
	Dir        string                `mapstructure:"dir"`
	RestURL    string                `mapstructure:"rest_url"`
	ClickHouse data.ClickHouseConfig `mapstructure:"clickhouse"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the root of the service configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Data   DataConfig   `mapstructure:"data"`
	Log    LogConfig    `mapstructure:"log"`
}

// Default returns the configuration used when no file or environment
// overrides exist.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Data: DataConfig{
			Dir:     "data",
			RestURL: "https://api.binance.com",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads quantd.yaml from path (or the working directory when path
// is empty), then applies QUANT_-prefixed environment overrides, e.g.
// QUANT_SERVER_ADDR.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("quantd")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("QUANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("data.dir", cfg.Data.Dir)
	v.SetDefault("data.rest_url", cfg.Data.RestURL)
	v.SetDefault("data.clickhouse.addr", "")
	v.SetDefault("data.clickhouse.database", "quant")
	v.SetDefault("data.clickhouse.table", "candles")
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.development", cfg.Log.Development)
}

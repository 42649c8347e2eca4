// Package config loads the server configuration from an optional
// config.yaml, BANK_* environment variables and command line flags.
//
// Precedence, highest first: flags bound with BindPFlag, environment,
// config file, the defaults below. Nested keys map to environment names by
// replacing "." with "_": http.port is BANK_HTTP_PORT.
package config

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/pkg/logger"
	"github.com/warp/bank-interest/pkg/logger/slogx"
)

const EnvPrefix = "BANK"

var (
	configOnce sync.Once
	config     Config
)

type Config struct {
	Logger   logger.Config `mapstructure:"logger"`
	HTTP     HTTP          `mapstructure:"http"`
	Database Database      `mapstructure:"database"`
	Presence Presence      `mapstructure:"presence"`
	Payout   Payout        `mapstructure:"payout"`

	// Interest is the global default for every bank field, keyed by field
	// name (interest_rate or interest-rate). Missing fields keep the
	// built-in default and stay overridable.
	Interest map[string]bank.FieldDefault `mapstructure:"interest"`
}

type HTTP struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Database struct {
	// Path of the SQLite file. ":memory:" keeps everything in memory.
	Path string `mapstructure:"path"`
}

type Presence struct {
	// TTL is how long an owner counts as online after the last heartbeat.
	TTL time.Duration `mapstructure:"ttl"`
}

type Payout struct {
	// Namespace prefixes every payout metric name.
	Namespace string `mapstructure:"namespace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.output", "text")
	v.SetDefault("logger.debug", false)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("database.path", "bank.db")
	v.SetDefault("presence.ttl", 5*time.Minute)
	v.SetDefault("payout.namespace", "bank")
}

// BindPFlag binds a configuration key to a command line flag.
func BindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		logger.Error("Failed to bind flag to config", slog.String("key", key), slogx.Error(err))
	}
}

// Parse reads the configuration once. An empty configFile looks for
// ./config.yaml; a missing file is not an error.
func Parse(configFile string) Config {
	ctx := logger.WithContext(context.Background(), slog.String("package", "config"))
	configOnce.Do(func() {
		if configFile != "" {
			viper.SetConfigFile(configFile)
		} else {
			viper.AddConfigPath("./")
			viper.SetConfigName("config")
		}

		c, err := load(viper.GetViper())
		if err != nil {
			logger.Fatal("Invalid configuration", slogx.Error(err))
		}
		config = c
		logger.InfoContext(ctx, "Loaded configuration", slog.String("file", viper.ConfigFileUsed()))
	})
	return config
}

// Load returns the configuration read by Parse.
func Load() Config {
	return Parse("")
}

func load(v *viper.Viper) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var errNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &errNotFound) {
			return Config{}, errors.Wrap(err, "read config file")
		}
		logger.Warn("Config file not found, using defaults and environment")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return Config{}, errors.Newf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.Presence.TTL <= 0 {
		return Config{}, errors.Newf("presence.ttl must be positive, got %s", c.Presence.TTL)
	}
	return c, nil
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Server config keys. Flags bound onto the viper instance use the same
// names.
const (
	KeyDB          = "db"
	KeyAddr        = "addr"
	KeyMetricsAddr = "metrics_addr"
	KeyStrictTells = "strict_tells"
	KeyLogLevel    = "log_level"
)

const envPrefix = "PSYSERVE"

// ServerConfig holds the settings of a running server.
type ServerConfig struct {
	DB          string
	Addr        string
	MetricsAddr string
	StrictTells bool
	LogLevel    slog.Level
}

// NewViper returns a viper instance with server defaults and environment
// lookup configured. Callers bind flags onto it before LoadServer.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDB, "psyserve.db")
	v.SetDefault(KeyAddr, "127.0.0.1:5555")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyStrictTells, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}

// LoadServer reads the config file at path into v and resolves the
// server settings. An empty path searches the working directory for
// psyserve.yaml; a missing file is not an error in that case.
func LoadServer(v *viper.Viper, path string) (ServerConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("psyserve")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return ServerConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	level, err := parseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return ServerConfig{}, err
	}

	cfg := ServerConfig{
		DB:          v.GetString(KeyDB),
		Addr:        v.GetString(KeyAddr),
		MetricsAddr: v.GetString(KeyMetricsAddr),
		StrictTells: v.GetBool(KeyStrictTells),
		LogLevel:    level,
	}
	if cfg.DB == "" {
		return ServerConfig{}, fmt.Errorf("%s must not be empty", KeyDB)
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", KeyLogLevel, s, err)
	}
	return level, nil
}

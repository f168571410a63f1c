package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	envHTTPAddr        = "HTTP_ADDR"
	envDatabaseDSN     = "DATABASE_DSN"
	envAccessSecret    = "JWT_ACCESS_SECRET"
	envRefreshSecret   = "JWT_REFRESH_SECRET"
	envAccessTTL       = "ACCESS_TOKEN_TTL"
	envRefreshTTL      = "REFRESH_TOKEN_TTL"
	envCleanupInterval = "CLEANUP_INTERVAL"
	envRequestTimeout  = "REQUEST_TIMEOUT"
	envLogLevel        = "LOG_LEVEL"
)

// parseEnv loads envFile into the process environment (variables already set
// are not overridden, a missing file is ignored) and then copies every
// non-empty variable into config. Durations use time.ParseDuration syntax.
func parseEnv(config *Config, envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	setString(&config.EndpointAddrHTTP, envHTTPAddr)
	setString(&config.DatabaseDSN, envDatabaseDSN)
	setString(&config.AccessTokenSecret, envAccessSecret)
	setString(&config.RefreshTokenSecret, envRefreshSecret)
	setString(&config.LogLevel, envLogLevel)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{envAccessTTL, &config.AccessTokenValidityDuration},
		{envRefreshTTL, &config.RefreshTokenValidityDuration},
		{envCleanupInterval, &config.CleanupInterval},
		{envRequestTimeout, &config.RequestTimeout},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

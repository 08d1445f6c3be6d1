// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "tenebra-dev-secret-change-me"

var expiresInPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

type Config struct {
	Env  string
	Port int

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	RedisURL string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	JWTSecret       string
	JWTExpiresIn    time.Duration
	LowKeyThreshold int
}

// Load reads the environment and validates the values that must stop the
// process at startup: a malformed token TTL and a default secret in
// production.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "tenebra")
	v.SetDefault("DB_USER", "tenebra")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("S3_ENDPOINT", "localhost:9000")
	v.SetDefault("S3_ACCESS_KEY", "minioadmin")
	v.SetDefault("S3_SECRET_KEY", "minioadmin")
	v.SetDefault("S3_BUCKET", "tenebra-files")
	v.SetDefault("S3_USE_SSL", false)
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_EXPIRES_IN", "7d")
	v.SetDefault("PREKEY_LOW_THRESHOLD", 20)

	cfg := &Config{
		Env:             v.GetString("ENV"),
		Port:            v.GetInt("PORT"),
		DBHost:          v.GetString("DB_HOST"),
		DBPort:          v.GetInt("DB_PORT"),
		DBName:          v.GetString("DB_NAME"),
		DBUser:          v.GetString("DB_USER"),
		DBPassword:      v.GetString("DB_PASSWORD"),
		DBSSLMode:       v.GetString("DB_SSLMODE"),
		RedisURL:        v.GetString("REDIS_URL"),
		S3Endpoint:      v.GetString("S3_ENDPOINT"),
		S3AccessKey:     v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:     v.GetString("S3_SECRET_KEY"),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3UseSSL:        v.GetBool("S3_USE_SSL"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		LowKeyThreshold: v.GetInt("PREKEY_LOW_THRESHOLD"),
	}

	ttl, err := ParseExpiresIn(v.GetString("JWT_EXPIRES_IN"))
	if err != nil {
		return nil, err
	}
	cfg.JWTExpiresIn = ttl

	if cfg.IsProduction() && cfg.JWTSecret == defaultJWTSecret {
		return nil, fmt.Errorf("JWT_SECRET must be set to a non-default value in production")
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// MaxOpenConns sizes the database pool: 20 in production, 10 otherwise.
func (c *Config) MaxOpenConns() int {
	if c.IsProduction() {
		return 20
	}
	return 10
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode)
}

// ParseExpiresIn parses a token TTL of the form "<n>[smhd]", e.g. "7d".
func ParseExpiresIn(s string) (time.Duration, error) {
	m := expiresInPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed JWT_EXPIRES_IN %q: want <number>[smhd]", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("malformed JWT_EXPIRES_IN %q: %w", s, err)
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * 24 * time.Hour, nil
	}
}

// Package db manages the PostgreSQL and Redis connections shared by the
// services.
package db

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/config"
)

type DB struct {
	Postgres *sql.DB
	Redis    *redis.Client

	log *zap.Logger
}

// New opens the PostgreSQL pool and pings it; an unreachable database is a
// startup failure. Redis is best-effort: the rate limiter fails open without
// it, so a connection error only logs a warning.
func New(cfg *config.Config, log *zap.Logger) (*DB, error) {
	pg, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	pg.SetMaxOpenConns(cfg.MaxOpenConns())
	pg.SetMaxIdleConns(2)
	pg.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pg.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	log.Info("postgres connection established")

	rdb := newRedisClient(cfg.RedisURL)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
		rdb = nil
	} else {
		log.Info("redis connection established")
	}

	return &DB{Postgres: pg, Redis: rdb, log: log}, nil
}

// newRedisClient accepts both "host:port" and "redis://..." URL forms.
func newRedisClient(redisURL string) *redis.Client {
	opts := &redis.Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		if parsed, err := url.Parse(redisURL); err == nil {
			opts.Addr = parsed.Host
			if parsed.User != nil {
				opts.Username = parsed.User.Username()
				if password, ok := parsed.User.Password(); ok {
					opts.Password = password
				}
			}
			if parsed.Scheme == "rediss" {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	} else {
		opts.Addr = redisURL
	}

	return redis.NewClient(opts)
}

func (db *DB) Close() error {
	var errs []error

	if db.Postgres != nil {
		if err := db.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}
	if db.Redis != nil {
		if err := db.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing databases: %v", errs)
	}
	return nil
}

// RunMigrations executes SQL migration files in lexical order, recording each
// applied version so reruns are no-ops.
func (db *DB) RunMigrations(migrationsPath string) error {
	_, err := db.Postgres.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		version := filepath.Base(file)

		var exists bool
		err := db.Postgres.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if exists {
			continue
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", version, err)
		}

		tx, err := db.Postgres.Begin()
		if err != nil {
			return fmt.Errorf("failed to start transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version) VALUES ($1)", version,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}

		db.log.Info("applied migration", zap.String("version", version))
	}

	return nil
}

// Health checks PostgreSQL and, best-effort, Redis.
func (db *DB) Health(ctx context.Context) error {
	if err := db.Postgres.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	if db.Redis != nil {
		if err := db.Redis.Ping(ctx).Err(); err != nil {
			db.log.Warn("redis health check failed", zap.Error(err))
		}
	}
	return nil
}

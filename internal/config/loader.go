package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config captures environment driven configuration values for the booking guard service.
type Config struct {
	HTTPPort          int
	SQLitePath        string
	MigrationsEnabled bool
	RetentionDays     int
	ScanInterval      time.Duration
	ScanConcurrency   int
	RosterPath        string
	SessionsDir       string
	APITokenHash      string
	AMQPURL           string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	LogLevel          string
	LogFormat         string
}

// LoadFile seeds the environment from envFile, when it exists, and then calls
// Load. Variables already present in the environment take precedence.
func LoadFile(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("環境ファイルを読み込めません: %s: %w", envFile, err)
		}
	}
	return Load()
}

// Load parses configuration values from the current process environment.
//
// The loader applies defaults for optional fields while validating required
// values, and reports every missing or invalid entry together.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:          8080,
		SQLitePath:        "bookingguard.db",
		MigrationsEnabled: true,
		RetentionDays:     30,
		ScanInterval:      time.Hour,
		ScanConcurrency:   4,
		RosterPath:        "roster.yaml",
		SessionsDir:       "sessions",
		LogLevel:          "info",
		LogFormat:         "json",
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	positiveInt := func(key string, target *int) {
		if value := env(key); value != "" {
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				invalid = append(invalid, key)
				return
			}
			*target = n
		}
	}

	positiveInt("BOOKINGGUARD_HTTP_PORT", &cfg.HTTPPort)
	positiveInt("BOOKINGGUARD_RETENTION_DAYS", &cfg.RetentionDays)
	positiveInt("BOOKINGGUARD_SCAN_CONCURRENCY", &cfg.ScanConcurrency)

	if path := env("BOOKINGGUARD_SQLITE_PATH"); path != "" {
		cfg.SQLitePath = path
	}

	if value := env("BOOKINGGUARD_MIGRATIONS_ENABLED"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			invalid = append(invalid, "BOOKINGGUARD_MIGRATIONS_ENABLED")
		} else {
			cfg.MigrationsEnabled = enabled
		}
	}

	if value := env("BOOKINGGUARD_SCAN_INTERVAL"); value != "" {
		interval, err := time.ParseDuration(value)
		if err != nil || interval <= 0 {
			invalid = append(invalid, "BOOKINGGUARD_SCAN_INTERVAL")
		} else {
			cfg.ScanInterval = interval
		}
	}

	if path := env("BOOKINGGUARD_ROSTER_PATH"); path != "" {
		cfg.RosterPath = path
	}
	if dir := env("BOOKINGGUARD_SESSIONS_DIR"); dir != "" {
		cfg.SessionsDir = dir
	}

	if hash := env("BOOKINGGUARD_API_TOKEN_HASH"); hash == "" {
		missing = append(missing, "BOOKINGGUARD_API_TOKEN_HASH")
	} else if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		invalid = append(invalid, "BOOKINGGUARD_API_TOKEN_HASH")
	} else {
		cfg.APITokenHash = hash
	}

	cfg.AMQPURL = env("BOOKINGGUARD_AMQP_URL")
	cfg.RedisAddr = env("BOOKINGGUARD_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("BOOKINGGUARD_REDIS_PASSWORD")

	if value := env("BOOKINGGUARD_REDIS_DB"); value != "" {
		db, err := strconv.Atoi(value)
		if err != nil || db < 0 {
			invalid = append(invalid, "BOOKINGGUARD_REDIS_DB")
		} else {
			cfg.RedisDB = db
		}
	}

	if level := strings.ToLower(env("BOOKINGGUARD_LOG_LEVEL")); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			invalid = append(invalid, "BOOKINGGUARD_LOG_LEVEL")
		}
	}

	if format := strings.ToLower(env("BOOKINGGUARD_LOG_FORMAT")); format != "" {
		switch format {
		case "json", "text":
			cfg.LogFormat = format
		default:
			invalid = append(invalid, "BOOKINGGUARD_LOG_FORMAT")
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

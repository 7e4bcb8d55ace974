package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tesseract-Nexus/go-shared/secrets"
)

// Directory sources
const (
	DirectorySourceDatabase     = "database"
	DirectorySourceStaffService = "staff-service"
)

// Config holds all configuration for the service
type Config struct {
	Environment        string
	Port               string
	DatabaseURL        string
	StaffServiceURL    string
	NATSURL            string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	LockTTL            time.Duration
	DirectorySource    string
	SeedGlobalPolicies bool
	LogLevel           string
	CORSOrigins        []string
	ReminderInterval   time.Duration
	ReminderAfter      time.Duration
	ServiceVersion     string
	TracingExporter    string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		Port:               getEnv("PORT", "8099"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		StaffServiceURL:    getEnv("STAFF_SERVICE_URL", "http://staff-service:8080"),
		NATSURL:            getEnv("NATS_URL", ""),
		RedisAddress:       getEnv("REDIS_ADDRESS", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		LockTTL:            time.Duration(getEnvInt("LOCK_TTL_SECONDS", 30)) * time.Second,
		DirectorySource:    getEnv("DIRECTORY_SOURCE", DirectorySourceDatabase),
		SeedGlobalPolicies: getEnvBool("SEED_GLOBAL_POLICIES", true),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSOrigins:        getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:4200"}),
		ReminderInterval:   time.Duration(getEnvInt("REMINDER_INTERVAL_MINUTES", 60)) * time.Minute,
		ReminderAfter:      time.Duration(getEnvInt("REMINDER_AFTER_HOURS", 48)) * time.Hour,
		ServiceVersion:     getEnv("SERVICE_VERSION", "1.0.0"),
		TracingExporter:    getEnv("TRACING_EXPORTER", defaultTracingExporter()),
	}
}

// defaultTracingExporter exports over OTLP once a collector endpoint is configured
func defaultTracingExporter() string {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") != "" {
		return "otlp"
	}
	return "none"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// NewLogger builds the service logger
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// InitDB initializes the database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		// Build DSN from individual components if DATABASE_URL not set
		host := getEnv("DB_HOST", "localhost")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "postgres")
		password := secrets.GetDBPassword() // Use GCP Secret Manager
		dbname := getEnv("DB_NAME", "approval_db")
		sslmode := getEnv("DB_SSLMODE", "require")

		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode,
		)
	}

	logLevel := logger.Silent
	if cfg.Environment == "development" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
	}

	return db, nil
}

// InitRedis connects to redis when REDIS_ADDRESS is set. It returns nil when
// redis is not configured or not reachable; callers fall back to in-process
// locking.
func InitRedis(cfg *Config, log *logrus.Logger) *redis.Client {
	if cfg.RedisAddress == "" {
		log.Info("REDIS_ADDRESS not configured, using in-process request locks")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Failed to connect to Redis, using in-process request locks")
		_ = client.Close()
		return nil
	}

	log.Info("Connected to Redis for request locking")
	return client
}

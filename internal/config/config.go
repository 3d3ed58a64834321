package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	Database  DatabaseConfig
	RedisURL  string
	Casdoor   CasdoorConfig
	Kafka     KafkaConfig
	Scoring   ScoringConfig
	Timer     TimerConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Tracing   TracingConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN builds a postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string
}

type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
}

// ScoringConfig holds the thresholds used when a bank does not configure its own
type ScoringConfig struct {
	DefaultPassingThreshold  float64
	DefaultWeakAreaThreshold float64
}

type TimerConfig struct {
	SweepInterval  time.Duration
	DriftTolerance time.Duration
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type TracingConfig struct {
	Enabled           bool
	CollectorEndpoint string
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// LoadConfig reads configuration from an optional .env file, an optional CONFIG_FILE
// and the process environment, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "exam_sessions")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_URL", "")

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC_PREFIX", "exam")

	v.SetDefault("SCORING_DEFAULT_PASSING_THRESHOLD", 70.0)
	v.SetDefault("SCORING_DEFAULT_WEAK_AREA_THRESHOLD", 60.0)

	v.SetDefault("TIMER_SWEEP_INTERVAL", "30s")
	v.SetDefault("TIMER_DRIFT_TOLERANCE", "15s")

	v.SetDefault("RATE_LIMIT_RPS", 10.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_COLLECTOR_ENDPOINT", "http://localhost:14268/api/traces")

	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 30)
}

func fromViper(v *viper.Viper) (*Config, error) {
	level, err := parseLogLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        v.GetString("PORT"),
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    level,
		Database: DatabaseConfig{
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetInt("DB_PORT"),
			User:         v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			Name:         v.GetString("DB_NAME"),
			SSLMode:      v.GetString("DB_SSLMODE"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		},
		RedisURL: v.GetString("REDIS_URL"),
		Casdoor: CasdoorConfig{
			Endpoint:     v.GetString("CASDOOR_ENDPOINT"),
			ClientID:     v.GetString("CASDOOR_CLIENT_ID"),
			ClientSecret: v.GetString("CASDOOR_CLIENT_SECRET"),
			Cert:         v.GetString("CASDOOR_CERT"),
			Organization: v.GetString("CASDOOR_ORGANIZATION"),
			Application:  v.GetString("CASDOOR_APPLICATION"),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(v.GetString("KAFKA_BROKERS")),
			TopicPrefix: v.GetString("KAFKA_TOPIC_PREFIX"),
		},
		Scoring: ScoringConfig{
			DefaultPassingThreshold:  v.GetFloat64("SCORING_DEFAULT_PASSING_THRESHOLD"),
			DefaultWeakAreaThreshold: v.GetFloat64("SCORING_DEFAULT_WEAK_AREA_THRESHOLD"),
		},
		Timer: TimerConfig{
			SweepInterval:  v.GetDuration("TIMER_SWEEP_INTERVAL"),
			DriftTolerance: v.GetDuration("TIMER_DRIFT_TOLERANCE"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:             v.GetInt("RATE_LIMIT_BURST"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Tracing: TracingConfig{
			Enabled:           v.GetBool("TRACING_ENABLED"),
			CollectorEndpoint: v.GetString("TRACING_COLLECTOR_ENDPOINT"),
		},
		Log: LogConfig{
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scoring.DefaultPassingThreshold < 0 || c.Scoring.DefaultPassingThreshold > 100 {
		return fmt.Errorf("SCORING_DEFAULT_PASSING_THRESHOLD must be within [0, 100], got %v", c.Scoring.DefaultPassingThreshold)
	}
	if c.Scoring.DefaultWeakAreaThreshold < 0 || c.Scoring.DefaultWeakAreaThreshold > 100 {
		return fmt.Errorf("SCORING_DEFAULT_WEAK_AREA_THRESHOLD must be within [0, 100], got %v", c.Scoring.DefaultWeakAreaThreshold)
	}
	if c.Timer.SweepInterval <= 0 {
		return fmt.Errorf("TIMER_SWEEP_INTERVAL must be positive")
	}
	if c.Environment == "production" && c.Casdoor.Endpoint == "" {
		return fmt.Errorf("CASDOOR_ENDPOINT is required in production")
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Events     EventsConfig
	Workflow   WorkflowConfig
	Classifier ClassifierConfig
	Mail       MailConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	CORSAllowOrigins      string
	RateLimitPerMinute    int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	RevokeOnLogout        bool
}

// EventsBackend selects the event bus implementation.
type EventsBackend string

const (
	EventsBackendRedis  EventsBackend = "redis"
	EventsBackendMemory EventsBackend = "memory"
)

// EventsConfig configures event delivery.
type EventsConfig struct {
	Backend           EventsBackend
	Stream            string
	Group             string
	Consumer          string
	WorkerConcurrency int
}

// NotifyFailurePolicy decides whether a failed assignment email fails the workflow.
type NotifyFailurePolicy string

const (
	NotifyFailureSwallow NotifyFailurePolicy = "swallow"
	NotifyFailureFail    NotifyFailurePolicy = "fail"
)

// WorkflowConfig tunes the step engine.
type WorkflowConfig struct {
	StepRetries         int
	RetryBackoffMillis  int
	ResultTTLHours      int
	NotifyFailurePolicy NotifyFailurePolicy
}

// ClassifierConfig points at an OpenAI-compatible chat completions API.
type ClassifierConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// MailConfig holds SMTP settings. An empty host logs mail instead of sending it.
type MailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	From         string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	backend := EventsBackend(strings.ToLower(getEnv("EVENTS_BACKEND", string(EventsBackendRedis))))
	if backend != EventsBackendRedis && backend != EventsBackendMemory {
		return nil, fmt.Errorf("invalid EVENTS_BACKEND %q", backend)
	}

	policy := NotifyFailurePolicy(strings.ToLower(getEnv("WORKFLOW_NOTIFY_FAILURE_POLICY", string(NotifyFailureSwallow))))
	if policy != NotifyFailureSwallow && policy != NotifyFailureFail {
		return nil, fmt.Errorf("invalid WORKFLOW_NOTIFY_FAILURE_POLICY %q", policy)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ai-helpdesk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			CORSAllowOrigins:      getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173"),
			RateLimitPerMinute:    getEnvAsInt("RATE_LIMIT_PER_MINUTE", 200),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 10),
			RevokeOnLogout:        getEnvAsBool("AUTH_REVOKE_ON_LOGOUT", true),
		},
		Events: EventsConfig{
			Backend:           backend,
			Stream:            getEnv("EVENTS_STREAM", "helpdesk:events"),
			Group:             getEnv("EVENTS_GROUP", "helpdesk-workers"),
			Consumer:          getEnv("EVENTS_CONSUMER", hostname),
			WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
		},
		Workflow: WorkflowConfig{
			StepRetries:         getEnvAsInt("WORKFLOW_STEP_RETRIES", 2),
			RetryBackoffMillis:  getEnvAsInt("WORKFLOW_RETRY_BACKOFF_MS", 500),
			ResultTTLHours:      getEnvAsInt("WORKFLOW_RESULT_TTL_HOURS", 24),
			NotifyFailurePolicy: policy,
		},
		Classifier: ClassifierConfig{
			BaseURL:        getEnv("AI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         os.Getenv("AI_API_KEY"),
			Model:          getEnv("AI_MODEL", "gpt-4o-mini"),
			TimeoutSeconds: getEnvAsInt("AI_TIMEOUT_SECONDS", 20),
		},
		Mail: MailConfig{
			SMTPHost:     os.Getenv("SMTP_HOST"),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUser:     os.Getenv("SMTP_USER"),
			SMTPPassword: os.Getenv("SMTP_PASSWORD"),
			From:         getEnv("MAIL_FROM", "noreply@example.com"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// RetryBackoff returns the delay between step attempts.
func (w WorkflowConfig) RetryBackoff() time.Duration {
	if w.RetryBackoffMillis <= 0 {
		return 0
	}
	return time.Duration(w.RetryBackoffMillis) * time.Millisecond
}

// ResultTTL returns how long cached step results are kept.
func (w WorkflowConfig) ResultTTL() time.Duration {
	if w.ResultTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(w.ResultTTLHours) * time.Hour
}

// Timeout returns the classifier HTTP timeout.
func (c ClassifierConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

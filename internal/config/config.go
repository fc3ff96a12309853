package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

const (
	DefaultLLMBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	tiersFileName     = "quizchain/tiers.yaml"
)

type Config struct {
	Port              string
	QuizEmail         string
	QuizSecret        string
	LLMAPIKeys        []string
	LLMBaseURL        string
	LLMPlannerModel   string
	LLMExtractModel   string
	LLMTimeout        time.Duration
	LLMMaxRetries     int
	LLMRetryBase      time.Duration
	TimeBudget        time.Duration
	MinStepStart      time.Duration
	MaxSteps          int
	SubmitRetries     int
	SubmitAttempts    int
	SubmitDelay       time.Duration
	SubmitTimeout     time.Duration
	NavTimeout        time.Duration
	SelectorTimeout   time.Duration
	ExtractAttempts   int
	ExtractBackoff    time.Duration
	BrowserIdle       time.Duration
	BrowserHeadless   bool
	DownloadTimeout   time.Duration
	DownloadMaxBytes  int64
	ResourceParallel  int
	ResourceAllow     []string
	TiersFile         string
	StoreDriver       string
	PostgresURL       string
	SQLitePath        string
	DispatchMode      string
	TemporalAddress   string
	TemporalTaskQueue string
	SecretsKey        string
	MaxConcurrentRuns int
	RunQueueSize      int
	OTLPEndpoint      string
	OTLPInsecure      bool
	LogLevel          string
	LogFormat         string
	Prewarm           bool
	ShutdownGrace     time.Duration
	ServiceVersion    string
	InstallPlaywright bool
}

// LoadDotEnv reads .env files into the environment when present. Missing files
// are not an error.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		_ = godotenv.Load()
		return
	}
	for _, path := range paths {
		_ = godotenv.Load(path)
	}
}

func Load() Config {
	keys := getEnvList("LLM_API_KEYS")
	if len(keys) == 0 {
		keys = getEnvList("LLM_API_KEY")
	}
	return Config{
		Port:              getEnv("PORT", "3000"),
		QuizEmail:         strings.TrimSpace(getEnv("QUIZ_EMAIL", "")),
		QuizSecret:        getEnv("QUIZ_SECRET", ""),
		LLMAPIKeys:        keys,
		LLMBaseURL:        getEnv("LLM_BASE_URL", DefaultLLMBaseURL),
		LLMPlannerModel:   getEnv("LLM_PLANNER_MODEL", "gemini-2.5-flash-lite"),
		LLMExtractModel:   getEnv("LLM_EXTRACT_MODEL", "gemma-3-27b-it"),
		LLMTimeout:        getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		LLMMaxRetries:     getEnvInt("LLM_MAX_RETRIES", 3),
		LLMRetryBase:      getEnvDuration("LLM_RETRY_BASE", time.Second),
		TimeBudget:        getEnvDuration("TIME_BUDGET", 180*time.Second),
		MinStepStart:      getEnvDuration("MIN_STEP_START", 5*time.Second),
		MaxSteps:          getEnvInt("MAX_STEPS", 50),
		SubmitRetries:     getEnvInt("SUBMIT_RETRIES", 3),
		SubmitAttempts:    getEnvInt("SUBMIT_ATTEMPTS", 3),
		SubmitDelay:       getEnvDuration("SUBMIT_DELAY", time.Second),
		SubmitTimeout:     getEnvDuration("SUBMIT_TIMEOUT", 10*time.Second),
		NavTimeout:        getEnvDuration("NAV_TIMEOUT", 10*time.Second),
		SelectorTimeout:   getEnvDuration("SELECTOR_TIMEOUT", 30*time.Second),
		ExtractAttempts:   getEnvInt("EXTRACT_ATTEMPTS", 3),
		ExtractBackoff:    getEnvDuration("EXTRACT_BACKOFF", time.Second),
		BrowserIdle:       getEnvDuration("BROWSER_IDLE", 5*time.Minute),
		BrowserHeadless:   getEnvBool("BROWSER_HEADLESS", true),
		DownloadTimeout:   getEnvDuration("DOWNLOAD_TIMEOUT", 8*time.Second),
		DownloadMaxBytes:  int64(getEnvInt("DOWNLOAD_MAX_BYTES", 1<<20)),
		ResourceParallel:  getEnvInt("RESOURCE_PARALLELISM", 4),
		ResourceAllow:     getEnvList("RESOURCE_ALLOW"),
		TiersFile:         getEnv("TIERS_FILE", defaultTiersFile()),
		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", "memory")),
		PostgresURL:       getEnv("POSTGRES_URL", ""),
		SQLitePath:        getEnv("SQLITE_PATH", defaultSQLitePath()),
		DispatchMode:      strings.ToLower(getEnv("DISPATCH_MODE", "local")),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "quizchain-runs"),
		SecretsKey:        getEnv("SECRETS_KEY", ""),
		MaxConcurrentRuns: getEnvInt("MAX_CONCURRENT_RUNS", 4),
		RunQueueSize:      getEnvInt("RUN_QUEUE_SIZE", 64),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:      getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		Prewarm:           getEnvBool("PREWARM", true),
		ShutdownGrace:     getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),
		ServiceVersion:    getEnv("SERVICE_VERSION", "dev"),
		InstallPlaywright: getEnvBool("PLAYWRIGHT_INSTALL", false),
	}
}

// Validate reports settings the HTTP service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.QuizEmail == "" {
		errs = append(errs, errors.New("QUIZ_EMAIL is required"))
	}
	if c.QuizSecret == "" {
		errs = append(errs, errors.New("QUIZ_SECRET is required"))
	}
	if c.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("MAX_STEPS must be positive, got %d", c.MaxSteps))
	}
	if c.TimeBudget <= 0 {
		errs = append(errs, fmt.Errorf("TIME_BUDGET must be positive, got %s", c.TimeBudget))
	}
	switch c.StoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required when STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.DispatchMode {
	case "local", "temporal":
	default:
		errs = append(errs, fmt.Errorf("unsupported DISPATCH_MODE %q", c.DispatchMode))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultTiersFile() string {
	if path, err := xdg.SearchConfigFile(tiersFileName); err == nil {
		return path
	}
	return ""
}

func defaultSQLitePath() string {
	return filepath.Join(xdg.DataHome, "quizchain", "runs.db")
}

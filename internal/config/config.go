package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/variance-tracker/internal/constants"
)

//go:embed prices.yaml
var pricesYAML []byte

type Config struct {
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Analysis  AnalysisConfig
	Report    ReportConfig
	Web       WebConfig
	Prices    PricesConfig
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS whitelist, localhost is always allowed
}

type DatabaseConfig struct {
	Driver       string // "postgres" (default) or "sqlite"
	URL          string // PostgreSQL connection URL
	SQLitePath   string // SQLite database file (default variance-tracker.db)
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
	// SkipMigrations opens the store as-is; the row shape follows whatever
	// schema version is deployed.
	SkipMigrations bool
}

type EmbeddingConfig struct {
	Backend string // "http" (default), "perceptual" or "hash"
	URL     string // defaults to http://localhost:8000
	Model   string // model name sent to the embedding server
	Dim     int    // defaults to 1280
}

type StorageConfig struct {
	Backend          string // "azure", "http" or "fs" (default)
	Container        string // container / bucket name, defaults to session-images
	AzureAccountName string
	AzureAccountKey  string
	HTTPBaseURL      string // base URL objects are fetched from (http backend)
	HTTPToken        string // optional bearer token for the http backend
	LocalDir         string // root directory (fs backend)
}

type RedisConfig struct {
	Addr     string // empty disables redis-backed job status and the task queue
	Password string
	DB       int
}

type AuthConfig struct {
	JWTPublicKey string // PEM-encoded RSA public key (RS256)
	JWTSecret    string // shared secret (HS256), used when no public key is set
	JWTAlgorithm string // defaults to RS256
	Disabled     bool   // accept X-User-ID instead of a token, for local development only
}

type AnalysisConfig struct {
	ExpectedAngles    int
	MinAngles         int
	RollingWindow     int
	MonthlyWindowDays int
	TrendWindow       int
	TargetSize        int
	IntermediateSize  int
	ImageWorkers      int
	FailOnImageError  bool // fail the whole session instead of skipping an unreadable image
	JobTTL            time.Duration
	DailyAnalyzeLimit int
}

type ReportConfig struct {
	Provider    string // "openai", "gemini", "ollama" or "" for the built-in template
	OpenAIToken string
	GeminiKey   string
	OllamaURL   string // defaults to http://localhost:11434
	OllamaModel string // defaults to llama3.2:3b
}

type PricesConfig struct {
	Models map[string]ModelPricing `yaml:"models"`
}

type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean ("1", "true", "yes").
func envBool(key string, defaultVal bool) bool {
	s := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch s {
	case "":
		return defaultVal
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration ("24h", "90m").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envList reads a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var prices PricesConfig
	if err := yaml.Unmarshal(pricesYAML, &prices); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded prices.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:         envString("DATABASE_DRIVER", "postgres"),
			URL:            os.Getenv("DATABASE_URL"),
			SQLitePath:     envString("SQLITE_PATH", "variance-tracker.db"),
			MaxOpenConns:   envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:   envInt("DATABASE_MAX_IDLE_CONNS", 5),
			SkipMigrations: envBool("DATABASE_SKIP_MIGRATIONS", false),
		},
		Embedding: EmbeddingConfig{
			Backend: envString("EMBEDDING_BACKEND", "http"),
			URL:     os.Getenv("EMBEDDING_URL"),
			Model:   os.Getenv("EMBEDDING_MODEL"),
			Dim:     envInt("EMBEDDING_DIM", 1280),
		},
		Storage: StorageConfig{
			Backend:          envString("STORAGE_BACKEND", "fs"),
			Container:        envString("STORAGE_CONTAINER", "session-images"),
			AzureAccountName: os.Getenv("AZURE_STORAGE_ACCOUNT"),
			AzureAccountKey:  os.Getenv("AZURE_STORAGE_KEY"),
			HTTPBaseURL:      os.Getenv("STORAGE_HTTP_URL"),
			HTTPToken:        os.Getenv("STORAGE_HTTP_TOKEN"),
			LocalDir:         envString("STORAGE_DIR", "./images"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
			JWTSecret:    os.Getenv("JWT_SECRET"),
			JWTAlgorithm: envString("JWT_ALGORITHM", "RS256"),
			Disabled:     envBool("AUTH_DISABLED", false),
		},
		Analysis: AnalysisConfig{
			ExpectedAngles:    envInt("ANALYSIS_EXPECTED_ANGLES", constants.ExpectedAngleCount),
			MinAngles:         envInt("ANALYSIS_MIN_ANGLES", constants.MinAngleCount),
			RollingWindow:     envInt("ANALYSIS_ROLLING_WINDOW", constants.DefaultRollingWindow),
			MonthlyWindowDays: envInt("ANALYSIS_MONTHLY_WINDOW_DAYS", constants.DefaultMonthlyWindowDays),
			TrendWindow:       envInt("ANALYSIS_TREND_WINDOW", constants.DefaultTrendWindow),
			TargetSize:        envInt("ANALYSIS_TARGET_SIZE", constants.TargetSize),
			IntermediateSize:  envInt("ANALYSIS_INTERMEDIATE_SIZE", constants.IntermediateSize),
			ImageWorkers:      envInt("ANALYSIS_IMAGE_WORKERS", constants.DefaultImageWorkers),
			FailOnImageError:  envBool("ANALYSIS_FAIL_ON_IMAGE_ERROR", false),
			JobTTL:            envDuration("ANALYSIS_JOB_TTL", constants.DefaultJobTTL),
			DailyAnalyzeLimit: envInt("ANALYSIS_DAILY_LIMIT", constants.DefaultDailyAnalyzeLimit),
		},
		Report: ReportConfig{
			Provider:    os.Getenv("REPORT_PROVIDER"),
			OpenAIToken: os.Getenv("OPENAI_TOKEN"),
			GeminiKey:   os.Getenv("GEMINI_API_KEY"),
			OllamaURL:   os.Getenv("OLLAMA_URL"),
			OllamaModel: os.Getenv("OLLAMA_MODEL"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Prices: prices,
	}
}

// GetModelPricing returns pricing for a specific model, with fallback defaults
func (c *Config) GetModelPricing(modelName string) ModelPricing {
	if pricing, ok := c.Prices.Models[modelName]; ok {
		return pricing
	}
	// Return zero pricing if model not found
	return ModelPricing{}
}

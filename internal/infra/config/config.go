package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env         string
	Port        string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBMaxConns  int
	DBMinConns  int
	Embedding   EmbeddingSettings
	Rerank      RerankSettings
	RateLimit   RateLimitSettings
	Retrieval   RetrievalSettings
	OTel        OTelSettings
	LogLevel    string
	ServiceName string
}

// EmbeddingSettings configures the embedding backend client.
type EmbeddingSettings struct {
	URL           string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	BatchSize     int
	MaxLength     int
	Dimension     int
	MaxInputChars int
	Overflow      string // "truncate" or "reject"
	CacheSize     int
	CacheTTL      time.Duration
}

// RerankSettings configures the cross-encoder backend client.
type RerankSettings struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// RateLimitSettings bounds outbound calls to the model backends. Zero RPS disables limiting.
type RateLimitSettings struct {
	RPS   float64
	Burst int
}

// RetrievalSettings holds pipeline sizes and thresholds.
type RetrievalSettings struct {
	LexicalLimit     int
	SemanticLimit    int
	FallbackTokens   int
	TopK             int
	BackupK          int
	DegradedTopK     int
	DegradedBackupK  int
	DefaultThreshold float64
	RerankTimeout    time.Duration
	RetrieveTimeout  time.Duration
}

// OTelSettings configures trace and log export.
type OTelSettings struct {
	Enabled        bool
	ServiceVersion string
	Endpoint       string
	SampleRatio    float64
}

func Load() *Config {
	return &Config{
		Env:        getEnv("ENV", "development"),
		Port:       getEnv("PORT", "9010"),
		DBHost:     getEnv("DB_HOST", "rag-db"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "rag_user"),
		DBPassword: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "rag_password"),
		DBName:     getEnv("DB_NAME", "rag_db"),
		DBMaxConns: getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns: getEnvInt("DB_MIN_CONNS", 2),
		Embedding: EmbeddingSettings{
			URL:           getEnvWithAlt("EMBEDDING_URL", "MODEL_BACKEND_EMBED_URL", "http://localhost:8001/embed"),
			Timeout:       getEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			MaxRetries:    getEnvInt("EMBEDDING_MAX_RETRIES", 10),
			RetryDelay:    getEnvDuration("EMBEDDING_RETRY_DELAY", 2*time.Second),
			BatchSize:     getEnvInt("EMBEDDING_BATCH_SIZE", 1),
			MaxLength:     getEnvInt("EMBEDDING_MAX_LENGTH", 4096),
			Dimension:     getEnvInt("EMBEDDING_DIMENSION", 1024),
			MaxInputChars: getEnvInt("EMBEDDING_MAX_INPUT_CHARS", 16384),
			Overflow:      strings.ToLower(getEnv("EMBEDDING_OVERFLOW", "truncate")),
			CacheSize:     getEnvInt("EMBEDDING_CACHE_SIZE", 0),
			CacheTTL:      getEnvDuration("EMBEDDING_CACHE_TTL", 10*time.Minute),
		},
		Rerank: RerankSettings{
			URL:     getEnvWithAlt("RERANK_URL", "MODEL_BACKEND_RERANK_URL", "http://localhost:8001/rerank"),
			Model:   getEnv("RERANK_MODEL", "bge-reranker-v2-m3"),
			Timeout: getEnvDuration("RERANK_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitSettings{
			RPS:   getEnvFloat64("BACKEND_RATE_LIMIT", 0),
			Burst: getEnvInt("BACKEND_RATE_BURST", 1),
		},
		Retrieval: RetrievalSettings{
			LexicalLimit:     getEnvInt("RAG_LEXICAL_LIMIT", 25),
			SemanticLimit:    getEnvInt("RAG_SEMANTIC_LIMIT", 25),
			FallbackTokens:   getEnvInt("RAG_FALLBACK_TOKENS", 10),
			TopK:             getEnvInt("RAG_TOP_K", 5),
			BackupK:          getEnvInt("RAG_BACKUP_K", 4),
			DegradedTopK:     getEnvInt("RAG_DEGRADED_TOP_K", 5),
			DegradedBackupK:  getEnvInt("RAG_DEGRADED_BACKUP_K", 3),
			DefaultThreshold: getEnvFloat64("RAG_DEFAULT_THRESHOLD", 0.2),
			RerankTimeout:    getEnvDuration("RAG_RERANK_TIMEOUT", 30*time.Second),
			RetrieveTimeout:  getEnvDuration("RAG_RETRIEVE_TIMEOUT", 120*time.Second),
		},
		OTel: OTelSettings{
			Enabled:        getEnvBool("OTEL_ENABLED", false),
			ServiceVersion: getEnv("SERVICE_VERSION", "0.0.0"),
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
			SampleRatio:    getEnvFloat64("OTEL_TRACE_SAMPLE_RATIO", 0.1),
		},
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServiceName: getEnv("OTEL_SERVICE_NAME", "rag-retriever"),
	}
}

// DSN builds the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}

	// Docker/K8s secrets mounted as files
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return fallback
}

func getEnvWithAlt(key, altKey, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if value, ok := os.LookupEnv(altKey); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("2s") or a bare number of seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultQuery is used when a submission carries a blank query.
const DefaultQuery = "Analyze this financial document for investment insights"

// Config holds all configuration for the docanalyzer server and workers.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Document  DocumentConfig
	AI        AIConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	MaxUploadBytes int64
}

type DatabaseConfig struct {
	Backend         string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	Backend string
	Key     string
}

type WorkerConfig struct {
	Embedded     bool
	Concurrency  int
	MaxRetries   int
	RetryDelay   time.Duration
	PollInterval time.Duration
}

type StorageConfig struct {
	Backend string
	Dir     string
	S3      S3Config
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DocumentConfig struct {
	AllowedExtensions []string
	DefaultQuery      string
	MaxChars          int
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// AuthConfig lists bcrypt hashes of accepted API keys. Auth is disabled when empty.
type AuthConfig struct {
	APIKeyHashes []string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type TracingConfig struct {
	Exporter    string
	Endpoint    string
	SampleRatio float64
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           envInt("DOCANALYZER_PORT", 8080),
			Env:            envString("DOCANALYZER_ENV", "development"),
			MaxUploadBytes: int64(envInt("MAX_UPLOAD_BYTES", 20<<20)),
		},
		Database: DatabaseConfig{
			Backend:         envString("STORE_BACKEND", "postgres"),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			Backend: envString("QUEUE_BACKEND", "redis"),
			Key:     envString("QUEUE_KEY", "docanalyzer:jobs"),
		},
		Worker: WorkerConfig{
			Embedded:     envBool("WORKER_EMBEDDED", false),
			Concurrency:  envInt("WORKER_CONCURRENCY", 4),
			MaxRetries:   envInt("WORKER_MAX_RETRIES", 2),
			RetryDelay:   envDurationSecs("WORKER_RETRY_DELAY_SECS", 5*time.Second),
			PollInterval: envDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		},
		Storage: StorageConfig{
			Backend: envString("STORAGE_BACKEND", "local"),
			Dir:     envString("STORAGE_DIR", "data"),
			S3: S3Config{
				Endpoint:  os.Getenv("S3_ENDPOINT"),
				AccessKey: os.Getenv("S3_ACCESS_KEY"),
				SecretKey: os.Getenv("S3_SECRET_KEY"),
				Bucket:    envString("S3_BUCKET", "docanalyzer-uploads"),
				UseSSL:    envBool("S3_USE_SSL", false),
			},
		},
		Document: DocumentConfig{
			AllowedExtensions: envList("DOCUMENT_ALLOWED_EXTENSIONS", []string{".pdf"}),
			DefaultQuery:      envString("DOCUMENT_DEFAULT_QUERY", DefaultQuery),
			MaxChars:          envInt("DOCUMENT_MAX_CHARS", 100_000),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 300*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Auth: AuthConfig{
			APIKeyHashes: envList("API_KEY_HASHES", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Tracing: TracingConfig{
			Exporter:    envString("OTEL_EXPORTER", "none"),
			Endpoint:    envString("OTEL_ENDPOINT", "http://localhost:4318"),
			SampleRatio: envFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Backend {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be one of postgres, memory; got %q", c.Database.Backend)
	}

	switch c.Queue.Backend {
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when QUEUE_BACKEND is redis")
		}
	case "memory":
		if !c.Worker.Embedded {
			return fmt.Errorf("QUEUE_BACKEND memory requires WORKER_EMBEDDED=true")
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be one of redis, memory; got %q", c.Queue.Backend)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("WORKER_MAX_RETRIES must not be negative, got %d", c.Worker.MaxRetries)
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.Dir == "" {
			return fmt.Errorf("STORAGE_DIR is required when STORAGE_BACKEND is local")
		}
	case "s3":
		if c.Storage.S3.Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required when STORAGE_BACKEND is s3")
		}
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when STORAGE_BACKEND is s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of local, s3; got %q", c.Storage.Backend)
	}

	if len(c.Document.AllowedExtensions) == 0 {
		return fmt.Errorf("DOCUMENT_ALLOWED_EXTENSIONS must list at least one extension")
	}
	for i, ext := range c.Document.AllowedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Document.AllowedExtensions[i] = ext
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}

	switch c.Tracing.Exporter {
	case "none", "stdout", "otlphttp":
	default:
		return fmt.Errorf("OTEL_EXPORTER must be one of none, stdout, otlphttp; got %q", c.Tracing.Exporter)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DOCVEC"

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
	ProviderGemini = "gemini"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080" yaml:"port"`
	Debug       bool   `envconfig:"DEBUG" default:"false" yaml:"debug"`
	Environment string `envconfig:"ENVIRONMENT" default:"development" yaml:"environment"`

	Store       string `envconfig:"STORE" default:"postgres" yaml:"store" validate:"oneof=postgres memory"`
	DatabaseURL string `envconfig:"DATABASE_URL" yaml:"database_url" validate:"required_if=Store postgres"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10" yaml:"db_max_conns" validate:"gt=0"`

	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000" yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200" yaml:"chunk_overlap" validate:"gte=0"`

	SearchSimilarityThreshold float64 `envconfig:"SEARCH_SIMILARITY_THRESHOLD" default:"0.7" yaml:"search_similarity_threshold" validate:"gte=-1,lte=1"`
	MaxSearchResults          int     `envconfig:"MAX_SEARCH_RESULTS" default:"10" yaml:"max_search_results" validate:"gt=0,lte=100"`
	UsageRanking              bool    `envconfig:"USAGE_RANKING" default:"true" yaml:"usage_ranking"`
	SimilarityWeight          float64 `envconfig:"SIMILARITY_WEIGHT" default:"1.0" yaml:"similarity_weight" validate:"gte=0"`
	FrequencyWeight           float64 `envconfig:"FREQUENCY_WEIGHT" default:"0.7" yaml:"frequency_weight" validate:"gte=0"`
	RecencyWeight             float64 `envconfig:"RECENCY_WEIGHT" default:"0.3" yaml:"recency_weight" validate:"gte=0"`

	EmbeddingProvider       string        `envconfig:"EMBEDDING_PROVIDER" default:"openai" yaml:"embedding_provider" validate:"oneof=openai local gemini"`
	EmbeddingModel          string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small" yaml:"embedding_model" validate:"required"`
	EmbeddingDimensions     int           `envconfig:"EMBEDDING_DIMENSIONS" default:"1536" yaml:"embedding_dimensions" validate:"gt=0"`
	EmbeddingBaseURL        string        `envconfig:"EMBEDDING_BASE_URL" yaml:"embedding_base_url" validate:"omitempty,url"`
	OpenAIAPIKey            string        `envconfig:"OPENAI_API_KEY" yaml:"openai_api_key"`
	GeminiAPIKey            string        `envconfig:"GEMINI_API_KEY" yaml:"gemini_api_key"`
	EmbeddingMaxInputChars  int           `envconfig:"EMBEDDING_MAX_INPUT_CHARS" default:"8000" yaml:"embedding_max_input_chars" validate:"gt=0"`
	EmbeddingBatchSize      int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"32" yaml:"embedding_batch_size" validate:"gt=0"`
	EmbeddingTimeout        time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s" yaml:"embedding_timeout" validate:"gt=0"`
	EmbeddingRateLimit      float64       `envconfig:"EMBEDDING_RATE_LIMIT" default:"0" yaml:"embedding_rate_limit" validate:"gte=0"`
	EmbeddingCircuitBreaker bool          `envconfig:"EMBEDDING_BREAKER" default:"true" yaml:"embedding_breaker"`

	RedisURL          string        `envconfig:"REDIS_URL" yaml:"redis_url"`
	EmbeddingCacheTTL time.Duration `envconfig:"EMBEDDING_CACHE_TTL" default:"168h" yaml:"embedding_cache_ttl"`
	NotifyChannel     string        `envconfig:"NOTIFY_CHANNEL" default:"docvec:progress" yaml:"notify_channel"`

	IngestBatchSize    int           `envconfig:"INGEST_BATCH_SIZE" default:"50" yaml:"ingest_batch_size" validate:"gt=0"`
	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"10s" yaml:"worker_poll_interval" validate:"gt=0"`
	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"4" yaml:"worker_concurrency" validate:"gt=0"`
	JobMaxRetries      int           `envconfig:"JOB_MAX_RETRIES" default:"3" yaml:"job_max_retries" validate:"gt=0"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT" yaml:"s3_endpoint"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID" yaml:"s3_access_key_id"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY" yaml:"s3_secret_access_key"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"docvec-documents" yaml:"s3_bucket"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1" yaml:"s3_region"`

	SentryDSN string `envconfig:"SENTRY_DSN" yaml:"sentry_dsn"`
}

// Load reads .env, then the optional YAML file named by DOCVEC_CONFIG_FILE,
// then the environment. Explicit environment variables win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if path := os.Getenv(envPrefix + "_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyFile overlays values present in the YAML file onto cfg for every
// field whose environment variable is unset.
func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	var present map[string]any
	if err := yaml.Unmarshal(raw, &present); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	dst := reflect.ValueOf(cfg).Elem()
	src := reflect.ValueOf(&fileCfg).Elem()
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if _, ok := present[key]; !ok {
			continue
		}
		if _, set := os.LookupEnv(envPrefix + "_" + field.Tag.Get("envconfig")); set {
			continue
		}
		dst.Field(i).Set(src.Field(i))
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisURL != ""
}

func (c *Config) UsesMemoryStore() bool {
	return c.Store == StoreMemory
}

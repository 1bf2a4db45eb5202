package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"corpusflow"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"corpusflow"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd   string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost     string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP     string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	EnableEvents bool   `envconfig:"ENABLE_EVENTS" default:"true"`

	// Embedding
	EmbedProvider           string `envconfig:"EMBED_PROVIDER" default:"gemini"` // gemini | openai
	GeminiAPIKey            string `envconfig:"GEMINI_API_KEY"`
	EmbedModel              string `envconfig:"EMBED_MODEL" default:"gemini-embedding-001"`
	EmbedServiceURL         string `envconfig:"EMBED_SERVICE_URL" default:"http://embedding-service:8000/v1"`
	EmbedServiceToken       string `envconfig:"EMBED_SERVICE_TOKEN" default:"none"`
	EmbedPollIntervalSecs   int    `envconfig:"EMBED_POLL_INTERVAL_SECONDS" default:"10"`
	EmbedBatchSize          int    `envconfig:"EMBED_BATCH_SIZE" default:"32"`
	MaxConcurrentEmbeddings int    `envconfig:"MAX_CONCURRENT_EMBEDDINGS" default:"8"`
	MaxEmbedRetries         int    `envconfig:"MAX_EMBED_RETRIES" default:"3"`

	// Chunking
	ChunkMaxSize int `envconfig:"CHUNK_MAX_SIZE" default:"2000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`

	// Local state
	BadgerPath       string `envconfig:"BADGER_PATH" default:"data/meta"`
	DedupJournalPath string `envconfig:"DEDUP_JOURNAL_PATH" default:"data/dedup.journal"`

	// Sources
	FSDocsRoot       string   `envconfig:"FSDOCS_ROOT"`
	FSDocsCollection string   `envconfig:"FSDOCS_COLLECTION" default:"Documentation"`
	RSSFeeds         []string `envconfig:"RSS_FEEDS"`
	RSSCollection    string   `envconfig:"RSS_COLLECTION" default:"Newsfeed"`
	ResyncMinutes    int      `envconfig:"RESYNC_MINUTES" default:"60"`
	BackfillDays     int      `envconfig:"BACKFILL_DAYS" default:"7"`
	RunOnce          bool     `envconfig:"RUN_ONCE" default:"false"`

	// Server
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.EmbedProvider != "gemini" && c.EmbedProvider != "openai" {
		return fmt.Errorf("%w: EMBED_PROVIDER must be gemini or openai", ErrMissingRequired)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("%w: EMBED_BATCH_SIZE must be positive", ErrMissingRequired)
	}
	if c.MaxConcurrentEmbeddings <= 0 {
		return fmt.Errorf("%w: MAX_CONCURRENT_EMBEDDINGS must be positive", ErrMissingRequired)
	}
	return nil
}

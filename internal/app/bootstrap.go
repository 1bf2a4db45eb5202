package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"corpusflow/internal/config"
	"corpusflow/internal/dedup"
	"corpusflow/internal/sourcemeta"
	"corpusflow/internal/vector"
)

// Dependencies holds everything Bootstrap connects to. Close tears the
// stateful pieces down in reverse order.
type Dependencies struct {
	DB          *sql.DB
	Weaviate    *weaviate.Client
	NSQProducer *nsq.Producer
	DedupStore  *dedup.PostgresStore
	MetaStore   *sourcemeta.Store
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Database
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Retry loop
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	// Weaviate
	wCfg := weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme}
	wClient, err := weaviate.NewClient(wCfg)
	if err != nil {
		return nil, fmt.Errorf("weaviate client error: %w", err)
	}

	collections := []string{cfg.FSDocsCollection, cfg.RSSCollection}
	if err := ensureSchemaWithRetry(ctx, vector.NewClientAdapter(wClient), collections, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("weaviate schema error: %w", err)
	}

	// NSQ Producer
	nsqCfg := nsq.NewConfig()
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	createTopics(cfg.NSQDHTTP)

	// Dedup store with its journal warm cache
	journal, err := dedup.OpenJournal(cfg.DedupJournalPath)
	if err != nil {
		return nil, fmt.Errorf("dedup journal error: %w", err)
	}
	dedupStore, err := dedup.NewPostgresStore(db, journal)
	if err != nil {
		return nil, fmt.Errorf("dedup store error: %w", err)
	}

	// Run metadata
	metaStore, err := sourcemeta.NewStore(cfg.BadgerPath)
	if err != nil {
		return nil, fmt.Errorf("metadata store error: %w", err)
	}

	return &Dependencies{
		DB:          db,
		Weaviate:    wClient,
		NSQProducer: producer,
		DedupStore:  dedupStore,
		MetaStore:   metaStore,
	}, nil
}

// Close flushes and releases everything Bootstrap opened. Safe to call once
// after the pipeline has drained.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.MetaStore != nil {
		if err := d.MetaStore.Close(); err != nil {
			slog.Error("failed to close metadata store", "error", err)
		}
	}
	if d.DedupStore != nil {
		if err := d.DedupStore.Close(); err != nil {
			slog.Error("failed to flush dedup journal", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Error("failed to close db", "error", err)
		}
	}
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicRunResult)
		create(config.TopicRowFailed)
		create(config.TopicControl)
	}()
}

func ensureSchemaWithRetry(ctx context.Context, client vector.SchemaClient, collections []string, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = vector.EnsureSchema(ctx, client, collections); err == nil {
			return nil
		}
		if i < attempts-1 {
			slog.Warn("failed to ensure weaviate schema, retrying...", "attempt", i+1, "error", err)
			time.Sleep(delay)
		}
	}
	return err
}

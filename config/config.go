package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Data directory
	DataDir      string
	DatabasePath string
	UploadDir    string

	// Optional directory watched for new page images to auto-ingest
	ImportDir string

	// OpenAI (text extraction + analysis)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Meilisearch (best-effort entry mirror)
	MeiliHost   string
	MeiliAPIKey string
	MeiliIndex  string

	// Ingestion tuning
	HashThreshold   int           // max Hamming distance for image duplicates
	StaleProcessing time.Duration // processing entries older than this are sweepable
	IngestWorkers   int
	IngestQueueSize int

	// Debug settings
	DBLogQueries bool
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	dataDir := getEnv("INKWELL_DATA_DIR", "./data")
	appDir := filepath.Join(dataDir, "app", "inkwell")

	return &Config{
		// Server
		Port: getEnvInt("PORT", 12350),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		// Data
		DataDir:      dataDir,
		DatabasePath: filepath.Join(appDir, "database.sqlite"),
		UploadDir:    filepath.Join(appDir, "uploads"),
		ImportDir:    getEnv("INKWELL_IMPORT_DIR", ""),

		// OpenAI
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		// Meilisearch
		MeiliHost:   getEnv("MEILI_HOST", ""),
		MeiliAPIKey: getEnv("MEILI_API_KEY", ""),
		MeiliIndex:  getEnv("MEILI_INDEX", "inkwell_entries"),

		// Ingestion
		HashThreshold:   getEnvInt("INKWELL_HASH_THRESHOLD", 12),
		StaleProcessing: time.Duration(getEnvInt("INKWELL_STALE_PROCESSING_MINUTES", 30)) * time.Minute,
		IngestWorkers:   getEnvInt("INKWELL_INGEST_WORKERS", 3),
		IngestQueueSize: getEnvInt("INKWELL_INGEST_QUEUE_SIZE", 1000),

		// Debug
		DBLogQueries: getEnv("DB_LOG_QUERIES", "") == "1",
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

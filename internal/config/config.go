package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Host string
	Port string

	// Database settings
	DatabasePath string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Cache settings
	CacheSize int
	CacheTTL  time.Duration

	// CSV ingestion settings
	CsvSourceURL    string
	DataDir         string
	CsvFetchTimeout time.Duration
	UserAgent       string

	// Download settings
	DownloadDir            string
	MaxDownloadWorkers     int
	EnableDownloadExecutor bool
	MaxPendingDownloads    int
	MaxDownloadAttempts    int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not an error if .env doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Host:         getEnv("HOST", "0.0.0.0"),
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/bailiikc.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		CsvSourceURL: getEnv("CSV_SOURCE_URL", "https://www.judiciary.ky/judgments/unreported-judgments.csv"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		DownloadDir:  getEnv("DOWNLOAD_DIR", "./data/pdfs"),
		UserAgent:    getEnv("USER_AGENT", "bailiikc-fetcher/1.0"),
	}

	// Parse integer values
	var err error
	cfg.CacheSize, err = strconv.Atoi(getEnv("CACHE_SIZE", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_SIZE: %w", err)
	}

	cacheTTL, err := strconv.Atoi(getEnv("CACHE_TTL", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	cfg.CacheTTL = time.Duration(cacheTTL) * time.Minute

	fetchTimeout, err := strconv.Atoi(getEnv("CSV_FETCH_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid CSV_FETCH_TIMEOUT: %w", err)
	}
	cfg.CsvFetchTimeout = time.Duration(fetchTimeout) * time.Second

	cfg.MaxDownloadWorkers, err = strconv.Atoi(getEnv("MAX_DOWNLOAD_WORKERS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_DOWNLOAD_WORKERS: %w", err)
	}

	cfg.EnableDownloadExecutor = getEnv("ENABLE_DOWNLOAD_EXECUTOR", "false") == "true"

	cfg.MaxPendingDownloads, err = strconv.Atoi(getEnv("MAX_PENDING_DOWNLOADS", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_PENDING_DOWNLOADS: %w", err)
	}

	cfg.MaxDownloadAttempts, err = strconv.Atoi(getEnv("MAX_DOWNLOAD_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_DOWNLOAD_ATTEMPTS: %w", err)
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Scraper     ScraperConfig
	Browser     BrowserConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Recommender RecommenderConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	Root          string
	Domain        string
	Categories    []string
	ItemsPerPage  int
	MaxIterations int
	RateLimitMin  time.Duration
	RateLimitMax  time.Duration
	LoadTimeout   time.Duration
	MaxRetries    int
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	UserAgent      string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	StreamMaxLen int64
	PollInterval time.Duration
}

type RecommenderConfig struct {
	MatrixPath         string
	CatalogPath        string
	NumRecommendations int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; existing variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			Root:          getEnvOrDefault("ROOT", cwd),
			Domain:        getEnvOrDefault("SCRAPER_DOMAIN", "www.furniture.ca"),
			Categories:    getStringSliceOrDefault("SCRAPER_CATEGORIES", DefaultCategories()),
			ItemsPerPage:  getIntOrDefault("SCRAPER_ITEMS_PER_PAGE", 24),
			MaxIterations: getIntOrDefault("SCRAPER_MAX_ITERATIONS", 10),
			RateLimitMin:  getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax:  getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 6*time.Second),
			LoadTimeout:   getDurationOrDefault("SCRAPER_LOAD_TIMEOUT", 10*time.Second),
			MaxRetries:    getIntOrDefault("SCRAPER_MAX_RETRIES", 1),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-CA,en;q=0.9,fr-CA;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/Toronto"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-CA"),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "image_recommender"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			Stream:       getEnvOrDefault("REDIS_STREAM", "stream:gallery"),
			StreamMaxLen: int64(getIntOrDefault("REDIS_STREAM_MAXLEN", 10000)),
			PollInterval: getDurationOrDefault("REDIS_RELAY_INTERVAL", 5*time.Second),
		},
		Recommender: RecommenderConfig{
			MatrixPath:         getEnvOrDefault("SIMILARITY_MATRIX_PATH", "static/similarity.json"),
			CatalogPath:        getEnvOrDefault("GALLERY_CATALOG_PATH", ""),
			NumRecommendations: getIntOrDefault("NUM_RECOMMENDATIONS", 6),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.ItemsPerPage < 1 {
		return fmt.Errorf("SCRAPER_ITEMS_PER_PAGE must be at least 1")
	}

	if c.Scraper.MaxIterations < 1 {
		return fmt.Errorf("SCRAPER_MAX_ITERATIONS must be at least 1")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if len(c.Scraper.Categories) == 0 {
		return fmt.Errorf("at least one scraper category is required")
	}

	if c.Recommender.NumRecommendations < 1 {
		return fmt.Errorf("NUM_RECOMMENDATIONS must be at least 1")
	}

	if c.Database.Host == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host and name are required")
	}

	return nil
}

// DefaultCategories are the living-room collections crawled by the link scraper.
func DefaultCategories() []string {
	return []string{
		"living-room-packages", "sofas", "loveseats", "sectionals", "chairs-chaises", "recliners",
		"ottomans-benches", "cabinets-shelving", "tv-stands-tv-mounts", "coffee-tables",
		"sofa-console-tables", "end-accent-tables",
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}

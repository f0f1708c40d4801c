package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ocrhub server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Extract   ExtractConfig
	OCR       OCRConfig
	Spool     SpoolConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL       string
	JobTTL    time.Duration
	ResultTTL time.Duration
}

type RateLimitConfig struct {
	RequestsPerWindow int
	WindowLength      time.Duration
}

// ExtractConfig bounds document processing. DPI outside [MinDPI, MaxDPI] is a
// validation failure at submission time, never clamped silently.
type ExtractConfig struct {
	DefaultDPI    int
	MinDPI        int
	MaxDPI        int
	ChunkSize     int
	MaxPages      int
	TextThreshold int
	Workers       int
	MaxImageBytes int64
	MaxPDFBytes   int64
	LockWait      time.Duration
	LockLease     time.Duration
}

type OCRConfig struct {
	Languages      []string
	MinConfidence  float64
	MaxImageWidth  int
	MaxImageHeight int
}

// SpoolConfig controls the on-disk spool where submitted PDFs are staged for
// the rasterizer, and the janitor that sweeps files left behind by crashes.
type SpoolConfig struct {
	Dir           string
	SweepAge      time.Duration
	SweepSchedule string
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("OCRHUB_PORT", 8080),
			Env:  envString("OCRHUB_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:       os.Getenv("REDIS_URL"),
			JobTTL:    envDuration("JOB_TTL", 24*time.Hour),
			ResultTTL: envDuration("RESULT_CACHE_TTL", time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: envInt("RATE_LIMIT_PER_WINDOW", 10),
			WindowLength:      envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Extract: ExtractConfig{
			DefaultDPI:    envInt("EXTRACT_DEFAULT_DPI", 300),
			MinDPI:        envInt("EXTRACT_MIN_DPI", 72),
			MaxDPI:        envInt("EXTRACT_MAX_DPI", 600),
			ChunkSize:     envInt("EXTRACT_CHUNK_SIZE", 5),
			MaxPages:      envInt("EXTRACT_MAX_PAGES", 100),
			TextThreshold: envInt("EXTRACT_TEXT_THRESHOLD", 30),
			Workers:       envInt("EXTRACT_WORKERS", 4),
			MaxImageBytes: envInt64("MAX_IMAGE_SIZE", 10*1024*1024),
			MaxPDFBytes:   envInt64("MAX_PDF_SIZE", 50*1024*1024),
			LockWait:      envDuration("CACHE_LOCK_WAIT", 30*time.Second),
			LockLease:     envDuration("CACHE_LOCK_LEASE", 2*time.Minute),
		},
		OCR: OCRConfig{
			Languages:      envList("OCR_LANG", []string{"eng"}),
			MinConfidence:  envFloat("OCR_MIN_CONFIDENCE", 0.0),
			MaxImageWidth:  envInt("OCR_MAX_IMAGE_WIDTH", 4096),
			MaxImageHeight: envInt("OCR_MAX_IMAGE_HEIGHT", 4096),
		},
		Spool: SpoolConfig{
			Dir:           envString("SPOOL_DIR", os.TempDir()+"/ocrhub-spool"),
			SweepAge:      envDuration("SPOOL_SWEEP_AGE", 2*time.Hour),
			SweepSchedule: envString("SPOOL_SWEEP_SCHEDULE", "@every 15m"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_WINDOW must be positive, got %d", c.RateLimit.RequestsPerWindow)
	}
	if c.RateLimit.WindowLength <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimit.WindowLength)
	}

	if c.Extract.MinDPI <= 0 || c.Extract.MaxDPI < c.Extract.MinDPI {
		return fmt.Errorf("invalid DPI bounds: min=%d max=%d", c.Extract.MinDPI, c.Extract.MaxDPI)
	}
	if c.Extract.DefaultDPI < c.Extract.MinDPI || c.Extract.DefaultDPI > c.Extract.MaxDPI {
		return fmt.Errorf("EXTRACT_DEFAULT_DPI %d outside [%d, %d]",
			c.Extract.DefaultDPI, c.Extract.MinDPI, c.Extract.MaxDPI)
	}
	if c.Extract.ChunkSize <= 0 {
		return fmt.Errorf("EXTRACT_CHUNK_SIZE must be positive, got %d", c.Extract.ChunkSize)
	}
	if c.Extract.MaxPages <= 0 {
		return fmt.Errorf("EXTRACT_MAX_PAGES must be positive, got %d", c.Extract.MaxPages)
	}
	if c.Extract.Workers <= 0 {
		return fmt.Errorf("EXTRACT_WORKERS must be positive, got %d", c.Extract.Workers)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

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

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
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

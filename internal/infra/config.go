package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	// StoragePath enables mirroring of job artifacts to the local filesystem.
	StoragePath        string
	StorageBaseURL     string
	FalQueueBaseURL    string
	FalStorageURL      string
	UpstreamTimeout    time.Duration
	PollInterval       time.Duration
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               port,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StoragePath:        strings.TrimSpace(os.Getenv("STORAGE_PATH")),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		FalQueueBaseURL:    getEnv("FAL_QUEUE_BASE_URL", "https://queue.fal.run"),
		FalStorageURL:      getEnv("FAL_STORAGE_URL", "https://fal.ai/api/storage/upload/file"),
		UpstreamTimeout:    time.Second * time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 60)),
		PollInterval:       time.Millisecond * time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_MS", 0)),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	for name, raw := range map[string]string{
		"FAL_QUEUE_BASE_URL": cfg.FalQueueBaseURL,
		"FAL_STORAGE_URL":    cfg.FalStorageURL,
		"STORAGE_BASE_URL":   cfg.StorageBaseURL,
	} {
		if err := requireHTTPURL(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.UpstreamTimeout <= 0 {
		return nil, fmt.Errorf("UPSTREAM_TIMEOUT_SECONDS must be positive")
	}
	if cfg.PollInterval < 0 {
		return nil, fmt.Errorf("QUEUE_POLL_INTERVAL_MS must not be negative")
	}

	return cfg, nil
}

func requireHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) url", raw)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

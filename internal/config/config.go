package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API, the workers and supporting services.
type Config struct {
	LogLevel              string
	DatabaseDriver        string
	DatabaseDSN           string
	RedisURL              string
	RedisPassword         string
	TaskTTL               time.Duration
	RunwareAPIKey         string
	RunwareBaseURL        string
	FreepikAPIKey         string
	FreepikBaseURL        string
	GeminiAPIKey          string
	GeminiBaseURL         string
	ProviderRatePerSecond float64
	ProviderBurst         int
	RequestTimeout        time.Duration
	PollInterval          time.Duration
	PollMaxInterval       time.Duration
	PollMaxAttempts       int
	DownloadAttempts      int
	DownloadBackoff       time.Duration
	BackgroundConcurrency int
	ModelCatalogPath      string
	SignupCredits         string
	JWTSecret             string
	APIListenAddr         string
	AdminListenAddr       string
	AdminUsername         string
	AdminPassword         string
	S3Endpoint            string
	S3Region              string
	S3AccessKey           string
	S3SecretKey           string
	S3Bucket              string
	S3PublicBaseURL       string
	S3UsePathStyle        bool
	S3Prefix              string
	AlertBotToken         string
	AlertChatID           int64
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultRunwareBaseURL = "https://api.runware.ai/v1"

	cfg := Config{
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		DatabaseDriver:        strings.ToLower(getEnv("DATABASE_DRIVER", "mysql")),
		DatabaseDSN:           os.Getenv("DATABASE_DSN"),
		RedisURL:              os.Getenv("REDIS_URL"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		TaskTTL:               getDuration("TASK_TTL", 24*time.Hour),
		RunwareAPIKey:         os.Getenv("RUNWARE_API_KEY"),
		RunwareBaseURL:        normalizeBaseURL(getEnv("RUNWARE_BASE_URL", defaultRunwareBaseURL), defaultRunwareBaseURL),
		FreepikAPIKey:         os.Getenv("FREEPIK_API_KEY"),
		FreepikBaseURL:        getEnv("FREEPIK_BASE_URL", "https://api.freepik.com"),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:         os.Getenv("GEMINI_BASE_URL"),
		ProviderRatePerSecond: getFloat("PROVIDER_RATE_PER_SECOND", 5),
		ProviderBurst:         getInt("PROVIDER_BURST", 5),
		RequestTimeout:        time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),
		PollInterval:          getDuration("POLL_INTERVAL", 5*time.Second),
		PollMaxInterval:       getDuration("POLL_MAX_INTERVAL", 30*time.Second),
		PollMaxAttempts:       getInt("POLL_MAX_ATTEMPTS", 120),
		DownloadAttempts:      getInt("DOWNLOAD_ATTEMPTS", 3),
		DownloadBackoff:       getDuration("DOWNLOAD_BACKOFF", time.Second),
		BackgroundConcurrency: getInt("BACKGROUND_CONCURRENCY", 2),
		ModelCatalogPath:      os.Getenv("MODEL_CATALOG_PATH"),
		SignupCredits:         getEnv("SIGNUP_CREDITS", "0"),
		JWTSecret:             os.Getenv("AUTH_JWT_SECRET"),
		APIListenAddr:         getEnv("API_LISTEN_ADDR", ":8080"),
		AdminListenAddr:       getEnv("ADMIN_LISTEN_ADDR", ":8081"),
		AdminUsername:         getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:         getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:            getEnv("S3_ENDPOINT", ""),
		S3Region:              os.Getenv("S3_REGION"),
		S3AccessKey:           os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:           os.Getenv("S3_SECRET_KEY"),
		S3Bucket:              os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:       os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:        getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:              getEnv("S3_PREFIX", "user-images"),
		AlertBotToken:         os.Getenv("ALERT_TELEGRAM_BOT_TOKEN"),
		AlertChatID:           getInt64("ALERT_TELEGRAM_CHAT_ID", 0),
	}

	var missing []string
	if cfg.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if cfg.RunwareAPIKey == "" {
		missing = append(missing, "RUNWARE_API_KEY")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if cfg.AlertBotToken != "" && cfg.AlertChatID == 0 {
		missing = append(missing, "ALERT_TELEGRAM_CHAT_ID")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch cfg.DatabaseDriver {
	case "mysql", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings, for commands that do not serve traffic.
func LoadDatabase() (driver, dsn string, err error) {
	if err := loadEnvFile(); err != nil {
		return "", "", err
	}
	driver = strings.ToLower(getEnv("DATABASE_DRIVER", "mysql"))
	dsn = os.Getenv("DATABASE_DSN")
	if dsn == "" {
		return "", "", errors.New("missing required environment variables: [DATABASE_DSN]")
	}
	switch driver {
	case "mysql", "sqlite":
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_DRIVER %q", driver)
	}
	return driver, dsn, nil
}

// normalizeBaseURL adds a scheme when missing and strips the trailing slash.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		host, rest, found := strings.Cut(parsed.Path, "/")
		parsed.Host = host
		parsed.Path = ""
		if found {
			parsed.Path = "/" + rest
		}
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// loadEnvFile loads the first .env candidate found. A missing file is only an error
// when CONFIG_ENV_PATH points at it explicitly.
func loadEnvFile() error {
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		if err := godotenv.Overload(custom); err != nil {
			return fmt.Errorf("load env file %s: %w", custom, err)
		}
		return nil
	}

	candidates := []string{
		filepath.Join("configs", ".env"),
		".env",
	}
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

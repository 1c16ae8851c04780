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

// Config aggregates runtime configuration for the client and its optional integrations.
type Config struct {
	BackendURL         string
	RequestTimeout     time.Duration
	CreditsMinInterval time.Duration
	TokenFile          string
	MySQLDSN           string
	RazorpayKeyID      string
	CheckoutListenAddr string
	CheckoutPublicURL  string
	CheckoutThemeColor string
	TelegramBotToken   string
	TelegramChatID     int64
	S3Endpoint         string
	S3Region           string
	S3AccessKey        string
	S3SecretKey        string
	S3Bucket           string
	S3PublicBaseURL    string
	S3UsePathStyle     bool
	S3Prefix           string
	LogLevel           string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BackendURL:         normalizeBackendURL(os.Getenv("IMAGIFY_BACKEND_URL")),
		RequestTimeout:     time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 10)),
		CreditsMinInterval: time.Millisecond * time.Duration(getInt("CREDITS_MIN_INTERVAL_MS", 2000)),
		TokenFile:          getEnv("TOKEN_FILE", defaultTokenFile()),
		MySQLDSN:           os.Getenv("MYSQL_DSN"),
		RazorpayKeyID:      os.Getenv("RAZORPAY_KEY_ID"),
		CheckoutListenAddr: getEnv("CHECKOUT_LISTEN_ADDR", "127.0.0.1:8765"),
		CheckoutPublicURL:  os.Getenv("CHECKOUT_PUBLIC_URL"),
		CheckoutThemeColor: getEnv("CHECKOUT_THEME_COLOR", "#3399cc"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:     getInt64("TELEGRAM_CHAT_ID", 0),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3Region:           os.Getenv("S3_REGION"),
		S3AccessKey:        os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("S3_SECRET_KEY"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:    os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:     getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:           getEnv("S3_PREFIX", "generations"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if cfg.CheckoutPublicURL == "" {
		cfg.CheckoutPublicURL = "http://" + cfg.CheckoutListenAddr
	}

	var missing []string
	if cfg.BackendURL == "" {
		missing = append(missing, "IMAGIFY_BACKEND_URL")
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID == 0 {
		missing = append(missing, "TELEGRAM_CHAT_ID")
	}
	if cfg.S3Bucket != "" {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// ArchiveEnabled reports whether generated images should be copied to S3.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// TelegramEnabled reports whether notices are forwarded to a Telegram chat.
func (c Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// normalizeBackendURL trims whitespace and trailing slashes so paths can be appended verbatim.
func normalizeBackendURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	if parsed.Scheme == "" {
		parsed, err = url.Parse("https://" + raw)
		if err != nil {
			return strings.TrimRight(raw, "/")
		}
	}
	return strings.TrimRight(parsed.String(), "/")
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".imagify", "token")
	}
	return filepath.Join(dir, "imagify", "token")
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

// loadEnvFile loads the first env file found. Variables already set in the
// environment win over the file.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

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

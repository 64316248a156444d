package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, overridable with
// READER_CONFIG.
var ConfigPath = "config.yaml"

var defaultAudioAllowedHosts = []string{"dropbox.com", "dropboxusercontent.com"}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SessionSecret       string `yaml:"sessionSecret"`
	SessionTTL          string `yaml:"sessionTTL"`
	SessionCookieName   string `yaml:"sessionCookieName"`
	SessionCookieSecure bool   `yaml:"sessionCookieSecure"`

	// AdminEmails are granted admin rights when they sign up.
	AdminEmails []string `yaml:"adminEmails"`

	FrontendOrigin           string   `yaml:"frontendOrigin"`
	TrustedProxyCIDRs        []string `yaml:"trustedProxyCidrs"`
	SignupRateLimitPerMinute int      `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute  int      `yaml:"loginRateLimitPerMinute"`
	GlobalRateLimitPerMinute int      `yaml:"globalRateLimitPerMinute"`

	BookTitle        string `yaml:"bookTitle"`
	BookFileBase     string `yaml:"bookFileBase"`
	ManifestPath     string `yaml:"manifestPath"`
	BuildInfoPath    string `yaml:"buildInfoPath"`
	SyncedTextDir    string `yaml:"syncedTextDir"`
	DownloadsDir     string `yaml:"downloadsDir"`
	DocumentCacheTTL string `yaml:"documentCacheTTL"`

	AudioAllowedHosts    []string `yaml:"audioAllowedHosts"`
	AudioUpstreamTimeout string   `yaml:"audioUpstreamTimeout"`
	AudioUserAgent       string   `yaml:"audioUserAgent"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioPrefix    string `yaml:"minioPrefix"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	MetricsEnabled bool `yaml:"metricsEnabled"`
}

// Load reads config from path (READER_CONFIG, then ConfigPath, when empty),
// applies environment overrides and defaults, then validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("READER_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	setString("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("READER_SESSION_SECRET", &cfg.SessionSecret)
	setString("READER_SESSION_TTL", &cfg.SessionTTL)
	setBool("READER_SESSION_COOKIE_SECURE", &cfg.SessionCookieSecure)
	setString("READER_FRONTEND_ORIGIN", &cfg.FrontendOrigin)
	setInt("READER_SIGNUP_RATE_LIMIT_PER_MINUTE", &cfg.SignupRateLimitPerMinute)
	setInt("READER_LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	setInt("READER_GLOBAL_RATE_LIMIT_PER_MINUTE", &cfg.GlobalRateLimitPerMinute)
	setString("READER_DOWNLOADS_DIR", &cfg.DownloadsDir)
	setString("READER_MANIFEST_PATH", &cfg.ManifestPath)
	setString("READER_BUILD_INFO_PATH", &cfg.BuildInfoPath)
	setString("READER_SYNCED_TEXT_DIR", &cfg.SyncedTextDir)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setBool("MINIO_USE_SSL", &cfg.MinioUseSSL)
	setBool("READER_METRICS_ENABLED", &cfg.MetricsEnabled)
	if v := os.Getenv("READER_AUDIO_ALLOWED_HOSTS"); v != "" {
		cfg.AudioAllowedHosts = splitCSV(v)
	}
	if v := os.Getenv("READER_ADMIN_EMAILS"); v != "" {
		cfg.AdminEmails = splitCSV(v)
	}
	if v := os.Getenv("READER_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "720h"
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "br_session"
	}
	if cfg.SignupRateLimitPerMinute == 0 {
		cfg.SignupRateLimitPerMinute = 10
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 20
	}
	if cfg.BookTitle == "" {
		cfg.BookTitle = "The Enemy Within"
	}
	if cfg.BookFileBase == "" {
		cfg.BookFileBase = "The_Enemy_Within"
	}
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = "data/audio_manifest.json"
	}
	if cfg.BuildInfoPath == "" {
		cfg.BuildInfoPath = "data/build_info.json"
	}
	if cfg.SyncedTextDir == "" {
		cfg.SyncedTextDir = "data/synced_text"
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = "downloads"
	}
	if cfg.DocumentCacheTTL == "" {
		cfg.DocumentCacheTTL = "5s"
	}
	if len(cfg.AudioAllowedHosts) == 0 {
		cfg.AudioAllowedHosts = append([]string(nil), defaultAudioAllowedHosts...)
	}
	if cfg.AudioUpstreamTimeout == "" {
		cfg.AudioUpstreamTimeout = "30s"
	}
	if cfg.AudioUserAgent == "" {
		cfg.AudioUserAgent = "TEW-BetaReader/1.0"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" && strings.TrimSpace(cfg.SessionSecret) == "" {
		return errors.New("config: redisAddr or sessionSecret is required for sessions")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.GlobalRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	for name, value := range map[string]string{
		"sessionTTL":           cfg.SessionTTL,
		"documentCacheTTL":     cfg.DocumentCacheTTL,
		"audioUpstreamTimeout": cfg.AudioUpstreamTimeout,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	return nil
}

// Durations returns the parsed duration settings. Load has already validated
// them.
func (c FileConfig) Durations() (sessionTTL, cacheTTL, upstreamTimeout time.Duration) {
	sessionTTL, _ = time.ParseDuration(c.SessionTTL)
	cacheTTL, _ = time.ParseDuration(c.DocumentCacheTTL)
	upstreamTimeout, _ = time.ParseDuration(c.AudioUpstreamTimeout)
	return sessionTTL, cacheTTL, upstreamTimeout
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

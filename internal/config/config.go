package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AttachmentsBackendLocal = "local"
	AttachmentsBackendS3    = "s3"
)

type HTTPConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
	AccessTTL    time.Duration
}

type AttachmentsConfig struct {
	Backend    string
	Dir        string
	URLPrefix  string
	MaxBytes   int64
	AllowedExt []string
	S3Bucket   string
	S3Prefix   string
}

type ExportConfig struct {
	PDFFontPath string
}

type Config struct {
	Environment    string
	HTTP           HTTPConfig
	DB             DBConfig
	Auth           AuthConfig
	Attachments    AttachmentsConfig
	Export         ExportConfig
	MetricsEnabled bool
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("ATTACHMENTS_BACKEND", AttachmentsBackendLocal)
	v.SetDefault("ATTACHMENTS_DIR", "./uploads")
	v.SetDefault("ATTACHMENTS_URL_PREFIX", "/uploads")
	v.SetDefault("ATTACHMENTS_MAX_BYTES", 10<<20)
	v.SetDefault("ATTACHMENTS_ALLOWED_EXT", "jpeg,jpg,png,gif,bmp,webp,pdf,zip,rar")
	v.SetDefault("METRICS_ENABLED", true)

	_ = v.ReadInConfig()

	lifetime, err := parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"))
	if err != nil {
		return nil, fmt.Errorf("DB_CONN_MAX_LIFETIME: %w", err)
	}
	accessTTL, err := parseDuration(v.GetString("JWT_ACCESS_TTL"))
	if err != nil {
		return nil, fmt.Errorf("JWT_ACCESS_TTL: %w", err)
	}

	cfg := &Config{
		Environment: strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		HTTP: HTTPConfig{
			Host:           v.GetString("HTTP_HOST"),
			Port:           v.GetInt("HTTP_PORT"),
			AllowedOrigins: parseList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: lifetime,
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
			AccessTTL:    accessTTL,
		},
		Attachments: AttachmentsConfig{
			Backend:    strings.ToLower(strings.TrimSpace(v.GetString("ATTACHMENTS_BACKEND"))),
			Dir:        v.GetString("ATTACHMENTS_DIR"),
			URLPrefix:  strings.TrimRight(v.GetString("ATTACHMENTS_URL_PREFIX"), "/"),
			MaxBytes:   v.GetInt64("ATTACHMENTS_MAX_BYTES"),
			AllowedExt: parseList(strings.ToLower(v.GetString("ATTACHMENTS_ALLOWED_EXT"))),
			S3Bucket:   v.GetString("S3_BUCKET"),
			S3Prefix:   strings.Trim(v.GetString("S3_PREFIX"), "/"),
		},
		Export: ExportConfig{
			PDFFontPath: v.GetString("PDF_FONT_PATH"),
		},
		MetricsEnabled: v.GetBool("METRICS_ENABLED"),
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if cfg.Attachments.MaxBytes <= 0 {
		return fmt.Errorf("ATTACHMENTS_MAX_BYTES must be positive")
	}
	switch cfg.Attachments.Backend {
	case AttachmentsBackendLocal:
		if cfg.Attachments.Dir == "" {
			return fmt.Errorf("ATTACHMENTS_DIR is required for the local backend")
		}
	case AttachmentsBackendS3:
		if cfg.Attachments.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown ATTACHMENTS_BACKEND %q", cfg.Attachments.Backend)
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

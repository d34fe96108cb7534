package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Metadata store drivers. DriverNone runs the service in file-only mode.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverNone     = "none"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	UploadDir      string   `mapstructure:"UPLOAD_DIR"`
	AllowedTypes   []string `mapstructure:"ALLOWED_TYPES"`
	MaxFileSize    int64    `mapstructure:"MAX_FILE_SIZE"`
	StorageBackend string   `mapstructure:"STORAGE_BACKEND"`

	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3Bucket          string `mapstructure:"S3_BUCKET"`
	S3Prefix          string `mapstructure:"S3_PREFIX"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	DBDriver    string `mapstructure:"DB_DRIVER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBPort      int    `mapstructure:"DB_PORT"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBName      string `mapstructure:"DB_NAME"`
	DBPath      string `mapstructure:"DB_PATH"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TransformTimeout time.Duration `mapstructure:"TRANSFORM_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "3001")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("ALLOWED_TYPES", "image/jpeg,image/png,image/jpg")
	v.SetDefault("MAX_FILE_SIZE", 5242880)
	v.SetDefault("STORAGE_BACKEND", StorageLocal)
	v.SetDefault("S3_REGION", "auto")
	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_PATH", "./data/images.db")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:30000")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("TRANSFORM_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL",
		"UPLOAD_DIR", "ALLOWED_TYPES", "MAX_FILE_SIZE", "STORAGE_BACKEND",
		"S3_ENDPOINT", "S3_REGION", "S3_BUCKET", "S3_PREFIX", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
		"DB_DRIVER", "DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_PATH",
		"DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS", "REQUEST_TIMEOUT", "TRANSFORM_TIMEOUT",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.AllowedTypes = splitList(v.GetString("ALLOWED_TYPES"))
	cfg.StorageBackend = strings.ToLower(cfg.StorageBackend)
	cfg.DBDriver = strings.ToLower(cfg.DBDriver)

	return cfg, nil
}

// splitList turns a comma separated env value into a trimmed slice.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// FileOnly reports whether the service runs without a metadata store.
func (c *Config) FileOnly() bool {
	return c.DBDriver == DriverNone
}

// PostgresURL returns DATABASE_URL when set, otherwise a URL assembled from
// the DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME parts.
func (c *Config) PostgresURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBHost == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBUser != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	}
	return u.String()
}

// Validate checks that the selected backends have the settings they need.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if c.PostgresURL() == "" {
			return fmt.Errorf("DATABASE_URL or DB_HOST is required when DB_DRIVER is %q", DriverPostgres)
		}
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required when DB_DRIVER is %q", DriverSQLite)
		}
	case DriverNone:
	default:
		return fmt.Errorf("DB_DRIVER must be \"postgres\", \"sqlite\", or \"none\", got %q", c.DBDriver)
	}

	switch c.StorageBackend {
	case StorageLocal:
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR is required when STORAGE_BACKEND is %q", StorageLocal)
		}
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is %q", StorageS3)
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"local\" or \"s3\", got %q", c.StorageBackend)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}
	if len(c.AllowedTypes) == 0 {
		return fmt.Errorf("ALLOWED_TYPES must list at least one MIME type")
	}
	for _, t := range c.AllowedTypes {
		if !strings.HasPrefix(t, "image/") {
			return fmt.Errorf("ALLOWED_TYPES may only contain image types, got %q", t)
		}
	}
	if c.TransformTimeout <= 0 {
		return fmt.Errorf("TRANSFORM_TIMEOUT must be positive")
	}

	return nil
}

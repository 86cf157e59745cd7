package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Upload   UploadConfig   `json:"upload"`
	Rate     RateConfig     `json:"rate_limit"`
}

// AppConfig carries service-level settings.
type AppConfig struct {
	Env      string `json:"env"`       // local / prod
	LogLevel string `json:"log_level"` // debug / info / warn / error
	HTTPAddr string `json:"http_addr"` // listen address
	SiteURL  string `json:"site_url"`  // public base URL embedded in magic links
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RedisConfig configures the optional shared rate-limit backend.
type RedisConfig struct {
	Addr     string `json:"addr"` // empty disables Redis
	Password string `json:"password"`
}

// EmailConfig configures SMTP delivery of magic links.
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"` // empty switches the mailer to log-only mode
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig carries secrets and token lifetimes.
type SecurityConfig struct {
	SessionSecret string        `json:"session_secret"` // signs the session cookie
	SessionTTL    time.Duration `json:"session_ttl"`
	TokenTTL      time.Duration `json:"token_ttl"` // magic-link validity
}

// UploadConfig bounds the upload pipeline.
type UploadConfig struct {
	Dir           string `json:"dir"`             // uploads base directory
	ImageMaxBytes int64  `json:"image_max_bytes"` // per-file ceiling for images
	VideoMaxBytes int64  `json:"video_max_bytes"` // per-file ceiling for videos
	QuotaBytes    int64  `json:"quota_bytes"`     // global ceiling across all uploads
}

// RateConfig bounds magic-link issuance per client address.
type RateConfig struct {
	WindowSeconds int `json:"window_seconds"`
	MaxRequests   int `json:"max_requests"`
}

// Load reads configs/config.json when present, applies defaults for unset
// fields and lets environment variables override everything.
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:      "local",
			LogLevel: "info",
			HTTPAddr: ":8080",
			SiteURL:  "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Path: "data.db",
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Security: SecurityConfig{
			SessionSecret: "dev_secret_change_me",
			SessionTTL:    12 * time.Hour,
			TokenTTL:      2 * time.Hour,
		},
		Upload: UploadConfig{
			Dir:           "static/uploads",
			ImageMaxBytes: 5 * 1024 * 1024,
			VideoMaxBytes: 150 * 1024 * 1024,
			QuotaBytes:    2 * 1024 * 1024 * 1024,
		},
		Rate: RateConfig{
			WindowSeconds: 3600,
			MaxRequests:   5,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.SiteURL == "" {
		cfg.App.SiteURL = defaults.App.SiteURL
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaults.Database.Path
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.SessionSecret == "" {
		cfg.Security.SessionSecret = defaults.Security.SessionSecret
	}
	if cfg.Security.SessionTTL == 0 {
		cfg.Security.SessionTTL = defaults.Security.SessionTTL
	}
	if cfg.Security.TokenTTL == 0 {
		cfg.Security.TokenTTL = defaults.Security.TokenTTL
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = defaults.Upload.Dir
	}
	if cfg.Upload.ImageMaxBytes == 0 {
		cfg.Upload.ImageMaxBytes = defaults.Upload.ImageMaxBytes
	}
	if cfg.Upload.VideoMaxBytes == 0 {
		cfg.Upload.VideoMaxBytes = defaults.Upload.VideoMaxBytes
	}
	if cfg.Upload.QuotaBytes == 0 {
		cfg.Upload.QuotaBytes = defaults.Upload.QuotaBytes
	}
	if cfg.Rate.WindowSeconds == 0 {
		cfg.Rate.WindowSeconds = defaults.Rate.WindowSeconds
	}
	if cfg.Rate.MaxRequests == 0 {
		cfg.Rate.MaxRequests = defaults.Rate.MaxRequests
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_path", "DB_PATH")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("session_secret", "SECRET_KEY")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("SITE_URL"); v != "" {
		cfg.App.SiteURL = v
	}
	if v := viper.GetString("db_path"); v != "" {
		cfg.Database.Path = v
	}
	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("FROM_EMAIL"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := viper.GetString("session_secret"); v != "" {
		cfg.Security.SessionSecret = v
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.TokenTTL = d
		}
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Upload.Dir = v
	}
	if v := os.Getenv("IMAGE_MAX_BYTES"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Upload.ImageMaxBytes = i
		}
	}
	if v := os.Getenv("VIDEO_MAX_BYTES"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Upload.VideoMaxBytes = i
		}
	}
	if v := os.Getenv("MAX_TOTAL_UPLOAD_BYTES"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Upload.QuotaBytes = i
		}
	}
	if v := os.Getenv("RL_WINDOW_SECONDS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Rate.WindowSeconds = i
		}
	}
	if v := os.Getenv("RL_MAX_REQUESTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Rate.MaxRequests = i
		}
	}
}

// UnmarshalJSON accepts duration strings such as "2h" for token lifetimes.
func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		SessionTTL string `json:"session_ttl"`
		TokenTTL   string `json:"token_ttl"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.SessionTTL != "" {
		d, err := time.ParseDuration(aux.SessionTTL)
		if err != nil {
			return fmt.Errorf("invalid session_ttl format: %w", err)
		}
		s.SessionTTL = d
	}
	if aux.TokenTTL != "" {
		d, err := time.ParseDuration(aux.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid token_ttl format: %w", err)
		}
		s.TokenTTL = d
	}
	return nil
}

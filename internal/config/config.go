package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	HeaderPolicyStrict = "strict"
	HeaderPolicyWarn   = "warn"

	DestinationSheets   = "sheets"
	DestinationBigQuery = "bigquery"
)

// Config holds the application configuration loaded from files and environment variables.
// It is built once in main and passed down by value or pointer; nothing mutates it afterwards.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	Env            string `mapstructure:"app_env"`
	LogLevel       string `mapstructure:"log_level"`
	SourcesFile    string `mapstructure:"sources_file"`
	PublishersFile string `mapstructure:"publishers_file"`
	CookiesFile    string `mapstructure:"cookies_file"`

	Destination           string `mapstructure:"destination"`
	SpreadsheetID         string `mapstructure:"spreadsheet_id"`
	BigQueryProjectID     string `mapstructure:"bigquery_project_id"`
	BigQueryDataset       string `mapstructure:"bigquery_dataset"`
	GoogleCredentialsFile string `mapstructure:"google_credentials_file"`
	HeaderPolicy          string `mapstructure:"header_policy"`

	PageRetryAttempts     int           `mapstructure:"page_retry_attempts"`
	PageRetryDelayMs      int64         `mapstructure:"page_retry_delay_ms"`
	PageRetryDelay        time.Duration `mapstructure:"-"`
	StagnationLimit       int           `mapstructure:"stagnation_limit"`
	MaxPages              int           `mapstructure:"max_pages"`
	UploadBatchSize       int           `mapstructure:"upload_batch_size"`
	UploadMaxRetries      int           `mapstructure:"upload_max_retries"`
	UploadWritesPerMinute int           `mapstructure:"upload_writes_per_minute"`

	LockPath             string        `mapstructure:"lock_path"`
	LockTimeoutSeconds   int64         `mapstructure:"lock_timeout_seconds"`
	LockTimeout          time.Duration `mapstructure:"-"`
	RunHistoryTTLSeconds int64         `mapstructure:"run_history_ttl_seconds"`
	RunHistoryTTL        time.Duration `mapstructure:"-"`
	PushgatewayURL       string        `mapstructure:"pushgateway_url"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "review-harvester")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("sources_file", "./configs/sources.yaml")
	v.SetDefault("publishers_file", "./configs/publishers.yaml")
	v.SetDefault("cookies_file", "")
	v.SetDefault("destination", DestinationSheets)
	v.SetDefault("spreadsheet_id", "")
	v.SetDefault("bigquery_project_id", "")
	v.SetDefault("bigquery_dataset", "")
	v.SetDefault("google_credentials_file", "./credentials.json")
	v.SetDefault("header_policy", HeaderPolicyStrict)
	v.SetDefault("page_retry_attempts", 3)
	v.SetDefault("page_retry_delay_ms", 2000)
	v.SetDefault("stagnation_limit", 3)
	v.SetDefault("max_pages", 5000)
	v.SetDefault("upload_batch_size", 1000)
	v.SetDefault("upload_max_retries", 3)
	v.SetDefault("upload_writes_per_minute", 60)
	v.SetDefault("lock_path", "./data/harvester.db")
	v.SetDefault("lock_timeout_seconds", 5)
	v.SetDefault("run_history_ttl_seconds", int64((30*24*time.Hour)/time.Second))
	v.SetDefault("pushgateway_url", "")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finalize validates the raw values and derives the duration fields.
func (cfg *Config) finalize() error {
	cfg.Destination = strings.ToLower(strings.TrimSpace(cfg.Destination))
	switch cfg.Destination {
	case "", DestinationSheets:
		cfg.Destination = DestinationSheets
		if strings.TrimSpace(cfg.SpreadsheetID) == "" {
			return fmt.Errorf("spreadsheet_id is required")
		}
	case DestinationBigQuery:
		if strings.TrimSpace(cfg.BigQueryProjectID) == "" || strings.TrimSpace(cfg.BigQueryDataset) == "" {
			return fmt.Errorf("bigquery_project_id and bigquery_dataset are required for the bigquery destination")
		}
	default:
		return fmt.Errorf("invalid destination %q (expected %s or %s)", cfg.Destination, DestinationSheets, DestinationBigQuery)
	}
	if cfg.PageRetryAttempts <= 0 {
		return fmt.Errorf("invalid page_retry_attempts (must be positive)")
	}
	if cfg.PageRetryDelayMs < 0 {
		return fmt.Errorf("invalid page_retry_delay_ms (must not be negative)")
	}
	if cfg.StagnationLimit <= 0 {
		return fmt.Errorf("invalid stagnation_limit (must be positive)")
	}
	if cfg.MaxPages <= 0 {
		return fmt.Errorf("invalid max_pages (must be positive)")
	}
	if cfg.UploadBatchSize <= 0 {
		return fmt.Errorf("invalid upload_batch_size (must be positive)")
	}
	if cfg.UploadMaxRetries <= 0 {
		return fmt.Errorf("invalid upload_max_retries (must be positive)")
	}
	if cfg.UploadWritesPerMinute <= 0 {
		return fmt.Errorf("invalid upload_writes_per_minute (must be positive)")
	}
	if cfg.LockTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid lock_timeout_seconds (must be positive seconds)")
	}
	if cfg.RunHistoryTTLSeconds <= 0 {
		return fmt.Errorf("invalid run_history_ttl_seconds (must be positive seconds)")
	}

	cfg.HeaderPolicy = strings.ToLower(strings.TrimSpace(cfg.HeaderPolicy))
	switch cfg.HeaderPolicy {
	case HeaderPolicyStrict, HeaderPolicyWarn:
	default:
		return fmt.Errorf("invalid header_policy %q (expected %s or %s)", cfg.HeaderPolicy, HeaderPolicyStrict, HeaderPolicyWarn)
	}

	cfg.PageRetryDelay = time.Duration(cfg.PageRetryDelayMs) * time.Millisecond
	cfg.LockTimeout = time.Duration(cfg.LockTimeoutSeconds) * time.Second
	cfg.RunHistoryTTL = time.Duration(cfg.RunHistoryTTLSeconds) * time.Second
	return nil
}

// DestinationKey identifies the configured destination; it keys the run lock and history.
func (cfg *Config) DestinationKey() string {
	if cfg.Destination == DestinationBigQuery {
		return "bigquery:" + cfg.BigQueryProjectID + "." + cfg.BigQueryDataset
	}
	return cfg.SpreadsheetID
}

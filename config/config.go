package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Radiko     RadikoConfig     `yaml:"radiko"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	LogLevel   string           `yaml:"log_level"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
// Driver is "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RadikoConfig holds the streaming-service endpoints and auth parameters.
// AuthKey is the shared secret the service's player embeds; it changes with
// the upstream protocol version, so it lives in configuration.
type RadikoConfig struct {
	APIBaseURL  string `yaml:"api_base_url"`
	AuthBaseURL string `yaml:"auth_base_url"`
	AuthKey     string `yaml:"auth_key"`
	UserAgent   string `yaml:"user_agent"`
	AreaCode    string `yaml:"area_code"`
	Timezone    string `yaml:"timezone"`
}

// RecorderConfig holds capture-engine settings.
type RecorderConfig struct {
	FFmpegPath       string `yaml:"ffmpeg_path"`
	OutputDir        string `yaml:"output_dir"`
	StopGraceSeconds int    `yaml:"stop_grace_seconds"`
}

// SchedulerConfig holds the reconciliation loop settings.
type SchedulerConfig struct {
	Enabled         *bool         `yaml:"enabled"` // nil means enabled
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
	RetentionDays   int           `yaml:"retention_days"`
	LookbackHours   int           `yaml:"lookback_hours"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3010
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "./data/recorder.db"
	}

	if cfg.Radiko.APIBaseURL == "" {
		cfg.Radiko.APIBaseURL = "https://radiko.jp/v3"
	}
	if cfg.Radiko.AuthBaseURL == "" {
		cfg.Radiko.AuthBaseURL = "https://radiko.jp"
	}
	if cfg.Radiko.AuthKey == "" {
		cfg.Radiko.AuthKey = "bcd151073c03b352e1ef2fd66c32209da9ca0afa"
	}
	if cfg.Radiko.UserAgent == "" {
		cfg.Radiko.UserAgent = "curl/7.56.1"
	}
	if cfg.Radiko.AreaCode == "" {
		cfg.Radiko.AreaCode = "JP13"
	}
	if cfg.Radiko.Timezone == "" {
		cfg.Radiko.Timezone = "Asia/Tokyo"
	}

	if cfg.Recorder.FFmpegPath == "" {
		cfg.Recorder.FFmpegPath = "ffmpeg"
	}
	if cfg.Recorder.OutputDir == "" {
		cfg.Recorder.OutputDir = "./recordings"
	}
	if cfg.Recorder.StopGraceSeconds <= 0 {
		cfg.Recorder.StopGraceSeconds = 5
	}

	if cfg.Scheduler.Enabled == nil {
		enabled := true
		cfg.Scheduler.Enabled = &enabled
	}
	if cfg.Scheduler.IntervalSeconds <= 0 {
		cfg.Scheduler.IntervalSeconds = 60
	}
	cfg.Scheduler.Interval = time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	if cfg.Scheduler.RetentionDays <= 0 {
		cfg.Scheduler.RetentionDays = 7
	}
	if cfg.Scheduler.LookbackHours <= 0 {
		cfg.Scheduler.LookbackHours = (cfg.Scheduler.RetentionDays + 1) * 24
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

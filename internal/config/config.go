package config

import (
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"
	"github.com/ifuryst/reposter/pkg/logger"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logger      logger.Config     `yaml:"logger"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Wall        WallConfig        `yaml:"wall"`
	UploadQueue UploadQueueConfig `yaml:"upload_queue"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Auth        AuthConfig        `yaml:"auth"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	Path     string `yaml:"path"`
}

type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	Timezone     string        `yaml:"timezone"`
	Enabled      *bool         `yaml:"enabled"`
}

func (c SchedulerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// WallConfig describes the destination platform API.
type WallConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIVersion      string        `yaml:"api_version"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	RequiredScopes  []string      `yaml:"required_scopes"`
	PostURLFormat   string        `yaml:"post_url_format"`
}

type UploadQueueConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts uint          `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Buffer      int           `yaml:"buffer"`
}

type ExecutorConfig struct {
	GeneratorAttempts     uint          `yaml:"generator_attempts"`
	GeneratorRetryDelay   time.Duration `yaml:"generator_retry_delay"`
	SelectorMaxIterations int           `yaml:"selector_max_iterations"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TOTPSecret string        `yaml:"totp_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every zero value with its default.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/reposter.db"
	}
	if cfg.Scheduler.TickInterval <= 0 {
		cfg.Scheduler.TickInterval = 60 * time.Second
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}
	if cfg.Wall.BaseURL == "" {
		cfg.Wall.BaseURL = "https://api.vk.com/method"
	}
	if cfg.Wall.APIVersion == "" {
		cfg.Wall.APIVersion = "5.199"
	}
	if cfg.Wall.RequestTimeout <= 0 {
		cfg.Wall.RequestTimeout = 30 * time.Second
	}
	if cfg.Wall.DownloadTimeout <= 0 {
		cfg.Wall.DownloadTimeout = 30 * time.Second
	}
	if len(cfg.Wall.RequiredScopes) == 0 {
		cfg.Wall.RequiredScopes = []string{"wall", "photos", "video", "groups", "offline"}
	}
	if cfg.Wall.PostURLFormat == "" {
		cfg.Wall.PostURLFormat = "https://vk.com/wall%s_%d"
	}
	if cfg.UploadQueue.Interval <= 0 {
		cfg.UploadQueue.Interval = 350 * time.Millisecond
	}
	if cfg.UploadQueue.MaxAttempts == 0 {
		cfg.UploadQueue.MaxAttempts = 3
	}
	if cfg.UploadQueue.BaseDelay <= 0 {
		cfg.UploadQueue.BaseDelay = time.Second
	}
	if cfg.UploadQueue.MaxDelay <= 0 {
		cfg.UploadQueue.MaxDelay = 10 * time.Second
	}
	if cfg.UploadQueue.Buffer <= 0 {
		cfg.UploadQueue.Buffer = 256
	}
	if cfg.Executor.GeneratorAttempts == 0 {
		cfg.Executor.GeneratorAttempts = 3
	}
	if cfg.Executor.GeneratorRetryDelay <= 0 {
		cfg.Executor.GeneratorRetryDelay = 5 * time.Second
	}
	if cfg.Executor.SelectorMaxIterations <= 0 {
		cfg.Executor.SelectorMaxIterations = 50
	}
	if cfg.Auth.SessionTTL <= 0 {
		cfg.Auth.SessionTTL = 24 * time.Hour
	}
}

package config

import (
	"fmt"
	"os"
	"time"

	commoncfg "github.com/Gil-rei/Senzen/common/config"

	"gopkg.in/yaml.v3"
)

// Config senzen-data（HTTP API）配置
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	DBEnabled bool                     `yaml:"db_enabled"`
	DBMigrate bool                     `yaml:"db_migrate"`
	Database  commoncfg.DatabaseConfig `yaml:"database"`
	Redis     commoncfg.RedisConfig    `yaml:"redis"`
	MQTT      commoncfg.MQTTConfig     `yaml:"mqtt"`
	Log       struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Session   SessionConfig   `yaml:"session"`
	ImageHost ImageHostConfig `yaml:"image_host"`
	TaskFeed  TaskFeedConfig  `yaml:"task_feed"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Seed      SeedConfig      `yaml:"seed"`
	Metrics   struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// SessionConfig 登录会话配置
type SessionConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// ImageHostConfig 图片托管服务配置（证件照上传）
type ImageHostConfig struct {
	BaseURL      string        `yaml:"base_url"`      // 如 "https://api.cloudinary.com"
	Cloud        string        `yaml:"cloud"`         // 云名称（URL 路径的一部分）
	UploadPreset string        `yaml:"upload_preset"` // 固定的 upload preset
	Timeout      time.Duration `yaml:"timeout"`
}

// TaskFeedConfig 任务变更流配置（Redis Streams）
type TaskFeedConfig struct {
	StreamPrefix string        `yaml:"stream_prefix"` // stream 名称 = prefix + patientID
	MaxLen       int64         `yaml:"max_len"`
	Block        time.Duration `yaml:"block"`       // XREAD 阻塞时长
	MaxRetries   int           `yaml:"max_retries"` // 订阅连续失败的最大重试次数
}

// LedgerConfig 账目缓存配置
type LedgerConfig struct {
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	CacheKeyPrefix string        `yaml:"cache_key_prefix"`
}

// SeedConfig 开发环境初始管理员
type SeedConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// Load 加载配置：默认值 -> YAML 文件（SENZEN_CONFIG，可选）-> 环境变量
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("SENZEN_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.DBEnabled = getEnvBool("DB_ENABLED", cfg.DBEnabled)
	cfg.DBMigrate = getEnvBool("DB_MIGRATE", cfg.DBMigrate)
	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Session.TTL = commoncfg.EnvDuration("SESSION_TTL", cfg.Session.TTL)

	cfg.ImageHost.BaseURL = getEnv("IMAGE_HOST_BASE_URL", cfg.ImageHost.BaseURL)
	cfg.ImageHost.Cloud = getEnv("IMAGE_HOST_CLOUD", cfg.ImageHost.Cloud)
	cfg.ImageHost.UploadPreset = getEnv("IMAGE_HOST_UPLOAD_PRESET", cfg.ImageHost.UploadPreset)

	cfg.TaskFeed.StreamPrefix = getEnv("TASK_FEED_PREFIX", cfg.TaskFeed.StreamPrefix)
	cfg.TaskFeed.Block = commoncfg.EnvDuration("TASK_FEED_BLOCK", cfg.TaskFeed.Block)
	cfg.TaskFeed.MaxRetries = commoncfg.EnvInt("SUBSCRIBE_MAX_RETRIES", cfg.TaskFeed.MaxRetries)

	cfg.Ledger.CacheTTL = commoncfg.EnvDuration("LEDGER_CACHE_TTL", cfg.Ledger.CacheTTL)

	cfg.Seed.Enabled = getEnvBool("SEED_ADMIN", cfg.Seed.Enabled)
	cfg.Seed.AdminEmail = getEnv("SEED_ADMIN_EMAIL", cfg.Seed.AdminEmail)
	cfg.Seed.AdminPassword = getEnv("SEED_ADMIN_PASSWORD", cfg.Seed.AdminPassword)

	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)

	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"

	// Default to true for local dev: if DB is unavailable, senzen-data falls back to in-memory repos.
	cfg.DBEnabled = true
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "senzen"
	cfg.Database.SSLMode = "disable"

	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "senzen-data"
	cfg.MQTT.TopicPrefix = "senzen/caretaker"
	cfg.MQTT.QoS = 1

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	cfg.Session.TTL = 7 * 24 * time.Hour
	cfg.Session.KeyPrefix = "senzen:session:"

	cfg.ImageHost.BaseURL = "https://api.cloudinary.com"
	cfg.ImageHost.Cloud = "dqbalvtws"
	cfg.ImageHost.UploadPreset = "senzen"
	cfg.ImageHost.Timeout = 30 * time.Second

	cfg.TaskFeed.StreamPrefix = "senzen:tasks:"
	cfg.TaskFeed.MaxLen = 1000
	cfg.TaskFeed.Block = 5 * time.Second
	cfg.TaskFeed.MaxRetries = 5

	cfg.Ledger.CacheTTL = 5 * time.Minute
	cfg.Ledger.CacheKeyPrefix = "senzen:recites:"

	cfg.Seed.Enabled = true
	cfg.Seed.AdminEmail = "admin@senzen.com"
	cfg.Seed.AdminPassword = "ChangeMe123!"

	cfg.Metrics.Enabled = true
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true"
}

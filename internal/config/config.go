package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Env          string             `mapstructure:"env"` // 环境: development, production
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Numbering    NumberingConfig    `mapstructure:"numbering"`
	SLA          SLAConfig          `mapstructure:"sla"`
	Notification NotificationConfig `mapstructure:"notification"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // 秒
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres 或 sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	Path            string `mapstructure:"path"` // sqlite 文件路径
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 秒
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 秒
}

// RedisConfig Redis 配置,编号后端为 redis 时使用
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// StorageConfig 附件存储配置
type StorageConfig struct {
	Bucket            string   `mapstructure:"bucket"`
	Region            string   `mapstructure:"region"`
	Endpoint          string   `mapstructure:"endpoint"` // 兼容 S3 的自建服务(MinIO 等)
	AccessKey         string   `mapstructure:"access_key"`
	SecretKey         string   `mapstructure:"secret_key"`
	UsePathStyle      bool     `mapstructure:"use_path_style"`
	KeyPrefix         string   `mapstructure:"key_prefix"`
	MaxAttachmentSize int64    `mapstructure:"max_attachment_size"` // 字节
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

// AuthConfig 身份配置
type AuthConfig struct {
	Mode           string   `mapstructure:"mode"` // keycloak 或 header
	Issuer         string   `mapstructure:"issuer"`
	JWKSURL        string   `mapstructure:"jwks_url"`
	PublicKey      string   `mapstructure:"public_key"` // PEM 格式 RSA 公钥
	TemplateAdmins []string `mapstructure:"template_admins"`
}

// NumberingConfig 编号配置
type NumberingConfig struct {
	Backend        string `mapstructure:"backend"` // database 或 redis
	DefaultPadding int    `mapstructure:"default_padding"`
}

// SLAConfig SLA 巡检配置
type SLAConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Schedule  string `mapstructure:"schedule"` // cron 表达式
	BatchSize int    `mapstructure:"batch_size"`
}

// NotificationConfig 通知配置
type NotificationConfig struct {
	Workers        int `mapstructure:"workers"`
	QueueSize      int `mapstructure:"queue_size"`
	MaxRetries     int `mapstructure:"max_retries"`
	WebhookTimeout int `mapstructure:"webhook_timeout"` // 秒
}

// CacheConfig 模板缓存配置
type CacheConfig struct {
	TemplateTTL int `mapstructure:"template_ttl"` // 秒
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"` // OTLP gRPC 地址,为空时不启用
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `mapstructure:"level"`  // 日志级别: debug, info, warn, error
	Format   string `mapstructure:"format"` // 日志格式: json, text
	Output   string `mapstructure:"output"` // 输出位置: stdout, file, both
	FilePath string `mapstructure:"file_path"`
}

// Load 加载配置,支持配置文件和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果提供了配置文件路径,从文件加载
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// 尝试从默认位置加载
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.record-gin")
		// 忽略配置文件不存在的错误,使用默认值
		_ = v.ReadInConfig()
	}

	// 支持环境变量
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验枚举类配置项
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Auth.Mode {
	case "keycloak", "header":
	default:
		return fmt.Errorf("unsupported auth mode %q", c.Auth.Mode)
	}
	switch c.Numbering.Backend {
	case "database", "redis":
	default:
		return fmt.Errorf("unsupported numbering backend %q", c.Numbering.Backend)
	}
	if c.Numbering.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("numbering backend redis requires redis.addr")
	}
	return nil
}

// IsProduction 判断是否为生产环境
func IsProduction(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Env == "production"
}

// Default 返回默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 环境变量
	env := v.GetString("env")
	if env == "" {
		env = os.Getenv("APP_ENV")
		if env == "" {
			env = "development"
		}
	}
	v.SetDefault("env", env)

	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15)

	// 数据库默认配置
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "records")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "records.db")

	// 数据库连接池配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("database.max_idle_conns", 20)
		v.SetDefault("database.max_open_conns", 200)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 300) // 5 分钟
	} else {
		v.SetDefault("database.max_idle_conns", 10)
		v.SetDefault("database.max_open_conns", 100)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 600) // 10 分钟
	}

	// Redis 默认配置
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "record-gin")

	// 附件存储默认配置
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.key_prefix", "attachments")
	v.SetDefault("storage.max_attachment_size", 10<<20) // 10MB
	v.SetDefault("storage.allowed_extensions", []string{".pdf", ".png", ".jpg", ".jpeg", ".docx", ".xlsx", ".txt", ".csv"})

	// 身份默认配置
	v.SetDefault("auth.mode", "keycloak")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.template_admins", []string{"admin", "template_manager"})

	// 编号默认配置
	v.SetDefault("numbering.backend", "database")
	v.SetDefault("numbering.default_padding", 4)

	// SLA 巡检默认配置
	v.SetDefault("sla.enabled", true)
	v.SetDefault("sla.schedule", "@every 5m")
	v.SetDefault("sla.batch_size", 200)

	// 通知默认配置
	v.SetDefault("notification.workers", 4)
	v.SetDefault("notification.queue_size", 1000)
	v.SetDefault("notification.max_retries", 3)
	v.SetDefault("notification.webhook_timeout", 10)

	// 缓存默认配置
	v.SetDefault("cache.template_ttl", 300)

	// 链路追踪默认配置
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "record-gin")
	v.SetDefault("tracing.insecure", true)

	// 限流默认配置
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)

	// CORS 默认配置
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Request-ID", "X-User-ID", "X-User-Roles", "X-Organization-ID"})
	v.SetDefault("cors.max_age", 86400)

	// 日志配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("log.level", "warn")
		v.SetDefault("log.format", "json")
	} else {
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.format", "text")
	}
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/record-gin.log")
}

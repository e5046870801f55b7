package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	AI        AIConfig        `mapstructure:"ai"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Credits   CreditsConfig   `mapstructure:"credits"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Usage     UsageConfig     `mapstructure:"usage"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"` // 流式响应需要为 0 或足够大
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	Path            string `mapstructure:"path"` // sqlite 文件路径
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置，Host 为空表示不启用
type RedisConfig struct {
	Mode string `mapstructure:"mode"` // standalone, sentinel, cluster

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// Enabled 是否配置了 Redis
func (c RedisConfig) Enabled() bool {
	return c.Host != "" || len(c.SentinelAddrs) > 0 || len(c.ClusterAddrs) > 0
}

// Addr 单节点地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AIConfig 上游 AI 网关配置（OpenAI 兼容协议）
type AIConfig struct {
	BaseURL            string  `mapstructure:"base_url"`
	APIKey             string  `mapstructure:"api_key"`
	DefaultModel       string  `mapstructure:"default_model"`
	DefaultTemperature float64 `mapstructure:"default_temperature"`
	// 等待上游响应头的超时（秒），不限制流式 body 的读取时长
	ResponseHeaderTimeout int `mapstructure:"response_header_timeout"`
}

// AuthConfig 身份认证配置
type AuthConfig struct {
	SessionMode string `mapstructure:"session_mode"` // jwt, remote
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer"`
	ProviderURL string `mapstructure:"provider_url"` // remote 模式下的身份提供方地址
	ProviderKey string `mapstructure:"provider_key"` // remote 模式下调用身份提供方使用的 anon key
	CacheTTL    int    `mapstructure:"cache_ttl"`    // remote 模式下用户查询缓存时间（秒）
}

// CreditsConfig 积分配置
type CreditsConfig struct {
	DefaultCredits int64  `mapstructure:"default_credits"` // 首次访问自动创建账户时赠送的积分
	DefaultPlan    string `mapstructure:"default_plan"`
	CostPerRequest int64  `mapstructure:"cost_per_request"` // 每次成功调用扣除的积分
}

// AgentConfig Agent 配置加载相关
type AgentConfig struct {
	CacheTTL int `mapstructure:"cache_ttl"` // 已发布 Agent 配置缓存时间（秒），0 表示不缓存
}

// UsageConfig 用量记录配置
type UsageConfig struct {
	Dispatch       string `mapstructure:"dispatch"` // inline, queue
	EstimateTokens bool   `mapstructure:"estimate_tokens"`
}

// RateLimitConfig 运行时接口限流
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	BurstSize         int  `mapstructure:"burst_size"`
}

// CacheTTLDuration 返回 Agent 配置缓存时长
func (c AgentConfig) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_DATABASE_HOST
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 没有配置文件时完全依赖默认值与环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 注册默认值，保证缺省键不会得到零值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 0)

	// 空字符串默认值让 AutomaticEnv 能覆盖这些键
	for _, key := range []string{
		"database.host", "database.user", "database.password", "database.dbname",
		"redis.host", "redis.password",
		"ai.api_key", "auth.jwt_secret", "auth.provider_url", "auth.provider_key",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "jeesi.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("ai.base_url", "https://ai.gateway.lovable.dev/v1")
	v.SetDefault("ai.default_model", "google/gemini-2.5-flash")
	v.SetDefault("ai.default_temperature", 0.7)
	v.SetDefault("ai.response_header_timeout", 60)

	v.SetDefault("auth.session_mode", "jwt")
	v.SetDefault("auth.jwt_issuer", "supabase")
	v.SetDefault("auth.cache_ttl", 60)

	v.SetDefault("credits.default_credits", 5)
	v.SetDefault("credits.default_plan", "free")
	v.SetDefault("credits.cost_per_request", 1)

	v.SetDefault("agent.cache_ttl", 60)

	v.SetDefault("usage.dispatch", "inline")
	v.SetDefault("usage.estimate_tokens", false)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.burst_size", 10)
}

// Validate 校验关键配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s (可选: postgres, sqlite)", c.Database.Driver)
	}
	switch c.Auth.SessionMode {
	case "jwt", "remote":
	default:
		return fmt.Errorf("不支持的会话模式: %s (可选: jwt, remote)", c.Auth.SessionMode)
	}
	if c.Auth.SessionMode == "remote" && c.Auth.ProviderURL == "" {
		return fmt.Errorf("remote 会话模式需要配置 auth.provider_url")
	}
	switch c.Usage.Dispatch {
	case "inline":
	case "queue":
		if !c.Redis.Enabled() {
			return fmt.Errorf("queue 用量分发模式需要配置 Redis")
		}
	default:
		return fmt.Errorf("不支持的用量分发模式: %s (可选: inline, queue)", c.Usage.Dispatch)
	}
	if c.Credits.CostPerRequest <= 0 {
		return fmt.Errorf("credits.cost_per_request 必须大于 0")
	}
	return nil
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

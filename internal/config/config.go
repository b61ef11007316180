// Package config 提供应用程序的配置加载和管理功能
// 读取顺序：TOML 配置文件 -> .env 文件 -> 环境变量覆盖 -> 默认值
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// MainConfig 主配置，包含应用基本信息
type MainConfig struct {
	AppName string `toml:"appName"` // 应用名称
	Host    string `toml:"host"`    // 监听地址，如 "0.0.0.0"
	Port    int    `toml:"port"`    // 监听端口
	Mode    string `toml:"mode"`    // 运行模式：dev / release
}

// StoreConfig 会话存储（关系型数据库）配置
type StoreConfig struct {
	Driver       string `toml:"driver"`       // postgres 或 mysql
	Host         string `toml:"host"`         // 数据库地址
	Port         int    `toml:"port"`         // 数据库端口
	User         string `toml:"user"`         // 用户名
	Password     string `toml:"password"`     // 密码
	DatabaseName string `toml:"databaseName"` // 数据库名称
	SSLMode      string `toml:"sslMode"`      // 仅 postgres 使用
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	Db       int    `toml:"db"`
}

// LogConfig 日志配置，使用 lumberjack 进行日志轮转
type LogConfig struct {
	LogPath    string `toml:"logPath"`    // 日志文件存储目录
	FileName   string `toml:"fileName"`   // 日志文件名
	MaxSize    int    `toml:"maxSize"`    // 单个日志文件最大大小（MB）
	MaxBackups int    `toml:"maxBackups"` // 保留旧日志文件的最大个数
	MaxAge     int    `toml:"maxAge"`     // 保留旧日志文件的最大天数
	Level      string `toml:"level"`      // debug, info, warn, error
}

// KafkaConfig 会话事件分发配置
type KafkaConfig struct {
	MessageMode string        `toml:"messageMode"` // "channel" 或 "kafka"
	HostPort    string        `toml:"hostPort"`    // 如 "localhost:9092"
	EventTopic  string        `toml:"eventTopic"`  // 会话事件主题
	GroupID     string        `toml:"groupId"`     // 消费组
	Timeout     time.Duration `toml:"timeout"`     // 秒
}

// JWTConfig 控制接口鉴权配置，Secret 为空时不启用鉴权
type JWTConfig struct {
	Secret            string `toml:"secret"`
	AccessTokenExpiry int    `toml:"accessTokenExpiry"` // 分钟
}

// SnowflakeConfig 雪花算法配置
type SnowflakeConfig struct {
	MachineID int64 `toml:"machineId"` // 0-1023，多实例部署时需唯一
}

// ProtocolConfig 消息网络客户端与连接生命周期配置
type ProtocolConfig struct {
	CredentialDialect string `toml:"credentialDialect"` // 设备凭证库方言，目前只注册了 pgx 驱动
	CredentialDSN     string `toml:"credentialDSN"`     // 为空时由 StoreConfig 推导（仅 postgres）
	InitTimeout       int    `toml:"initTimeout"`       // 初始化超时（秒）
	ReconnectDelay    int    `toml:"reconnectDelay"`    // 重连延迟（秒）
	MaxReconnectDelay int    `toml:"maxReconnectDelay"` // 重连延迟上限（秒）
	PairingTTL        int    `toml:"pairingTTL"`        // 二维码有效期（秒）
}

// DeliveryConfig 回复分段与打字节奏配置
type DeliveryConfig struct {
	DefaultTypingWPM int `toml:"defaultTypingWPM"`
	MaxChunkLength   int `toml:"maxChunkLength"`
	MinTypingDelayMs int `toml:"minTypingDelayMs"`
	MaxTypingDelayMs int `toml:"maxTypingDelayMs"`
	ChunkGapMs       int `toml:"chunkGapMs"`
	HistoryLimit     int `toml:"historyLimit"`
}

// ResolverConfig 回复解析（webhook / 兜底应答）配置
type ResolverConfig struct {
	WebhookTimeout     int    `toml:"webhookTimeout"` // 秒
	FallbackReply      string `toml:"fallbackReply"`  // webhook 失败时发送的致歉文本
	BreakerMaxFailures int    `toml:"breakerMaxFailures"`
}

// Config 应用程序总配置，聚合所有子配置
type Config struct {
	MainConfig      `toml:"mainConfig"`
	StoreConfig     `toml:"storeConfig"`
	RedisConfig     `toml:"redisConfig"`
	LogConfig       `toml:"logConfig"`
	KafkaConfig     `toml:"kafkaConfig"`
	JWTConfig       `toml:"jwtConfig"`
	SnowflakeConfig `toml:"snowflakeConfig"`
	ProtocolConfig  `toml:"protocolConfig"`
	DeliveryConfig  `toml:"deliveryConfig"`
	ResolverConfig  `toml:"resolverConfig"`
}

// DefaultFallbackReply webhook 调用失败时的固定致歉文本
const DefaultFallbackReply = "Sorry, I'm having trouble responding right now. Please try again in a moment."

var (
	config *Config
	once   sync.Once
)

// 候选配置文件路径，优先加载本地配置
var searchPaths = []string{
	"configs/config_local.toml",
	"configs/config.toml",
	"../../configs/config_local.toml",
	"../../configs/config.toml",
}

// Load 按 searchPaths 顺序加载第一个可用的配置文件，再叠加环境变量与默认值
// 找不到配置文件不算错误，环境变量和默认值仍然生效
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = searchPaths
	}
	cfg := new(Config)
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		break
	}

	// .env 不存在时忽略
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// GetConfig 获取全局配置实例（单例），加载失败时退回到环境变量和默认值
func GetConfig() *Config {
	once.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config failed, using defaults: %v\n", err)
			cfg = new(Config)
			cfg.applyDefaults()
		}
		config = cfg
	})
	return config
}

func (c *Config) applyEnv() error {
	var err error
	setString(&c.MainConfig.Host, "HOST")
	setString(&c.MainConfig.Mode, "APP_MODE")
	if err = setInt(&c.MainConfig.Port, "PORT"); err != nil {
		return err
	}

	setString(&c.StoreConfig.Driver, "DB_DRIVER")
	setString(&c.StoreConfig.Host, "DB_HOST")
	setString(&c.StoreConfig.User, "DB_USER")
	setString(&c.StoreConfig.Password, "DB_PASSWORD")
	setString(&c.StoreConfig.DatabaseName, "DB_NAME")
	setString(&c.StoreConfig.SSLMode, "DB_SSLMODE")
	if err = setInt(&c.StoreConfig.Port, "DB_PORT"); err != nil {
		return err
	}

	setString(&c.RedisConfig.Host, "REDIS_HOST")
	setString(&c.RedisConfig.Password, "REDIS_PASSWORD")
	if err = setInt(&c.RedisConfig.Port, "REDIS_PORT"); err != nil {
		return err
	}
	if err = setInt(&c.RedisConfig.Db, "REDIS_DB"); err != nil {
		return err
	}

	setString(&c.KafkaConfig.MessageMode, "MESSAGE_MODE")
	setString(&c.KafkaConfig.HostPort, "KAFKA_HOST_PORT")
	setString(&c.KafkaConfig.EventTopic, "KAFKA_EVENT_TOPIC")

	setString(&c.JWTConfig.Secret, "JWT_SECRET")

	if v := os.Getenv("SNOWFLAKE_MACHINE_ID"); v != "" {
		id, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid SNOWFLAKE_MACHINE_ID %q: %w", v, perr)
		}
		c.SnowflakeConfig.MachineID = id
	}

	setString(&c.ProtocolConfig.CredentialDialect, "WA_CREDENTIAL_DIALECT")
	setString(&c.ProtocolConfig.CredentialDSN, "WA_CREDENTIAL_DSN")

	if err = setInt(&c.DeliveryConfig.DefaultTypingWPM, "DEFAULT_TYPING_WPM"); err != nil {
		return err
	}
	return setInt(&c.DeliveryConfig.MaxChunkLength, "MAX_CHUNK_LENGTH")
}

func (c *Config) applyDefaults() {
	if c.MainConfig.AppName == "" {
		c.MainConfig.AppName = "chatty_session_server"
	}
	if c.MainConfig.Host == "" {
		c.MainConfig.Host = "0.0.0.0"
	}
	if c.MainConfig.Port == 0 {
		c.MainConfig.Port = 8000
	}
	if c.MainConfig.Mode == "" {
		c.MainConfig.Mode = "dev"
	}

	if c.StoreConfig.Driver == "" {
		c.StoreConfig.Driver = "postgres"
	}
	if c.StoreConfig.Host == "" {
		c.StoreConfig.Host = "localhost"
	}
	if c.StoreConfig.Port == 0 {
		if c.StoreConfig.Driver == "mysql" {
			c.StoreConfig.Port = 3306
		} else {
			c.StoreConfig.Port = 5432
		}
	}
	if c.StoreConfig.User == "" {
		c.StoreConfig.User = "postgres"
	}
	if c.StoreConfig.DatabaseName == "" {
		c.StoreConfig.DatabaseName = "chatty"
	}
	if c.StoreConfig.SSLMode == "" {
		c.StoreConfig.SSLMode = "disable"
	}

	if c.RedisConfig.Host == "" {
		c.RedisConfig.Host = "localhost"
	}
	if c.RedisConfig.Port == 0 {
		c.RedisConfig.Port = 6379
	}

	if c.LogConfig.LogPath == "" {
		c.LogConfig.LogPath = "logs"
	}

	if c.KafkaConfig.MessageMode == "" {
		c.KafkaConfig.MessageMode = "channel"
	}
	if c.KafkaConfig.HostPort == "" {
		c.KafkaConfig.HostPort = "localhost:9092"
	}
	if c.KafkaConfig.EventTopic == "" {
		c.KafkaConfig.EventTopic = "session_events"
	}
	if c.KafkaConfig.GroupID == "" {
		c.KafkaConfig.GroupID = "chatty_session"
	}
	if c.KafkaConfig.Timeout == 0 {
		c.KafkaConfig.Timeout = 1
	}

	if c.JWTConfig.AccessTokenExpiry == 0 {
		c.JWTConfig.AccessTokenExpiry = 60
	}
	if c.SnowflakeConfig.MachineID == 0 {
		c.SnowflakeConfig.MachineID = 1
	}

	if c.ProtocolConfig.CredentialDialect == "" {
		c.ProtocolConfig.CredentialDialect = "pgx"
	}
	if c.ProtocolConfig.CredentialDSN == "" && c.StoreConfig.Driver == "postgres" {
		c.ProtocolConfig.CredentialDSN = c.StoreConfig.PostgresDSN()
	}
	if c.ProtocolConfig.InitTimeout == 0 {
		c.ProtocolConfig.InitTimeout = 60
	}
	if c.ProtocolConfig.ReconnectDelay == 0 {
		c.ProtocolConfig.ReconnectDelay = 5
	}
	if c.ProtocolConfig.MaxReconnectDelay == 0 {
		c.ProtocolConfig.MaxReconnectDelay = 60
	}
	if c.ProtocolConfig.PairingTTL == 0 {
		c.ProtocolConfig.PairingTTL = 60
	}

	if c.DeliveryConfig.DefaultTypingWPM == 0 {
		c.DeliveryConfig.DefaultTypingWPM = 60
	}
	if c.DeliveryConfig.MaxChunkLength == 0 {
		c.DeliveryConfig.MaxChunkLength = 1500
	}
	if c.DeliveryConfig.MinTypingDelayMs == 0 {
		c.DeliveryConfig.MinTypingDelayMs = 800
	}
	if c.DeliveryConfig.MaxTypingDelayMs == 0 {
		c.DeliveryConfig.MaxTypingDelayMs = 5000
	}
	if c.DeliveryConfig.ChunkGapMs == 0 {
		c.DeliveryConfig.ChunkGapMs = 500
	}
	if c.DeliveryConfig.HistoryLimit == 0 {
		c.DeliveryConfig.HistoryLimit = 10
	}

	if c.ResolverConfig.WebhookTimeout == 0 {
		c.ResolverConfig.WebhookTimeout = 30
	}
	if c.ResolverConfig.FallbackReply == "" {
		c.ResolverConfig.FallbackReply = DefaultFallbackReply
	}
	if c.ResolverConfig.BreakerMaxFailures == 0 {
		c.ResolverConfig.BreakerMaxFailures = 5
	}
}

// PostgresDSN 拼接 postgres 连接串，gorm 与设备凭证库共用
func (s StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.DatabaseName, s.SSLMode)
}

// MysqlDSN 拼接 mysql 连接串
func (s StoreConfig) MysqlDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		s.User, s.Password, s.Host, s.Port, s.DatabaseName)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

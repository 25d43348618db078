package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/service/quota"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Auth    AuthConfig
	Quota   QuotaConfig
	Session SessionConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	quotaCfg, err := loadQuotaConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Store:   store,
		Auth:    auth,
		Quota:   quotaCfg,
		Session: session,
		Log:     logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr       string
	CORSOrigin string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	cors := getEnvOrDefault("CORS_ORIGIN", "*")

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3000" 或 "127.0.0.1:3000"。
		return ServerConfig{Addr: port, CORSOrigin: cors}, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, CORSOrigin: cors}, nil
}

// StoreConfig 描述 kv 存储后端。
type StoreConfig struct {
	Driver string
	DSN    string
}

func loadStoreConfig() (StoreConfig, error) {
	driver := getEnvOrDefault("STORE_DRIVER", "sqlite3")
	switch driver {
	case "memory", "sqlite3", "postgres":
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q", driver)
	}

	dsn := getEnvOrDefault("STORE_DSN", "data/soullink.db")
	if driver == "postgres" && strings.TrimSpace(os.Getenv("STORE_DSN")) == "" {
		return StoreConfig{}, fmt.Errorf("STORE_DSN is required for the postgres driver")
	}

	return StoreConfig{Driver: driver, DSN: dsn}, nil
}

// AuthConfig 描述令牌签名配置。
type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

func loadAuthConfig() (AuthConfig, error) {
	key := strings.TrimSpace(os.Getenv("JWT_SIGNING_KEY"))
	if key == "" {
		generated, err := randomKey()
		if err != nil {
			return AuthConfig{}, err
		}
		logrus.Warn("JWT_SIGNING_KEY 未设置，使用进程内随机密钥，重启后已签发的令牌将失效")
		key = generated
	}

	ttl := 30 * 24 * time.Hour
	hours, err := parseOptionalIntEnv("JWT_TTL_HOURS")
	if err != nil {
		return AuthConfig{}, err
	}
	if hours != nil {
		if *hours < 1 {
			return AuthConfig{}, fmt.Errorf("invalid JWT_TTL_HOURS value %d", *hours)
		}
		ttl = time.Duration(*hours) * time.Hour
	}

	return AuthConfig{SigningKey: key, TokenTTL: ttl}, nil
}

// QuotaConfig 描述游客消息额度窗口。
type QuotaConfig struct {
	Policy     quota.Policy
	PolicyFile string
}

func loadQuotaConfig() (QuotaConfig, error) {
	path := strings.TrimSpace(os.Getenv("QUOTA_POLICY_FILE"))
	if path == "" {
		return QuotaConfig{Policy: quota.DefaultPolicy()}, nil
	}

	policy, err := quota.LoadPolicy(path)
	if err != nil {
		return QuotaConfig{}, err
	}
	return QuotaConfig{Policy: policy, PolicyFile: path}, nil
}

// SessionConfig 描述会话历史保留上限。
type SessionConfig struct {
	Retention int
}

func loadSessionConfig() (SessionConfig, error) {
	retention := 50
	override, err := parseOptionalIntEnv("SESSION_RETENTION")
	if err != nil {
		return SessionConfig{}, err
	}
	if override != nil {
		if *override < 1 {
			retention = 1
		} else {
			retention = *override
		}
	}
	return SessionConfig{Retention: retention}, nil
}

// LogConfig 控制 logrus 输出。
type LogConfig struct {
	Level logrus.Level
	JSON  bool
}

func loadLogConfig() (LogConfig, error) {
	level, err := logrus.ParseLevel(getEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	format := getEnvOrDefault("LOG_FORMAT", "json")
	if format != "json" && format != "text" {
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q", format)
	}

	return LogConfig{Level: level, JSON: format == "json"}, nil
}

// Apply 配置全局 logrus 日志。
func (c LogConfig) Apply() {
	if c.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(c.Level)
}

// randomKey 生成 32 字节的随机签名密钥。
func randomKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate signing key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

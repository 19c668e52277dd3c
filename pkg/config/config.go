package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Log       LogConfig
	Redis     RedisConfig
	CORS      CORSConfig
	SmartHome SmartHomeConfig
	Healing   HealingConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey     string // JWT密钥
	TokenDuration string // 令牌有效期，如 "24h"
}

type LogConfig struct {
	Level      string
	FilePath   string
	MaxSize    int    // MB
	MaxBackups int    // 保留的备份文件数
	MaxAge     int    // 保留天数
	Compress   bool   // 是否压缩
	Format     string // json 或 text
}

type RedisConfig struct {
	Host     string // Redis主机地址
	Port     int    // Redis端口
	Password string // Redis密码
	DB       int    // Redis数据库编号
	Prefix   string // 队列键前缀
}

type CORSConfig struct {
	AllowOrigins     []string // 允许的源
	AllowMethods     []string // 允许的HTTP方法
	AllowHeaders     []string // 允许的请求头
	ExposeHeaders    []string // 暴露的响应头
	AllowCredentials bool     // 是否允许携带凭证
	MaxAge           int      // 预检请求缓存时间（小时）
}

// SmartHomeConfig 智能家居中枢连接配置
type SmartHomeConfig struct {
	WebSocketURL string // 中枢WebSocket地址，如 ws://homeassistant:8123/api/websocket
	AccessToken  string // 长效访问令牌
	DialTimeout  time.Duration
}

// HealingConfig 自愈引擎配置
type HealingConfig struct {
	MaxRetries            int           // L1重试次数
	RetryBaseDelay        time.Duration // L1退避基数
	AttemptTimeout        time.Duration // 单次服务调用超时
	RebootSettleWait      time.Duration // 设备重启后的等待时间
	RediscoverSettleWait  time.Duration // 重新发现后的等待时间
	CooldownSeconds       int           // 集成修复冷却时间（秒）
	CircuitBreakerMax     int           // 熔断阈值（连续失败次数）
	CircuitBreakerReset   time.Duration // 熔断恢复窗口
	PatternMatchThreshold int           // 智能路由的最小成功次数
	DefaultCascadeTimeout float64       // 级联默认总超时（秒）
	DryRun                bool          // 演练模式：不真正执行集成重载
	BuiltinPlanDir        string        // 内置预案目录
	UserPlanDir           string        // 用户预案目录（可为空）
	PlanSyncCron          string        // 预案目录同步的cron表达式
	NotificationQueue     string        // 升级通知队列名
}

// 全局配置实例和同步锁
var (
	globalConfig *Config
	once         sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		var err error
		globalConfig, err = LoadConfig()
		if err != nil {
			// 如果加载失败，可以panic或使用默认配置
			panic("Failed to load config: " + err.Error())
		}
	})
	return globalConfig
}

// 获取环境变量，如果不存在则使用默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 获取环境变量转换为int
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 获取环境变量转换为float64
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// 获取环境变量转换为bool
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// 获取环境变量转换为time.Duration，如 "30s"
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// 获取环境变量转换为字符串数组（逗号分隔）
func getEnvAsStringArray(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// 处理逗号分隔的字符串，去除空格
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Mode: getEnv("SERVER_MODE", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "homeheal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", "default-secret-change-me"),
			TokenDuration: getEnv("JWT_TOKEN_DURATION", "24h"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE_PATH", "logs/app.log"),
			MaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 7),
			MaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
			Format:     getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "homeheal:queue"),
		},
		CORS: CORSConfig{
			AllowOrigins:     getEnvAsStringArray("CORS_ALLOW_ORIGINS", []string{"*"}),
			AllowMethods:     getEnvAsStringArray("CORS_ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
			AllowHeaders:     getEnvAsStringArray("CORS_ALLOW_HEADERS", []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"}),
			ExposeHeaders:    getEnvAsStringArray("CORS_EXPOSE_HEADERS", []string{"Content-Length", "Content-Type"}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 12),
		},
		SmartHome: SmartHomeConfig{
			WebSocketURL: getEnv("SMARTHOME_WS_URL", "ws://localhost:8123/api/websocket"),
			AccessToken:  getEnv("SMARTHOME_ACCESS_TOKEN", ""),
			DialTimeout:  getEnvAsDuration("SMARTHOME_DIAL_TIMEOUT", 10*time.Second),
		},
		Healing: HealingConfig{
			MaxRetries:            getEnvAsInt("HEALING_MAX_RETRIES", 3),
			RetryBaseDelay:        getEnvAsDuration("HEALING_RETRY_BASE_DELAY", time.Second),
			AttemptTimeout:        getEnvAsDuration("HEALING_ATTEMPT_TIMEOUT", 10*time.Second),
			RebootSettleWait:      getEnvAsDuration("HEALING_REBOOT_SETTLE_WAIT", 30*time.Second),
			RediscoverSettleWait:  getEnvAsDuration("HEALING_REDISCOVER_SETTLE_WAIT", 5*time.Second),
			CooldownSeconds:       getEnvAsInt("HEALING_COOLDOWN_SECONDS", 300),
			CircuitBreakerMax:     getEnvAsInt("HEALING_CIRCUIT_BREAKER_MAX", 5),
			CircuitBreakerReset:   getEnvAsDuration("HEALING_CIRCUIT_BREAKER_RESET", 30*time.Minute),
			PatternMatchThreshold: getEnvAsInt("HEALING_PATTERN_THRESHOLD", 3),
			DefaultCascadeTimeout: getEnvAsFloat("HEALING_CASCADE_TIMEOUT", 120),
			DryRun:                getEnvAsBool("HEALING_DRY_RUN", false),
			BuiltinPlanDir:        getEnv("HEALING_BUILTIN_PLAN_DIR", "plans/builtin"),
			UserPlanDir:           getEnv("HEALING_USER_PLAN_DIR", ""),
			PlanSyncCron:          getEnv("HEALING_PLAN_SYNC_CRON", "0 */5 * * * *"),
			NotificationQueue:     getEnv("HEALING_NOTIFICATION_QUEUE", "notifications"),
		},
	}

	return config, nil
}

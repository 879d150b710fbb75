package config

import (
	"os"
	"strconv"

	"evvos-field/internal/common/config"
)

// Config 巡务协调服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	Device   config.DeviceEndpointConfig

	// 配对确认轮询配置
	Provisioning struct {
		PollInterval     int // 轮询间隔（秒），默认 3秒
		MaxPollAttempts  int // 最大轮询次数，默认 30 次（约 90 秒）
		FreshnessMinutes int // 凭证新鲜度窗口（分钟），默认 60 分钟
		PairingKeyPrefix string // 本地配对标志键前缀，如 "evvos:paired:"
	}

	// 紧急支援配置
	Backup struct {
		NotifyTopic   string // 支援请求广播主题，如 "evvos/backup/requests"
		WatchInterval int    // 状态/响应人数监视轮询间隔（秒），默认 3秒
	}

	HTTP struct {
		Addr string // 监听地址，默认 ":8086"
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "evvos")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "evvos-field")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	// 记录仪热点端点（仅加入设备热点时可达）
	cfg.Device.BaseURL = getEnv("DEVICE_BASE_URL", "http://192.168.50.1:8080")
	cfg.Device.TimeoutSeconds = getEnvInt("DEVICE_TIMEOUT", 5)

	cfg.Provisioning.PollInterval = getEnvInt("PROVISION_POLL_INTERVAL", 3)
	cfg.Provisioning.MaxPollAttempts = getEnvInt("PROVISION_MAX_ATTEMPTS", 30)
	cfg.Provisioning.FreshnessMinutes = getEnvInt("PROVISION_FRESHNESS_MINUTES", 60)
	cfg.Provisioning.PairingKeyPrefix = getEnv("PAIRING_KEY_PREFIX", "evvos:paired:")

	cfg.Backup.NotifyTopic = getEnv("BACKUP_NOTIFY_TOPIC", "evvos/backup/requests")
	cfg.Backup.WatchInterval = getEnvInt("BACKUP_WATCH_INTERVAL", 3)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8086")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// AgentConfig 记录仪端配网代理配置
type AgentConfig struct {
	HTTP struct {
		Addr string // 热点内监听地址，默认 ":8080"
	}

	Cloud struct {
		BaseURL string // 云端 REST 地址（PostgREST 风格）
		APIKey  string
		TimeoutSeconds int
	}

	Provision struct {
		CredsFile          string // 已配网凭据的落盘路径
		IntakeTimeoutSec   int    // 等待表单提交的超时（秒），默认 600
		WifiAttempts       int    // WiFi 加入重试次数，默认 5
		InternetAttempts   int    // 外网校验重试次数，默认 5
		HeartbeatInterval  int    // 心跳间隔（秒），默认 30
		DisconnectInterval int    // 断开标记轮询间隔（秒），默认 10
	}

	Log struct {
		Level  string
		Format string
	}
}

// LoadAgent 加载配网代理配置
func LoadAgent() (*AgentConfig, error) {
	cfg := &AgentConfig{}

	cfg.HTTP.Addr = getEnv("AGENT_HTTP_ADDR", ":8080")

	cfg.Cloud.BaseURL = getEnv("CLOUD_BASE_URL", "http://localhost:8086")
	cfg.Cloud.APIKey = getEnv("CLOUD_API_KEY", "")
	cfg.Cloud.TimeoutSeconds = getEnvInt("CLOUD_TIMEOUT", 10)

	cfg.Provision.CredsFile = getEnv("AGENT_CREDS_FILE", "/var/lib/evvos/credentials.json")
	cfg.Provision.IntakeTimeoutSec = getEnvInt("AGENT_INTAKE_TIMEOUT", 600)
	cfg.Provision.WifiAttempts = getEnvInt("AGENT_WIFI_ATTEMPTS", 5)
	cfg.Provision.InternetAttempts = getEnvInt("AGENT_INTERNET_ATTEMPTS", 5)
	cfg.Provision.HeartbeatInterval = getEnvInt("AGENT_HEARTBEAT_INTERVAL", 30)
	cfg.Provision.DisconnectInterval = getEnvInt("AGENT_DISCONNECT_INTERVAL", 10)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

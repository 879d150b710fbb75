package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "evvos", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "evvos-field", cfg.MQTT.ClientID)

	assert.Equal(t, "http://192.168.50.1:8080", cfg.Device.BaseURL)
	assert.Equal(t, 5, cfg.Device.TimeoutSeconds)

	assert.Equal(t, 3, cfg.Provisioning.PollInterval)
	assert.Equal(t, 30, cfg.Provisioning.MaxPollAttempts)
	assert.Equal(t, 60, cfg.Provisioning.FreshnessMinutes)
	assert.Equal(t, "evvos:paired:", cfg.Provisioning.PairingKeyPrefix)

	assert.Equal(t, "evvos/backup/requests", cfg.Backup.NotifyTopic)
	assert.Equal(t, 3, cfg.Backup.WatchInterval)

	assert.Equal(t, ":8086", cfg.HTTP.Addr)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_USER", "test-user")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("DEVICE_BASE_URL", "http://10.0.0.1:9090")
	os.Setenv("PROVISION_MAX_ATTEMPTS", "5")
	os.Setenv("BACKUP_NOTIFY_TOPIC", "test/topic")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证环境变量覆盖
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "test-user", cfg.Database.User)
	assert.Equal(t, "test-db", cfg.Database.Database)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "http://10.0.0.1:9090", cfg.Device.BaseURL)
	assert.Equal(t, 5, cfg.Provisioning.MaxPollAttempts)
	assert.Equal(t, "test/topic", cfg.Backup.NotifyTopic)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 清理环境变量
	os.Clearenv()
}

func TestGetEnvInt(t *testing.T) {
	os.Clearenv()

	// 测试默认值
	assert.Equal(t, 42, getEnvInt("TEST_INT", 42))

	// 测试环境变量存在
	os.Setenv("TEST_INT", "7")
	assert.Equal(t, 7, getEnvInt("TEST_INT", 42))

	// 非法值回退默认值
	os.Setenv("TEST_INT", "not-a-number")
	assert.Equal(t, 42, getEnvInt("TEST_INT", 42))

	os.Unsetenv("TEST_INT")
}

package backup

import (
	"encoding/json"
	"fmt"

	"evvos-field/internal/common/mqtt"

	"go.uber.org/zap"
)

// BackupNotification 支援请求广播载荷
// 经推送通道唤醒其他警员终端；记录行才是事实来源，推送只是尽力投递
type BackupNotification struct {
	RequestID string `json:"request_id"`
	Enforcer  string `json:"enforcer"`
	Location  string `json:"location"`
	Time      string `json:"time"`
	UserID    string `json:"user_id"`
}

// Notifier 支援请求通知发送接口
type Notifier interface {
	NotifyBackupRequested(notification BackupNotification) error
}

// MQTTNotifier 基于 MQTT 的通知发送器
type MQTTNotifier struct {
	publisher mqtt.Publisher
	topic     string
	qos       byte
	logger    *zap.Logger
}

// NewMQTTNotifier 创建 MQTT 通知发送器
func NewMQTTNotifier(publisher mqtt.Publisher, topic string, qos byte, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		publisher: publisher,
		topic:     topic,
		qos:       qos,
		logger:    logger,
	}
}

// NotifyBackupRequested 广播支援请求
func (n *MQTTNotifier) NotifyBackupRequested(notification BackupNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal backup notification: %w", err)
	}

	if err := n.publisher.Publish(n.topic, n.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish backup notification: %w", err)
	}

	n.logger.Info("Backup notification published",
		zap.String("request_id", notification.RequestID),
		zap.String("topic", n.topic),
	)

	return nil
}

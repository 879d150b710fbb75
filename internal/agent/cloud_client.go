package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// CloudClient 云端凭据登记客户端（PostgREST 风格 REST 接口）
// 按 user_id + device_id 组合过滤，避免误删同一警员名下的其他设备
type CloudClient struct {
	http     *resty.Client
	deviceID string
	logger   *zap.Logger
}

// NewCloudClient 创建云端客户端
func NewCloudClient(baseURL, apiKey string, timeout time.Duration, deviceID string, logger *zap.Logger) *CloudClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3)
	if apiKey != "" {
		client.SetHeader("apikey", apiKey)
		client.SetAuthToken(apiKey)
	}

	return &CloudClient{
		http:     client,
		deviceID: deviceID,
		logger:   logger,
	}
}

// encodePassword 口令编码后入库，不落明文
func encodePassword(password string) string {
	return base64.StdEncoding.EncodeToString([]byte(password))
}

// RegisterCredentials 登记设备凭据：先清理同 user_id+device_id 的旧行，再插入新行
// 清理失败不阻断插入（旧行不存在时删除也会"失败"）
func (c *CloudClient) RegisterCredentials(ctx context.Context, userID, ssid, password, deviceName string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	if err := c.deleteOldCredentials(ctx, userID); err != nil {
		c.logger.Warn("Old credential cleanup failed, proceeding with insert",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"device_id":          c.deviceID,
			"user_id":            userID,
			"device_name":        deviceName,
			"ssid":               ssid,
			"encrypted_password": encodePassword(password),
			"device_status":      "connected",
		}).
		Post("/rest/v1/device_credentials")
	if err != nil {
		return fmt.Errorf("failed to register credentials: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("credential registration rejected: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("Device credentials registered",
		zap.String("user_id", userID),
		zap.String("device_id", c.deviceID),
	)
	return nil
}

func (c *CloudClient) deleteOldCredentials(ctx context.Context, userID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user_id", "eq."+userID).
		SetQueryParam("device_id", "eq."+c.deviceID).
		Delete("/rest/v1/device_credentials")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("delete rejected: status %d", resp.StatusCode())
	}
	return nil
}

// MarkConnected 外网校验通过后把设备状态置为 connected
func (c *CloudClient) MarkConnected(ctx context.Context, userID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user_id", "eq."+userID).
		SetQueryParam("device_id", "eq."+c.deviceID).
		SetBody(map[string]any{"device_status": "connected"}).
		Patch("/rest/v1/device_credentials")
	if err != nil {
		return fmt.Errorf("failed to mark connected: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mark connected rejected: status %d", resp.StatusCode())
	}
	return nil
}

// Heartbeat 刷新 last_seen（在线指示的保活信号）
func (c *CloudClient) Heartbeat(ctx context.Context, userID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user_id", "eq."+userID).
		SetQueryParam("device_id", "eq."+c.deviceID).
		SetBody(map[string]any{"last_seen": time.Now().Format(time.RFC3339)}).
		Patch("/rest/v1/device_credentials")
	if err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("heartbeat rejected: status %d", resp.StatusCode())
	}
	return nil
}

// DisconnectRequested 查询云端是否挂了断开标记
func (c *CloudClient) DisconnectRequested(ctx context.Context, userID string) (bool, error) {
	var rows []struct {
		DisconnectRequested bool `json:"disconnect_requested"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user_id", "eq."+userID).
		SetQueryParam("device_id", "eq."+c.deviceID).
		SetQueryParam("select", "disconnect_requested").
		SetResult(&rows).
		Get("/rest/v1/device_credentials")
	if err != nil {
		return false, fmt.Errorf("failed to check disconnect flag: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("disconnect check rejected: status %d", resp.StatusCode())
	}

	if len(rows) == 0 {
		return false, nil
	}
	return rows[0].DisconnectRequested, nil
}

// CompleteDisconnect 断开完成：清断开标记、抹掉凭据列、状态回到 provisioning
func (c *CloudClient) CompleteDisconnect(ctx context.Context, userID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user_id", "eq."+userID).
		SetQueryParam("device_id", "eq."+c.deviceID).
		SetBody(map[string]any{
			"disconnect_requested": false,
			"ssid":                 nil,
			"encrypted_password":   nil,
			"device_status":        "provisioning",
			"disconnected_at":      time.Now().Format(time.RFC3339),
		}).
		Patch("/rest/v1/device_credentials")
	if err != nil {
		return fmt.Errorf("failed to complete disconnect: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("disconnect completion rejected: status %d", resp.StatusCode())
	}
	return nil
}

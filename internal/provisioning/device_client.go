package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrEndpointUnreachable 设备热点端点不可达（手机未加入设备热点）
// 属用户可自行纠正的错误：立即上报，不做自动重试
var ErrEndpointUnreachable = errors.New("device endpoint unreachable")

// checkCredentialsResponse /check-credentials 响应
type checkCredentialsResponse struct {
	Received bool   `json:"received"`
	SSID     string `json:"ssid,omitempty"`
}

// DeviceClient 记录仪热点端点客户端
// 端点仅在手机加入设备热点（如 EVVOS_0001）期间可达
type DeviceClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewDeviceClient 创建设备端点客户端
// 不配置 resty 重试：端点不可达意味着没连上设备热点，重试无意义
func NewDeviceClient(baseURL string, timeout time.Duration, logger *zap.Logger) *DeviceClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &DeviceClient{
		httpClient: client,
		logger:     logger,
	}
}

// OpenProvisioningForm 打开设备配网表单
// user_id 作为查询参数传给设备，便于设备联网后在云端登记时打上归属标记
func (c *DeviceClient) OpenProvisioningForm(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("user_id", userID).
		Get("/provisioning")

	if err != nil {
		c.logger.Warn("Device provisioning endpoint unreachable",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: unexpected status %d", ErrEndpointUnreachable, resp.StatusCode())
	}

	return nil
}

// CheckCredentialsReceived 查询设备是否已收到提交的网络凭证
func (c *DeviceClient) CheckCredentialsReceived(ctx context.Context) (bool, string, error) {
	var result checkCredentialsResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/check-credentials")

	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
	}

	if resp.StatusCode() != 200 {
		return false, "", fmt.Errorf("%w: unexpected status %d", ErrEndpointUnreachable, resp.StatusCode())
	}

	return result.Received, result.SSID, nil
}

// RequestDisconnect 通过热点直连通道请求设备断开
// 比云端轮询更快给出反馈；设备不在热点内时调用方应回退到云端标记
func (c *DeviceClient) RequestDisconnect(ctx context.Context, userID string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]string{"user_id": userID}).
		Post("/disconnect")

	if err != nil {
		return fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: unexpected status %d", ErrEndpointUnreachable, resp.StatusCode())
	}

	return nil
}

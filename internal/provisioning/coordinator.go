package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"evvos-field/internal/models"
	"evvos-field/internal/poller"

	"go.uber.org/zap"
)

var (
	// ErrNoActiveSession 当前没有处于相应阶段的配网会话
	ErrNoActiveSession = errors.New("no active provisioning session")
)

// DeviceEndpoint 设备热点端点操作（见 DeviceClient）
type DeviceEndpoint interface {
	OpenProvisioningForm(ctx context.Context, userID string) error
	CheckCredentialsReceived(ctx context.Context) (bool, string, error)
	RequestDisconnect(ctx context.Context, userID string) error
}

// CredentialSource 云端凭证记录读取/断开标记（见 repository.DeviceCredentialsRepository）
type CredentialSource interface {
	GetFreshCredential(ctx context.Context, userID string, window time.Duration) (*models.DeviceCredential, error)
	RequestDisconnect(ctx context.Context, userID string) error
}

// Coordinator 配网协调器
// 驱动"手机加入设备热点 → 提交凭证 → 设备回连互联网并在云端登记 →
// 手机经云端侧信道轮询确认"的完整握手流程。
// 每个协调器实例同一时间至多一个活跃会话；新会话启动前必须取消旧会话的轮询器。
type Coordinator struct {
	device  DeviceEndpoint
	creds   CredentialSource
	pairing PairingStore
	logger  *zap.Logger

	pollInterval    time.Duration
	maxPollAttempts int
	freshnessWindow time.Duration

	mu      sync.Mutex
	session *models.ProvisioningSession
	handle  *poller.Handle
}

// NewCoordinator 创建配网协调器
func NewCoordinator(
	device DeviceEndpoint,
	creds CredentialSource,
	pairing PairingStore,
	pollInterval time.Duration,
	maxPollAttempts int,
	freshnessWindow time.Duration,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		device:          device,
		creds:           creds,
		pairing:         pairing,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
		freshnessWindow: freshnessWindow,
		logger:          logger,
	}
}

// StartProvisioning 开始配网：打开设备配网表单（IDLE → FORM_OPENED）
// 已有会话在途时先取消其轮询器再启动新会话，避免两个轮询器竞争同一份会话状态。
// 端点不可达返回 ErrEndpointUnreachable，由警员自行纠正后重试，不做自动重试。
func (c *Coordinator) StartProvisioning(ctx context.Context, actor models.ActorContext) error {
	if actor.UserID == "" {
		return fmt.Errorf("actor user_id is required")
	}

	// 取消在途会话（含其轮询器），防止孤儿定时器
	c.cancelSession()

	if err := c.device.OpenProvisioningForm(ctx, actor.UserID); err != nil {
		return err
	}

	c.mu.Lock()
	c.session = &models.ProvisioningSession{
		UserID:          actor.UserID,
		StartedAt:       time.Now(),
		Phase:           models.PhaseFormOpened,
		MaxPollAttempts: c.maxPollAttempts,
		PollInterval:    c.pollInterval,
	}
	c.mu.Unlock()

	c.logger.Info("Provisioning form opened",
		zap.String("user_id", actor.UserID),
	)

	return nil
}

// BeginConfirmationPolling 启动云端确认轮询（FORM_OPENED → AWAITING_CLOUD_CONFIRMATION）
// 轮询以新鲜度窗口查询凭证记录；单次查询失败按"尚未命中"处理（设备回连期间手机
// 自身也可能短暂断网），只有额度耗尽才判定失败。命中后写入本地配对标志并进入
// CONFIRMED 终态；额度耗尽进入 FAILED，由警员显式重启流程。
func (c *Coordinator) BeginConfirmationPolling(ctx context.Context) error {
	c.mu.Lock()

	if c.session == nil || c.session.Phase != models.PhaseFormOpened {
		c.mu.Unlock()
		return ErrNoActiveSession
	}

	userID := c.session.UserID
	c.session.Phase = models.PhaseAwaitingCloudConfirmation

	p := poller.New(c.pollInterval, c.maxPollAttempts, c.logger)
	handle := p.Start(ctx, func(ctx context.Context) (interface{}, bool, error) {
		cred, err := c.creds.GetFreshCredential(ctx, userID, c.freshnessWindow)
		if err != nil {
			return nil, false, err
		}
		if cred == nil {
			return nil, false, nil
		}
		return cred, true, nil
	})
	c.handle = handle
	c.mu.Unlock()

	c.logger.Info("Awaiting cloud confirmation",
		zap.String("user_id", userID),
		zap.Duration("poll_interval", c.pollInterval),
		zap.Int("max_attempts", c.maxPollAttempts),
	)

	go c.awaitConfirmation(ctx, userID, handle)

	return nil
}

// awaitConfirmation 等待轮询结束并落定会话终态
func (c *Coordinator) awaitConfirmation(ctx context.Context, userID string, handle *poller.Handle) {
	<-handle.Done()

	value, err := handle.Result()

	c.mu.Lock()
	defer c.mu.Unlock()

	// 会话已被取消或替换时不再触碰状态
	if c.handle != handle || c.session == nil || c.session.UserID != userID {
		return
	}
	c.session.PollAttemptsMade = handle.Attempts()
	c.handle = nil

	if err != nil {
		if errors.Is(err, poller.ErrCancelled) {
			return
		}
		c.session.Phase = models.PhaseFailed
		c.logger.Warn("Provisioning confirmation failed",
			zap.String("user_id", userID),
			zap.Int("attempts", c.session.PollAttemptsMade),
			zap.Error(err),
		)
		return
	}

	cred := value.(*models.DeviceCredential)

	if perr := c.pairing.SetPaired(ctx, userID); perr != nil {
		// 云端已确认，本地标志写失败只记录；应用恢复时会再次经轮询确认
		c.logger.Error("Failed to persist pairing flag",
			zap.String("user_id", userID),
			zap.Error(perr),
		)
	}

	c.session.Phase = models.PhaseConfirmed
	c.logger.Info("Device pairing confirmed",
		zap.String("user_id", userID),
		zap.String("device_id", cred.DeviceID),
		zap.String("device_name", cred.DeviceName),
		zap.Int("attempts", c.session.PollAttemptsMade),
	)
}

// Cancel 取消当前会话（任意阶段均合法），停止在途轮询器后回到 IDLE
func (c *Coordinator) Cancel() {
	c.cancelSession()
}

// cancelSession 停止在途轮询器并重置会话
// 注意先在锁外等待轮询器退出，避免与 awaitConfirmation 死锁
func (c *Coordinator) cancelSession() {
	c.mu.Lock()
	handle := c.handle
	c.handle = nil
	c.mu.Unlock()

	if handle != nil {
		handle.Cancel()
	}

	c.mu.Lock()
	if c.session != nil {
		c.logger.Info("Provisioning session cancelled",
			zap.String("user_id", c.session.UserID),
			zap.String("phase", c.session.Phase),
		)
	}
	c.session = nil
	c.mu.Unlock()
}

// Session 当前会话快照（无会话时 Phase 为 IDLE）
func (c *Coordinator) Session() models.ProvisioningSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return models.ProvisioningSession{Phase: models.PhaseIdle}
	}

	snapshot := *c.session
	if c.handle != nil {
		snapshot.PollAttemptsMade = c.handle.Attempts()
	}
	return snapshot
}

// CheckCredentialsReceived 查询设备是否已收到配网表单提交的凭证
// 仅在手机仍加入设备热点时可用，给 UI 一个"设备已收到，正在回连"的中间反馈
func (c *Coordinator) CheckCredentialsReceived(ctx context.Context) (bool, string, error) {
	return c.device.CheckCredentialsReceived(ctx)
}

// Disconnect 解除配对：清本地配对标志并在云端打断开标记
// 凭证行本身不删除（审计保留）；设备轮询到断开标记后自行清理并回到配网模式
func (c *Coordinator) Disconnect(ctx context.Context, actor models.ActorContext) error {
	if actor.UserID == "" {
		return fmt.Errorf("actor user_id is required")
	}

	if err := c.pairing.ClearPaired(ctx, actor.UserID); err != nil {
		return fmt.Errorf("failed to clear pairing flag: %w", err)
	}

	// 热点直连通道（设备在热点内时立刻生效）：尽力而为
	if err := c.device.RequestDisconnect(ctx, actor.UserID); err != nil {
		c.logger.Debug("Direct disconnect unavailable, relying on cloud flag",
			zap.String("user_id", actor.UserID),
			zap.Error(err),
		)
	}

	if err := c.creds.RequestDisconnect(ctx, actor.UserID); err != nil {
		return fmt.Errorf("failed to flag disconnect: %w", err)
	}

	c.logger.Info("Device disconnect requested",
		zap.String("user_id", actor.UserID),
	)

	return nil
}

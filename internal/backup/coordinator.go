package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"evvos-field/internal/models"
	"evvos-field/internal/poller"
	"evvos-field/internal/repository"

	"go.uber.org/zap"
)

var (
	// ErrValidation 请求字段缺失或非法（未发生任何 I/O）
	ErrValidation = errors.New("validation error")
	// ErrCannotResolveYet 发起方尚未结案，响应方不能先行结案
	ErrCannotResolveYet = errors.New("request cannot be resolved yet")
)

// RequestStore 支援请求存储操作（见 repository.BackupRequestsRepository）
type RequestStore interface {
	CreateBackupRequest(ctx context.Context, req *models.BackupRequest) error
	GetBackupRequest(ctx context.Context, requestID string) (*models.BackupRequest, error)
	GetStatus(ctx context.Context, requestID string) (string, error)
	GetResponders(ctx context.Context, requestID string) (int, error)
	AddResponders(ctx context.Context, requestID string, delta int) (int, error)
	UpdateStatus(ctx context.Context, requestID, from, to string) error
}

// Coordinator 紧急支援协调器
// 管理支援请求的多方生命周期：创建/接受/婉拒/撤回响应/两阶段结案，
// 并通过有界轮询器与其他警员终端保持最终一致。
type Coordinator struct {
	store         RequestStore
	notifier      Notifier
	watchInterval time.Duration
	logger        *zap.Logger

	now func() time.Time

	// 本端收到广播但尚未处理的请求（婉拒只清这里，不动存储）
	mu      sync.Mutex
	pending map[string]bool
}

// NewCoordinator 创建支援协调器
func NewCoordinator(store RequestStore, notifier Notifier, watchInterval time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:         store,
		notifier:      notifier,
		watchInterval: watchInterval,
		logger:        logger,
		now:           time.Now,
		pending:       make(map[string]bool),
	}
}

// BuildRequestID 构造请求标识：REQ + 两位年份 + 四位警号 + 分秒
// 时间分量 + 警号分量 + 细粒度时间戳在本系统规模下实用唯一，无需中心序列
func BuildRequestID(badge string, at time.Time) string {
	return fmt.Sprintf("REQ%02d%s%s", at.Year()%100, badgeComponent(badge), at.Format("0405"))
}

// badgeComponent 警号分量：取末四位数字，不足左补零
func badgeComponent(badge string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, badge)

	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	for len(digits) < 4 {
		digits = "0" + digits
	}
	return digits
}

// CreateRequest 创建支援请求并广播通知
// 插入成功即返回 request_id；通知失败只记录，绝不回滚或使创建失败
// （支援记录是事实来源，推送是尽力投递）
func (c *Coordinator) CreateRequest(ctx context.Context, actor models.ActorContext, location string) (string, error) {
	if actor.UserID == "" || actor.DisplayName == "" {
		return "", fmt.Errorf("%w: actor user_id and display_name are required", ErrValidation)
	}
	if location == "" {
		return "", fmt.Errorf("%w: location is required", ErrValidation)
	}

	createdAt := c.now()

	req := &models.BackupRequest{
		RequestID:  BuildRequestID(actor.Badge, createdAt),
		UserID:     actor.UserID,
		Enforcer:   actor.DisplayName,
		Location:   location,
		Time:       createdAt.Format("3:04 PM"),
		Responders: 0,
		Status:     models.BackupStatusOpen,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}

	if err := c.store.CreateBackupRequest(ctx, req); err != nil {
		return "", fmt.Errorf("failed to create backup request: %w", err)
	}

	c.logger.Info("Backup request created",
		zap.String("request_id", req.RequestID),
		zap.String("enforcer", req.Enforcer),
		zap.String("location", req.Location),
	)

	if err := c.notifier.NotifyBackupRequested(BackupNotification{
		RequestID: req.RequestID,
		Enforcer:  req.Enforcer,
		Location:  req.Location,
		Time:      req.Time,
		UserID:    req.UserID,
	}); err != nil {
		// 通知通道静默失败时其他终端仍可经轮询看到记录
		c.logger.Warn("Backup notification failed, record remains source of truth",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}

	return req.RequestID, nil
}

// TrackPending 登记一条本端收到的待处理广播
func (c *Coordinator) TrackPending(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[requestID] = true
}

// HasPending 查询某请求是否仍待本端处理
func (c *Coordinator) HasPending(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[requestID]
}

// AcceptRequest 接受支援请求：响应人数原子 +1
func (c *Coordinator) AcceptRequest(ctx context.Context, requestID string) (int, error) {
	if requestID == "" {
		return 0, fmt.Errorf("%w: request_id is required", ErrValidation)
	}

	responders, err := c.store.AddResponders(ctx, requestID, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to accept backup request: %w", err)
	}

	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()

	c.logger.Info("Backup request accepted",
		zap.String("request_id", requestID),
		zap.Int("responders", responders),
	)

	return responders, nil
}

// DeclineRequest 婉拒支援请求
// 纯本地操作：警员从未加入承诺，不触碰存储的 responders；重复调用无额外效果
func (c *Coordinator) DeclineRequest(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, requestID)
}

// CancelResponse 撤回已承诺的响应：响应人数原子 -1，存储端钳制下限 0
func (c *Coordinator) CancelResponse(ctx context.Context, requestID string) (int, error) {
	if requestID == "" {
		return 0, fmt.Errorf("%w: request_id is required", ErrValidation)
	}

	responders, err := c.store.AddResponders(ctx, requestID, -1)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel backup response: %w", err)
	}

	c.logger.Info("Backup response cancelled",
		zap.String("request_id", requestID),
		zap.Int("responders", responders),
	)

	return responders, nil
}

// MarkRequesterResolved 发起方结案（两阶段结案的第一阶段：open → requester_resolved）
func (c *Coordinator) MarkRequesterResolved(ctx context.Context, requestID string) error {
	if requestID == "" {
		return fmt.Errorf("%w: request_id is required", ErrValidation)
	}

	err := c.store.UpdateStatus(ctx, requestID,
		models.BackupStatusOpen, models.BackupStatusRequesterResolved)
	if err != nil {
		return fmt.Errorf("failed to mark requester resolved: %w", err)
	}

	c.logger.Info("Backup request resolved by requester",
		zap.String("request_id", requestID),
	)

	return nil
}

// MarkProviderResolved 响应方结案（第二阶段：requester_resolved → resolved）
// 协议顺序是发起方先结案、响应方后确认；发起方未结案时拒绝并保持存储不变
func (c *Coordinator) MarkProviderResolved(ctx context.Context, requestID string) error {
	if requestID == "" {
		return fmt.Errorf("%w: request_id is required", ErrValidation)
	}

	err := c.store.UpdateStatus(ctx, requestID,
		models.BackupStatusRequesterResolved, models.BackupStatusResolved)
	if err == nil {
		c.logger.Info("Backup request resolved by provider",
			zap.String("request_id", requestID),
		)
		return nil
	}

	if errors.Is(err, repository.ErrStatusConflict) {
		status, serr := c.store.GetStatus(ctx, requestID)
		if serr == nil && status == models.BackupStatusOpen {
			return ErrCannotResolveYet
		}
	}

	return fmt.Errorf("failed to mark provider resolved: %w", err)
}

// CancelRequest 发起方整体撤销（open → cancelled，终态）
// responders 保持最后承诺值不变（审计保留）；各响应终端经监视器观察到状态变化后自行解除
func (c *Coordinator) CancelRequest(ctx context.Context, requestID string) error {
	if requestID == "" {
		return fmt.Errorf("%w: request_id is required", ErrValidation)
	}

	err := c.store.UpdateStatus(ctx, requestID,
		models.BackupStatusOpen, models.BackupStatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to cancel backup request: %w", err)
	}

	c.logger.Info("Backup request cancelled",
		zap.String("request_id", requestID),
	)

	return nil
}

// GetRequest 读取支援请求整行
func (c *Coordinator) GetRequest(ctx context.Context, requestID string) (*models.BackupRequest, error) {
	return c.store.GetBackupRequest(ctx, requestID)
}

// WatchStatus 监视状态字段：仅在观察到变化时回调，减少无谓的 UI 刷新
// 返回的句柄由持有界面在失活时取消，避免定时器泄漏
func (c *Coordinator) WatchStatus(ctx context.Context, requestID string, onChange func(status string)) *poller.Handle {
	var last string
	var lastSet bool

	p := poller.New(c.watchInterval, 0, c.logger)
	return p.Start(ctx, func(ctx context.Context) (interface{}, bool, error) {
		status, err := c.store.GetStatus(ctx, requestID)
		if err != nil {
			return nil, false, err
		}
		if !lastSet || status != last {
			last = status
			lastSet = true
			onChange(status)
		}
		return nil, false, nil
	})
}

// WatchResponders 监视响应人数字段：仅在观察到变化时回调
func (c *Coordinator) WatchResponders(ctx context.Context, requestID string, onChange func(responders int)) *poller.Handle {
	var last int
	var lastSet bool

	p := poller.New(c.watchInterval, 0, c.logger)
	return p.Start(ctx, func(ctx context.Context) (interface{}, bool, error) {
		responders, err := c.store.GetResponders(ctx, requestID)
		if err != nil {
			return nil, false, err
		}
		if !lastSet || responders != last {
			last = responders
			lastSet = true
			onChange(responders)
		}
		return nil, false, nil
	})
}

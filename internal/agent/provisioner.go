package agent

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"evvos-field/internal/poller"
)

// CloudAPI 云端登记接口（由 CloudClient 实现）
type CloudAPI interface {
	RegisterCredentials(ctx context.Context, userID, ssid, password, deviceName string) error
	MarkConnected(ctx context.Context, userID string) error
	Heartbeat(ctx context.Context, userID string) error
	DisconnectRequested(ctx context.Context, userID string) (bool, error)
	CompleteDisconnect(ctx context.Context, userID string) error
}

// ConnectivityChecker 外网连通性探测
type ConnectivityChecker interface {
	Online(ctx context.Context) bool
}

// RestyChecker 用 HTTP 探测外网连通性
type RestyChecker struct {
	http     *resty.Client
	probeURL string
}

func NewRestyChecker(probeURL string, timeout time.Duration) *RestyChecker {
	if probeURL == "" {
		probeURL = "https://www.google.com"
	}
	return &RestyChecker{
		http:     resty.New().SetTimeout(timeout),
		probeURL: probeURL,
	}
}

func (c *RestyChecker) Online(ctx context.Context) bool {
	resp, err := c.http.R().SetContext(ctx).Get(c.probeURL)
	return err == nil && !resp.IsError()
}

// ProvisionerOptions 配网主循环的各阶段参数
type ProvisionerOptions struct {
	DeviceName         string
	IntakeTimeout      time.Duration // 等待表单提交的上限
	IntakeInterval     time.Duration // 收件箱轮询间隔
	WifiAttempts       int           // WiFi 加入重试次数
	InternetAttempts   int           // 外网校验重试次数
	RetryDelay         time.Duration // 各阶段重试间隔
	ConnectWait        time.Duration // 下发连接命令后等待拿地址的时长
	HeartbeatInterval  time.Duration
	DisconnectInterval time.Duration // 云端断开标记轮询间隔
}

// Provisioner 设备端配网主循环
// 状态推进：收件 → 加入 WiFi → 校验外网 → 云端登记 → 在线监视（心跳 + 断开轮询）
// 任一阶段失败即丢弃待处理凭据，回到收件状态等下一次提交
type Provisioner struct {
	intake *CredentialIntake
	file   *CredentialFile
	wifi   WifiManager
	cloud  CloudAPI
	check  ConnectivityChecker
	opts   ProvisionerOptions
	logger *zap.Logger

	disconnectCh chan struct{}
}

// NewProvisioner 创建配网主循环
func NewProvisioner(
	intake *CredentialIntake,
	file *CredentialFile,
	wifi WifiManager,
	cloud CloudAPI,
	check ConnectivityChecker,
	opts ProvisionerOptions,
	logger *zap.Logger,
) *Provisioner {
	if opts.IntakeInterval <= 0 {
		opts.IntakeInterval = time.Second
	}
	if opts.WifiAttempts <= 0 {
		opts.WifiAttempts = 5
	}
	if opts.InternetAttempts <= 0 {
		opts.InternetAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 3 * time.Second
	}
	if opts.ConnectWait <= 0 {
		opts.ConnectWait = 5 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.DisconnectInterval <= 0 {
		opts.DisconnectInterval = 10 * time.Second
	}

	return &Provisioner{
		intake:       intake,
		file:         file,
		wifi:         wifi,
		cloud:        cloud,
		check:        check,
		opts:         opts,
		logger:       logger,
		disconnectCh: make(chan struct{}, 1),
	}
}

// RequestDisconnect 从热点通道触发断开（HTTP /disconnect 的回调）
func (p *Provisioner) RequestDisconnect() {
	select {
	case p.disconnectCh <- struct{}{}:
	default:
	}
}

// Run 运行配网主循环，直到 ctx 取消
func (p *Provisioner) Run(ctx context.Context) {
	for ctx.Err() == nil {
		// 已有落盘凭据：直接尝试恢复在线
		if stored, err := p.file.Load(); err == nil && stored != nil {
			p.logger.Info("Found stored credentials, attempting reconnect",
				zap.String("ssid", stored.SSID),
			)
			if p.joinAndVerify(ctx, stored.SSID, stored.Password) {
				p.monitor(ctx, stored.UserID)
				continue
			}
			p.logger.Warn("Reconnect with stored credentials failed, discarding them")
			if err := p.file.Delete(); err != nil {
				p.logger.Warn("Failed to delete stale credentials", zap.Error(err))
			}
			continue
		}

		creds, ok := p.awaitIntake(ctx)
		if !ok {
			continue
		}

		if p.provision(ctx, creds) {
			p.monitor(ctx, creds.UserID)
		}
	}
}

// awaitIntake 有界等待表单提交
func (p *Provisioner) awaitIntake(ctx context.Context) (*SubmittedCredentials, bool) {
	maxAttempts := int(p.opts.IntakeTimeout / p.opts.IntakeInterval)
	if p.opts.IntakeTimeout <= 0 {
		maxAttempts = 0 // 无上限
	}

	p.logger.Info("Waiting for credentials via web form",
		zap.Duration("timeout", p.opts.IntakeTimeout),
	)

	handle := poller.New(p.opts.IntakeInterval, maxAttempts, p.logger).
		Start(ctx, func(ctx context.Context) (interface{}, bool, error) {
			if creds, ok := p.intake.Pending(); ok {
				return creds, true, nil
			}
			return nil, false, nil
		})

	<-handle.Done()
	value, err := handle.Result()
	if err != nil {
		p.logger.Warn("No credentials submitted within timeout")
		return nil, false
	}
	return value.(*SubmittedCredentials), true
}

// provision 处理一份表单提交：加入 WiFi、校验外网、云端登记、落盘
func (p *Provisioner) provision(ctx context.Context, creds *SubmittedCredentials) bool {
	if !p.joinAndVerify(ctx, creds.SSID, creds.Password) {
		// 失败即丢弃，防止坏凭据反复重试
		p.intake.Clear()
		if err := p.wifi.Reset(ctx); err != nil {
			p.logger.Warn("Interface reset failed", zap.Error(err))
		}
		return false
	}

	if err := p.cloud.RegisterCredentials(ctx, creds.UserID, creds.SSID, creds.Password, p.opts.DeviceName); err != nil {
		p.logger.Error("Cloud registration failed", zap.Error(err))
		p.intake.Clear()
		return false
	}

	if err := p.cloud.MarkConnected(ctx, creds.UserID); err != nil {
		p.logger.Warn("Failed to mark device connected", zap.Error(err))
	}

	if err := p.file.Save(&StoredCredentials{
		SSID:          creds.SSID,
		Password:      creds.Password,
		UserID:        creds.UserID,
		ProvisionedAt: time.Now().Format(time.RFC3339),
	}); err != nil {
		p.logger.Warn("Failed to persist credentials", zap.Error(err))
	}

	p.intake.Clear()
	p.logger.Info("Provisioning successful, device is connected",
		zap.String("user_id", creds.UserID),
	)
	return true
}

// joinAndVerify 加入 WiFi 并校验外网，两段都带有界重试
func (p *Provisioner) joinAndVerify(ctx context.Context, ssid, password string) bool {
	joined := false
	for attempt := 1; attempt <= p.opts.WifiAttempts; attempt++ {
		p.logger.Info("WiFi connection attempt",
			zap.Int("attempt", attempt),
			zap.Int("max", p.opts.WifiAttempts),
		)
		if err := p.wifi.Join(ctx, ssid, password); err != nil {
			p.logger.Warn("WiFi join failed", zap.Int("attempt", attempt), zap.Error(err))
			if !sleepCtx(ctx, p.opts.RetryDelay) {
				return false
			}
			continue
		}
		if !sleepCtx(ctx, p.opts.ConnectWait) {
			return false
		}
		if p.wifi.Connected(ctx) {
			joined = true
			break
		}
	}
	if !joined {
		p.logger.Error("WiFi connection failed after all attempts",
			zap.Int("attempts", p.opts.WifiAttempts),
		)
		return false
	}

	for attempt := 1; attempt <= p.opts.InternetAttempts; attempt++ {
		if p.check.Online(ctx) {
			p.logger.Info("Internet connectivity verified")
			return true
		}
		if !sleepCtx(ctx, p.opts.RetryDelay) {
			return false
		}
	}

	p.logger.Error("Internet verification failed after all attempts",
		zap.Int("attempts", p.opts.InternetAttempts),
	)
	return false
}

// monitor 在线监视：定期心跳 + 轮询云端断开标记，直到断开或 ctx 取消
func (p *Provisioner) monitor(ctx context.Context, userID string) {
	p.logger.Info("Entering online monitoring", zap.String("user_id", userID))

	heartbeat := time.NewTicker(p.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	// 断开标记监视：查询失败被吸收，监视不中断
	watch := poller.New(p.opts.DisconnectInterval, 0, p.logger).
		Start(ctx, func(ctx context.Context) (interface{}, bool, error) {
			requested, err := p.cloud.DisconnectRequested(ctx, userID)
			if err != nil {
				return nil, false, err
			}
			return nil, requested, nil
		})
	defer watch.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-watch.Done():
			if _, err := watch.Result(); err == nil {
				p.logger.Info("Cloud disconnect flag detected")
				p.disconnect(ctx, userID)
			}
			return
		case <-p.disconnectCh:
			p.logger.Info("Direct disconnect request received")
			p.disconnect(ctx, userID)
			return
		case <-heartbeat.C:
			if err := p.cloud.Heartbeat(ctx, userID); err != nil {
				p.logger.Debug("Heartbeat failed", zap.Error(err))
			}
		}
	}
}

// disconnect 断开处理：删落盘凭据、云端回置 provisioning、清理接口
func (p *Provisioner) disconnect(ctx context.Context, userID string) {
	if err := p.file.Delete(); err != nil {
		p.logger.Warn("Failed to delete stored credentials", zap.Error(err))
	}
	p.intake.Clear()

	if err := p.cloud.CompleteDisconnect(ctx, userID); err != nil {
		p.logger.Warn("Failed to update cloud disconnect state", zap.Error(err))
	}

	if err := p.wifi.Reset(ctx); err != nil {
		p.logger.Warn("Interface reset failed", zap.Error(err))
	}

	p.logger.Info("Disconnect completed, returning to provisioning mode")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// WifiManager 无线网络管理接口
// 生产环境由 NmcliManager 实现，测试里用假实现
type WifiManager interface {
	// Join 加入目标 WiFi 网络（只负责下发连接命令，是否拿到地址由 Connected 判定）
	Join(ctx context.Context, ssid, password string) error
	// Connected 判断 wlan0 是否已获得非热点地址
	Connected(ctx context.Context) bool
	// Reset 清理接口地址，回到可配网状态
	Reset(ctx context.Context) error
}

// NmcliManager 基于 nmcli 的 WifiManager 实现
// 没有 Go 生态里可靠的 NetworkManager 绑定，直接调 nmcli 命令行
type NmcliManager struct {
	iface  string
	logger *zap.Logger
}

// NewNmcliManager 创建 nmcli 管理器
func NewNmcliManager(iface string, logger *zap.Logger) *NmcliManager {
	if iface == "" {
		iface = "wlan0"
	}
	return &NmcliManager{iface: iface, logger: logger}
}

func (m *NmcliManager) Join(ctx context.Context, ssid, password string) error {
	// 先确保接口被 NetworkManager 接管（热点模式下可能被释放）
	_ = exec.CommandContext(ctx, "nmcli", "device", "set", m.iface, "managed", "yes").Run()

	cmd := exec.CommandContext(ctx, "nmcli", "device", "wifi", "connect", ssid,
		"password", password, "ifname", m.iface)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("nmcli connect failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	m.logger.Info("WiFi connect command issued",
		zap.String("ssid", ssid),
		zap.String("iface", m.iface),
	)
	return nil
}

func (m *NmcliManager) Connected(ctx context.Context) bool {
	output, err := exec.CommandContext(ctx, "ip", "addr", "show", "dev", m.iface).Output()
	if err != nil {
		m.logger.Warn("Could not check interface status", zap.Error(err))
		return false
	}

	// 有 inet 地址且不是热点自分配地址才算已连接
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "inet ") && !strings.Contains(line, "192.168.50.1") {
			return true
		}
	}
	return false
}

func (m *NmcliManager) Reset(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "ip", "addr", "flush", "dev", m.iface).Run(); err != nil {
		return fmt.Errorf("failed to flush interface %s: %w", m.iface, err)
	}
	return nil
}

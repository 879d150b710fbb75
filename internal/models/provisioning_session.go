package models

import (
	"time"
)

// 配网会话阶段
// 状态机：IDLE → FORM_OPENED → AWAITING_CLOUD_CONFIRMATION → CONFIRMED（终态）
// 轮询额度耗尽或显式取消 → FAILED / IDLE
const (
	PhaseIdle                      = "IDLE"
	PhaseFormOpened                = "FORM_OPENED"
	PhaseAwaitingCloudConfirmation = "AWAITING_CLOUD_CONFIRMATION"
	PhaseConfirmed                 = "CONFIRMED"
	PhaseFailed                    = "FAILED"
)

// ProvisioningSession 一次配网尝试（仅驻内存，不落库）
// 每个协调器实例同一时间至多一个活跃会话
type ProvisioningSession struct {
	UserID           string        `json:"user_id"`
	StartedAt        time.Time     `json:"started_at"`
	Phase            string        `json:"phase"`
	PollAttemptsMade int           `json:"poll_attempts_made"`
	MaxPollAttempts  int           `json:"max_poll_attempts"`
	PollInterval     time.Duration `json:"poll_interval"`
}

// ActorContext 当前操作警员的身份上下文
// 显式传参（而非全局状态）以便协调器可独立测试
type ActorContext struct {
	UserID      string `json:"user_id"`
	Badge       string `json:"badge"`
	DisplayName string `json:"display_name"`
}

package models

import (
	"time"
)

// 支援请求状态（对应 backup_requests.status 列）
// 状态机：open → requester_resolved → resolved（终态）
//         open → cancelled（终态，发起人整体撤销）
const (
	BackupStatusOpen              = "open"
	BackupStatusRequesterResolved = "requester_resolved"
	BackupStatusResolved          = "resolved"
	BackupStatusCancelled         = "cancelled"
)

// BackupRequest 紧急支援请求（对应 backup_requests 表）
// 记录只增不删（审计要求），responders 始终 >= 0
type BackupRequest struct {
	RequestID  string    `json:"request_id" db:"request_id"`
	UserID     string    `json:"user_id" db:"user_id"`         // 发起警员
	Enforcer   string    `json:"enforcer" db:"enforcer"`       // 发起警员显示名
	Location   string    `json:"location" db:"location"`
	Time       string    `json:"time" db:"time"`               // 创建时刻的可读时间（展示用）
	Responders int       `json:"responders" db:"responders"`   // 已承诺支援的警员数
	Status     string    `json:"status" db:"status"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal 判断状态是否为终态
func IsTerminal(status string) bool {
	return status == BackupStatusResolved || status == BackupStatusCancelled
}

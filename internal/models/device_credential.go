package models

import (
	"time"
)

// 设备状态（对应 device_credentials.device_status 列）
const (
	DeviceStatusProvisioning = "provisioning" // 等待配网或已断开
	DeviceStatusConnected    = "connected"    // 已联网并完成云端登记
)

// DeviceCredential 记录仪凭证（对应 device_credentials 表）
// 由设备端在联网成功后写入；协调端只读，不删除。
// 同一 user_id 在新鲜度窗口内至多一条有效记录视为"已配对设备"。
type DeviceCredential struct {
	DeviceID            string     `json:"device_id" db:"device_id"`
	DeviceName          string     `json:"device_name" db:"device_name"`
	UserID              string     `json:"user_id" db:"user_id"`
	SSID                string     `json:"ssid" db:"ssid"`
	EncryptedPassword   string     `json:"encrypted_password" db:"encrypted_password"` // 对本服务不透明
	DeviceStatus        string     `json:"device_status" db:"device_status"`
	DisconnectRequested bool       `json:"disconnect_requested" db:"disconnect_requested"`
	LastSeen            *time.Time `json:"last_seen,omitempty" db:"last_seen"`
	ProvisionedAt       *time.Time `json:"provisioned_at,omitempty" db:"provisioned_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

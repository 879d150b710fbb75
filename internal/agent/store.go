package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubmittedCredentials 表单提交的待处理凭据
type SubmittedCredentials struct {
	UserID     string    `json:"user_id"`
	SSID       string    `json:"ssid"`
	Password   string    `json:"password"`
	ReceivedAt time.Time `json:"received_at"`
}

// CredentialIntake 表单凭据收件箱（仅驻内存）
// 配网主循环轮询 Pending，失败时 Clear 丢弃，回到收件状态
type CredentialIntake struct {
	mu      sync.Mutex
	pending *SubmittedCredentials
}

func NewCredentialIntake() *CredentialIntake {
	return &CredentialIntake{}
}

// Submit 收下一份表单提交（覆盖之前未处理的提交）
func (i *CredentialIntake) Submit(creds SubmittedCredentials) {
	i.mu.Lock()
	defer i.mu.Unlock()
	creds.ReceivedAt = time.Now()
	i.pending = &creds
}

// Pending 读取当前待处理的提交
func (i *CredentialIntake) Pending() (*SubmittedCredentials, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending == nil {
		return nil, false
	}
	clone := *i.pending
	return &clone, true
}

// Clear 丢弃待处理提交
func (i *CredentialIntake) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pending = nil
}

// StoredCredentials 已配网成功并落盘的凭据
type StoredCredentials struct {
	SSID          string `json:"ssid"`
	Password      string `json:"password"`
	UserID        string `json:"user_id"`
	DeviceID      string `json:"device_id"`
	ProvisionedAt string `json:"provisioned_at"`
}

// CredentialFile 凭据落盘存储（0600，配网成功后写入，断开时删除）
type CredentialFile struct {
	path string
	mu   sync.Mutex
}

func NewCredentialFile(path string) *CredentialFile {
	return &CredentialFile{path: path}
}

func (f *CredentialFile) Load() (*StoredCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds StoredCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return &creds, nil
}

func (f *CredentialFile) Save(creds *StoredCredentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create credentials dir: %w", err)
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

func (f *CredentialFile) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credentials file: %w", err)
	}
	return nil
}

// DeviceID 设备唯一标识：优先用 wlan0 MAC，再退到板卡序列号，最后随机生成
func DeviceID() string {
	if mac, err := os.ReadFile("/sys/class/net/wlan0/address"); err == nil {
		id := strings.ReplaceAll(strings.TrimSpace(string(mac)), ":", "")
		if id != "" {
			return id
		}
	}
	if serial, err := exec.Command("cat", "/proc/device-tree/serial-number").Output(); err == nil {
		id := strings.TrimSpace(string(serial))
		if id != "" {
			return id
		}
	}
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

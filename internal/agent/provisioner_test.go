package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeWifi 无线管理假实现
type fakeWifi struct {
	mu          sync.Mutex
	joinErr     error
	connected   bool
	joinCalls   int
	resetCalls  int
	failUntil   int // 前 N 次 Join 失败
}

func (f *fakeWifi) Join(ctx context.Context, ssid, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	if f.joinCalls <= f.failUntil {
		return errors.New("association failed")
	}
	if f.joinErr != nil {
		return f.joinErr
	}
	f.connected = true
	return nil
}

func (f *fakeWifi) Connected(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeWifi) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.resetCalls++
	return nil
}

// fakeCloud 云端登记假实现
type fakeCloud struct {
	mu              sync.Mutex
	registered      []string
	registerErr     error
	heartbeats      int
	disconnectFlag  bool
	disconnectDone  int
	markedConnected int
}

func (f *fakeCloud) RegisterCredentials(ctx context.Context, userID, ssid, password, deviceName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered = append(f.registered, userID)
	return nil
}

func (f *fakeCloud) MarkConnected(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedConnected++
	return nil
}

func (f *fakeCloud) Heartbeat(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeCloud) DisconnectRequested(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnectFlag, nil
}

func (f *fakeCloud) CompleteDisconnect(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectDone++
	return nil
}

func (f *fakeCloud) setDisconnectFlag(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectFlag = v
}

func (f *fakeCloud) registeredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered)
}

func (f *fakeCloud) disconnectsDone() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnectDone
}

// fakeChecker 外网探测假实现
type fakeChecker struct {
	mu     sync.Mutex
	online bool
}

func (f *fakeChecker) Online(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func fastOptions() ProvisionerOptions {
	return ProvisionerOptions{
		DeviceName:         "EVVOS-Cam-07",
		IntakeTimeout:      time.Second,
		IntakeInterval:     5 * time.Millisecond,
		WifiAttempts:       3,
		InternetAttempts:   3,
		RetryDelay:         time.Millisecond,
		ConnectWait:        time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
		DisconnectInterval: 10 * time.Millisecond,
	}
}

func newTestProvisioner(t *testing.T, wifi *fakeWifi, cloud *fakeCloud, checker *fakeChecker) (*Provisioner, *CredentialIntake, *CredentialFile) {
	t.Helper()
	intake := NewCredentialIntake()
	file := NewCredentialFile(filepath.Join(t.TempDir(), "credentials.json"))
	p := NewProvisioner(intake, file, wifi, cloud, checker, fastOptions(), zap.NewNop())
	return p, intake, file
}

func TestProvisioner_HappyPath(t *testing.T) {
	wifi := &fakeWifi{}
	cloud := &fakeCloud{}
	checker := &fakeChecker{online: true}
	p, intake, file := newTestProvisioner(t, wifi, cloud, checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	intake.Submit(SubmittedCredentials{UserID: "user-1", SSID: "PrecinctWiFi", Password: "secret123"})

	// 登记完成、凭据落盘
	require.Eventually(t, func() bool {
		return cloud.registeredCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		stored, err := file.Load()
		return err == nil && stored != nil && stored.UserID == "user-1"
	}, 2*time.Second, 5*time.Millisecond)

	// 收件箱已清空
	_, pending := intake.Pending()
	assert.False(t, pending)

	cancel()
	<-done
}

func TestProvisioner_WifiFailureDiscardsCredentials(t *testing.T) {
	wifi := &fakeWifi{joinErr: errors.New("association failed")}
	cloud := &fakeCloud{}
	checker := &fakeChecker{online: true}
	p, intake, _ := newTestProvisioner(t, wifi, cloud, checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	intake.Submit(SubmittedCredentials{UserID: "user-1", SSID: "PrecinctWiFi", Password: "wrongpass"})

	// 重试额度用尽后丢弃凭据，回到收件状态
	require.Eventually(t, func() bool {
		_, pending := intake.Pending()
		return !pending
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, cloud.registeredCount())

	cancel()
	<-done
}

func TestProvisioner_WifiRetriesThenSucceeds(t *testing.T) {
	wifi := &fakeWifi{failUntil: 2} // 前两次失败，第三次成功
	cloud := &fakeCloud{}
	checker := &fakeChecker{online: true}
	p, intake, _ := newTestProvisioner(t, wifi, cloud, checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	intake.Submit(SubmittedCredentials{UserID: "user-1", SSID: "PrecinctWiFi", Password: "secret123"})

	require.Eventually(t, func() bool {
		return cloud.registeredCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	wifi.mu.Lock()
	assert.Equal(t, 3, wifi.joinCalls)
	wifi.mu.Unlock()

	cancel()
	<-done
}

func TestProvisioner_CloudDisconnectFlagTriggersTeardown(t *testing.T) {
	wifi := &fakeWifi{}
	cloud := &fakeCloud{}
	checker := &fakeChecker{online: true}
	p, intake, file := newTestProvisioner(t, wifi, cloud, checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	intake.Submit(SubmittedCredentials{UserID: "user-1", SSID: "PrecinctWiFi", Password: "secret123"})
	require.Eventually(t, func() bool {
		return cloud.registeredCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cloud.setDisconnectFlag(true)

	// 断开完成：云端回置、落盘凭据删除
	require.Eventually(t, func() bool {
		return cloud.disconnectsDone() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		stored, err := file.Load()
		return err == nil && stored == nil
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestCredentialFile_RoundTrip(t *testing.T) {
	file := NewCredentialFile(filepath.Join(t.TempDir(), "sub", "credentials.json"))

	stored, err := file.Load()
	require.NoError(t, err)
	assert.Nil(t, stored)

	require.NoError(t, file.Save(&StoredCredentials{
		SSID:     "PrecinctWiFi",
		Password: "secret123",
		UserID:   "user-1",
	}))

	stored, err = file.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "PrecinctWiFi", stored.SSID)

	require.NoError(t, file.Delete())
	stored, err = file.Load()
	require.NoError(t, err)
	assert.Nil(t, stored)

	// 再次删除也是成功（幂等）
	require.NoError(t, file.Delete())
}

package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evvos-field/internal/models"
	"evvos-field/internal/provisioning"
)

// fakeProvisioningService 配网协调假实现
type fakeProvisioningService struct {
	startErr     error
	confirmErr   error
	disconnectErr error
	session      models.ProvisioningSession
	cancelCalls  int
	lastActor    models.ActorContext
}

func (f *fakeProvisioningService) StartProvisioning(ctx context.Context, actor models.ActorContext) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.lastActor = actor
	f.session = models.ProvisioningSession{
		UserID:    actor.UserID,
		StartedAt: time.Now(),
		Phase:     models.PhaseFormOpened,
	}
	return nil
}

func (f *fakeProvisioningService) BeginConfirmationPolling(ctx context.Context) error {
	if f.confirmErr != nil {
		return f.confirmErr
	}
	f.session.Phase = models.PhaseAwaitingCloudConfirmation
	return nil
}

func (f *fakeProvisioningService) Cancel() {
	f.cancelCalls++
	f.session = models.ProvisioningSession{Phase: models.PhaseIdle}
}

func (f *fakeProvisioningService) Session() models.ProvisioningSession {
	if f.session.Phase == "" {
		return models.ProvisioningSession{Phase: models.PhaseIdle}
	}
	return f.session
}

func (f *fakeProvisioningService) CheckCredentialsReceived(ctx context.Context) (bool, string, error) {
	return true, "EVVOS-Cam-07", nil
}

func (f *fakeProvisioningService) Disconnect(ctx context.Context, actor models.ActorContext) error {
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.lastActor = actor
	return nil
}

func newProvisioningTestServer(service *fakeProvisioningService) *httptest.Server {
	router := NewRouter(zap.NewNop())
	router.RegisterProvisioningRoutes(NewProvisioningHandler(service, zap.NewNop()))
	return httptest.NewServer(router)
}

func TestProvisioningHandler_StartThenConfirm(t *testing.T) {
	service := &fakeProvisioningService{}
	srv := newProvisioningTestServer(service)
	defer srv.Close()

	body := bytes.NewBufferString(`{"user_id":"user-1","badge":"1024","display_name":"Officer Rodriguez"}`)
	resp, err := http.Post(srv.URL+"/field/api/v1/provisioning/start", "application/json", body)
	require.NoError(t, err)
	out := decodeResult(t, resp)
	assert.Equal(t, ResultSuccess, out.Code)
	assert.Equal(t, models.PhaseFormOpened, out.Result["phase"])

	resp, err = http.Post(srv.URL+"/field/api/v1/provisioning/confirm", "application/json", nil)
	require.NoError(t, err)
	out = decodeResult(t, resp)
	assert.Equal(t, models.PhaseAwaitingCloudConfirmation, out.Result["phase"])
}

func TestProvisioningHandler_StartUnreachable(t *testing.T) {
	service := &fakeProvisioningService{startErr: provisioning.ErrEndpointUnreachable}
	srv := newProvisioningTestServer(service)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/field/api/v1/provisioning/start", "application/json",
		bytes.NewBufferString(`{"user_id":"user-1"}`))
	require.NoError(t, err)
	out := decodeResult(t, resp)
	assert.Equal(t, ResultError, out.Code)
	assert.Contains(t, out.Message, "unreachable")
}

func TestProvisioningHandler_ConfirmWithoutSession(t *testing.T) {
	service := &fakeProvisioningService{confirmErr: provisioning.ErrNoActiveSession}
	srv := newProvisioningTestServer(service)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/field/api/v1/provisioning/confirm", "application/json", nil)
	require.NoError(t, err)
	out := decodeResult(t, resp)
	assert.Equal(t, ResultError, out.Code)
	assert.Contains(t, out.Message, "no active provisioning session")
}

func TestProvisioningHandler_CancelAlwaysSucceeds(t *testing.T) {
	service := &fakeProvisioningService{}
	srv := newProvisioningTestServer(service)
	defer srv.Close()

	// 无会话时取消也是成功（幂等）
	resp, err := http.Post(srv.URL+"/field/api/v1/provisioning/cancel", "application/json", nil)
	require.NoError(t, err)
	out := decodeResult(t, resp)
	assert.Equal(t, ResultSuccess, out.Code)
	assert.Equal(t, models.PhaseIdle, out.Result["phase"])
	assert.Equal(t, 1, service.cancelCalls)
}

func TestProvisioningHandler_CredentialsReceived(t *testing.T) {
	srv := newProvisioningTestServer(&fakeProvisioningService{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/field/api/v1/provisioning/credentials-received")
	require.NoError(t, err)
	out := decodeResult(t, resp)
	assert.Equal(t, true, out.Result["received"])
	assert.Equal(t, "EVVOS-Cam-07", out.Result["device_name"])
}

func TestProvisioningHandler_DisconnectRequiresUserID(t *testing.T) {
	service := &fakeProvisioningService{}
	srv := newProvisioningTestServer(service)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/field/api/v1/provisioning/disconnect", "application/json",
		bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	out := decodeResult(t, resp)
	assert.Equal(t, ResultError, out.Code)

	resp, err = http.Post(srv.URL+"/field/api/v1/provisioning/disconnect", "application/json",
		bytes.NewBufferString(`{"user_id":"user-1"}`))
	require.NoError(t, err)
	out = decodeResult(t, resp)
	assert.Equal(t, ResultSuccess, out.Code)
	assert.Equal(t, "user-1", service.lastActor.UserID)
}

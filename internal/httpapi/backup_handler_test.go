package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"evvos-field/internal/backup"
	"evvos-field/internal/models"
	"evvos-field/internal/repository"
)

// fakeBackupService 支援协调假实现
type fakeBackupService struct {
	createErr      error
	acceptErr      error
	resolveErr     error
	responders     int
	declined       []string
	lastActor      models.ActorContext
	lastLocation   string
	requesterCalls int
}

func (f *fakeBackupService) CreateRequest(ctx context.Context, actor models.ActorContext, location string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.lastActor = actor
	f.lastLocation = location
	return "REQ2610240305", nil
}

func (f *fakeBackupService) AcceptRequest(ctx context.Context, requestID string) (int, error) {
	if f.acceptErr != nil {
		return 0, f.acceptErr
	}
	f.responders++
	return f.responders, nil
}

func (f *fakeBackupService) DeclineRequest(requestID string) {
	f.declined = append(f.declined, requestID)
}

func (f *fakeBackupService) CancelResponse(ctx context.Context, requestID string) (int, error) {
	if f.responders > 0 {
		f.responders--
	}
	return f.responders, nil
}

func (f *fakeBackupService) MarkRequesterResolved(ctx context.Context, requestID string) error {
	f.requesterCalls++
	return nil
}

func (f *fakeBackupService) MarkProviderResolved(ctx context.Context, requestID string) error {
	return f.resolveErr
}

func (f *fakeBackupService) CancelRequest(ctx context.Context, requestID string) error {
	return nil
}

func (f *fakeBackupService) GetRequest(ctx context.Context, requestID string) (*models.BackupRequest, error) {
	if requestID != "REQ2610240305" {
		return nil, repository.ErrRequestNotFound
	}
	return &models.BackupRequest{
		RequestID:  requestID,
		Enforcer:   "Officer Rodriguez",
		Location:   "Camarin Rd.",
		Responders: f.responders,
		Status:     models.BackupStatusOpen,
		CreatedAt:  time.Now(),
	}, nil
}

// fakeBackupLister 列表查询假实现，分页语义与仓储层一致
type fakeBackupLister struct {
	items []*models.BackupRequest
}

func (f *fakeBackupLister) ListBackupRequests(ctx context.Context, filters repository.BackupRequestFilters, page, size int) ([]*models.BackupRequest, int, error) {
	start := (page - 1) * size
	if start >= len(f.items) {
		return nil, len(f.items), nil
	}
	end := start + size
	if end > len(f.items) {
		end = len(f.items)
	}
	return f.items[start:end], len(f.items), nil
}

func newBackupTestServer(service *fakeBackupService, lister *fakeBackupLister) *httptest.Server {
	router := NewRouter(zap.NewNop())
	router.RegisterBackupRoutes(NewBackupHandler(service, lister, zap.NewNop()))
	return httptest.NewServer(router)
}

func decodeResult(t *testing.T, resp *http.Response) Result[map[string]any] {
	t.Helper()
	var out Result[map[string]any]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	return out
}

func TestBackupHandler_CreateRequest(t *testing.T) {
	service := &fakeBackupService{}
	srv := newBackupTestServer(service, &fakeBackupLister{})
	defer srv.Close()

	body := bytes.NewBufferString(`{"user_id":"user-1","badge":"1024","display_name":"Officer Rodriguez","location":"Camarin Rd."}`)
	resp, err := http.Post(srv.URL+"/field/api/v1/backup/requests", "application/json", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeResult(t, resp)
	assert.Equal(t, ResultSuccess, out.Code)
	assert.Equal(t, "REQ2610240305", out.Result["request_id"])
	assert.Equal(t, "Camarin Rd.", service.lastLocation)
	assert.Equal(t, "user-1", service.lastActor.UserID)
}

func TestBackupHandler_CreateRequest_ValidationError(t *testing.T) {
	service := &fakeBackupService{createErr: backup.ErrValidation}
	srv := newBackupTestServer(service, &fakeBackupLister{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/field/api/v1/backup/requests", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)

	out := decodeResult(t, resp)
	assert.Equal(t, ResultError, out.Code)
	assert.Equal(t, "error", out.Type)
}

func TestBackupHandler_AcceptAndCancelResponse(t *testing.T) {
	service := &fakeBackupService{responders: 4}
	srv := newBackupTestServer(service, &fakeBackupLister{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/field/api/v1/backup/requests/REQ2610240305/accept", "application/json", nil)
	require.NoError(t, err)
	out := decodeResult(t, resp)
	assert.Equal(t, ResultSuccess, out.Code)
	assert.Equal(t, float64(5), out.Result["responders"])

	resp, err = http.Post(srv.URL+"/field/api/v1/backup/requests/REQ2610240305/cancel-response", "application/json", nil)
	require.NoError(t, err)
	out = decodeResult(t, resp)
	assert.Equal(t, float64(4), out.Result["responders"])
}

func TestBackupHandler_AcceptUnknownRequestReturns404(t *testing.T) {
	service := &fakeBackupService{acceptErr: repository.ErrRequestNotFound}
	srv := newBackupTestServer(service, &fakeBackupLister{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/field/api/v1/backup/requests/REQ9999990000/accept", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	out := decodeResult(t, resp)
	assert.Equal(t, ResultError, out.Code)
	assert.Equal(t, "request not found", out.Message)
}

func TestBackupHandler_DeclineAlwaysSucceeds(t *testing.T) {
	service := &fakeBackupService{}
	srv := newBackupTestServer(service, &fakeBackupLister{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/field/api/v1/backup/requests/REQ2610240305/decline", "application/json", nil)
	require.NoError(t, err)
	out := decodeResult(t, resp)
	assert.Equal(t, ResultSuccess, out.Code)
	assert.Equal(t, []string{"REQ2610240305"}, service.declined)
}

func TestBackupHandler_ResolveBeforeRequester(t *testing.T) {
	service := &fakeBackupService{resolveErr: backup.ErrCannotResolveYet}
	srv := newBackupTestServer(service, &fakeBackupLister{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/field/api/v1/backup/requests/REQ2610240305/resolve", "application/json", nil)
	require.NoError(t, err)
	out := decodeResult(t, resp)
	assert.Equal(t, ResultError, out.Code)
	assert.Contains(t, out.Message, "has not resolved")
}

func TestBackupHandler_GetRequestNotFound(t *testing.T) {
	srv := newBackupTestServer(&fakeBackupService{}, &fakeBackupLister{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/field/api/v1/backup/requests/REQ9999990000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBackupHandler_MethodNotAllowed(t *testing.T) {
	srv := newBackupTestServer(&fakeBackupService{}, &fakeBackupLister{})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/field/api/v1/backup/requests/REQ2610240305/accept", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestBackupHandler_ExportAudit(t *testing.T) {
	lister := &fakeBackupLister{items: []*models.BackupRequest{
		{
			RequestID: "REQ2610240305",
			Enforcer:  "Officer Rodriguez",
			Location:  "Camarin Rd.",
			Status:    models.BackupStatusResolved,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		},
	}}
	srv := newBackupTestServer(&fakeBackupService{}, lister)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/field/api/v1/backup/audit/export")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "backup-requests-audit.xlsx")
}

func TestBackupHandler_ExportAuditCoversAllPages(t *testing.T) {
	items := make([]*models.BackupRequest, 0, 230)
	for i := 0; i < 230; i++ {
		items = append(items, &models.BackupRequest{
			RequestID: fmt.Sprintf("REQ26%04d0305", i),
			Enforcer:  "Officer Rodriguez",
			Location:  "Camarin Rd.",
			Status:    models.BackupStatusResolved,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})
	}
	srv := newBackupTestServer(&fakeBackupService{}, &fakeBackupLister{items: items})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/field/api/v1/backup/audit/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Backup Requests")
	require.NoError(t, err)
	// 表头一行 + 全部 230 条记录，单页 100 条的上限不应截断导出
	assert.Len(t, rows, 231)
}

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"evvos-field/internal/backup"
	"evvos-field/internal/export"
	"evvos-field/internal/models"
	"evvos-field/internal/repository"
)

// BackupService 紧急支援协调接口（由 backup.Coordinator 实现）
type BackupService interface {
	CreateRequest(ctx context.Context, actor models.ActorContext, location string) (string, error)
	AcceptRequest(ctx context.Context, requestID string) (int, error)
	DeclineRequest(requestID string)
	CancelResponse(ctx context.Context, requestID string) (int, error)
	MarkRequesterResolved(ctx context.Context, requestID string) error
	MarkProviderResolved(ctx context.Context, requestID string) error
	CancelRequest(ctx context.Context, requestID string) error
	GetRequest(ctx context.Context, requestID string) (*models.BackupRequest, error)
}

// BackupLister 支援请求列表查询接口（由 repository.BackupRequestsRepository 实现）
type BackupLister interface {
	ListBackupRequests(ctx context.Context, filters repository.BackupRequestFilters, page, size int) ([]*models.BackupRequest, int, error)
}

// BackupHandler 紧急支援 Handler
// 注意：协调逻辑全部在 backup.Coordinator，Handler 只做参数解析和响应封装
type BackupHandler struct {
	service BackupService
	lister  BackupLister
	logger  *zap.Logger
}

// NewBackupHandler 创建紧急支援 Handler
func NewBackupHandler(service BackupService, lister BackupLister, logger *zap.Logger) *BackupHandler {
	return &BackupHandler{
		service: service,
		lister:  lister,
		logger:  logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *BackupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/field/api/v1/backup/requests" && r.Method == http.MethodPost:
		h.CreateRequest(w, r)
	case r.URL.Path == "/field/api/v1/backup/requests" && r.Method == http.MethodGet:
		h.ListRequests(w, r)
	case r.URL.Path == "/field/api/v1/backup/audit/export" && r.Method == http.MethodGet:
		h.ExportAudit(w, r)
	case strings.HasPrefix(r.URL.Path, "/field/api/v1/backup/requests/"):
		h.dispatchRequestPath(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// dispatchRequestPath 分发 /requests/{id} 与 /requests/{id}/{action}
func (h *BackupHandler) dispatchRequestPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/field/api/v1/backup/requests/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetRequest(w, r, parts[0])
	case len(parts) == 2 && parts[0] != "":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAction(w, r, parts[0], parts[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *BackupHandler) handleAction(w http.ResponseWriter, r *http.Request, requestID, action string) {
	ctx := r.Context()

	switch action {
	case "accept":
		responders, err := h.service.AcceptRequest(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrRequestNotFound) {
				writeJSON(w, http.StatusNotFound, Fail("request not found"))
				return
			}
			h.logger.Error("AcceptRequest failed", zap.String("request_id", requestID), zap.Error(err))
			writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to accept request: %v", err)))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"request_id": requestID, "responders": responders}))

	case "decline":
		// 婉拒是纯本地操作，永不失败
		h.service.DeclineRequest(requestID)
		writeJSON(w, http.StatusOK, Ok(map[string]any{"request_id": requestID}))

	case "cancel-response":
		responders, err := h.service.CancelResponse(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrRequestNotFound) {
				writeJSON(w, http.StatusNotFound, Fail("request not found"))
				return
			}
			h.logger.Error("CancelResponse failed", zap.String("request_id", requestID), zap.Error(err))
			writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to cancel response: %v", err)))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"request_id": requestID, "responders": responders}))

	case "requester-resolve":
		if err := h.service.MarkRequesterResolved(ctx, requestID); err != nil {
			h.logger.Error("MarkRequesterResolved failed", zap.String("request_id", requestID), zap.Error(err))
			writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to mark requester resolved: %v", err)))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"request_id": requestID, "status": models.BackupStatusRequesterResolved}))

	case "resolve":
		if err := h.service.MarkProviderResolved(ctx, requestID); err != nil {
			if errors.Is(err, backup.ErrCannotResolveYet) {
				writeJSON(w, http.StatusOK, Fail("requester has not resolved this request yet"))
				return
			}
			h.logger.Error("MarkProviderResolved failed", zap.String("request_id", requestID), zap.Error(err))
			writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to resolve request: %v", err)))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"request_id": requestID, "status": models.BackupStatusResolved}))

	case "cancel":
		if err := h.service.CancelRequest(ctx, requestID); err != nil {
			h.logger.Error("CancelRequest failed", zap.String("request_id", requestID), zap.Error(err))
			writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to cancel request: %v", err)))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"request_id": requestID, "status": models.BackupStatusCancelled}))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// CreateRequest 创建支援请求
func (h *BackupHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		UserID      string `json:"user_id"`
		Badge       string `json:"badge"`
		DisplayName string `json:"display_name"`
		Location    string `json:"location"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	actor := models.ActorContext{
		UserID:      payload.UserID,
		Badge:       payload.Badge,
		DisplayName: payload.DisplayName,
	}

	requestID, err := h.service.CreateRequest(ctx, actor, payload.Location)
	if err != nil {
		if errors.Is(err, backup.ErrValidation) {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		h.logger.Error("CreateRequest failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to create request: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"request_id": requestID}))
}

// GetRequest 查询单条支援请求
func (h *BackupHandler) GetRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	req, err := h.service.GetRequest(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("request not found"))
			return
		}
		h.logger.Error("GetRequest failed", zap.String("request_id", requestID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to get request: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(req))
}

// ListRequests 查询支援请求列表
func (h *BackupHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filters := repository.BackupRequestFilters{}
	if status := r.URL.Query().Get("status"); status != "" {
		filters.Status = &status
	}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		filters.UserID = &userID
	}
	page := parseInt(r.URL.Query().Get("page"), 1)
	size := parseInt(r.URL.Query().Get("size"), 20)

	items, total, err := h.lister.ListBackupRequests(ctx, filters, page, size)
	if err != nil {
		h.logger.Error("ListRequests failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to list requests: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": total,
	}))
}

// ExportAudit 导出支援请求审计 Excel
func (h *BackupHandler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filters := repository.BackupRequestFilters{}
	if status := r.URL.Query().Get("status"); status != "" {
		filters.Status = &status
	}

	// 审计导出取全量：仓储层单页上限 100，按页拉取直到覆盖 total
	const exportPageSize = 100
	var items []*models.BackupRequest
	for page := 1; ; page++ {
		batch, total, err := h.lister.ListBackupRequests(ctx, filters, page, exportPageSize)
		if err != nil {
			h.logger.Error("ExportAudit list failed", zap.Int("page", page), zap.Error(err))
			writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to list requests: %v", err)))
			return
		}
		items = append(items, batch...)
		if len(batch) == 0 || len(items) >= total {
			break
		}
	}

	excelData, err := export.GenerateBackupAuditExport(items)
	if err != nil {
		h.logger.Error("ExportAudit generate failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to generate export: %v", err)))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=backup-requests-audit.xlsx")
	w.WriteHeader(http.StatusOK)
	w.Write(excelData)
}

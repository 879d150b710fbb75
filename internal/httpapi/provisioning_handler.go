package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"evvos-field/internal/models"
	"evvos-field/internal/provisioning"
)

// ProvisioningService 设备配网协调接口（由 provisioning.Coordinator 实现）
type ProvisioningService interface {
	StartProvisioning(ctx context.Context, actor models.ActorContext) error
	BeginConfirmationPolling(ctx context.Context) error
	Cancel()
	Session() models.ProvisioningSession
	CheckCredentialsReceived(ctx context.Context) (bool, string, error)
	Disconnect(ctx context.Context, actor models.ActorContext) error
}

// ProvisioningHandler 设备配网 Handler
type ProvisioningHandler struct {
	service ProvisioningService
	logger  *zap.Logger
}

// NewProvisioningHandler 创建设备配网 Handler
func NewProvisioningHandler(service ProvisioningService, logger *zap.Logger) *ProvisioningHandler {
	return &ProvisioningHandler{
		service: service,
		logger:  logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *ProvisioningHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/field/api/v1/provisioning/start" && r.Method == http.MethodPost:
		h.Start(w, r)
	case r.URL.Path == "/field/api/v1/provisioning/confirm" && r.Method == http.MethodPost:
		h.Confirm(w, r)
	case r.URL.Path == "/field/api/v1/provisioning/cancel" && r.Method == http.MethodPost:
		h.Cancel(w, r)
	case r.URL.Path == "/field/api/v1/provisioning/session" && r.Method == http.MethodGet:
		h.GetSession(w, r)
	case r.URL.Path == "/field/api/v1/provisioning/credentials-received" && r.Method == http.MethodGet:
		h.CredentialsReceived(w, r)
	case r.URL.Path == "/field/api/v1/provisioning/disconnect" && r.Method == http.MethodPost:
		h.Disconnect(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func actorFromBody(r *http.Request) (models.ActorContext, error) {
	var payload struct {
		UserID      string `json:"user_id"`
		Badge       string `json:"badge"`
		DisplayName string `json:"display_name"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		return models.ActorContext{}, err
	}
	return models.ActorContext{
		UserID:      payload.UserID,
		Badge:       payload.Badge,
		DisplayName: payload.DisplayName,
	}, nil
}

// Start 打开设备端配网表单（已有活跃会话时先作废旧会话）
func (h *ProvisioningHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromBody(r)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	if err := h.service.StartProvisioning(r.Context(), actor); err != nil {
		if errors.Is(err, provisioning.ErrEndpointUnreachable) {
			writeJSON(w, http.StatusOK, Fail("device endpoint unreachable, check hotspot connection"))
			return
		}
		h.logger.Error("StartProvisioning failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to start provisioning: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(h.service.Session()))
}

// Confirm 启动云端确认轮询
func (h *ProvisioningHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if err := h.service.BeginConfirmationPolling(r.Context()); err != nil {
		if errors.Is(err, provisioning.ErrNoActiveSession) {
			writeJSON(w, http.StatusOK, Fail("no active provisioning session"))
			return
		}
		h.logger.Error("BeginConfirmationPolling failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to begin confirmation: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(h.service.Session()))
}

// Cancel 取消当前配网会话（无会话时也是成功）
func (h *ProvisioningHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.service.Cancel()
	writeJSON(w, http.StatusOK, Ok(h.service.Session()))
}

// GetSession 查询当前配网会话快照
func (h *ProvisioningHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.service.Session()))
}

// CredentialsReceived 查询设备端是否已收到凭据
func (h *ProvisioningHandler) CredentialsReceived(w http.ResponseWriter, r *http.Request) {
	received, deviceName, err := h.service.CheckCredentialsReceived(r.Context())
	if err != nil {
		h.logger.Error("CheckCredentialsReceived failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to check credentials: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"received":    received,
		"device_name": deviceName,
	}))
}

// Disconnect 解绑设备：清除配对标记并请求设备断开
func (h *ProvisioningHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromBody(r)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	if actor.UserID == "" {
		writeJSON(w, http.StatusOK, Fail("user_id is required"))
		return
	}

	if err := h.service.Disconnect(r.Context(), actor); err != nil {
		h.logger.Error("Disconnect failed", zap.String("user_id", actor.UserID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to disconnect: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"user_id": actor.UserID}))
}

package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterBackupRoutes 注册紧急支援路由
func (r *Router) RegisterBackupRoutes(h *BackupHandler) {
	r.HandleHandler("/field/api/v1/backup/requests", h)
	r.HandleHandler("/field/api/v1/backup/requests/", h)
	r.HandleHandler("/field/api/v1/backup/audit/export", h)
}

// RegisterProvisioningRoutes 注册设备配网路由
func (r *Router) RegisterProvisioningRoutes(h *ProvisioningHandler) {
	r.HandleHandler("/field/api/v1/provisioning/", h)
}

// RegisterHealthRoute 注册健康检查路由
func (r *Router) RegisterHealthRoute(serviceName string) {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": serviceName,
		})
	})
}

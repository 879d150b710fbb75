package agent

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// provisioningFormHTML 热点内配网表单（手机浏览器直接打开）
const provisioningFormHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>E.V.V.O.S. Device Setup</title>
<style>
body { font-family: sans-serif; max-width: 420px; margin: 40px auto; padding: 0 16px; }
h1 { font-size: 1.3em; }
label { display: block; margin-top: 12px; font-weight: bold; }
input { width: 100%; padding: 8px; margin-top: 4px; box-sizing: border-box; }
button { margin-top: 20px; width: 100%; padding: 12px; background: #1a73e8; color: #fff; border: none; font-size: 1em; }
#msg { margin-top: 16px; }
</style>
</head>
<body>
<h1>Body Camera WiFi Setup</h1>
<form id="f">
<label>User ID<input name="user_id" required></label>
<label>WiFi Network (SSID)<input name="ssid" required></label>
<label>WiFi Password<input name="password" type="password" required></label>
<button type="submit">Connect Device</button>
</form>
<div id="msg"></div>
<script>
var uid = new URLSearchParams(location.search).get('user_id');
if (uid) { document.querySelector('input[name=user_id]').value = uid; }
document.getElementById('f').addEventListener('submit', async function(e) {
  e.preventDefault();
  var data = Object.fromEntries(new FormData(this));
  var msg = document.getElementById('msg');
  try {
    var resp = await fetch('/provision', {
      method: 'POST',
      headers: {'Content-Type': 'application/json'},
      body: JSON.stringify(data)
    });
    var body = await resp.json();
    msg.textContent = resp.ok ? 'Credentials received. The device will now connect.' : (body.error || 'Submission failed');
  } catch (err) {
    msg.textContent = 'Could not reach the device: ' + err;
  }
});
</script>
</body>
</html>`

// Server 热点内配网 HTTP 服务
// 警员手机连上设备热点后，由浏览器或警务 App 访问这些端点
type Server struct {
	intake       *CredentialIntake
	onDisconnect func() // 收到断开请求后异步触发（先回响应再执行）
	logger       *zap.Logger
	mux          *http.ServeMux
}

// NewServer 创建配网服务
func NewServer(intake *CredentialIntake, onDisconnect func(), logger *zap.Logger) *Server {
	s := &Server{
		intake:       intake,
		onDisconnect: onDisconnect,
		logger:       logger,
		mux:          http.NewServeMux(),
	}

	s.mux.HandleFunc("/provisioning", s.handleForm)
	s.mux.HandleFunc("/provision", s.handleProvision)
	s.mux.HandleFunc("/check-credentials", s.handleCheckCredentials)
	s.mux.HandleFunc("/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 热点环境下的跨域放开（App WebView 与浏览器都会直连）
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(provisioningFormHTML))
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"status": "error", "message": "Use POST method"})
		return
	}

	var payload struct {
		UserID   string `json:"user_id"`
		SSID     string `json:"ssid"`
		Password string `json:"password"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || json.Unmarshal(body, &payload) != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	if payload.UserID == "" || payload.SSID == "" || payload.Password == "" {
		s.logger.Warn("Incomplete credentials submitted")
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "User ID, SSID, and password are required",
		})
		return
	}

	s.intake.Submit(SubmittedCredentials{
		UserID:   payload.UserID,
		SSID:     payload.SSID,
		Password: payload.Password,
	})

	s.logger.Info("Credentials received via web form",
		zap.String("user_id", payload.UserID),
		zap.String("ssid", payload.SSID),
	)

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Credentials received successfully",
	})
}

func (s *Server) handleCheckCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if creds, ok := s.intake.Pending(); ok {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"received": true,
			"ssid":     creds.SSID,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"received": false})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		UserID   string `json:"user_id"`
		DeviceID string `json:"device_id"`
	}
	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	_ = json.Unmarshal(body, &payload)

	if payload.UserID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	s.logger.Info("Disconnect request received",
		zap.String("user_id", payload.UserID),
		zap.String("device_id", payload.DeviceID),
	)

	// 先回响应再断开，保证 App 能收到确认
	if s.onDisconnect != nil {
		go s.onDisconnect()
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Device disconnect initiated. Device will restart in provisioning mode shortly.",
		"device_id": payload.DeviceID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

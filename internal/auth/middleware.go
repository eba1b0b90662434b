// Package auth 提供 API 层的密钥认证与审计日志。
// 当前部署形态是单租户守护进程，采用静态 API Key；
// 密钥从环境变量读取，配置文件中只存变量名。
package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
	"time"

	loggerpkg "AgentFi-Mesh/pkg/logger"
)

// Service 封装 API Key 校验。key 为空时认证关闭。
type Service struct {
	key []byte
}

// NewService 构造认证服务。优先使用显式 key，
// 其次读取 keyEnv 指向的环境变量。
func NewService(key, keyEnv string) *Service {
	if key == "" && keyEnv != "" {
		key = os.Getenv(keyEnv)
	}
	return &Service{key: []byte(key)}
}

// Enabled 报告认证是否开启。
func (s *Service) Enabled() bool {
	return s != nil && len(s.key) > 0
}

// authenticate 校验 Authorization: Bearer <key> 或 X-API-Key 头。
func (s *Service) authenticate(r *http.Request) bool {
	candidate := r.Header.Get("X-API-Key")
	if candidate == "" {
		header := r.Header.Get("Authorization")
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			candidate = after
		}
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), s.key) == 1
}

// Middleware 返回认证 + 审计中间件。认证关闭时只记审计日志。
func (s *Service) Middleware(event string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			audit := loggerpkg.Audit()
			if s.Enabled() && !s.authenticate(r) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", http.StatusUnauthorized,
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r)

			name := event
			if name == "" {
				name = r.URL.Path
			}
			audit.Info("api_request",
				"event", name,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// auditWriter 包装 ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获状态码后透传。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

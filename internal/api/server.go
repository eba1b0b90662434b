// Package api 暴露 REST 接口：运行的提交与查询、模板列表、
// nonce 诊断与恢复。
package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentFi-Mesh/internal/auth"
	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/nonce"
	"AgentFi-Mesh/internal/observability/metrics"
	"AgentFi-Mesh/internal/run"
	"AgentFi-Mesh/internal/workflow"
)

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	runs    *run.Service
	engine  *workflow.Engine
	nonces  *nonce.Manager
	guard   *auth.Service
	handler http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runs *run.Service, engine *workflow.Engine, nonces *nonce.Manager, guard *auth.Service) *Server {
	s := &Server{
		addr:   addr,
		runs:   runs,
		engine: engine,
		nonces: nonces,
		guard:  guard,
	}
	s.handler = s.buildHandler()
	return s
}

// Handler 返回完整的 HTTP 处理链，测试可直接挂到 httptest。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", s.instrument("runs", s.handleRuns))
	mux.HandleFunc("/api/v1/runs/", s.instrument("run_detail", s.handleRunDetail))
	mux.HandleFunc("/api/v1/templates", s.instrument("templates", s.handleTemplates))
	mux.HandleFunc("/api/v1/nonce/state", s.instrument("nonce_state", s.handleNonceState))
	mux.HandleFunc("/api/v1/nonce/gaps", s.instrument("nonce_gaps", s.handleNonceGaps))
	mux.HandleFunc("/api/v1/nonce/reset", s.instrument("nonce_reset", s.handleNonceReset))
	mux.HandleFunc("/healthz", s.handleHealth)

	if s.guard != nil {
		return s.guard.Middleware("")(mux)
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// instrument 为每个端点记录请求计数与时延。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET/POST")
	}
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}

	var req run.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}

	submitted, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "非法的运行 ID")
		return
	}

	record, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "工作流引擎未初始化")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.engine.Templates()})
}

func (s *Server) nonceKey(r *http.Request) (string, string, bool) {
	chain := strings.TrimSpace(r.URL.Query().Get("chain"))
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	return chain, address, chain != "" && address != ""
}

func (s *Server) handleNonceState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.nonces == nil {
		writeError(w, http.StatusServiceUnavailable, "nonce 管理器未初始化")
		return
	}
	chain, address, ok := s.nonceKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "缺少 chain 或 address 参数")
		return
	}
	writeJSON(w, http.StatusOK, s.nonces.State(chain, address))
}

func (s *Server) handleNonceGaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.nonces == nil {
		writeError(w, http.StatusServiceUnavailable, "nonce 管理器未初始化")
		return
	}
	chain, address, ok := s.nonceKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "缺少 chain 或 address 参数")
		return
	}
	gaps := s.nonces.DetectGaps(r.Context(), chain, address)
	if gaps == nil {
		gaps = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chain":   chain,
		"address": address,
		"gaps":    gaps,
	})
}

func (s *Server) handleNonceReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	if s.nonces == nil {
		writeError(w, http.StatusServiceUnavailable, "nonce 管理器未初始化")
		return
	}

	var req struct {
		Chain   string `json:"chain"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	if strings.TrimSpace(req.Chain) == "" || strings.TrimSpace(req.Address) == "" {
		writeError(w, http.StatusBadRequest, "缺少 chain 或 address 字段")
		return
	}

	s.nonces.Reset(r.Context(), req.Chain, req.Address)
	writeJSON(w, http.StatusOK, s.nonces.State(req.Chain, req.Address))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError 把统一错误码映射为 HTTP 状态码。
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case run.CodeRunNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case run.CodeRunValidation, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case run.CodeRunConflict, xerrors.CodeConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	})
}

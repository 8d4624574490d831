package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"OpenOracle-Chain/internal/assertion"
	xerrors "OpenOracle-Chain/internal/errors"
	"OpenOracle-Chain/internal/identity"
	"OpenOracle-Chain/internal/market"
	"OpenOracle-Chain/internal/observability/metrics"
	"OpenOracle-Chain/internal/oracle"
	"OpenOracle-Chain/internal/reputation"
	loggerpkg "OpenOracle-Chain/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部开启、质疑、结算断言并查询代理声誉。
type Server struct {
	addr        string
	adminToken  string
	ledger      *assertion.Ledger
	view        *reputation.View
	recorder    *reputation.Recorder
	adjudicator *oracle.Manual
}

// ServerOption 配置 API 服务的可选能力。
type ServerOption func(*Server)

// WithAdminToken 启用管理接口并设置静态令牌。
func WithAdminToken(token string) ServerOption {
	return func(s *Server) {
		s.adminToken = token
	}
}

// WithRecorderAdmin 挂载记录员，启用轮换接口。
func WithRecorderAdmin(recorder *reputation.Recorder) ServerOption {
	return func(s *Server) {
		s.recorder = recorder
	}
}

// WithManualOracle 挂载人工仲裁通道，启用裁决投递接口。
func WithManualOracle(adjudicator *oracle.Manual) ServerOption {
	return func(s *Server) {
		s.adjudicator = adjudicator
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ledger *assertion.Ledger, view *reputation.View, opts ...ServerOption) *Server {
	s := &Server{addr: addr, ledger: ledger, view: view}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/assertions", s.instrument("assertions", s.handleAssertions))
	mux.HandleFunc("/api/v1/assertions/", s.instrument("assertion_detail", s.handleAssertionSubtree))
	mux.HandleFunc("/api/v1/agents/", s.instrument("agents", s.handleAgentSubtree))
	mux.HandleFunc("/api/v1/admin/recorder", s.instrument("admin_recorder", s.requireAdmin("recorder_rotation", s.handleAdminRecorder)))
	mux.HandleFunc("/api/v1/admin/verdicts", s.instrument("admin_verdicts", s.requireAdmin("verdict_delivery", s.handleAdminVerdicts)))
	mux.HandleFunc("/healthz", s.handleHealthz)

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func (s *Server) handleAssertions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleOpenAssertion(w, r)
	case http.MethodGet:
		s.handleListAssertions(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleOpenAssertion 处理开启断言的请求。
func (s *Server) handleOpenAssertion(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "账本未初始化", http.StatusServiceUnavailable)
		return
	}

	// 解析请求体。
	var req assertion.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	created, err := s.ledger.Open(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleListAssertions 处理断言列表查询，支持状态、市场、代理过滤与分页。
func (s *Server) handleListAssertions(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "账本未初始化", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	opts := make([]assertion.ListOption, 0, 4)

	if rawStatuses := query["status"]; len(rawStatuses) > 0 {
		statuses := make([]assertion.Status, 0, len(rawStatuses))
		for _, raw := range rawStatuses {
			status := assertion.Status(strings.ToLower(strings.TrimSpace(raw)))
			if !assertion.IsValidStatus(status) {
				writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "不支持的断言状态: "+raw))
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, assertion.WithStatuses(statuses...))
	}

	if raw := query.Get("market"); raw != "" {
		marketID, err := parseHashParam(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		opts = append(opts, assertion.WithMarket(marketID))
	}

	if raw := query.Get("asserter"); raw != "" {
		asserter, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || asserter == 0 {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "代理标识格式不正确"))
			return
		}
		opts = append(opts, assertion.WithAsserter(asserter))
	}

	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, assertion.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, assertion.WithOffset(parsed))
		}
	}

	results, err := s.ledger.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleAssertionSubtree 分发 /api/v1/assertions/{id} 及其子路径。
func (s *Server) handleAssertionSubtree(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "账本未初始化", http.StatusServiceUnavailable)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/assertions/"), "/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	segments := strings.Split(rest, "/")

	id, err := parseHashParam(segments[0])
	if err != nil {
		writeError(w, err)
		return
	}

	switch {
	case len(segments) == 1:
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		s.handleAssertionDetail(w, r, id)
	case len(segments) == 2 && segments[1] == "dispute":
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		s.handleDispute(w, r, id)
	case len(segments) == 2 && segments[1] == "settle":
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		s.handleSettle(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleAssertionDetail(w http.ResponseWriter, r *http.Request, id common.Hash) {
	found, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// handleDispute 处理质疑断言的请求。断言标识以路径为准，请求体中的标识被忽略。
func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request, id common.Hash) {
	var req assertion.DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	req.AssertionID = id

	disputed, err := s.ledger.Dispute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disputed)
}

// handleSettle 处理结算请求。重复结算与窗口未到期都以错误码区分返回。
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request, id common.Hash) {
	settled, err := s.ledger.Settle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settled)
}

// handleAgentSubtree 分发 /api/v1/agents/{id}/reputation 与 /accuracy。
func (s *Server) handleAgentSubtree(w http.ResponseWriter, r *http.Request) {
	if s.view == nil {
		http.Error(w, "声誉视图未初始化", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/agents/"), "/")
	segments := strings.Split(rest, "/")
	if len(segments) != 2 {
		http.NotFound(w, r)
		return
	}

	agentID, err := strconv.ParseUint(segments[0], 10, 64)
	if err != nil || agentID == 0 {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "代理标识格式不正确"))
		return
	}

	switch segments[1] {
	case "reputation":
		score, err := s.view.Score(r.Context(), agentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, score)
	case "accuracy":
		bps, err := s.view.Accuracy(r.Context(), agentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accuracyResponse{AgentID: agentID, AccuracyBps: bps})
	default:
		http.NotFound(w, r)
	}
}

// handleAdminRecorder 处理记录员轮换。调用方身份由请求体声明，
// 是否有权轮换由 Recorder 自身校验。
func (s *Server) handleAdminRecorder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		http.Error(w, "记录员未初始化", http.StatusServiceUnavailable)
		return
	}

	var req rotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	if err := s.recorder.Rotate(r.Context(), req.Caller, req.Next); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rotateResponse{Recorder: s.recorder.Authority()})
}

// handleAdminVerdicts 支持查询待裁决争议与投递人工裁决。
func (s *Server) handleAdminVerdicts(w http.ResponseWriter, r *http.Request) {
	if s.adjudicator == nil {
		http.Error(w, "仲裁通道未初始化", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.adjudicator.Pending())
	case http.MethodPost:
		var req verdictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
			return
		}
		if err := s.adjudicator.Submit(req.AssertionID, req.Upheld); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, verdictResponse{Accepted: true})
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdmin 校验静态管理令牌，并为管理操作记录审计日志。
// 未配置令牌时管理接口整体拒绝访问。
func (s *Server) requireAdmin(event string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		audit := loggerpkg.Audit()
		if s.adminToken == "" {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: errorBody{
				Code:    xerrors.CodeUnauthorized,
				Message: "管理令牌未配置",
			}})
			audit.Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"status", http.StatusForbidden,
				"error", "admin token not configured",
			)
			return
		}

		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" || token != s.adminToken {
			reason := "invalid admin token"
			if token == "" {
				reason = "missing bearer token"
			}
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errorBody{
				Code:    xerrors.CodeUnauthorized,
				Message: "管理令牌无效",
			}})
			audit.Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"status", http.StatusUnauthorized,
				"error", reason,
			)
			return
		}

		// 记录审计日志。
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		audit.Info("api_request",
			"event", event,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// instrument 包装处理器以采集 HTTP 指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// statusRecorder 包装 http.ResponseWriter 以捕获响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type rotateRequest struct {
	Caller common.Address `json:"caller"`
	Next   common.Address `json:"next"`
}

type rotateResponse struct {
	Recorder common.Address `json:"recorder"`
}

type verdictRequest struct {
	AssertionID common.Hash `json:"assertion_id"`
	Upheld      bool        `json:"upheld"`
}

type verdictResponse struct {
	Accepted bool `json:"accepted"`
}

type accuracyResponse struct {
	AgentID     uint64 `json:"agent_id"`
	AccuracyBps uint64 `json:"accuracy_bps"`
}

type errorBody struct {
	Code      xerrors.Code `json:"code"`
	Message   string       `json:"message"`
	Retryable bool         `json:"retryable"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeJSON 将载荷编码为 JSON 响应。
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 将统一错误映射为 HTTP 状态码与 JSON 错误体。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if unified, ok := xerrors.From(err); ok {
		message = unified.Message()
	}
	writeJSON(w, httpStatusOf(code), errorResponse{Error: errorBody{
		Code:      code,
		Message:   message,
		Retryable: xerrors.RetryableError(err),
	}})
}

// httpStatusOf 将错误码归类到 HTTP 状态码。
func httpStatusOf(code xerrors.Code) int {
	switch code {
	case assertion.CodeAssertionNotFound, market.CodeMarketNotFound,
		identity.CodeAgentNotFound, oracle.CodeReferralNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case assertion.CodeMarketBusy, assertion.CodeNotPending, assertion.CodeAlreadySettled,
		assertion.CodeAssertionConflict, assertion.CodeBondMismatch, assertion.CodeNotYetResolved,
		oracle.CodeVerdictConflict, xerrors.CodeConflict:
		return http.StatusConflict
	case assertion.CodeInvalidOutcome, assertion.CodeInsufficientBond,
		reputation.CodeZeroAddress, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case reputation.CodeOnlyRecorder, xerrors.CodeUnauthorized:
		return http.StatusForbidden
	case xerrors.CodeNotReady, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseHashParam 校验并解析 0x 前缀的 32 字节十六进制标识。
func parseHashParam(raw string) (common.Hash, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") || len(trimmed) != 2+2*common.HashLength {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "标识需为 0x 前缀的 32 字节十六进制")
	}
	return common.HexToHash(trimmed), nil
}

// bearerToken 提取 Authorization 头中的 Bearer 令牌。
func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

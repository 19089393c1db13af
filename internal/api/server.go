package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"MultiAI-Relay/internal/bridge"
	"MultiAI-Relay/internal/chain"
	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/llm"
	"MultiAI-Relay/internal/observability/metrics"
	"MultiAI-Relay/internal/relay"
	"MultiAI-Relay/internal/task"
	"MultiAI-Relay/pkg/logger"
)

// Runner 是 API 层依赖的编排能力，由 relay.Service 实现。
type Runner interface {
	Stream(ctx context.Context, req relay.Request) (<-chan llm.Event, error)
	Run(ctx context.Context, req relay.Request) (*relay.Result, error)
	Presets() []chain.Preset
	Providers() []relay.ProviderStatus
}

// Server 负责暴露 REST 与 SSE 接口。
type Server struct {
	addr          string
	runner        Runner
	tasks         *task.Service
	runTimeout    time.Duration
	exposeMetrics bool
	root          context.Context
	log           *slog.Logger
}

// Option 配置 Server。
type Option func(*Server)

// WithRunTimeout 限制由 HTTP 请求发起的单次运行时长，0 表示不限制。
func WithRunTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.runTimeout = timeout
	}
}

// WithTaskService 启用 /api/v1/runs 排队接口。
func WithTaskService(tasks *task.Service) Option {
	return func(s *Server) {
		s.tasks = tasks
	}
}

// WithoutMetrics 不在 API 端口上挂载 /metrics，用于指标使用独立端口的部署。
func WithoutMetrics() Option {
	return func(s *Server) {
		s.exposeMetrics = false
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runner Runner, opts ...Option) *Server {
	s := &Server{
		addr:          addr,
		runner:        runner,
		exposeMetrics: true,
		root:          context.Background(),
		log:           logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.HandleFunc("/api/v1/query", s.handleQuery)
	mux.HandleFunc("/api/v1/presets", s.handlePresets)
	mux.HandleFunc("/api/v1/providers", s.handleProviders)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunDetail)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.exposeMetrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	return withMetrics(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。ctx 取消时进行中的运行也会被取消。
func (s *Server) Start(ctx context.Context) error {
	s.root = ctx

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API 服务启动", slog.String("address", s.addr))
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

// runContext 为运行派生上下文：客户端断开不会中止运行，服务关闭与运行超时会。
func (s *Server) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(s.root, cancel)
	if s.runTimeout <= 0 {
		return ctx, func() { stop(); cancel() }
	}
	timed, cancelTimeout := context.WithTimeout(ctx, s.runTimeout)
	return timed, func() {
		stop()
		cancelTimeout()
		cancel()
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req relay.Request
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req = relay.Request{Prompt: q.Get("prompt"), Mode: relay.Mode(q.Get("mode")), Preset: q.Get("preset")}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
			return
		}
	default:
		writeError(w, errMethodNotAllowed("GET/POST"))
		return
	}

	ctx, cancel := s.runContext(r)
	defer cancel()

	events, err := s.runner.Stream(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	sink, err := bridge.NewSSESink(w)
	if err != nil {
		// 仍需读完事件，让运行自然结束并写入 transcript。
		_ = bridge.Forward(r.Context(), events, bridge.SinkFunc(func([]byte) error { return err }))
		writeError(w, err)
		return
	}
	if err := bridge.Forward(r.Context(), events, sink); err != nil {
		metrics.ObserveTransportFailure()
		s.log.Warn("事件投递中断", slog.Any("error", err), slog.String("mode", string(req.Mode)))
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errMethodNotAllowed("POST"))
		return
	}
	var req relay.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	ctx, cancel := s.runContext(r)
	defer cancel()

	result, err := s.runner.Run(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed("GET"))
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Presets())
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed("GET"))
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Providers())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "排队服务未启用"))
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		writeError(w, errMethodNotAllowed("GET/POST"))
	}
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req task.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	submitted, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

// runList 是 GET /api/v1/runs 的响应。
type runList struct {
	Runs  []*task.Task `json:"runs"`
	Stats task.Summary `json:"stats"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.tasks.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runList{Runs: runs, Stats: stats})
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed("GET"))
		return
	}
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "排队服务未启用"))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/runs/"), "/")
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少运行 ID"))
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseFilter 解析 GET /api/v1/runs 的查询参数：limit、offset、status（逗号分隔）、
// mode、preset、has_result 与 order=asc。
func parseFilter(r *http.Request) (task.Filter, error) {
	q := r.URL.Query()
	filter := task.Filter{
		Mode:        relay.Mode(q.Get("mode")),
		Preset:      q.Get("preset"),
		OldestFirst: q.Get("order") == "asc",
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return task.Filter{}, err
	}
	if filter.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return task.Filter{}, err
	}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return task.Filter{}, xerrors.New(xerrors.CodeInvalidArgument, "未知的状态: "+part)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := q.Get("has_result"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return task.Filter{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "has_result 不是布尔值")
		}
		filter.HasResult = &has
	}
	return filter, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, name+" 不是整数")
	}
	return n, nil
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

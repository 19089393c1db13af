package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/observability/metrics"
	"MultiAI-Relay/internal/task"
)

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 按错误码映射 HTTP 状态，配置类错误一律返回 400。
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if coded, ok := xerrors.From(err); ok {
		body.Message = coded.Message()
		body.Metadata = coded.Metadata()
	}
	writeJSON(w, statusOf(err), struct {
		Error errorBody `json:"error"`
	}{Error: body})
}

func statusOf(err error) int {
	if xerrors.IsConfiguration(err) {
		return http.StatusBadRequest
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case codeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const codeMethodNotAllowed xerrors.Code = "METHOD_NOT_ALLOWED"

func init() {
	xerrors.Register(codeMethodNotAllowed, xerrors.Attributes{
		Message:  "method not allowed",
		Severity: xerrors.SeverityInfo,
	})
}

func errMethodNotAllowed(allowed string) error {
	return xerrors.New(codeMethodNotAllowed, "仅支持 "+allowed)
}

// statusRecorder 记录写出的状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush 透传给底层 ResponseWriter，SSE 依赖它。
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(routeOf(r.URL.Path), r.Method, rec.status, time.Since(started))
	})
}

// knownRoutes 是指标中允许出现的 handler 标签。
var knownRoutes = map[string]struct{}{
	"/api/v1/stream":    {},
	"/api/v1/query":     {},
	"/api/v1/presets":   {},
	"/api/v1/providers": {},
	"/api/v1/runs":      {},
	"/healthz":          {},
	"/metrics":          {},
}

// routeOf 把带 ID 的路径归一，未注册的路径统一记为 other，避免指标标签基数膨胀。
func routeOf(path string) string {
	if strings.HasPrefix(path, "/api/v1/runs/") {
		return "/api/v1/runs/{id}"
	}
	if _, ok := knownRoutes[path]; ok {
		return path
	}
	return "other"
}

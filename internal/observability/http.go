package observability

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const traceHeader = "X-Trace-ID"

// RoundTripper tags outgoing API requests with a trace id, logs them and
// records request metrics. Request headers other than the trace id are
// never logged.
type RoundTripper struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func NewRoundTripper(base http.RoundTripper, logger *slog.Logger) *RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RoundTripper{base: base, logger: logger}
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	traceID := TraceIDFromContext(req.Context())
	if traceID == "" {
		traceID = uuid.NewString()
	}
	outgoing := req.Clone(req.Context())
	outgoing.Header.Set(traceHeader, traceID)

	resp, err := rt.base.RoundTrip(outgoing)
	elapsed := time.Since(start)
	route := RouteTemplate(req.URL.Path)

	status := "error"
	switch {
	case err == nil:
		status = strconv.Itoa(resp.StatusCode)
	case req.Context().Err() != nil:
		status = "canceled"
	}
	apiRequestsTotal.WithLabelValues(req.Method, route, status).Inc()
	apiRequestDurationSeconds.WithLabelValues(req.Method, route, status).Observe(elapsed.Seconds())

	if err != nil {
		level := slog.LevelWarn
		if status == "canceled" {
			level = slog.LevelDebug
		}
		rt.logger.Log(req.Context(), level, "api_request_failed",
			slog.String("trace_id", traceID),
			slog.String("method", req.Method),
			slog.String("route", route),
			slog.String("status", status),
			slog.String("duration", elapsed.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	rt.logger.DebugContext(req.Context(), "api_request",
		slog.String("trace_id", traceID),
		slog.String("method", req.Method),
		slog.String("route", route),
		slog.Int("status", resp.StatusCode),
		slog.String("duration", elapsed.String()),
		slog.Int64("bytes", resp.ContentLength),
	)
	return resp, nil
}

// RouteTemplate replaces execution and query ids in an API path with {id}
// so metric labels stay bounded. Any base path before /v1/ is dropped.
func RouteTemplate(path string) string {
	if i := strings.Index(path, "/v1/"); i >= 0 {
		path = path[i:]
	}
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		switch parts[i-1] {
		case "execution", "query":
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

package handlers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/observability"
)

// maxRequestIDLength caps client-supplied request ids before they reach logs.
const maxRequestIDLength = 128

// statusRecorder remembers what the handler sent. A hijacked connection is a
// tracking websocket whose lifetime is the session, not a request.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	bytes    int
	hijacked bool
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := hijacker.Hijack()
	if err == nil {
		w.hijacked = true
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *statusRecorder) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// RequestLogger assigns the request id, puts a request-scoped logger in the
// context and logs one line per request once the handler returns.
func (h *Handlers) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeLabel(r)
		requestID := requestIDFromRequest(r)
		w.Header().Set("X-Request-ID", requestID)

		logger := requestLogger(h.logger, r, route, requestID)
		ctx := logging.WithRequestID(logging.WithLogger(r.Context(), logger), requestID)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		status := rec.statusCode()

		if rec.hijacked {
			observability.MeterFromContext(ctx).Distribution(observability.MetricTrackingSessionLen,
				float64(elapsed.Milliseconds()), sentry.WithUnit(sentry.UnitMillisecond))
			logger.Info("tracking session closed", "duration", elapsed.Round(time.Second).String())
			return
		}

		recordRequestMetrics(ctx, r.Method, route, status, elapsed)

		level := slog.LevelInfo
		switch {
		case route == "health":
			level = slog.LevelDebug
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "request completed",
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"bytes", rec.bytes,
		)
	})
}

func requestLogger(base *slog.Logger, r *http.Request, route, requestID string) *slog.Logger {
	args := []any{
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_ip", clientIP(r),
	}
	if route != "" {
		args = append(args, "route", route)
	}
	if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
		args = append(args, "user_agent", ua)
	}
	if r.ContentLength > 0 {
		args = append(args, "content_length", r.ContentLength)
	}
	return withRouteIDs(base.With(args...), route, mux.Vars(r))
}

func recordRequestMetrics(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unknown"
	}
	attrs := []attribute.Builder{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	}
	meter := observability.MeterFromContext(ctx)
	meter.Count(observability.MetricHTTPRequests, 1, sentry.WithAttributes(attrs...))
	meter.Distribution(observability.MetricHTTPDuration, float64(elapsed.Milliseconds()),
		sentry.WithUnit(sentry.UnitMillisecond),
		sentry.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.String("http.status_class", fmt.Sprintf("%dxx", status/100)),
		),
	)
	if status >= http.StatusInternalServerError {
		meter.Count(observability.MetricHTTPErrors, 1, sentry.WithAttributes(attrs...))
	}
}

// requestIDFromRequest keeps a caller's X-Request-ID when it is short and
// printable, otherwise it mints a new one.
func requestIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if id == "" || len(id) > maxRequestIDLength || strings.ContainsFunc(id, func(c rune) bool { return c < 0x21 || c > 0x7e }) {
		return uuid.NewString()
	}
	return id
}

func clientIP(r *http.Request) string {
	if forwarded, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(forwarded) != "" {
		return strings.TrimSpace(forwarded)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// routeLabel is the mux route name, falling back to its path template.
func routeLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	if name := route.GetName(); name != "" {
		return name
	}
	template, _ := route.GetPathTemplate()
	return template
}

// withRouteIDs tags the request logger with the order or printer the route
// acts on so queue and webhook logs can be joined with access logs.
func withRouteIDs(logger *slog.Logger, route string, vars map[string]string) *slog.Logger {
	orderID := vars["orderId"]
	if orderID == "" && strings.HasPrefix(route, "orders.") {
		orderID = vars["id"]
	}
	if orderID != "" {
		logger = logger.With("order_id", orderID)
	}
	if printerID := vars["printerId"]; printerID != "" {
		logger = logger.With("printer_id", printerID)
	}
	return logger
}

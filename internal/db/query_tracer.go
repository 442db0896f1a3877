package db

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/jackc/pgx/v5"

	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/observability"
)

const slowQueryThreshold = 250 * time.Millisecond

type tracedQueryKey struct{}

// tracedQuery carries what TraceQueryStart learned through to TraceQueryEnd.
type tracedQuery struct {
	operation string
	table     string
	started   time.Time
	span      *sentry.Span
}

// queryTracer opens a Sentry span per query when the caller is traced, counts
// failures per table and logs queries slower than slowQueryThreshold.
type queryTracer struct {
	logger *slog.Logger
	slow   time.Duration
	now    func() time.Time
}

func newQueryTracer(logger *slog.Logger) *queryTracer {
	return &queryTracer{
		logger: logging.FromContext(context.Background(), logger).With("component", "db"),
		slow:   slowQueryThreshold,
		now:    time.Now,
	}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	query := normalizeQuery(data.SQL)
	traced := &tracedQuery{
		operation: queryOperation(query),
		table:     queryTable(query),
		started:   t.now(),
	}

	if sentry.SpanFromContext(ctx) != nil {
		span := sentry.StartSpan(
			ctx,
			"db.query",
			sentry.WithDescription(query),
			sentry.WithSpanOrigin(sentry.SpanOriginManual),
		)
		span.SetData("db.system", "postgresql")
		if traced.operation != "" {
			span.SetData("db.operation", traced.operation)
		}
		if traced.table != "" {
			span.SetData("db.sql.table", traced.table)
		}
		traced.span = span
		ctx = span.Context()
	}

	return context.WithValue(ctx, tracedQueryKey{}, traced)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	traced, _ := ctx.Value(tracedQueryKey{}).(*tracedQuery)
	if traced == nil {
		return
	}
	elapsed := t.now().Sub(traced.started)

	if data.Err != nil {
		observability.MeterFromContext(ctx).Count("db.query.errors", 1, sentry.WithAttributes(
			attribute.String("db.operation", traced.operation),
			attribute.String("db.sql.table", traced.table),
		))
	}
	if elapsed >= t.slow {
		logging.FromContext(ctx, t.logger).Warn("slow query",
			"operation", traced.operation,
			"table", traced.table,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	span := traced.span
	if span == nil {
		return
	}
	if data.Err != nil {
		span.Status = sentry.SpanStatusInternalError
		span.SetData("db.error", data.Err.Error())
	} else {
		span.Status = sentry.SpanStatusOK
	}
	if rowsAffected := data.CommandTag.RowsAffected(); rowsAffected >= 0 {
		span.SetData("db.rows_affected", rowsAffected)
	}
	span.Finish()
}

func normalizeQuery(query string) string {
	normalized := strings.TrimSpace(query)
	if normalized == "" {
		return "sql.query"
	}

	normalized = strings.Join(strings.Fields(normalized), " ")
	const maxLen = 512
	if len(normalized) > maxLen {
		return normalized[:maxLen]
	}
	return normalized
}

func queryOperation(query string) string {
	if query == "" {
		return ""
	}

	parts := strings.Fields(query)
	if len(parts) == 0 {
		return ""
	}
	return strings.ToUpper(parts[0])
}

// queryTable returns the first table named after FROM, INTO or UPDATE.
func queryTable(query string) string {
	parts := strings.Fields(query)
	for i := 0; i+1 < len(parts); i++ {
		switch strings.ToUpper(parts[i]) {
		case "FROM", "INTO", "UPDATE":
			table := strings.Trim(parts[i+1], "(),;")
			if table != "" && !strings.HasPrefix(table, "$") {
				return strings.ToLower(table)
			}
		}
	}
	return ""
}

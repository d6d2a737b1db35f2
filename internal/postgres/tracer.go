package postgres

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// slowQueryThreshold promotes a query log line to a warning. Incident
// writes sit on the dispatch path; a slow one delays delivery updates.
const slowQueryThreshold = 250 * time.Millisecond

type ctxKey string

const ctxKeyOperation ctxKey = "db.operation"

type queryInfoKey struct{}

// queryInfo carries per-query state from TraceQueryStart to TraceQueryEnd.
type queryInfo struct {
	sql   string
	op    string
	start time.Time
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
// operation is the store operation tag set via WithOperation; route is the
// chi route pattern when the query runs on a request path. Both fall back
// to "unknown" for timer- and cron-driven queries.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, route, outcome string, dur time.Duration) {
	f(ctx, operation, route, outcome, dur)
}

var queryObserver atomic.Pointer[queryObserverHolder]

type queryObserverHolder struct{ QueryObserver }

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// WithOperation tags the context with the store operation issuing the
// queries that follow, e.g. "incident.append_update". Query logs and
// metrics then read in pipeline terms even for queries fired by
// escalation timers or cron jobs, which carry no request context.
func WithOperation(ctx context.Context, op string) context.Context {
	if op == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyOperation, op)
}

func operationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyOperation).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// wrapQueryTracer layers structured logging and metrics over an inner
// tracer (otelpgx).
func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return queryTracer{inner: inner}
}

type queryTracer struct {
	inner pgx.QueryTracer
}

func (t queryTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	info := &queryInfo{
		sql:   data.SQL,
		op:    operationFromContext(ctx),
		start: time.Now(),
	}

	// inner tracer (otelpgx) opens its span first
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if info.op != "" {
		if span := trace.SpanFromContext(ctx); span != nil && span.IsRecording() {
			span.SetAttributes(attribute.String("muster.db.operation", info.op))
		}
	}

	return context.WithValue(ctx, queryInfoKey{}, info)
}

func (t queryTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	// inner tracer first so its span closes correctly
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	info, _ := ctx.Value(queryInfoKey{}).(*queryInfo)
	if info == nil {
		return
	}
	dur := time.Since(info.start)

	op := info.op
	if op == "" {
		op = "unknown"
	}

	if obs := getQueryObserver(); obs != nil {
		route := routePatternFromContext(ctx)
		if route == "" {
			route = "unknown"
		}
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, op, route, outcome, dur)
	}

	L := log.FromContext(ctx)

	// incident rows carry event snapshots with responder identities, so
	// query arguments stay out of the logs
	fields := []any{
		"db.statement", compactSQL(info.sql),
		"db.operation", op,
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		fields = append(fields,
			"pg.command_tag", tag,
			"db.rows", data.CommandTag.RowsAffected(),
		)
	}

	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	if dur >= slowQueryThreshold {
		L.Warn(ctx, "slow db query", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

// compactSQL collapses a multi-line statement literal to one line for
// log output.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

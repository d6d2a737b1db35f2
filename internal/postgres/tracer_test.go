package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestWithOperation_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithOperation(context.Background(), "incident.create")
	if got := operationFromContext(ctx); got != "incident.create" {
		t.Errorf("operationFromContext = %q, want %q", got, "incident.create")
	}
}

func TestWithOperation_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithOperation(context.Background(), "")
	if got := operationFromContext(ctx); got != "" {
		t.Errorf("operationFromContext = %q, want empty", got)
	}
}

func TestCompactSQL(t *testing.T) {
	t.Parallel()

	in := `INSERT INTO incidents (id, event_id)
		 VALUES ($1, $2)
		 ON CONFLICT (event_id) DO NOTHING`
	want := "INSERT INTO incidents (id, event_id) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING"
	if got := compactSQL(in); got != want {
		t.Errorf("compactSQL = %q, want %q", got, want)
	}
}

// not parallel: exercises the global observer
func TestQueryTracer_ObservesOperation(t *testing.T) {
	defer SetQueryObserver(nil)

	var gotOp, gotRoute, gotOutcome string
	var gotDur time.Duration
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, route, outcome string, dur time.Duration) {
		gotOp, gotRoute, gotOutcome, gotDur = op, route, outcome, dur
	}))

	tr := wrapQueryTracer(nil)
	ctx := WithOperation(context.Background(), "incident.append_update")
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{
		SQL: "INSERT INTO incident_updates (incident_id) VALUES ($1)",
	})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("INSERT 0 1"),
	})

	if gotOp != "incident.append_update" {
		t.Errorf("operation = %q, want incident.append_update", gotOp)
	}
	if gotRoute != "unknown" {
		t.Errorf("route = %q, want unknown off the request path", gotRoute)
	}
	if gotOutcome != "ok" {
		t.Errorf("outcome = %q, want ok", gotOutcome)
	}
	if gotDur <= 0 {
		t.Errorf("duration = %v, want positive", gotDur)
	}
}

// not parallel: exercises the global observer
func TestQueryTracer_ErrorOutcome(t *testing.T) {
	defer SetQueryObserver(nil)

	var gotOp, gotOutcome string
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, _, outcome string, _ time.Duration) {
		gotOp, gotOutcome = op, outcome
	}))

	tr := wrapQueryTracer(nil)
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL: "SELECT 1",
	})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{
		Err: errors.New("connection reset"),
	})

	if gotOp != "unknown" {
		t.Errorf("operation = %q, want unknown when untagged", gotOp)
	}
	if gotOutcome != "error" {
		t.Errorf("outcome = %q, want error", gotOutcome)
	}
}

// not parallel: exercises the global observer
func TestSetQueryObserver_Clear(t *testing.T) {
	called := false
	SetQueryObserver(QueryObserverFunc(func(context.Context, string, string, string, time.Duration) {
		called = true
	}))
	if getQueryObserver() == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	getQueryObserver().ObserveQuery(context.Background(), "incident.get", "/incidents", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if getQueryObserver() != nil {
		t.Error("expected nil observer after Set(nil)")
	}
}

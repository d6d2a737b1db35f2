// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/muster/internal/incident"
	"github.com/linnemanlabs/muster/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/muster/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists incidents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(postgres.WithOperation(ctx, "incident.schema"), schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Create opens an incident. ON CONFLICT on event_id makes retried
// ingestion a no-op.
func (s *Store) Create(ctx context.Context, inc *incident.Incident) error {
	ctx = postgres.WithOperation(ctx, "incident.create")
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	eventJSON, err := json.Marshal(inc.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO incidents (id, event_id, scenario, priority, event, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (event_id) DO NOTHING`,
		inc.ID, inc.EventID, inc.Scenario, inc.Priority, eventJSON, inc.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

const incidentColumns = `id, event_id, scenario, priority, event, created_at`

// Get retrieves an incident and its timeline by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx = postgres.WithOperation(ctx, "incident.get")
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	return s.fetch(ctx, span, query, id)
}

// GetByEvent retrieves the incident opened for an event.
func (s *Store) GetByEvent(ctx context.Context, eventID string) (*incident.Incident, bool, error) {
	ctx = postgres.WithOperation(ctx, "incident.get_by_event")
	ctx, span := tracer.Start(ctx, "pgstore.GetByEvent", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE event_id = $1`
	return s.fetch(ctx, span, query, eventID)
}

// AppendUpdate appends a timeline entry, assigning the next sequence
// number inside the transaction.
func (s *Store) AppendUpdate(ctx context.Context, incidentID string, u *incident.Update) error {
	ctx = postgres.WithOperation(ctx, "incident.append_update")
	ctx, span := tracer.Start(ctx, "pgstore.AppendUpdate", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, incidentID,
	).Scan(&exists); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("check incident: %w", err)
	}
	if !exists {
		return fmt.Errorf("incident %s not found", incidentID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO incident_updates (incident_id, seq, kind, actor, detail, created_at)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5
		 FROM incident_updates WHERE incident_id = $1`,
		incidentID, u.Kind, u.Actor, u.Detail, u.At,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns the most recently created incidents, newest first, without
// timelines.
func (s *Store) List(ctx context.Context, limit int) ([]*incident.Incident, error) {
	ctx = postgres.WithOperation(ctx, "incident.list")
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

func (s *Store) fetch(ctx context.Context, span trace.Span, query, arg string) (*incident.Incident, bool, error) {
	inc, err := scanIncident(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}

	if err := s.loadUpdates(ctx, inc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return inc, true, nil
}

func (s *Store) loadUpdates(ctx context.Context, inc *incident.Incident) error {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, kind, actor, detail, created_at
		 FROM incident_updates WHERE incident_id = $1 ORDER BY seq`,
		inc.ID,
	)
	if err != nil {
		return fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u incident.Update
		if err := rows.Scan(&u.Seq, &u.Kind, &u.Actor, &u.Detail, &u.At); err != nil {
			return fmt.Errorf("scan update: %w", err)
		}
		inc.Updates = append(inc.Updates, u)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate updates: %w", err)
	}
	return nil
}

func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc       incident.Incident
		eventJSON []byte
	)
	err := row.Scan(&inc.ID, &inc.EventID, &inc.Scenario, &inc.Priority, &eventJSON, &inc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := json.Unmarshal(eventJSON, &inc.Event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &inc, nil
}

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, typ string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}

	query := `INSERT INTO audit_events (id, type, payload, created_at) VALUES ($1, $2, $3, $4)`

	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), typ, body, time.Now().UTC()); err != nil {
		return fmt.Errorf("audit: append event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByType(ctx context.Context, typ string) ([]*Event, error) {
	query := `SELECT id, type, payload, created_at FROM audit_events WHERE type = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, typ)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (r *PostgresRepository) ListSince(ctx context.Context, since time.Time) ([]*Event, error) {
	query := `SELECT id, type, payload, created_at FROM audit_events WHERE created_at >= $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var (
			e    Event
			body []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &e.Payload); err != nil {
				return nil, fmt.Errorf("audit: decode payload: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return events, nil
}

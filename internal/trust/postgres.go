package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
)

type PostgresScoreRepository struct {
	db dbx.DBTX
}

func NewPostgresScoreRepository(db dbx.DBTX) *PostgresScoreRepository {
	return &PostgresScoreRepository{db: db}
}

func (r *PostgresScoreRepository) Get(ctx context.Context, subject fhe.Principal) (*TrustRecord, error) {
	query := `SELECT score_handle, has_score, last_update FROM trust_scores WHERE subject = $1`

	var (
		handle     sql.NullString
		hasScore   bool
		lastUpdate sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, string(subject)).Scan(&handle, &hasScore, &lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	rec := &TrustRecord{Subject: subject, HasScore: hasScore}
	if handle.Valid {
		rec.Score = fhe.Handle(handle.String)
	}
	if lastUpdate.Valid {
		rec.LastUpdate = lastUpdate.Time
	}
	return rec, nil
}

func (r *PostgresScoreRepository) Upsert(ctx context.Context, rec *TrustRecord) error {
	query := `
		INSERT INTO trust_scores (subject, score_handle, has_score, last_update)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject) DO UPDATE
		SET score_handle = EXCLUDED.score_handle,
		    has_score = EXCLUDED.has_score,
		    last_update = EXCLUDED.last_update`

	var handle sql.NullString
	if rec.Score != fhe.NilHandle {
		handle = sql.NullString{String: string(rec.Score), Valid: true}
	}
	var lastUpdate sql.NullTime
	if !rec.LastUpdate.IsZero() {
		lastUpdate = sql.NullTime{Time: rec.LastUpdate.UTC(), Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query, string(rec.Subject), handle, rec.HasScore, lastUpdate); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresScoreRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trust_scores WHERE has_score`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return n, nil
}

type PostgresOracleRepository struct {
	db dbx.DBTX
}

func NewPostgresOracleRepository(db dbx.DBTX) *PostgresOracleRepository {
	return &PostgresOracleRepository{db: db}
}

func (r *PostgresOracleRepository) IsAuthorized(ctx context.Context, oracle fhe.Principal) (bool, error) {
	var authorized bool
	err := r.db.QueryRowContext(ctx, `SELECT authorized FROM trust_oracles WHERE oracle = $1`, string(oracle)).Scan(&authorized)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error performing sql request: %w", err)
	}
	return authorized, nil
}

func (r *PostgresOracleRepository) SetAuthorized(ctx context.Context, oracle fhe.Principal, authorized bool) error {
	query := `
		INSERT INTO trust_oracles (oracle, authorized, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (oracle) DO UPDATE
		SET authorized = EXCLUDED.authorized, updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, string(oracle), authorized, time.Now().UTC()); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

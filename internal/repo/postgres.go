// Package repo provides concrete repository managers, wiring repository
// constructors and database migrations (via goose) together.
package repo

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/veilpay/internal/audit"
	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/payroll"
	"github.com/dmitrijs2005/veilpay/internal/repo/migrations"
	"github.com/dmitrijs2005/veilpay/internal/trust"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresManager vends PostgreSQL-backed repository implementations and
// exposes a schema migration hook.
type PostgresManager struct{}

func (m *PostgresManager) Employees(db dbx.DBTX) payroll.EmployeeRepository {
	return payroll.NewPostgresEmployeeRepository(db)
}

func (m *PostgresManager) Payments(db dbx.DBTX) payroll.PaymentRepository {
	return payroll.NewPostgresPaymentRepository(db)
}

func (m *PostgresManager) Runs(db dbx.DBTX) payroll.RunRepository {
	return payroll.NewPostgresRunRepository(db)
}

func (m *PostgresManager) Scores(db dbx.DBTX) trust.ScoreRepository {
	return trust.NewPostgresScoreRepository(db)
}

func (m *PostgresManager) Oracles(db dbx.DBTX) trust.OracleRepository {
	return trust.NewPostgresOracleRepository(db)
}

func (m *PostgresManager) Events(db dbx.DBTX) audit.Repository {
	return audit.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetDialect("pgx")
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresManager constructs a PostgreSQL-backed Manager.
func NewPostgresManager() (Manager, error) {
	return &PostgresManager{}, nil
}

package repo

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/veilpay/internal/audit"
	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/payroll"
	"github.com/dmitrijs2005/veilpay/internal/trust"
)

// Manager vends every repository the engine needs, each bound to a DBTX so
// writes from one call can share a transaction. It satisfies both
// trust.RepoManager and payroll.RepoManager.
type Manager interface {
	RunMigrations(context.Context, *sql.DB) error
	Employees(db dbx.DBTX) payroll.EmployeeRepository
	Payments(db dbx.DBTX) payroll.PaymentRepository
	Runs(db dbx.DBTX) payroll.RunRepository
	Scores(db dbx.DBTX) trust.ScoreRepository
	Oracles(db dbx.DBTX) trust.OracleRepository
	Events(db dbx.DBTX) audit.Repository
}

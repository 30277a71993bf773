package repo

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/veilpay/internal/audit"
	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/payroll"
	"github.com/dmitrijs2005/veilpay/internal/trust"
)

// InMemoryManager vends map-backed repositories. The DBTX argument is
// ignored: every caller gets the same shared instances, so there are no
// transactional semantics. Used in tests and local runs without a database.
type InMemoryManager struct {
	employees payroll.EmployeeRepository
	payments  payroll.PaymentRepository
	runs      payroll.RunRepository
	scores    trust.ScoreRepository
	oracles   trust.OracleRepository
	events    audit.Repository
}

func (m *InMemoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}

func (m *InMemoryManager) Employees(db dbx.DBTX) payroll.EmployeeRepository {
	return m.employees
}

func (m *InMemoryManager) Payments(db dbx.DBTX) payroll.PaymentRepository {
	return m.payments
}

func (m *InMemoryManager) Runs(db dbx.DBTX) payroll.RunRepository {
	return m.runs
}

func (m *InMemoryManager) Scores(db dbx.DBTX) trust.ScoreRepository {
	return m.scores
}

func (m *InMemoryManager) Oracles(db dbx.DBTX) trust.OracleRepository {
	return m.oracles
}

func (m *InMemoryManager) Events(db dbx.DBTX) audit.Repository {
	return m.events
}

// NewInMemoryManager constructs a Manager holding fresh empty repositories.
func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{
		employees: payroll.NewInMemoryEmployeeRepository(),
		payments:  payroll.NewInMemoryPaymentRepository(),
		runs:      payroll.NewInMemoryRunRepository(),
		scores:    trust.NewInMemoryScoreRepository(),
		oracles:   trust.NewInMemoryOracleRepository(),
		events:    audit.NewInMemoryRepository(),
	}
}

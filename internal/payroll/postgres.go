package payroll

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
)

type PostgresEmployeeRepository struct {
	db dbx.DBTX
}

func NewPostgresEmployeeRepository(db dbx.DBTX) *PostgresEmployeeRepository {
	return &PostgresEmployeeRepository{db: db}
}

func scanEmployee(row *sql.Row) (*Employee, error) {
	var (
		e       Employee
		wallet  string
		salary  string
		lastPay sql.NullTime
	)
	err := row.Scan(&wallet, &salary, &e.Active, &e.HireDate, &lastPay, &e.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	e.Wallet = fhe.Principal(wallet)
	e.Salary = fhe.Handle(salary)
	if lastPay.Valid {
		e.LastPayDate = lastPay.Time
	}
	return &e, nil
}

func (r *PostgresEmployeeRepository) Get(ctx context.Context, wallet fhe.Principal) (*Employee, error) {
	query := `SELECT wallet, salary_handle, is_active, hire_date, last_pay_date, role
		FROM employees WHERE wallet = $1`

	return scanEmployee(r.db.QueryRowContext(ctx, query, string(wallet)))
}

func (r *PostgresEmployeeRepository) Create(ctx context.Context, e *Employee) error {
	query := `INSERT INTO employees (wallet, salary_handle, is_active, hire_date, last_pay_date, role)
		VALUES ($1, $2, $3, $4, $5, $6)`

	var lastPay sql.NullTime
	if !e.LastPayDate.IsZero() {
		lastPay = sql.NullTime{Time: e.LastPayDate.UTC(), Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query,
		string(e.Wallet), string(e.Salary), e.Active, e.HireDate.UTC(), lastPay, e.Role); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresEmployeeRepository) Update(ctx context.Context, e *Employee) error {
	query := `UPDATE employees
		SET salary_handle = $2, is_active = $3, last_pay_date = $4, role = $5
		WHERE wallet = $1`

	var lastPay sql.NullTime
	if !e.LastPayDate.IsZero() {
		lastPay = sql.NullTime{Time: e.LastPayDate.UTC(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query, string(e.Wallet), string(e.Salary), e.Active, lastPay, e.Role)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresEmployeeRepository) List(ctx context.Context) ([]*Employee, error) {
	query := `SELECT wallet, salary_handle, is_active, hire_date, last_pay_date, role
		FROM employees ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var employees []*Employee
	for rows.Next() {
		var (
			e       Employee
			wallet  string
			salary  string
			lastPay sql.NullTime
		)
		if err := rows.Scan(&wallet, &salary, &e.Active, &e.HireDate, &lastPay, &e.Role); err != nil {
			return nil, fmt.Errorf("error performing sql request: %w", err)
		}
		e.Wallet = fhe.Principal(wallet)
		e.Salary = fhe.Handle(salary)
		if lastPay.Valid {
			e.LastPayDate = lastPay.Time
		}
		employees = append(employees, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return employees, nil
}

func (r *PostgresEmployeeRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM employees`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return n, nil
}

func (r *PostgresEmployeeRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM employees WHERE is_active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return n, nil
}

type PostgresPaymentRepository struct {
	db dbx.DBTX
}

func NewPostgresPaymentRepository(db dbx.DBTX) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

// Create assigns the id from the payments counter so ids stay dense and
// strictly ordered by creation, independent of any sequence caching.
func (r *PostgresPaymentRepository) Create(ctx context.Context, p *PendingPayment) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = 'next_payment_id' RETURNING value - 1`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}

	query := `INSERT INTO payments (id, employee, amount_handle, status, created_at, release_time, milestone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var releaseTime sql.NullTime
	if !p.ReleaseTime.IsZero() {
		releaseTime = sql.NullTime{Time: p.ReleaseTime.UTC(), Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query,
		id, string(p.Employee), string(p.Amount), int16(p.Status), p.CreatedAt.UTC(), releaseTime, p.Milestone); err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}

	p.ID = id
	return id, nil
}

func (r *PostgresPaymentRepository) Get(ctx context.Context, id int64) (*PendingPayment, error) {
	query := `SELECT id, employee, amount_handle, status, created_at, release_time, milestone
		FROM payments WHERE id = $1`

	var (
		p           PendingPayment
		employee    string
		amount      string
		status      int16
		releaseTime sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &employee, &amount, &status, &p.CreatedAt, &releaseTime, &p.Milestone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	p.Employee = fhe.Principal(employee)
	p.Amount = fhe.Handle(amount)
	p.Status = PaymentStatus(status)
	if releaseTime.Valid {
		p.ReleaseTime = releaseTime.Time
	}
	return &p, nil
}

func (r *PostgresPaymentRepository) UpdateStatus(ctx context.Context, id int64, status PaymentStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE payments SET status = $2 WHERE id = $1`, id, int16(status))
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresPaymentRepository) ListIDsByEmployee(ctx context.Context, wallet fhe.Principal) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM payments WHERE employee = $1 ORDER BY id`, string(wallet))
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error performing sql request: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return ids, nil
}

func (r *PostgresPaymentRepository) ListAll(ctx context.Context) ([]*PendingPayment, error) {
	query := `SELECT id, employee, amount_handle, status, created_at, release_time, milestone
		FROM payments ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var payments []*PendingPayment
	for rows.Next() {
		var (
			p           PendingPayment
			employee    string
			amount      string
			status      int16
			releaseTime sql.NullTime
		)
		if err := rows.Scan(&p.ID, &employee, &amount, &status, &p.CreatedAt, &releaseTime, &p.Milestone); err != nil {
			return nil, fmt.Errorf("error performing sql request: %w", err)
		}
		p.Employee = fhe.Principal(employee)
		p.Amount = fhe.Handle(amount)
		p.Status = PaymentStatus(status)
		if releaseTime.Valid {
			p.ReleaseTime = releaseTime.Time
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return payments, nil
}

func (r *PostgresPaymentRepository) NextID(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = 'next_payment_id'`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return id, nil
}

type PostgresRunRepository struct {
	db dbx.DBTX
}

func NewPostgresRunRepository(db dbx.DBTX) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

func (r *PostgresRunRepository) Create(ctx context.Context, run *PayrollRun) (int64, error) {
	query := `INSERT INTO payroll_runs (executed_at, processed, payments, first_payment_id)
		VALUES ($1, $2, $3, $4) RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		run.ExecutedAt.UTC(), run.Processed, run.Payments, run.FirstPaymentID).Scan(&run.ID)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return run.ID, nil
}

func (r *PostgresRunRepository) Get(ctx context.Context, id int64) (*PayrollRun, error) {
	query := `SELECT id, executed_at, processed, payments, first_payment_id FROM payroll_runs WHERE id = $1`

	var run PayrollRun
	err := r.db.QueryRowContext(ctx, query, id).Scan(&run.ID, &run.ExecutedAt, &run.Processed, &run.Payments, &run.FirstPaymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return &run, nil
}

func (r *PostgresRunRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payroll_runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return n, nil
}

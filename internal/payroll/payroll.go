// Package payroll owns the employee roster, the oblivious batch payroll
// algorithm and the pending-payment lifecycle. Salaries and disbursement
// amounts are ciphertext handles end to end; the routing decision between
// instant, delayed and escrowed disbursement is made with oblivious selects
// so no branch, record count or failure depends on an employee's tier.
package payroll

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
)

const (
	// BatchLimit caps the number of active employees one ExecutePayroll
	// call processes. The scan always starts at the head of the roster.
	BatchLimit = 50

	// ReleaseDelay is the time lock applied to medium-trust payments.
	ReleaseDelay = 24 * time.Hour

	// MilestoneUnscored marks escrow records created for employees with no
	// live trust score.
	MilestoneUnscored = "Pending employer approval"

	// MilestoneLowTrust marks escrow records created on the scored
	// low-trust path.
	MilestoneLowTrust = "Low trust: employer approval required"
)

var (
	ErrZeroAddress             = errors.New("payroll: zero address")
	ErrUnauthorized            = errors.New("payroll: caller is not the owner")
	ErrNotEmployer             = errors.New("payroll: caller is not the employer")
	ErrEmployeeAlreadyExists   = errors.New("payroll: employee already exists")
	ErrEmployeeNotFound        = errors.New("payroll: employee not found")
	ErrEmployeeNotActive       = errors.New("payroll: employee is not active")
	ErrPaymentNotFound         = errors.New("payroll: payment not found")
	ErrPaymentNotReleasable    = errors.New("payroll: payment is not releasable")
	ErrPaymentAlreadyProcessed = errors.New("payroll: payment already processed")
	ErrDelayNotElapsed         = errors.New("payroll: release delay not elapsed")
	ErrPayrollInProgress       = errors.New("payroll: execution already in progress")

	// ErrNotFound is the repository-level miss.
	ErrNotFound = errors.New("payroll: record not found")
)

// PaymentStatus is the pending-payment state machine. Transitions are
// one-directional: None -> {Instant|Delayed|Escrowed} -> Released or
// Completed. Instant, Released and Completed are terminal.
type PaymentStatus uint8

const (
	StatusNone PaymentStatus = iota
	StatusInstant
	StatusDelayed
	StatusEscrowed
	StatusReleased
	StatusCompleted
)

func (s PaymentStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusInstant:
		return "instant"
	case StatusDelayed:
		return "delayed"
	case StatusEscrowed:
		return "escrowed"
	case StatusReleased:
		return "released"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Employee is one roster record. Records are never deleted: removal only
// flips Active, and a wallet that ever held a record can never be re-added.
type Employee struct {
	Wallet      fhe.Principal
	Salary      fhe.Handle
	Active      bool
	HireDate    time.Time
	LastPayDate time.Time
	Role        string
}

// PendingPayment is one disbursement record. Instant records are pure audit
// trail (the transfer already happened); Delayed and Escrowed wait for
// release or cancellation.
type PendingPayment struct {
	ID          int64
	Employee    fhe.Principal
	Amount      fhe.Handle
	Status      PaymentStatus
	CreatedAt   time.Time
	ReleaseTime time.Time
	Milestone   string
}

// PayrollRun is the persisted summary of one ExecutePayroll call.
type PayrollRun struct {
	ID             int64
	ExecutedAt     time.Time
	Processed      int
	Payments       int
	FirstPaymentID int64
}

// EmployeeRepository stores the roster. List returns insertion order, which
// is the order payroll processes.
type EmployeeRepository interface {
	Get(ctx context.Context, wallet fhe.Principal) (*Employee, error)
	Create(ctx context.Context, e *Employee) error
	Update(ctx context.Context, e *Employee) error
	List(ctx context.Context) ([]*Employee, error)
	Count(ctx context.Context) (int, error)
	CountActive(ctx context.Context) (int, error)
}

// PaymentRepository stores pending payments. Create assigns ids from a
// strictly monotonic counter starting at zero, so id order is creation order
// and NextID equals the number of records ever created.
type PaymentRepository interface {
	Create(ctx context.Context, p *PendingPayment) (int64, error)
	Get(ctx context.Context, id int64) (*PendingPayment, error)
	UpdateStatus(ctx context.Context, id int64, status PaymentStatus) error
	ListIDsByEmployee(ctx context.Context, wallet fhe.Principal) ([]int64, error)
	ListAll(ctx context.Context) ([]*PendingPayment, error)
	NextID(ctx context.Context) (int64, error)
}

// RunRepository stores payroll-run summaries.
type RunRepository interface {
	Create(ctx context.Context, run *PayrollRun) (int64, error)
	Get(ctx context.Context, id int64) (*PayrollRun, error)
	Count(ctx context.Context) (int64, error)
}

// RepoManager yields the repositories the service needs, bound to a
// database handle so one call's writes share one transaction.
type RepoManager interface {
	Employees(db dbx.DBTX) EmployeeRepository
	Payments(db dbx.DBTX) PaymentRepository
	Runs(db dbx.DBTX) RunRepository
}

// TrustSource is what the payroll engine needs from the trust registry.
// Implemented by trust.Registry.
type TrustSource interface {
	HasScore(ctx context.Context, subject fhe.Principal) (bool, error)
	IsHighTrust(ctx context.Context, caller, subject fhe.Principal) (fhe.Handle, error)
	IsMediumTrust(ctx context.Context, caller, subject fhe.Principal) (fhe.Handle, error)
}

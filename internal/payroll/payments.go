package payroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/veilpay/internal/audit"
	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
)

// ReleasePayment settles a pending payment. Delayed payments are releasable
// by anyone once the delay has elapsed (keepers use this); escrowed payments
// only by the employer. Everything else fails with ErrPaymentNotReleasable,
// which keeps Instant records terminal.
func (s *Service) ReleasePayment(ctx context.Context, caller fhe.Principal, id int64) error {
	var settled []pendingTransfer
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		payments := s.repos.Payments(tx)

		p, err := payments.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("payroll: load payment: %w", err)
		}

		switch p.Status {
		case StatusDelayed:
			if s.now().Before(p.ReleaseTime) {
				return ErrDelayNotElapsed
			}
		case StatusEscrowed:
			if caller != s.employerAddr() {
				return ErrNotEmployer
			}
		default:
			return ErrPaymentNotReleasable
		}

		if err := payments.UpdateStatus(ctx, id, StatusReleased); err != nil {
			return fmt.Errorf("payroll: update payment: %w", err)
		}

		if err := s.events(tx).Append(ctx, audit.TypePaymentReleased, map[string]any{
			"payment":  id,
			"employee": string(p.Employee),
		}); err != nil {
			return err
		}

		// the transfer is the last effect: a failure anywhere above rolls
		// back with the ledger untouched
		if err := s.payToken().ConfidentialTransfer(ctx, s.account, p.Employee, p.Amount); err != nil {
			return fmt.Errorf("payroll: release transfer: %w", err)
		}
		settled = []pendingTransfer{{to: p.Employee, amount: p.Amount}}
		return nil
	})
	if err != nil {
		// commit failed after the transfer executed
		s.refundTransfers(ctx, settled)
		return err
	}
	return nil
}

// CancelPayment voids a Delayed or Escrowed payment without a transfer.
// Employer only. The record flips to Completed, the terminal state shared
// by cancellation and settlement-via-cancellation.
func (s *Service) CancelPayment(ctx context.Context, caller fhe.Principal, id int64) error {
	if err := s.requireEmployer(caller); err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		payments := s.repos.Payments(tx)

		p, err := payments.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("payroll: load payment: %w", err)
		}

		if p.Status != StatusDelayed && p.Status != StatusEscrowed {
			return ErrPaymentAlreadyProcessed
		}

		if err := payments.UpdateStatus(ctx, id, StatusCompleted); err != nil {
			return fmt.Errorf("payroll: update payment: %w", err)
		}

		return s.events(tx).Append(ctx, audit.TypePaymentCancelled, map[string]any{
			"payment":  id,
			"employee": string(p.Employee),
		})
	})
}

// GetEmployee returns the roster record for a wallet.
func (s *Service) GetEmployee(ctx context.Context, wallet fhe.Principal) (*Employee, error) {
	e, err := s.repos.Employees(s.db).Get(ctx, wallet)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrEmployeeNotFound
		}
		return nil, fmt.Errorf("payroll: load employee: %w", err)
	}
	return e, nil
}

// GetEmployeeList returns all wallets in roster (insertion) order.
func (s *Service) GetEmployeeList(ctx context.Context) ([]fhe.Principal, error) {
	employees, err := s.repos.Employees(s.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("payroll: list employees: %w", err)
	}
	wallets := make([]fhe.Principal, 0, len(employees))
	for _, e := range employees {
		wallets = append(wallets, e.Wallet)
	}
	return wallets, nil
}

// IsActiveEmployee reports whether the wallet is on the roster and active.
func (s *Service) IsActiveEmployee(ctx context.Context, wallet fhe.Principal) (bool, error) {
	e, err := s.repos.Employees(s.db).Get(ctx, wallet)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("payroll: load employee: %w", err)
	}
	return e.Active, nil
}

// EmployeeCount returns the total roster size, removed employees included.
func (s *Service) EmployeeCount(ctx context.Context) (int, error) {
	return s.repos.Employees(s.db).Count(ctx)
}

// ActiveEmployeeCount returns the number of active employees.
func (s *Service) ActiveEmployeeCount(ctx context.Context) (int, error) {
	return s.repos.Employees(s.db).CountActive(ctx)
}

// GetPendingPayment returns one payment record.
func (s *Service) GetPendingPayment(ctx context.Context, id int64) (*PendingPayment, error) {
	p, err := s.repos.Payments(s.db).Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payroll: load payment: %w", err)
	}
	return p, nil
}

// GetPendingPaymentsForEmployee returns the ids of all payments ever
// created for a wallet, in creation order.
func (s *Service) GetPendingPaymentsForEmployee(ctx context.Context, wallet fhe.Principal) ([]int64, error) {
	return s.repos.Payments(s.db).ListIDsByEmployee(ctx, wallet)
}

// GetReleasablePayments returns the ids of payments a release call could
// settle right now: matured Delayed ones and all Escrowed ones.
func (s *Service) GetReleasablePayments(ctx context.Context) ([]int64, error) {
	all, err := s.repos.Payments(s.db).ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("payroll: list payments: %w", err)
	}

	now := s.now()
	var ids []int64
	for _, p := range all {
		switch p.Status {
		case StatusDelayed:
			if !now.Before(p.ReleaseTime) {
				ids = append(ids, p.ID)
			}
		case StatusEscrowed:
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// NextPaymentID returns the id the next created payment will receive, which
// is also the number of payments ever created.
func (s *Service) NextPaymentID(ctx context.Context) (int64, error) {
	return s.repos.Payments(s.db).NextID(ctx)
}

// PayrollRunCount returns the number of completed payroll runs.
func (s *Service) PayrollRunCount(ctx context.Context) (int64, error) {
	return s.repos.Runs(s.db).Count(ctx)
}

// GetPayrollRun returns one run summary.
func (s *Service) GetPayrollRun(ctx context.Context, id int64) (*PayrollRun, error) {
	run, err := s.repos.Runs(s.db).Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("payroll: load run: %w", err)
	}
	return run, nil
}

package payroll

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/veilpay/internal/audit"
	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
)

// ExecutePayroll processes up to BatchLimit active employees in roster
// order and returns the number processed. Employer only; a run that is
// already in progress fails with ErrPayrollInProgress.
//
// For a scored employee every disbursement path executes unconditionally:
//
//	instant  = select(isHigh, salary, 0)
//	remaining = salary - instant
//	delayed  = select(isMedium, remaining, 0)
//	escrow   = remaining - delayed
//
// Exactly one of the three carries the salary because the booleans come from
// the same score, but nothing in the control flow, the record count or the
// transfer sequence depends on which. Employees with no live score route
// their full salary into a single escrow record instead.
func (s *Service) ExecutePayroll(ctx context.Context, caller fhe.Principal) (int, error) {
	if err := s.requireEmployer(caller); err != nil {
		return 0, err
	}
	if !s.executing.CompareAndSwap(false, true) {
		return 0, ErrPayrollInProgress
	}
	defer s.executing.Store(false)

	ctx = fhe.WithCallScope(ctx)

	processed := 0
	var settled []pendingTransfer
	err := dbx.WithSerializableTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		employees, err := s.repos.Employees(tx).List(ctx)
		if err != nil {
			return fmt.Errorf("payroll: list employees: %w", err)
		}

		payments := s.repos.Payments(tx)
		firstID, err := payments.NextID(ctx)
		if err != nil {
			return fmt.Errorf("payroll: next payment id: %w", err)
		}

		created := 0
		var transfers []pendingTransfer
		for _, e := range employees {
			if !e.Active {
				continue
			}
			if processed == BatchLimit {
				break
			}

			n, trs, err := s.payEmployee(ctx, tx, e)
			if err != nil {
				return err
			}
			created += n
			transfers = append(transfers, trs...)

			e.LastPayDate = s.now()
			if err := s.repos.Employees(tx).Update(ctx, e); err != nil {
				return fmt.Errorf("payroll: update employee: %w", err)
			}
			processed++
		}

		run := &PayrollRun{
			ExecutedAt:     s.now(),
			Processed:      processed,
			Payments:       created,
			FirstPaymentID: firstID,
		}
		runID, err := s.repos.Runs(tx).Create(ctx, run)
		if err != nil {
			return fmt.Errorf("payroll: record run: %w", err)
		}

		if err := s.events(tx).Append(ctx, audit.TypePayrollExecuted, map[string]any{
			"run":       runID,
			"processed": processed,
		}); err != nil {
			return err
		}

		// ledger movements are the last effect inside the transaction: a
		// failure anywhere above rolls back with no money moved
		if err := s.settleTransfers(ctx, transfers); err != nil {
			return err
		}
		settled = transfers
		return nil
	})
	if err != nil {
		// commit failed after the movements executed
		s.refundTransfers(ctx, settled)
		return 0, err
	}

	s.logger.Info(ctx, "payroll executed", "processed", processed)
	return processed, nil
}

// pendingTransfer is a ledger movement deferred until every database write
// in the surrounding transaction has succeeded, so a rollback never leaves
// money moved.
type pendingTransfer struct {
	to     fhe.Principal
	amount fhe.Handle
}

// settleTransfers executes the collected movements in order. If one fails,
// the ones already executed are refunded before the error is returned.
func (s *Service) settleTransfers(ctx context.Context, transfers []pendingTransfer) error {
	for i, tr := range transfers {
		if err := s.payToken().ConfidentialTransfer(ctx, s.account, tr.to, tr.amount); err != nil {
			s.refundTransfers(ctx, transfers[:i])
			return fmt.Errorf("payroll: instant transfer: %w", err)
		}
	}
	return nil
}

// refundTransfers compensates executed ledger movements after the
// surrounding transaction failed. Refund errors are logged, not returned:
// the call is already failing.
func (s *Service) refundTransfers(ctx context.Context, transfers []pendingTransfer) {
	for _, tr := range transfers {
		if err := s.payToken().ConfidentialTransfer(ctx, tr.to, s.account, tr.amount); err != nil {
			s.logger.Error(ctx, "refund failed", "account", string(tr.to), "error", err.Error())
		}
	}
}

// payEmployee creates this employee's payment records and collects the
// instant transfer for settlement at the end of the transaction. Returns
// the number of records created and the deferred movements.
func (s *Service) payEmployee(ctx context.Context, tx dbx.DBTX, e *Employee) (int, []pendingTransfer, error) {
	scored, err := s.trustSource().HasScore(ctx, e.Wallet)
	if err != nil {
		return 0, nil, fmt.Errorf("payroll: trust lookup: %w", err)
	}

	if !scored {
		// no live score: the whole salary waits for employer approval
		_, err := s.createPayment(ctx, tx, &PendingPayment{
			Employee:  e.Wallet,
			Amount:    e.Salary,
			Status:    StatusEscrowed,
			CreatedAt: s.now(),
			Milestone: MilestoneUnscored,
		}, audit.TypePaymentEscrowed)
		if err != nil {
			return 0, nil, err
		}
		return 1, nil, nil
	}

	instant, delayed, escrow, err := s.routeAmounts(ctx, e)
	if err != nil {
		return 0, nil, err
	}

	now := s.now()
	if _, err := s.createPayment(ctx, tx, &PendingPayment{
		Employee:  e.Wallet,
		Amount:    instant,
		Status:    StatusInstant,
		CreatedAt: now,
	}, audit.TypeInstantPayment); err != nil {
		return 0, nil, err
	}
	if _, err := s.createPayment(ctx, tx, &PendingPayment{
		Employee:    e.Wallet,
		Amount:      delayed,
		Status:      StatusDelayed,
		CreatedAt:   now,
		ReleaseTime: now.Add(ReleaseDelay),
	}, audit.TypePaymentDelayed); err != nil {
		return 0, nil, err
	}
	if _, err := s.createPayment(ctx, tx, &PendingPayment{
		Employee:  e.Wallet,
		Amount:    escrow,
		Status:    StatusEscrowed,
		CreatedAt: now,
		Milestone: MilestoneLowTrust,
	}, audit.TypePaymentEscrowed); err != nil {
		return 0, nil, err
	}

	// the instant transfer always runs; on non-high tiers it moves an
	// encrypted zero
	return 3, []pendingTransfer{{to: e.Wallet, amount: instant}}, nil
}

// routeAmounts computes the three path amounts entirely under encryption.
func (s *Service) routeAmounts(ctx context.Context, e *Employee) (instant, delayed, escrow fhe.Handle, err error) {
	ts := s.trustSource()

	isHigh, err := ts.IsHighTrust(ctx, s.account, e.Wallet)
	if err != nil {
		return fhe.NilHandle, fhe.NilHandle, fhe.NilHandle, fmt.Errorf("payroll: high-trust check: %w", err)
	}
	isMedium, err := ts.IsMediumTrust(ctx, s.account, e.Wallet)
	if err != nil {
		return fhe.NilHandle, fhe.NilHandle, fhe.NilHandle, fmt.Errorf("payroll: medium-trust check: %w", err)
	}

	zero, err := s.engine.Encrypt(ctx, 0, fhe.Nobody)
	if err != nil {
		return fhe.NilHandle, fhe.NilHandle, fhe.NilHandle, fmt.Errorf("payroll: encrypt zero: %w", err)
	}

	instant, err = s.engine.Select(ctx, isHigh, e.Salary, zero)
	if err != nil {
		return fhe.NilHandle, fhe.NilHandle, fhe.NilHandle, fmt.Errorf("payroll: route instant: %w", err)
	}
	remaining, err := s.engine.Sub(ctx, e.Salary, instant)
	if err != nil {
		return fhe.NilHandle, fhe.NilHandle, fhe.NilHandle, fmt.Errorf("payroll: route remaining: %w", err)
	}
	delayed, err = s.engine.Select(ctx, isMedium, remaining, zero)
	if err != nil {
		return fhe.NilHandle, fhe.NilHandle, fhe.NilHandle, fmt.Errorf("payroll: route delayed: %w", err)
	}
	escrow, err = s.engine.Sub(ctx, remaining, delayed)
	if err != nil {
		return fhe.NilHandle, fhe.NilHandle, fhe.NilHandle, fmt.Errorf("payroll: route escrow: %w", err)
	}

	for _, h := range []fhe.Handle{instant, delayed, escrow} {
		if err := s.engine.GrantPermanent(ctx, h, e.Wallet); err != nil {
			return fhe.NilHandle, fhe.NilHandle, fhe.NilHandle, fmt.Errorf("payroll: grant amount: %w", err)
		}
		if err := s.engine.GrantPermanent(ctx, h, s.employerAddr()); err != nil {
			return fhe.NilHandle, fhe.NilHandle, fhe.NilHandle, fmt.Errorf("payroll: grant amount: %w", err)
		}
	}

	return instant, delayed, escrow, nil
}

func (s *Service) createPayment(ctx context.Context, tx dbx.DBTX, p *PendingPayment, eventType string) (int64, error) {
	id, err := s.repos.Payments(tx).Create(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("payroll: create payment: %w", err)
	}

	payload := map[string]any{
		"payment":  id,
		"employee": string(p.Employee),
		"status":   p.Status.String(),
	}
	if p.Milestone != "" {
		payload["milestone"] = p.Milestone
	}
	if err := s.events(tx).Append(ctx, eventType, payload); err != nil {
		return 0, err
	}
	return id, nil
}

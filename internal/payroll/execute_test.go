package payroll

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/veilpay/internal/audit"
	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
	"github.com/dmitrijs2005/veilpay/internal/ledger"
	"github.com/dmitrijs2005/veilpay/internal/logging"
	"github.com/dmitrijs2005/veilpay/internal/trust"
)

func TestExecutePayroll_EmployerOnly(t *testing.T) {
	f := newPayrollFixture(t)

	_, err := f.service.ExecutePayroll(context.Background(), wallet1)
	assert.ErrorIs(t, err, ErrNotEmployer)
}

func TestExecutePayroll_Reentrancy(t *testing.T) {
	f := newPayrollFixture(t)

	f.service.executing.Store(true)
	_, err := f.service.ExecutePayroll(context.Background(), employer)
	assert.ErrorIs(t, err, ErrPayrollInProgress)

	f.service.executing.Store(false)
	_, err = f.service.ExecutePayroll(context.Background(), employer)
	require.NoError(t, err)
}

func TestExecutePayroll_UnscoredEmployee(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)

	processed, err := f.service.ExecutePayroll(ctx, employer)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// one escrow record holding the full salary, nothing transferred
	ids, err := f.service.GetPendingPaymentsForEmployee(ctx, wallet1)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	p, err := f.service.GetPendingPayment(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, StatusEscrowed, p.Status)
	assert.Equal(t, MilestoneUnscored, p.Milestone)
	assert.Equal(t, uint64(5000), f.decryptAmount(t, p.Amount))
	assert.Equal(t, uint64(0), f.balance(t, wallet1))
}

func TestExecutePayroll_Routing(t *testing.T) {
	tests := []struct {
		name    string
		score   uint64
		instant uint64
		delayed uint64
		escrow  uint64
		paid    uint64
	}{
		{"high trust", 80, 5000, 0, 0, 5000},
		{"high boundary", 75, 5000, 0, 0, 5000},
		{"medium trust", 55, 0, 5000, 0, 0},
		{"medium boundary", 40, 0, 5000, 0, 0},
		{"low trust", 20, 0, 0, 5000, 0},
		{"just below medium", 39, 0, 0, 5000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPayrollFixture(t)
			ctx := context.Background()
			f.addEmployee(t, wallet1, 5000)
			f.trust.scores[wallet1] = tt.score

			processed, err := f.service.ExecutePayroll(ctx, employer)
			require.NoError(t, err)
			assert.Equal(t, 1, processed)

			// a scored employee always gets exactly three records
			ids, err := f.service.GetPendingPaymentsForEmployee(ctx, wallet1)
			require.NoError(t, err)
			require.Len(t, ids, 3)

			var amounts [3]uint64
			var statuses [3]PaymentStatus
			for i, id := range ids {
				p, err := f.service.GetPendingPayment(ctx, id)
				require.NoError(t, err)
				amounts[i] = f.decryptAmount(t, p.Amount)
				statuses[i] = p.Status
			}

			assert.Equal(t, [3]PaymentStatus{StatusInstant, StatusDelayed, StatusEscrowed}, statuses)
			assert.Equal(t, tt.instant, amounts[0], "instant")
			assert.Equal(t, tt.delayed, amounts[1], "delayed")
			assert.Equal(t, tt.escrow, amounts[2], "escrow")

			// path amounts conserve the salary
			assert.Equal(t, uint64(5000), amounts[0]+amounts[1]+amounts[2])

			// the instant transfer ran regardless of tier
			assert.Equal(t, tt.paid, f.balance(t, wallet1))
		})
	}
}

func TestExecutePayroll_DelayedReleaseTime(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)
	f.trust.scores[wallet1] = 55

	_, err := f.service.ExecutePayroll(ctx, employer)
	require.NoError(t, err)

	ids, err := f.service.GetPendingPaymentsForEmployee(ctx, wallet1)
	require.NoError(t, err)
	p, err := f.service.GetPendingPayment(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(ReleaseDelay), p.ReleaseTime)

	// the low-trust escrow record carries the milestone text
	p, err = f.service.GetPendingPayment(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, MilestoneLowTrust, p.Milestone)
}

func TestExecutePayroll_MixedBatch(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)
	f.addEmployee(t, wallet2, 4000)
	f.addEmployee(t, wallet3, 3000)
	f.trust.scores[wallet1] = 80
	f.trust.scores[wallet2] = 55
	f.trust.scores[wallet3] = 20

	processed, err := f.service.ExecutePayroll(ctx, employer)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	next, err := f.service.NextPaymentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), next)

	// only the high-trust employee was paid out immediately
	assert.Equal(t, uint64(5000), f.balance(t, wallet1))
	assert.Equal(t, uint64(0), f.balance(t, wallet2))
	assert.Equal(t, uint64(0), f.balance(t, wallet3))

	runs, err := f.service.PayrollRunCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), runs)

	run, err := f.service.GetPayrollRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, 9, run.Payments)
	assert.Equal(t, int64(0), run.FirstPaymentID)
}

func TestExecutePayroll_SkipsInactive(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)
	f.addEmployee(t, wallet2, 4000)
	f.addEmployee(t, wallet3, 3000)
	require.NoError(t, f.service.RemoveEmployee(ctx, employer, wallet2))

	processed, err := f.service.ExecutePayroll(ctx, employer)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	ids, err := f.service.GetPendingPaymentsForEmployee(ctx, wallet2)
	require.NoError(t, err)
	assert.Empty(t, ids)

	e, err := f.service.GetEmployee(ctx, wallet2)
	require.NoError(t, err)
	assert.True(t, e.LastPayDate.IsZero())
}

func TestExecutePayroll_BatchCap(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()

	for i := 0; i < BatchLimit+2; i++ {
		f.addEmployee(t, fhe.Principal(fmt.Sprintf("w-%02d", i)), 100)
	}

	processed, err := f.service.ExecutePayroll(ctx, employer)
	require.NoError(t, err)
	assert.Equal(t, BatchLimit, processed)

	// the scan starts at the head, so the tail two got nothing
	ids, err := f.service.GetPendingPaymentsForEmployee(ctx, fhe.Principal(fmt.Sprintf("w-%02d", BatchLimit)))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExecutePayroll_UpdatesLastPayDate(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)

	_, err := f.service.ExecutePayroll(ctx, employer)
	require.NoError(t, err)

	e, err := f.service.GetEmployee(ctx, wallet1)
	require.NoError(t, err)
	assert.Equal(t, f.clock, e.LastPayDate)
}

func TestExecutePayroll_InsufficientFunds(t *testing.T) {
	engine := fhe.NewDevEngine([]byte("p"), []byte("s"))
	events := audit.NewInMemoryRepository()
	repos := newMemRepoManager()
	trust := &fakeTrust{engine: engine, scores: map[fhe.Principal]uint64{wallet1: 80}}
	token := ledger.NewConfidentialToken(engine, account)

	// no Mint: the engine account holds nothing
	s := NewService(newTxDB(t), repos, func(db dbx.DBTX) audit.Repository { return events },
		engine, trust, token, logging.NewDefault(), owner, employer, account)
	s.now = func() time.Time { return time.Now() }

	require.NoError(t, s.AddEmployeePlaintext(context.Background(), employer, wallet1, 5000, ""))

	_, err := s.ExecutePayroll(context.Background(), employer)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestExecutePayroll_EmptyRoster(t *testing.T) {
	f := newPayrollFixture(t)

	processed, err := f.service.ExecutePayroll(context.Background(), employer)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	runs, err := f.service.PayrollRunCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), runs)
}

func TestExecutePayroll_ExpiredScoreFailsWholeRun(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()

	f.addEmployee(t, wallet1, 5000)
	f.addEmployee(t, wallet2, 5000)
	f.trust.scores[wallet1] = 80
	f.trust.expired[wallet2] = true

	// a stale score is distinct from no score: the run fails instead of
	// falling back to the unscored escrow path
	_, err := f.service.ExecutePayroll(ctx, employer)
	assert.ErrorIs(t, err, trust.ErrScoreExpired)

	// nothing was paid out, not even to the employee processed before the
	// failure
	assert.Equal(t, uint64(0), f.balance(t, wallet1))
	assert.Equal(t, uint64(1_000_000), f.balance(t, account))
}

func TestExecutePayroll_FailedRunMovesNoMoney(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()

	f.addEmployee(t, wallet1, 5000)
	f.addEmployee(t, wallet2, 5000)
	f.trust.scores[wallet1] = 80
	f.trust.scores[wallet2] = 80

	// fail the last status-bearing write of the run: wallet2's third record
	f.repos.paymentOverride = &flakyCreatePaymentRepo{
		PaymentRepository: f.repos.payments,
		failOn:            6,
	}

	_, err := f.service.ExecutePayroll(ctx, employer)
	require.Error(t, err)

	// wallet1's records were written before the failure, but its instant
	// transfer never executed
	assert.Equal(t, uint64(0), f.balance(t, wallet1))
	assert.Equal(t, uint64(1_000_000), f.balance(t, account))
}

// flakyCreatePaymentRepo fails the nth Create and delegates otherwise.
type flakyCreatePaymentRepo struct {
	PaymentRepository
	failOn int
	calls  int
}

func (r *flakyCreatePaymentRepo) Create(ctx context.Context, p *PendingPayment) (int64, error) {
	r.calls++
	if r.calls == r.failOn {
		return 0, fmt.Errorf("storage unavailable")
	}
	return r.PaymentRepository.Create(ctx, p)
}

func TestExecutePayroll_PaymentEvents(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)
	f.trust.scores[wallet1] = 80

	_, err := f.service.ExecutePayroll(ctx, employer)
	require.NoError(t, err)

	for _, typ := range []string{audit.TypeInstantPayment, audit.TypePaymentDelayed, audit.TypePaymentEscrowed, audit.TypePayrollExecuted} {
		events, err := f.events.ListByType(ctx, typ)
		require.NoError(t, err)
		assert.Len(t, events, 1, typ)
	}
}

package payroll

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/veilpay/internal/audit"
	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
	"github.com/dmitrijs2005/veilpay/internal/ledger"
	"github.com/dmitrijs2005/veilpay/internal/logging"
	"github.com/dmitrijs2005/veilpay/internal/trust"
)

// --- helpers ---

const (
	owner    fhe.Principal = "owner"
	employer fhe.Principal = "employer"
	account  fhe.Principal = "payroll-engine"
	wallet1  fhe.Principal = "wallet-1"
	wallet2  fhe.Principal = "wallet-2"
	wallet3  fhe.Principal = "wallet-3"
)

// newTxDB returns a sqlmock-backed *sql.DB preloaded with enough transaction
// expectations for a whole test. Repositories are in-memory, so only
// Begin/Commit/Rollback ever reach the mock.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 256; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type memRepoManager struct {
	employees *InMemoryEmployeeRepository
	payments  *InMemoryPaymentRepository
	runs      *InMemoryRunRepository

	// when set, vended instead of the in-memory payment repo
	paymentOverride PaymentRepository
}

func newMemRepoManager() *memRepoManager {
	return &memRepoManager{
		employees: NewInMemoryEmployeeRepository(),
		payments:  NewInMemoryPaymentRepository(),
		runs:      NewInMemoryRunRepository(),
	}
}

func (m *memRepoManager) Employees(db dbx.DBTX) EmployeeRepository { return m.employees }
func (m *memRepoManager) Runs(db dbx.DBTX) RunRepository           { return m.runs }

func (m *memRepoManager) Payments(db dbx.DBTX) PaymentRepository {
	if m.paymentOverride != nil {
		return m.paymentOverride
	}
	return m.payments
}

// fakeTrust serves tier booleans from a plaintext score table, sealed on
// demand the way the registry would. Subjects in expired keep their record
// (HasScore stays true) but tier evaluation fails with ErrScoreExpired.
type fakeTrust struct {
	engine  *fhe.DevEngine
	scores  map[fhe.Principal]uint64
	expired map[fhe.Principal]bool
}

func (f *fakeTrust) HasScore(ctx context.Context, subject fhe.Principal) (bool, error) {
	if f.expired[subject] {
		return true, nil
	}
	_, ok := f.scores[subject]
	return ok, nil
}

func (f *fakeTrust) IsHighTrust(ctx context.Context, caller, subject fhe.Principal) (fhe.Handle, error) {
	if f.expired[subject] {
		return fhe.NilHandle, trust.ErrScoreExpired
	}
	return f.engine.EncryptBool(ctx, f.scores[subject] >= 75, fhe.Nobody)
}

func (f *fakeTrust) IsMediumTrust(ctx context.Context, caller, subject fhe.Principal) (fhe.Handle, error) {
	if f.expired[subject] {
		return fhe.NilHandle, trust.ErrScoreExpired
	}
	return f.engine.EncryptBool(ctx, f.scores[subject] >= 40, fhe.Nobody)
}

type payrollFixture struct {
	service *Service
	engine  *fhe.DevEngine
	token   *ledger.ConfidentialToken
	trust   *fakeTrust
	events  *audit.InMemoryRepository
	repos   *memRepoManager
	clock   time.Time
}

func newPayrollFixture(t *testing.T) *payrollFixture {
	t.Helper()

	engine := fhe.NewDevEngine([]byte("p"), []byte("s"))
	events := audit.NewInMemoryRepository()
	repos := newMemRepoManager()
	trust := &fakeTrust{
		engine:  engine,
		scores:  make(map[fhe.Principal]uint64),
		expired: make(map[fhe.Principal]bool),
	}
	token := ledger.NewConfidentialToken(engine, account)

	f := &payrollFixture{
		engine: engine,
		token:  token,
		trust:  trust,
		events: events,
		repos:  repos,
		clock:  time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	f.service = NewService(newTxDB(t), repos, func(db dbx.DBTX) audit.Repository { return events },
		engine, trust, token, logging.NewDefault(), owner, employer, account)
	f.service.now = func() time.Time { return f.clock }

	// fund the engine's ledger account
	require.NoError(t, token.Mint(context.Background(), account, 1_000_000))
	return f
}

func (f *payrollFixture) addEmployee(t *testing.T, wallet fhe.Principal, salary uint64) {
	t.Helper()
	require.NoError(t, f.service.AddEmployeePlaintext(context.Background(), employer, wallet, salary, "engineer"))
}

// decryptAmount reads a payment amount through the employer's grant.
func (f *payrollFixture) decryptAmount(t *testing.T, h fhe.Handle) uint64 {
	t.Helper()
	v, err := f.engine.Decrypt(context.Background(), h, employer)
	require.NoError(t, err)
	return v
}

// balance reads an account's own ledger balance.
func (f *payrollFixture) balance(t *testing.T, p fhe.Principal) uint64 {
	t.Helper()
	ctx := context.Background()
	h, err := f.token.ConfidentialBalanceOf(ctx, p)
	require.NoError(t, err)
	v, err := f.engine.Decrypt(ctx, h, p)
	require.NoError(t, err)
	return v
}

// --- roster management ---

func TestAddEmployee_EmployerOnly(t *testing.T) {
	f := newPayrollFixture(t)

	err := f.service.AddEmployeePlaintext(context.Background(), wallet1, wallet1, 5000, "")
	assert.ErrorIs(t, err, ErrNotEmployer)
}

func TestAddEmployee_ZeroWallet(t *testing.T) {
	f := newPayrollFixture(t)

	err := f.service.AddEmployeePlaintext(context.Background(), employer, fhe.Nobody, 5000, "")
	assert.ErrorIs(t, err, ErrZeroAddress)
}

func TestAddEmployee_ProofPath(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()

	external, proof, err := f.engine.SealExternal(5000, employer)
	require.NoError(t, err)

	require.NoError(t, f.service.AddEmployee(ctx, employer, wallet1, external, proof, "engineer"))

	e, err := f.service.GetEmployee(ctx, wallet1)
	require.NoError(t, err)
	assert.True(t, e.Active)
	assert.Equal(t, "engineer", e.Role)
	assert.Equal(t, uint64(5000), f.decryptAmount(t, e.Salary))

	// the employee can read their own salary
	v, err := f.engine.Decrypt(ctx, e.Salary, wallet1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), v)
}

func TestAddEmployee_BadProof(t *testing.T) {
	f := newPayrollFixture(t)

	external, proof, err := f.engine.SealExternal(5000, employer)
	require.NoError(t, err)
	proof[0] ^= 0xff

	err = f.service.AddEmployee(context.Background(), employer, wallet1, external, proof, "")
	assert.ErrorIs(t, err, fhe.ErrInvalidProof)
}

func TestAddEmployee_Duplicate(t *testing.T) {
	f := newPayrollFixture(t)
	f.addEmployee(t, wallet1, 5000)

	err := f.service.AddEmployeePlaintext(context.Background(), employer, wallet1, 6000, "")
	assert.ErrorIs(t, err, ErrEmployeeAlreadyExists)
}

// grantCountingEngine counts permanent grants issued through the service,
// delegating everything to a real engine.
type grantCountingEngine struct {
	fhe.Engine
	grants int
}

func (e *grantCountingEngine) GrantPermanent(ctx context.Context, h fhe.Handle, p fhe.Principal) error {
	e.grants++
	return e.Engine.GrantPermanent(ctx, h, p)
}

func TestRejectedWritesIssueNoGrants(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()

	counting := &grantCountingEngine{Engine: f.engine}
	f.service.engine = counting

	require.NoError(t, f.service.AddEmployeePlaintext(ctx, employer, wallet1, 5000, ""))
	require.NoError(t, f.service.RemoveEmployee(ctx, employer, wallet1))

	counting.grants = 0
	err := f.service.AddEmployeePlaintext(ctx, employer, wallet1, 6000, "")
	assert.ErrorIs(t, err, ErrEmployeeAlreadyExists)
	assert.Zero(t, counting.grants)

	err = f.service.UpdateSalaryPlaintext(ctx, employer, wallet1, 6000)
	assert.ErrorIs(t, err, ErrEmployeeNotActive)
	assert.Zero(t, counting.grants)
}

func TestRemoveEmployee(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)

	require.NoError(t, f.service.RemoveEmployee(ctx, employer, wallet1))

	active, err := f.service.IsActiveEmployee(ctx, wallet1)
	require.NoError(t, err)
	assert.False(t, active)

	// the record survives removal
	n, err := f.service.EmployeeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.service.ActiveEmployeeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRemoveEmployee_NotFound(t *testing.T) {
	f := newPayrollFixture(t)

	err := f.service.RemoveEmployee(context.Background(), employer, wallet1)
	assert.ErrorIs(t, err, ErrEmployeeNotFound)
}

func TestRemoveEmployee_Twice(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)
	require.NoError(t, f.service.RemoveEmployee(ctx, employer, wallet1))

	err := f.service.RemoveEmployee(ctx, employer, wallet1)
	assert.ErrorIs(t, err, ErrEmployeeNotActive)
}

func TestReAddRemovedWallet_Forbidden(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)
	require.NoError(t, f.service.RemoveEmployee(ctx, employer, wallet1))

	err := f.service.AddEmployeePlaintext(ctx, employer, wallet1, 6000, "")
	assert.ErrorIs(t, err, ErrEmployeeAlreadyExists)
}

func TestUpdateSalary(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)

	require.NoError(t, f.service.UpdateSalaryPlaintext(ctx, employer, wallet1, 7000))

	e, err := f.service.GetEmployee(ctx, wallet1)
	require.NoError(t, err)
	assert.Equal(t, uint64(7000), f.decryptAmount(t, e.Salary))
}

func TestUpdateSalary_InactiveEmployee(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)
	require.NoError(t, f.service.RemoveEmployee(ctx, employer, wallet1))

	err := f.service.UpdateSalaryPlaintext(ctx, employer, wallet1, 7000)
	assert.ErrorIs(t, err, ErrEmployeeNotActive)
}

func TestUpdateEmployeeRole(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)

	require.NoError(t, f.service.UpdateEmployeeRole(ctx, employer, wallet1, "lead"))

	e, err := f.service.GetEmployee(ctx, wallet1)
	require.NoError(t, err)
	assert.Equal(t, "lead", e.Role)
}

func TestGetEmployeeList_InsertionOrder(t *testing.T) {
	f := newPayrollFixture(t)
	f.addEmployee(t, wallet2, 1)
	f.addEmployee(t, wallet1, 2)
	f.addEmployee(t, wallet3, 3)

	wallets, err := f.service.GetEmployeeList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []fhe.Principal{wallet2, wallet1, wallet3}, wallets)
}

// --- admin operations ---

func TestTransferEmployer(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.TransferEmployer(ctx, owner, wallet3))

	// the old employer loses the role, the new one gains it
	err := f.service.AddEmployeePlaintext(ctx, employer, wallet1, 5000, "")
	assert.ErrorIs(t, err, ErrNotEmployer)
	require.NoError(t, f.service.AddEmployeePlaintext(ctx, wallet3, wallet1, 5000, ""))
}

func TestTransferEmployer_OwnerOnly(t *testing.T) {
	f := newPayrollFixture(t)

	err := f.service.TransferEmployer(context.Background(), employer, wallet3)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTransferEmployer_ZeroAddress(t *testing.T) {
	f := newPayrollFixture(t)

	err := f.service.TransferEmployer(context.Background(), owner, fhe.Nobody)
	assert.ErrorIs(t, err, ErrZeroAddress)
}

func TestUpdateTrustSource(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()

	other := &fakeTrust{engine: f.engine, scores: map[fhe.Principal]uint64{wallet1: 80}}
	require.NoError(t, f.service.UpdateTrustSource(ctx, owner, other))

	assert.ErrorIs(t, f.service.UpdateTrustSource(ctx, employer, other), ErrUnauthorized)
	assert.ErrorIs(t, f.service.UpdateTrustSource(ctx, owner, nil), ErrZeroAddress)
}

func TestUpdatePayToken(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()

	other := ledger.NewConfidentialToken(f.engine, account)
	require.NoError(t, f.service.UpdatePayToken(ctx, owner, other))

	assert.ErrorIs(t, f.service.UpdatePayToken(ctx, employer, other), ErrUnauthorized)
	assert.ErrorIs(t, f.service.UpdatePayToken(ctx, owner, nil), ErrZeroAddress)
}

func TestLifecycleEvents(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEmployee(t, wallet1, 5000)
	require.NoError(t, f.service.UpdateSalaryPlaintext(ctx, employer, wallet1, 7000))
	require.NoError(t, f.service.RemoveEmployee(ctx, employer, wallet1))

	for _, typ := range []string{audit.TypeEmployeeAdded, audit.TypeSalaryUpdated, audit.TypeEmployeeRemoved} {
		events, err := f.events.ListByType(ctx, typ)
		require.NoError(t, err)
		assert.Len(t, events, 1, typ)
	}
}

package payroll

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/veilpay/internal/audit"
	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
	"github.com/dmitrijs2005/veilpay/internal/ledger"
	"github.com/dmitrijs2005/veilpay/internal/logging"
)

// Service is the payroll engine. The employer manages the roster and runs
// payroll; the owner swaps collaborators; anyone can release a matured
// delayed payment.
type Service struct {
	db     *sql.DB
	repos  RepoManager
	events audit.RepoFactory
	engine fhe.Engine
	logger logging.Logger

	owner   fhe.Principal
	account fhe.Principal

	mu       sync.RWMutex
	employer fhe.Principal
	trust    TrustSource
	ledger   ledger.Ledger

	executing atomic.Bool
	now       func() time.Time
}

// NewService wires the payroll engine. account is the ledger principal that
// holds the engine's funds; owner may later swap trust, ledger and employer.
func NewService(db *sql.DB, repos RepoManager, events audit.RepoFactory, engine fhe.Engine,
	trust TrustSource, token ledger.Ledger, logger logging.Logger,
	owner, employer, account fhe.Principal) *Service {
	return &Service{
		db:       db,
		repos:    repos,
		events:   events,
		engine:   engine,
		trust:    trust,
		ledger:   token,
		logger:   logger,
		owner:    owner,
		employer: employer,
		account:  account,
		now:      time.Now,
	}
}

// Account returns the ledger principal holding the engine's funds.
func (s *Service) Account() fhe.Principal { return s.account }

func (s *Service) employerAddr() fhe.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.employer
}

func (s *Service) trustSource() TrustSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trust
}

func (s *Service) payToken() ledger.Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger
}

func (s *Service) requireEmployer(caller fhe.Principal) error {
	if caller != s.employerAddr() {
		return ErrNotEmployer
	}
	return nil
}

// AddEmployee registers a wallet with a proof-bound encrypted salary.
// Employer only. A wallet that ever existed on the roster, active or not,
// can never be added again; that keeps the audit trail append-only.
func (s *Service) AddEmployee(ctx context.Context, caller, wallet fhe.Principal, external, proof []byte, role string) error {
	if err := s.requireEmployer(caller); err != nil {
		return err
	}
	if wallet == fhe.Nobody {
		return ErrZeroAddress
	}

	salary, err := s.engine.ImportWithProof(ctx, external, proof, caller)
	if err != nil {
		return fmt.Errorf("payroll: import salary: %w", err)
	}

	return s.createEmployee(ctx, wallet, salary, role)
}

// AddEmployeePlaintext is the convenience path: the salary is encrypted
// engine-side. Employer only.
func (s *Service) AddEmployeePlaintext(ctx context.Context, caller, wallet fhe.Principal, salary uint64, role string) error {
	if err := s.requireEmployer(caller); err != nil {
		return err
	}
	if wallet == fhe.Nobody {
		return ErrZeroAddress
	}

	h, err := s.engine.Encrypt(ctx, salary, fhe.Nobody)
	if err != nil {
		return fmt.Errorf("payroll: encrypt salary: %w", err)
	}

	return s.createEmployee(ctx, wallet, h, role)
}

func (s *Service) createEmployee(ctx context.Context, wallet fhe.Principal, salary fhe.Handle, role string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Employees(tx)

		if _, err := repo.Get(ctx, wallet); err == nil {
			return ErrEmployeeAlreadyExists
		} else if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("payroll: load employee: %w", err)
		}

		// grants are issued only once the write is going to happen: a
		// rejected call must not leave grants behind
		if err := s.grantSalaryAccess(ctx, salary, wallet); err != nil {
			return err
		}

		if err := repo.Create(ctx, &Employee{
			Wallet:   wallet,
			Salary:   salary,
			Active:   true,
			HireDate: s.now(),
			Role:     role,
		}); err != nil {
			return fmt.Errorf("payroll: create employee: %w", err)
		}

		return s.events(tx).Append(ctx, audit.TypeEmployeeAdded, map[string]any{
			"wallet": string(wallet),
			"role":   role,
		})
	})
}

// grantSalaryAccess issues the standing decrypt grants every salary
// ciphertext carries: the engine's own account, the employer and the
// employee. Grants never propagate to a replacement ciphertext, so every
// write path calls this again.
func (s *Service) grantSalaryAccess(ctx context.Context, salary fhe.Handle, wallet fhe.Principal) error {
	for _, p := range []fhe.Principal{s.account, s.employerAddr(), wallet} {
		if err := s.engine.GrantPermanent(ctx, salary, p); err != nil {
			return fmt.Errorf("payroll: grant salary: %w", err)
		}
	}
	return nil
}

// RemoveEmployee soft-deletes: the record stays, Active flips off.
// Employer only.
func (s *Service) RemoveEmployee(ctx context.Context, caller, wallet fhe.Principal) error {
	if err := s.requireEmployer(caller); err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Employees(tx)

		e, err := s.activeEmployee(ctx, repo, wallet)
		if err != nil {
			return err
		}

		e.Active = false
		if err := repo.Update(ctx, e); err != nil {
			return fmt.Errorf("payroll: update employee: %w", err)
		}

		return s.events(tx).Append(ctx, audit.TypeEmployeeRemoved, map[string]any{
			"wallet": string(wallet),
		})
	})
}

func (s *Service) activeEmployee(ctx context.Context, repo EmployeeRepository, wallet fhe.Principal) (*Employee, error) {
	e, err := repo.Get(ctx, wallet)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrEmployeeNotFound
		}
		return nil, fmt.Errorf("payroll: load employee: %w", err)
	}
	if !e.Active {
		return nil, ErrEmployeeNotActive
	}
	return e, nil
}

// UpdateSalary replaces an active employee's salary with a proof-bound
// ciphertext and re-issues the decrypt grants. Employer only.
func (s *Service) UpdateSalary(ctx context.Context, caller, wallet fhe.Principal, external, proof []byte) error {
	if err := s.requireEmployer(caller); err != nil {
		return err
	}

	salary, err := s.engine.ImportWithProof(ctx, external, proof, caller)
	if err != nil {
		return fmt.Errorf("payroll: import salary: %w", err)
	}

	return s.setSalary(ctx, wallet, salary)
}

// UpdateSalaryPlaintext is the convenience path. Employer only.
func (s *Service) UpdateSalaryPlaintext(ctx context.Context, caller, wallet fhe.Principal, salary uint64) error {
	if err := s.requireEmployer(caller); err != nil {
		return err
	}

	h, err := s.engine.Encrypt(ctx, salary, fhe.Nobody)
	if err != nil {
		return fmt.Errorf("payroll: encrypt salary: %w", err)
	}

	return s.setSalary(ctx, wallet, h)
}

func (s *Service) setSalary(ctx context.Context, wallet fhe.Principal, salary fhe.Handle) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Employees(tx)

		e, err := s.activeEmployee(ctx, repo, wallet)
		if err != nil {
			return err
		}

		if err := s.grantSalaryAccess(ctx, salary, wallet); err != nil {
			return err
		}

		e.Salary = salary
		if err := repo.Update(ctx, e); err != nil {
			return fmt.Errorf("payroll: update employee: %w", err)
		}

		return s.events(tx).Append(ctx, audit.TypeSalaryUpdated, map[string]any{
			"wallet": string(wallet),
		})
	})
}

// UpdateEmployeeRole changes an active employee's role. Employer only.
func (s *Service) UpdateEmployeeRole(ctx context.Context, caller, wallet fhe.Principal, role string) error {
	if err := s.requireEmployer(caller); err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Employees(tx)

		e, err := s.activeEmployee(ctx, repo, wallet)
		if err != nil {
			return err
		}

		e.Role = role
		if err := repo.Update(ctx, e); err != nil {
			return fmt.Errorf("payroll: update employee: %w", err)
		}

		return s.events(tx).Append(ctx, audit.TypeEmployeeUpdated, map[string]any{
			"wallet": string(wallet),
			"role":   role,
		})
	})
}

// UpdateTrustSource swaps the trust registry collaborator. Owner only.
func (s *Service) UpdateTrustSource(ctx context.Context, caller fhe.Principal, ts TrustSource) error {
	if caller != s.owner {
		return ErrUnauthorized
	}
	if ts == nil {
		return ErrZeroAddress
	}

	s.mu.Lock()
	s.trust = ts
	s.mu.Unlock()

	return s.recordAdminEvent(ctx, audit.TypeTrustSourceUpdated, nil)
}

// UpdatePayToken swaps the confidential ledger collaborator. Owner only.
func (s *Service) UpdatePayToken(ctx context.Context, caller fhe.Principal, token ledger.Ledger) error {
	if caller != s.owner {
		return ErrUnauthorized
	}
	if token == nil {
		return ErrZeroAddress
	}

	s.mu.Lock()
	s.ledger = token
	s.mu.Unlock()

	return s.recordAdminEvent(ctx, audit.TypePayTokenUpdated, nil)
}

// TransferEmployer hands the employer role to a new principal. Owner only.
func (s *Service) TransferEmployer(ctx context.Context, caller, newEmployer fhe.Principal) error {
	if caller != s.owner {
		return ErrUnauthorized
	}
	if newEmployer == fhe.Nobody {
		return ErrZeroAddress
	}

	s.mu.Lock()
	s.employer = newEmployer
	s.mu.Unlock()

	return s.recordAdminEvent(ctx, audit.TypeEmployerTransferred, map[string]any{
		"employer": string(newEmployer),
	})
}

func (s *Service) recordAdminEvent(ctx context.Context, typ string, payload map[string]any) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.events(tx).Append(ctx, typ, payload)
	})
}

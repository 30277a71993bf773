package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/veilpay/internal/fhe"
)

// ConfidentialToken is the engine-backed ledger implementation.
type ConfidentialToken struct {
	mu       sync.Mutex
	engine   fhe.Engine
	self     fhe.Principal
	balances map[fhe.Principal]fhe.Handle
}

// NewConfidentialToken builds a ledger whose sufficiency checks are revealed
// only to the given ledger principal.
func NewConfidentialToken(engine fhe.Engine, self fhe.Principal) *ConfidentialToken {
	return &ConfidentialToken{
		engine:   engine,
		self:     self,
		balances: make(map[fhe.Principal]fhe.Handle),
	}
}

// balanceOf returns the stored handle, sealing a zero balance on first
// touch. Caller must hold the lock.
func (t *ConfidentialToken) balanceOf(ctx context.Context, account fhe.Principal) (fhe.Handle, error) {
	if h, ok := t.balances[account]; ok {
		return h, nil
	}
	h, err := t.engine.Encrypt(ctx, 0, account)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("ledger: seal zero balance: %w", err)
	}
	t.balances[account] = h
	return h, nil
}

func (t *ConfidentialToken) setBalance(ctx context.Context, account fhe.Principal, h fhe.Handle) error {
	if err := t.engine.GrantPermanent(ctx, h, account); err != nil {
		return fmt.Errorf("ledger: grant balance: %w", err)
	}
	t.balances[account] = h
	return nil
}

func (t *ConfidentialToken) Mint(ctx context.Context, to fhe.Principal, amount uint64) error {
	if to == fhe.Nobody {
		return ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	bal, err := t.balanceOf(ctx, to)
	if err != nil {
		return err
	}
	minted, err := t.engine.Encrypt(ctx, amount, fhe.Nobody)
	if err != nil {
		return fmt.Errorf("ledger: seal amount: %w", err)
	}
	sum, err := t.engine.Add(ctx, bal, minted)
	if err != nil {
		return fmt.Errorf("ledger: add: %w", err)
	}
	return t.setBalance(ctx, to, sum)
}

func (t *ConfidentialToken) ConfidentialTransfer(ctx context.Context, from, to fhe.Principal, amount fhe.Handle) error {
	if from == fhe.Nobody || to == fhe.Nobody {
		return ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fromBal, err := t.balanceOf(ctx, from)
	if err != nil {
		return err
	}
	toBal, err := t.balanceOf(ctx, to)
	if err != nil {
		return err
	}

	// decrypt-for-require: only the boolean leaves encrypted form, and only
	// to the ledger principal
	scoped := fhe.WithCallScope(ctx)
	ok, err := t.engine.CmpGE(scoped, fromBal, amount)
	if err != nil {
		return fmt.Errorf("ledger: compare: %w", err)
	}
	if err := t.engine.GrantTransient(scoped, ok, t.self); err != nil {
		return fmt.Errorf("ledger: grant check: %w", err)
	}
	sufficient, err := t.engine.DecryptBool(scoped, ok, t.self)
	if err != nil {
		return fmt.Errorf("ledger: reveal check: %w", err)
	}
	if !sufficient {
		return ErrInsufficientBalance
	}

	newFrom, err := t.engine.Sub(ctx, fromBal, amount)
	if err != nil {
		return fmt.Errorf("ledger: sub: %w", err)
	}
	newTo, err := t.engine.Add(ctx, toBal, amount)
	if err != nil {
		return fmt.Errorf("ledger: add: %w", err)
	}

	if err := t.setBalance(ctx, from, newFrom); err != nil {
		return err
	}
	return t.setBalance(ctx, to, newTo)
}

func (t *ConfidentialToken) ConfidentialBalanceOf(ctx context.Context, account fhe.Principal) (fhe.Handle, error) {
	if account == fhe.Nobody {
		return fhe.NilHandle, ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.balanceOf(ctx, account)
}

// Package ledger is the confidential token the payroll engine pays salaries
// through. Balances are ciphertext handles; a transfer checks sufficiency by
// revealing only an encrypted boolean to the ledger's own principal, so
// neither party learns the other's balance and the caller never learns the
// amount it did not already hold.
package ledger

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/veilpay/internal/fhe"
)

var (
	ErrZeroAddress         = errors.New("ledger: zero address")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

// Ledger is the surface the payroll engine consumes.
type Ledger interface {
	// Mint credits a plaintext amount to an account. Operational tooling
	// funds the payroll engine's balance through it.
	Mint(ctx context.Context, to fhe.Principal, amount uint64) error

	// ConfidentialTransfer debits from and credits to by an encrypted
	// amount. Fails with ErrInsufficientBalance when the debited balance
	// would go negative, decided entirely under encryption.
	ConfidentialTransfer(ctx context.Context, from, to fhe.Principal, amount fhe.Handle) error

	// ConfidentialBalanceOf returns the account's balance handle. Each
	// account holds a permanent decrypt grant on its own balance.
	ConfidentialBalanceOf(ctx context.Context, account fhe.Principal) (fhe.Handle, error)
}

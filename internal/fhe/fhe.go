// Package fhe models the encrypted-arithmetic coprocessor the payroll system
// computes on. Values live behind opaque handles; arithmetic, comparison and
// selection are evaluated without ever returning a plaintext to the caller.
// Who may decrypt a handle off-chain is decided by an explicit grant table,
// never by ambient trust.
package fhe

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Principal identifies a party that can hold grants: a wallet address, an
// oracle, or one of the engine-side services (registry, payroll, ledger).
type Principal string

// Nobody is the null principal. Operations reject it the way a contract
// rejects the zero address.
const Nobody Principal = ""

// Handle is an opaque reference to an encrypted value. Holding a handle lets
// a party feed it into further encrypted computation; it never reveals the
// plaintext. Handles are unguessable, so possession acts as the capability
// to compute with (not read) the value.
type Handle string

// NilHandle is the zero Handle; no ciphertext is ever stored under it.
const NilHandle Handle = ""

func newHandle() Handle { return Handle(uuid.NewString()) }

var (
	// ErrUnknownHandle is returned when a handle does not refer to a stored
	// ciphertext (e.g. it came from another engine instance).
	ErrUnknownHandle = errors.New("fhe: unknown ciphertext handle")

	// ErrInvalidProof is returned by ImportWithProof when the binding proof
	// does not match the submitted ciphertext and principal.
	ErrInvalidProof = errors.New("fhe: invalid ciphertext proof")

	// ErrTypeMismatch is returned when a boolean handle is used where an
	// integer is required or vice versa.
	ErrTypeMismatch = errors.New("fhe: ciphertext type mismatch")

	// ErrAccessDenied is returned by Decrypt when the principal holds no
	// live grant for the handle.
	ErrAccessDenied = errors.New("fhe: no decrypt grant for principal")

	// ErrNoCallScope is returned by GrantTransient when the context carries
	// no call scope to bind the grant to.
	ErrNoCallScope = errors.New("fhe: context has no call scope")
)

// Engine is the primitive set the trust registry, payroll engine and ledger
// consume. Every comparison returns an encrypted boolean handle; Select is
// the only way to "branch" on one.
//
// Sub and Add wrap around on uint64 like the coprocessor's modular
// arithmetic; they never fail on the operand values, so no data-dependent
// error can leak a plaintext.
type Engine interface {
	// Encrypt seals a plaintext value and grants the owner permanent
	// decrypt permission on the result.
	Encrypt(ctx context.Context, value uint64, owner Principal) (Handle, error)

	// EncryptBool seals a plaintext boolean the same way.
	EncryptBool(ctx context.Context, value bool, owner Principal) (Handle, error)

	// ImportWithProof validates an externally produced ciphertext against
	// its binding proof and stores it. The submitting principal receives a
	// permanent grant. A bad proof fails the whole operation.
	ImportWithProof(ctx context.Context, external, proof []byte, submitter Principal) (Handle, error)

	// CmpGE returns an encrypted boolean, true when a >= b.
	CmpGE(ctx context.Context, a, b Handle) (Handle, error)
	// CmpLE returns an encrypted boolean, true when a <= b.
	CmpLE(ctx context.Context, a, b Handle) (Handle, error)
	// CmpLT returns an encrypted boolean, true when a < b.
	CmpLT(ctx context.Context, a, b Handle) (Handle, error)

	// Add returns a+b under encryption (mod 2^64).
	Add(ctx context.Context, a, b Handle) (Handle, error)
	// Sub returns a-b under encryption (mod 2^64).
	Sub(ctx context.Context, a, b Handle) (Handle, error)

	// Select returns ifTrue when cond holds, ifFalse otherwise, evaluated
	// entirely under encryption. cond must be a boolean handle.
	Select(ctx context.Context, cond, ifTrue, ifFalse Handle) (Handle, error)

	// GrantPermanent lets principal decrypt the handle from any context.
	GrantPermanent(ctx context.Context, h Handle, p Principal) error

	// GrantTransient lets principal decrypt the handle only within the
	// current call scope (see WithCallScope).
	GrantTransient(ctx context.Context, h Handle, p Principal) error

	// Decrypt reveals an integer plaintext to a granted principal.
	Decrypt(ctx context.Context, h Handle, p Principal) (uint64, error)

	// DecryptBool reveals a boolean plaintext to a granted principal.
	DecryptBool(ctx context.Context, h Handle, p Principal) (bool, error)
}

type scopeKey struct{}

// WithCallScope opens a call scope on the context. Transient grants issued
// within the scope are valid only for contexts carrying the same scope, which
// is how a service hands an encrypted result to its caller "for this call
// only" without a permanent grant.
func WithCallScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, uuid.NewString())
}

func callScope(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(scopeKey{}).(string)
	return s, ok
}

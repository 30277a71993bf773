// Package trust owns confidential reputation scores: oracle-gated writes,
// oblivious tier classification, expiry and revocation. Scores are stored and
// compared as ciphertext handles; nothing in this package ever returns a
// plaintext score or tier.
package trust

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
)

// Tier thresholds and score bounds. The logical score range is [0,100];
// out-of-range submissions are obliviously clamped, never rejected.
const (
	HighTrustThreshold   = 75
	MediumTrustThreshold = 40
	MaxScore             = 100

	// ScoreValidity is how long a score stays usable after its last update.
	ScoreValidity = 90 * 24 * time.Hour
)

var (
	ErrZeroAddress         = errors.New("trust: zero address")
	ErrUnauthorized        = errors.New("trust: caller is not the owner")
	ErrUnauthorizedOracle  = errors.New("trust: caller is not an authorized oracle")
	ErrAccountNotScored    = errors.New("trust: account has no score")
	ErrScoreExpired        = errors.New("trust: score has expired")
	ErrBatchLengthMismatch = errors.New("trust: batch arrays differ in length")

	// ErrNotFound is the repository-level miss; the registry translates it
	// to ErrAccountNotScored.
	ErrNotFound = errors.New("trust: record not found")
)

// TrustRecord is the stored state for one subject. HasScore, a non-zero
// LastUpdate and a live handle always agree: a revoked record keeps its row
// (audit trail) but clears all three.
type TrustRecord struct {
	Subject    fhe.Principal
	Score      fhe.Handle
	HasScore   bool
	LastUpdate time.Time
}

// ScoreRepository stores trust records keyed by subject.
type ScoreRepository interface {
	Get(ctx context.Context, subject fhe.Principal) (*TrustRecord, error)
	Upsert(ctx context.Context, rec *TrustRecord) error
	// Count returns the number of live (non-revoked) scores.
	Count(ctx context.Context) (int, error)
}

// OracleRepository stores which principals may write scores.
type OracleRepository interface {
	IsAuthorized(ctx context.Context, oracle fhe.Principal) (bool, error)
	SetAuthorized(ctx context.Context, oracle fhe.Principal, authorized bool) error
}

// RepoManager yields the repositories the registry needs, bound to a
// database handle so writes share one transaction.
type RepoManager interface {
	Scores(db dbx.DBTX) ScoreRepository
	Oracles(db dbx.DBTX) OracleRepository
}

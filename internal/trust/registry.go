package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/veilpay/internal/audit"
	"github.com/dmitrijs2005/veilpay/internal/dbx"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
	"github.com/dmitrijs2005/veilpay/internal/logging"
)

// Registry is the trust-score service. Oracles write encrypted scores, the
// payroll engine reads encrypted tier booleans, and the owner controls oracle
// authorization and decrypt access. Tier evaluation hands the caller a
// transient grant so the result is usable within the same call scope without
// a separate ciphertext upload.
type Registry struct {
	db     *sql.DB
	repos  RepoManager
	events audit.RepoFactory
	engine fhe.Engine
	owner  fhe.Principal
	logger logging.Logger
	now    func() time.Time
}

func NewRegistry(db *sql.DB, repos RepoManager, events audit.RepoFactory, engine fhe.Engine, owner fhe.Principal, logger logging.Logger) *Registry {
	return &Registry{
		db:     db,
		repos:  repos,
		events: events,
		engine: engine,
		owner:  owner,
		logger: logger,
		now:    time.Now,
	}
}

// Owner returns the registry owner principal.
func (r *Registry) Owner() fhe.Principal { return r.owner }

// SetOracle toggles write authorization for an oracle. Owner only.
func (r *Registry) SetOracle(ctx context.Context, caller, oracle fhe.Principal, authorized bool) error {
	if caller != r.owner {
		return ErrUnauthorized
	}
	if oracle == fhe.Nobody {
		return ErrZeroAddress
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := r.repos.Oracles(tx).SetAuthorized(ctx, oracle, authorized); err != nil {
			return fmt.Errorf("trust: set oracle: %w", err)
		}
		return r.events(tx).Append(ctx, audit.TypeOracleAuthorized, map[string]any{
			"oracle":     string(oracle),
			"authorized": authorized,
		})
	})
}

func (r *Registry) requireOracle(ctx context.Context, caller fhe.Principal) error {
	ok, err := r.repos.Oracles(r.db).IsAuthorized(ctx, caller)
	if err != nil {
		return fmt.Errorf("trust: oracle lookup: %w", err)
	}
	if !ok {
		return ErrUnauthorizedOracle
	}
	return nil
}

// SetTrustScore validates and imports a proof-bound encrypted score, clamps
// it obliviously to [0,MaxScore] and stores it for the subject. Oracle only.
// Values failing the <=100 check become an encrypted zero; the call itself
// never fails on the submitted value.
func (r *Registry) SetTrustScore(ctx context.Context, caller, subject fhe.Principal, external, proof []byte) error {
	if subject == fhe.Nobody {
		return ErrZeroAddress
	}
	if err := r.requireOracle(ctx, caller); err != nil {
		return err
	}

	h, err := r.engine.ImportWithProof(ctx, external, proof, caller)
	if err != nil {
		return fmt.Errorf("trust: import score: %w", err)
	}

	clamped, err := r.clamp(ctx, h)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return r.storeScore(ctx, tx, subject, clamped)
	})
}

// SetTrustScorePlaintext is the convenience path for operational tooling:
// the plaintext is clamped and encrypted engine-side. Oracle only.
func (r *Registry) SetTrustScorePlaintext(ctx context.Context, caller, subject fhe.Principal, score uint64) error {
	if subject == fhe.Nobody {
		return ErrZeroAddress
	}
	if err := r.requireOracle(ctx, caller); err != nil {
		return err
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return r.setPlaintext(ctx, tx, subject, score)
	})
}

// BatchSetScores applies the plaintext-set logic to each (subject, score)
// pair in a single transaction. Arrays must have equal length; empty arrays
// are a successful no-op.
func (r *Registry) BatchSetScores(ctx context.Context, caller fhe.Principal, subjects []fhe.Principal, scores []uint64) error {
	if len(subjects) != len(scores) {
		return ErrBatchLengthMismatch
	}
	if err := r.requireOracle(ctx, caller); err != nil {
		return err
	}
	for _, s := range subjects {
		if s == fhe.Nobody {
			return ErrZeroAddress
		}
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for i, subject := range subjects {
			if err := r.setPlaintext(ctx, tx, subject, scores[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Registry) setPlaintext(ctx context.Context, tx dbx.DBTX, subject fhe.Principal, score uint64) error {
	if score > MaxScore {
		score = MaxScore
	}
	h, err := r.engine.Encrypt(ctx, score, fhe.Nobody)
	if err != nil {
		return fmt.Errorf("trust: encrypt score: %w", err)
	}
	return r.storeScore(ctx, tx, subject, h)
}

// clamp obliviously replaces values above MaxScore with an encrypted zero.
func (r *Registry) clamp(ctx context.Context, h fhe.Handle) (fhe.Handle, error) {
	limit, err := r.engine.Encrypt(ctx, MaxScore, fhe.Nobody)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: clamp: %w", err)
	}
	inRange, err := r.engine.CmpLE(ctx, h, limit)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: clamp: %w", err)
	}
	zero, err := r.engine.Encrypt(ctx, 0, fhe.Nobody)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: clamp: %w", err)
	}
	clamped, err := r.engine.Select(ctx, inRange, h, zero)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: clamp: %w", err)
	}
	return clamped, nil
}

// storeScore writes one record and its event through the given transaction
// handle, so batch callers keep every pair inside a single transaction.
func (r *Registry) storeScore(ctx context.Context, tx dbx.DBTX, subject fhe.Principal, score fhe.Handle) error {
	repo := r.repos.Scores(tx)

	rec, err := repo.Get(ctx, subject)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("trust: load record: %w", err)
	}
	first := rec == nil || !rec.HasScore

	if err := repo.Upsert(ctx, &TrustRecord{
		Subject:    subject,
		Score:      score,
		HasScore:   true,
		LastUpdate: r.now(),
	}); err != nil {
		return fmt.Errorf("trust: store score: %w", err)
	}

	return r.events(tx).Append(ctx, audit.TypeTrustScoreUpdated, map[string]any{
		"subject": string(subject),
		"first":   first,
	})
}

// liveScore fetches the subject's record, translating a miss into
// ErrAccountNotScored and a stale record into ErrScoreExpired. Expiry is
// checked before any evaluation so the two failures stay distinct.
func (r *Registry) liveScore(ctx context.Context, subject fhe.Principal) (*TrustRecord, error) {
	rec, err := r.repos.Scores(r.db).Get(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAccountNotScored
		}
		return nil, fmt.Errorf("trust: load record: %w", err)
	}
	if !rec.HasScore {
		return nil, ErrAccountNotScored
	}
	if r.now().Sub(rec.LastUpdate) > ScoreValidity {
		return nil, ErrScoreExpired
	}
	return rec, nil
}

func (r *Registry) tierBool(ctx context.Context, caller, subject fhe.Principal, threshold uint64, cmp func(ctx context.Context, a, b fhe.Handle) (fhe.Handle, error)) (fhe.Handle, error) {
	rec, err := r.liveScore(ctx, subject)
	if err != nil {
		return fhe.NilHandle, err
	}

	th, err := r.engine.Encrypt(ctx, threshold, fhe.Nobody)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: encrypt threshold: %w", err)
	}
	b, err := cmp(ctx, rec.Score, th)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: compare: %w", err)
	}
	if err := r.engine.GrantTransient(ctx, b, caller); err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: grant result: %w", err)
	}
	return b, nil
}

// IsHighTrust returns an encrypted boolean: score >= HighTrustThreshold.
// The caller receives a transient grant on the result.
func (r *Registry) IsHighTrust(ctx context.Context, caller, subject fhe.Principal) (fhe.Handle, error) {
	return r.tierBool(ctx, caller, subject, HighTrustThreshold, r.engine.CmpGE)
}

// IsMediumTrust returns an encrypted boolean: score >= MediumTrustThreshold.
func (r *Registry) IsMediumTrust(ctx context.Context, caller, subject fhe.Principal) (fhe.Handle, error) {
	return r.tierBool(ctx, caller, subject, MediumTrustThreshold, r.engine.CmpGE)
}

// IsLowTrust returns an encrypted boolean: score < MediumTrustThreshold.
func (r *Registry) IsLowTrust(ctx context.Context, caller, subject fhe.Principal) (fhe.Handle, error) {
	return r.tierBool(ctx, caller, subject, MediumTrustThreshold, r.engine.CmpLT)
}

// GetTrustTier returns an encrypted 3-way classification (2=HIGH, 1=MEDIUM,
// 0=LOW) built from nested oblivious selects. The owner gets a permanent
// grant for audit, the caller a transient one.
func (r *Registry) GetTrustTier(ctx context.Context, caller, subject fhe.Principal) (fhe.Handle, error) {
	rec, err := r.liveScore(ctx, subject)
	if err != nil {
		return fhe.NilHandle, err
	}

	encode := func(v uint64) (fhe.Handle, error) { return r.engine.Encrypt(ctx, v, fhe.Nobody) }

	high, err := encode(HighTrustThreshold)
	if err != nil {
		return fhe.NilHandle, err
	}
	med, err := encode(MediumTrustThreshold)
	if err != nil {
		return fhe.NilHandle, err
	}
	isHigh, err := r.engine.CmpGE(ctx, rec.Score, high)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: compare: %w", err)
	}
	isMed, err := r.engine.CmpGE(ctx, rec.Score, med)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: compare: %w", err)
	}

	two, err := encode(2)
	if err != nil {
		return fhe.NilHandle, err
	}
	one, err := encode(1)
	if err != nil {
		return fhe.NilHandle, err
	}
	zero, err := encode(0)
	if err != nil {
		return fhe.NilHandle, err
	}

	lower, err := r.engine.Select(ctx, isMed, one, zero)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: select: %w", err)
	}
	tier, err := r.engine.Select(ctx, isHigh, two, lower)
	if err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: select: %w", err)
	}

	if err := r.engine.GrantPermanent(ctx, tier, r.owner); err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: grant owner: %w", err)
	}
	if err := r.engine.GrantTransient(ctx, tier, caller); err != nil {
		return fhe.NilHandle, fmt.Errorf("trust: grant caller: %w", err)
	}
	return tier, nil
}

// GetTrustScore returns the raw ciphertext handle. Reading the plaintext
// still requires a decrypt grant issued via AllowScoreAccess.
func (r *Registry) GetTrustScore(ctx context.Context, subject fhe.Principal) (fhe.Handle, error) {
	rec, err := r.repos.Scores(r.db).Get(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fhe.NilHandle, ErrAccountNotScored
		}
		return fhe.NilHandle, fmt.Errorf("trust: load record: %w", err)
	}
	if !rec.HasScore {
		return fhe.NilHandle, ErrAccountNotScored
	}
	return rec.Score, nil
}

// HasScore reports whether a live score exists for the subject.
func (r *Registry) HasScore(ctx context.Context, subject fhe.Principal) (bool, error) {
	rec, err := r.repos.Scores(r.db).Get(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("trust: load record: %w", err)
	}
	return rec.HasScore, nil
}

// IsScoreExpired reports true for unscored subjects and for scores older
// than ScoreValidity.
func (r *Registry) IsScoreExpired(ctx context.Context, subject fhe.Principal) (bool, error) {
	rec, err := r.repos.Scores(r.db).Get(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("trust: load record: %w", err)
	}
	if !rec.HasScore {
		return true, nil
	}
	return r.now().Sub(rec.LastUpdate) > ScoreValidity, nil
}

// ScoredSubjects returns the number of live scores.
func (r *Registry) ScoredSubjects(ctx context.Context) (int, error) {
	return r.repos.Scores(r.db).Count(ctx)
}

// AllowScoreAccess grants the viewer permanent decrypt permission on the
// subject's current ciphertext. Owner only. A later score update supersedes
// the handle, so the grant does not extend to future values.
func (r *Registry) AllowScoreAccess(ctx context.Context, caller, subject, viewer fhe.Principal) error {
	if caller != r.owner {
		return ErrUnauthorized
	}
	if viewer == fhe.Nobody {
		return ErrZeroAddress
	}

	rec, err := r.repos.Scores(r.db).Get(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrAccountNotScored
		}
		return fmt.Errorf("trust: load record: %w", err)
	}
	if !rec.HasScore {
		return ErrAccountNotScored
	}

	if err := r.engine.GrantPermanent(ctx, rec.Score, viewer); err != nil {
		return fmt.Errorf("trust: grant viewer: %w", err)
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return r.events(tx).Append(ctx, audit.TypeScoreAccessGranted, map[string]any{
			"subject": string(subject),
			"viewer":  string(viewer),
		})
	})
}

// RevokeScore clears the subject's record. Oracle only. Re-scoring after a
// revoke is treated as a fresh first set.
func (r *Registry) RevokeScore(ctx context.Context, caller, subject fhe.Principal) error {
	if err := r.requireOracle(ctx, caller); err != nil {
		return err
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.repos.Scores(tx)

		rec, err := repo.Get(ctx, subject)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrAccountNotScored
			}
			return fmt.Errorf("trust: load record: %w", err)
		}
		if !rec.HasScore {
			return ErrAccountNotScored
		}

		if err := repo.Upsert(ctx, &TrustRecord{Subject: subject}); err != nil {
			return fmt.Errorf("trust: revoke score: %w", err)
		}

		return r.events(tx).Append(ctx, audit.TypeTrustScoreRevoked, map[string]any{
			"subject": string(subject),
		})
	})
}

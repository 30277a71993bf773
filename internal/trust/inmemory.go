package trust

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/veilpay/internal/fhe"
)

// InMemoryScoreRepository keeps records in a map. Unit tests and the
// in-memory manager use it.
type InMemoryScoreRepository struct {
	mu      sync.RWMutex
	records map[fhe.Principal]TrustRecord
}

func NewInMemoryScoreRepository() *InMemoryScoreRepository {
	return &InMemoryScoreRepository{records: make(map[fhe.Principal]TrustRecord)}
}

func (r *InMemoryScoreRepository) Get(ctx context.Context, subject fhe.Principal) (*TrustRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[subject]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

func (r *InMemoryScoreRepository) Upsert(ctx context.Context, rec *TrustRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[rec.Subject] = *rec
	return nil
}

func (r *InMemoryScoreRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.records {
		if rec.HasScore {
			n++
		}
	}
	return n, nil
}

type InMemoryOracleRepository struct {
	mu      sync.RWMutex
	oracles map[fhe.Principal]bool
}

func NewInMemoryOracleRepository() *InMemoryOracleRepository {
	return &InMemoryOracleRepository{oracles: make(map[fhe.Principal]bool)}
}

func (r *InMemoryOracleRepository) IsAuthorized(ctx context.Context, oracle fhe.Principal) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.oracles[oracle], nil
}

func (r *InMemoryOracleRepository) SetAuthorized(ctx context.Context, oracle fhe.Principal, authorized bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.oracles[oracle] = authorized
	return nil
}

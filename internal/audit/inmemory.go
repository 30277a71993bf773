package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository keeps events in a slice. Used by unit tests and the
// in-memory repository manager.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events []*Event
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

func (r *InMemoryRepository) Append(ctx context.Context, typ string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make(map[string]any, len(payload))
	for k, v := range payload {
		copied[k] = v
	}

	r.events = append(r.events, &Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   copied,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (r *InMemoryRepository) ListByType(ctx context.Context, typ string) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) ListSince(ctx context.Context, since time.Time) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Event
	for _, e := range r.events {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndListByType(t *testing.T) {
	r := NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, r.Append(ctx, TypeEmployeeAdded, map[string]any{"wallet": "w1"}))
	require.NoError(t, r.Append(ctx, TypePayrollExecuted, map[string]any{"run": 1}))
	require.NoError(t, r.Append(ctx, TypeEmployeeAdded, map[string]any{"wallet": "w2"}))

	events, err := r.ListByType(ctx, TypeEmployeeAdded)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "w1", events[0].Payload["wallet"])
	assert.Equal(t, "w2", events[1].Payload["wallet"])
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestListSince(t *testing.T) {
	r := NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, r.Append(ctx, TypeEmployeeAdded, nil))

	events, err := r.ListSince(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = r.ListSince(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAppend_CopiesPayload(t *testing.T) {
	r := NewInMemoryRepository()
	ctx := context.Background()

	payload := map[string]any{"wallet": "w1"}
	require.NoError(t, r.Append(ctx, TypeEmployeeAdded, payload))
	payload["wallet"] = "mutated"

	events, err := r.ListByType(ctx, TypeEmployeeAdded)
	require.NoError(t, err)
	assert.Equal(t, "w1", events[0].Payload["wallet"])
}

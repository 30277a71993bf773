package fhe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeemTicket(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	secret := []byte("ticket-secret")

	h, err := e.Encrypt(ctx, 91, "viewer")
	require.NoError(t, err)

	ticket, err := IssueDecryptTicket(h, "viewer", secret, time.Minute)
	require.NoError(t, err)

	v, err := e.RedeemTicket(ctx, ticket, secret)
	require.NoError(t, err)
	assert.Equal(t, uint64(91), v)
}

func TestRedeemTicket_WrongSecret(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	h, err := e.Encrypt(ctx, 91, "viewer")
	require.NoError(t, err)

	ticket, err := IssueDecryptTicket(h, "viewer", []byte("right"), time.Minute)
	require.NoError(t, err)

	_, err = e.RedeemTicket(ctx, ticket, []byte("wrong"))
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestRedeemTicket_Expired(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	secret := []byte("ticket-secret")

	h, err := e.Encrypt(ctx, 91, "viewer")
	require.NoError(t, err)

	ticket, err := IssueDecryptTicket(h, "viewer", secret, -time.Minute)
	require.NoError(t, err)

	_, err = e.RedeemTicket(ctx, ticket, secret)
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestRedeemTicket_NoGrant(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	secret := []byte("ticket-secret")

	h, err := e.Encrypt(ctx, 91, "owner")
	require.NoError(t, err)

	// a valid ticket does not create access by itself
	ticket, err := IssueDecryptTicket(h, "stranger", secret, time.Minute)
	require.NoError(t, err)

	_, err = e.RedeemTicket(ctx, ticket, secret)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

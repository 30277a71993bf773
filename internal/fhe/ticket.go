package fhe

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidTicket is returned when a decrypt ticket fails signature or
// expiry checks.
var ErrInvalidTicket = errors.New("fhe: invalid decrypt ticket")

// TicketClaims is the payload of a decrypt ticket: a signed, expiring
// statement that a principal may redeem one handle off-chain. Tickets
// accompany a permanent grant; they are the transportable form of it.
type TicketClaims struct {
	jwt.RegisteredClaims
	Handle    string `json:"handle"`
	Principal string `json:"principal"`
}

// IssueDecryptTicket mints a signed ticket for the given handle and
// principal. The grant itself must be issued separately (the ticket does not
// create access, it only carries it).
func IssueDecryptTicket(h Handle, p Principal, secret []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TicketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		Handle:    string(h),
		Principal: string(p),
	})

	return token.SignedString(secret)
}

// RedeemTicket verifies a ticket and, when the named principal holds a live
// grant on the named handle, reveals the plaintext. This is the off-chain
// decryption path viewers use after allowScoreAccess.
func (e *DevEngine) RedeemTicket(ctx context.Context, ticket string, secret []byte) (uint64, error) {
	claims := &TicketClaims{}

	token, err := jwt.ParseWithClaims(ticket, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return 0, ErrInvalidTicket
	}
	if !token.Valid {
		return 0, ErrInvalidTicket
	}

	return e.Decrypt(ctx, Handle(claims.Handle), Principal(claims.Principal))
}

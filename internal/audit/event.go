// Package audit is the append-only event log external observers read instead
// of decrypting anything. Payloads carry only public facts: addresses, ids,
// statuses, counts. Encrypted amounts and scores never appear here.
package audit

import (
	"context"
	"time"

	"github.com/dmitrijs2005/veilpay/internal/dbx"
)

// Event types emitted by the trust registry and payroll engine.
const (
	TypeTrustScoreUpdated   = "TrustScoreUpdated"
	TypeOracleAuthorized    = "OracleAuthorized"
	TypeTrustScoreRevoked   = "TrustScoreRevoked"
	TypeScoreAccessGranted  = "ScoreAccessGranted"
	TypeEmployeeAdded       = "EmployeeAdded"
	TypeEmployeeRemoved     = "EmployeeRemoved"
	TypeEmployeeUpdated     = "EmployeeUpdated"
	TypeSalaryUpdated       = "SalaryUpdated"
	TypePayrollExecuted     = "PayrollExecuted"
	TypeInstantPayment      = "InstantPayment"
	TypePaymentDelayed      = "PaymentDelayed"
	TypePaymentEscrowed     = "PaymentEscrowed"
	TypePaymentReleased     = "PaymentReleased"
	TypePaymentCancelled    = "PaymentCancelled"
	TypeEmployerTransferred = "EmployerTransferred"
	TypeTrustSourceUpdated  = "TrustSourceUpdated"
	TypePayTokenUpdated     = "PayTokenUpdated"
)

// Event is one immutable audit record.
type Event struct {
	ID        string
	Type      string
	Payload   map[string]any
	CreatedAt time.Time
}

// Repository appends and reads audit events. Appends happen inside the same
// transaction as the state change they describe.
type Repository interface {
	Append(ctx context.Context, typ string, payload map[string]any) error
	ListByType(ctx context.Context, typ string) ([]*Event, error)
	ListSince(ctx context.Context, since time.Time) ([]*Event, error)
}

// RepoFactory yields a Repository bound to the given database handle, so a
// service can append events on its open transaction.
type RepoFactory func(db dbx.DBTX) Repository

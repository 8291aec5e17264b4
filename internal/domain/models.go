package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a top-up payment.
type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "created"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// CanTransitionTo reports whether moving from s to next is a forward move.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentCreated:
		return next == PaymentProcessing || next == PaymentCompleted || next == PaymentFailed
	case PaymentProcessing:
		return next == PaymentCompleted || next == PaymentFailed
	default:
		return false
	}
}

// EntryTypeTopUp tags ledger entries created by a completed payment.
const EntryTypeTopUp = "Top-up"

// Payment represents one attempted top-up. Rows are never deleted.
type Payment struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	ExternalID   *string         `json:"external_id,omitempty"`
	ReferenceID  string          `json:"reference_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       PaymentStatus   `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// UserBalance is the token counter owned by one user.
// OpeningBalance is the balance the row was created with.
type UserBalance struct {
	UserID         int64     `json:"user_id"`
	Balance        int64     `json:"balance"`
	OpeningBalance int64     `json:"opening_balance"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LedgerEntry is an immutable record of a balance-affecting event.
// BalanceAfter always equals the previous balance plus Delta.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Type         string          `json:"type"`
	Delta        int64           `json:"delta"`
	BalanceAfter int64           `json:"balance_after"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	ReceiptRef   *string         `json:"receipt_ref,omitempty"`
	PaymentID    *int64          `json:"payment_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LedgerAudit is the result of replaying a user's ledger against the stored balance.
type LedgerAudit struct {
	UserID         int64 `json:"user_id"`
	OpeningBalance int64 `json:"opening_balance"`
	SumDelta       int64 `json:"sum_delta"`
	Balance        int64 `json:"balance"`
	Entries        int   `json:"entries"`
	Consistent     bool  `json:"consistent"`
}

// NewLedgerAudit builds an audit from its aggregates.
func NewLedgerAudit(userID, opening, sumDelta, balance int64, entries int) *LedgerAudit {
	return &LedgerAudit{
		UserID:         userID,
		OpeningBalance: opening,
		SumDelta:       sumDelta,
		Balance:        balance,
		Entries:        entries,
		Consistent:     opening+sumDelta == balance,
	}
}

package models

import "github.com/punchamoorthee/tokenledger/internal/domain"

// TopUpRequest is the payload for initiating a top-up.
type TopUpRequest struct {
	UserID   int64  `json:"user_id" validate:"required,gt=0"`
	Amount   string `json:"amount" validate:"required,numeric"`
	Currency string `json:"currency" validate:"required,len=3,alpha"`
}

// TopUpResponse is returned once the payment row exists.
type TopUpResponse struct {
	Payment domain.Payment `json:"payment"`
}

// WebhookAck is the acknowledgment body for gateway notifications.
type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// BalanceResponse is the canonical balance view.
type BalanceResponse struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

// EntriesResponse wraps a page of ledger entries.
type EntriesResponse struct {
	UserID  int64                `json:"user_id"`
	Entries []domain.LedgerEntry `json:"entries"`
}

// TopUpCompleted is the event emitted after a top-up credit commits.
type TopUpCompleted struct {
	PaymentID    int64  `json:"payment_id"`
	UserID       int64  `json:"user_id"`
	ReferenceID  string `json:"reference_id"`
	ExternalID   string `json:"external_id"`
	Tokens       int64  `json:"tokens"`
	BalanceAfter int64  `json:"balance_after"`
	Currency     string `json:"currency"`
	Amount       string `json:"amount"`
	ReceiptRef   string `json:"receipt_ref"`
	RatesVersion string `json:"rates_version"`
}

// Package spoynt decodes and authenticates Spoynt payment-invoice callbacks.
package spoynt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries the callback signature.
const SignatureHeader = "X-Signature"

var ErrMalformedNotification = errors.New("malformed notification")

// Outcome is the internal classification of a gateway status.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeFailure
	OutcomePending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomePending:
		return "pending"
	default:
		return "unknown"
	}
}

var statusOutcomes = map[string]Outcome{
	"processed": OutcomeSuccess,
	"success":   OutcomeSuccess,
	"succeeded": OutcomeSuccess,
	"completed": OutcomeSuccess,

	"process_failed": OutcomeFailure,
	"failed":         OutcomeFailure,
	"declined":       OutcomeFailure,
	"expired":        OutcomeFailure,
	"canceled":       OutcomeFailure,
	"cancelled":      OutcomeFailure,
	"rejected":       OutcomeFailure,

	"created":         OutcomePending,
	"pending":         OutcomePending,
	"process_pending": OutcomePending,
	"processing":      OutcomePending,
}

// Classify maps a gateway status onto an Outcome. Unrecognized statuses are OutcomeUnknown.
func Classify(status string) Outcome {
	return statusOutcomes[strings.ToLower(strings.TrimSpace(status))]
}

// Notification holds the fields of a callback the ledger cares about.
type Notification struct {
	ExternalID  string
	ReferenceID string
	Status      string
	Resolution  string
	Amount      decimal.Decimal
	HasAmount   bool
	Currency    string
	TestMode    bool
}

type envelope struct {
	Data *struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			ReferenceID string      `json:"reference_id"`
			Status      string      `json:"status"`
			Resolution  string      `json:"resolution"`
			Amount      json.Number `json:"amount"`
			Currency    string      `json:"currency"`
			TestMode    bool        `json:"test_mode"`
		} `json:"attributes"`
	} `json:"data"`
}

// ParseNotification decodes a raw callback body. Amounts are kept as decimals end to end.
func ParseNotification(body []byte) (*Notification, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedNotification)
	}

	attrs := env.Data.Attributes
	n := &Notification{
		ExternalID:  strings.TrimSpace(env.Data.ID),
		ReferenceID: strings.TrimSpace(attrs.ReferenceID),
		Status:      strings.TrimSpace(attrs.Status),
		Resolution:  strings.TrimSpace(attrs.Resolution),
		Currency:    strings.ToUpper(strings.TrimSpace(attrs.Currency)),
		TestMode:    attrs.TestMode,
	}
	if n.ExternalID == "" && n.ReferenceID == "" {
		return nil, fmt.Errorf("%w: payment id and reference id are both empty", ErrMalformedNotification)
	}
	if n.Status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedNotification)
	}
	if attrs.Amount != "" {
		amount, err := decimal.NewFromString(attrs.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("%w: amount %q: %v", ErrMalformedNotification, attrs.Amount, err)
		}
		n.Amount = amount
		n.HasAmount = true
	}
	return n, nil
}

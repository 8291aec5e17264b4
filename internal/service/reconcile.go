package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/tokenledger/internal/cache"
	"github.com/punchamoorthee/tokenledger/internal/currency"
	"github.com/punchamoorthee/tokenledger/internal/domain"
	"github.com/punchamoorthee/tokenledger/internal/events"
	"github.com/punchamoorthee/tokenledger/internal/models"
	"github.com/punchamoorthee/tokenledger/internal/spoynt"
	"github.com/punchamoorthee/tokenledger/internal/store"
	"go.uber.org/zap"
)

// Outcome describes what a notification did to the store.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeFailed          Outcome = "failed"
	OutcomeProcessing      Outcome = "processing"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeAlreadyTerminal Outcome = "already_terminal"
	OutcomeIgnoredStatus   Outcome = "ignored_status"
	OutcomeModeMismatch    Outcome = "mode_mismatch"
)

const afterCommitTimeout = 5 * time.Second

// Result is the acknowledgment of one processed notification.
type Result struct {
	Outcome        Outcome              `json:"outcome"`
	PaymentID      int64                `json:"payment_id,omitempty"`
	ReferenceID    string               `json:"reference_id,omitempty"`
	Status         domain.PaymentStatus `json:"status,omitempty"`
	TokensCredited int64                `json:"tokens_credited,omitempty"`
	BalanceAfter   int64                `json:"balance_after,omitempty"`
}

// TxRunner opens ledger transactions.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error
}

// Reconciler applies gateway notifications to payments, balances and the ledger.
type Reconciler struct {
	store     TxRunner
	verifier  *spoynt.Verifier
	cache     cache.BalanceCache
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewReconciler(
	s TxRunner,
	verifier *spoynt.Verifier,
	balanceCache cache.BalanceCache,
	publisher events.Publisher,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		store:     s,
		verifier:  verifier,
		cache:     balanceCache,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Reconcile authenticates a raw notification and applies at most one state transition.
// Returned errors wrap spoynt.ErrMalformedNotification, spoynt.ErrInvalidSignature,
// currency.ErrUnsupportedCurrency, currency.ErrInvalidAmount or a store failure.
func (r *Reconciler) Reconcile(ctx context.Context, body []byte, signature string) (*Result, error) {
	n, err := spoynt.ParseNotification(body)
	if err != nil {
		r.logger.Warn("rejecting malformed notification", zap.Int("payload_size", len(body)), zap.Error(err))
		return nil, err
	}

	log := r.logger.With(
		zap.String("external_id", n.ExternalID),
		zap.String("reference_id", n.ReferenceID),
		zap.String("status", n.Status),
	)

	if err := r.verifier.Verify(body, signature); err != nil {
		log.Warn("notification signature rejected",
			zap.Bool("security", true),
			zap.Bool("signature_present", signature != ""))
		return nil, err
	}

	if n.TestMode != r.verifier.TestMode() {
		log.Warn("notification mode does not match server mode",
			zap.Bool("notification_test_mode", n.TestMode),
			zap.Bool("server_test_mode", r.verifier.TestMode()))
		return &Result{Outcome: OutcomeModeMismatch, ReferenceID: n.ReferenceID}, nil
	}

	outcome := spoynt.Classify(n.Status)

	var (
		res      *Result
		credited *models.TopUpCompleted
	)
	err = r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res = &Result{ReferenceID: n.ReferenceID}
		credited = nil

		p, err := tx.FindPaymentForUpdate(ctx, n.ExternalID, n.ReferenceID)
		if errors.Is(err, store.ErrPaymentNotFound) {
			res.Outcome = OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}

		res.PaymentID = p.ID
		res.ReferenceID = p.ReferenceID
		res.Status = p.Status

		if p.Status.IsTerminal() {
			res.Outcome = OutcomeAlreadyTerminal
			return nil
		}

		switch outcome {
		case spoynt.OutcomeSuccess:
			evt, err := r.credit(ctx, tx, p, n, log)
			if err != nil {
				return err
			}
			credited = evt
			res.Outcome = OutcomeCompleted
			res.Status = domain.PaymentCompleted
			res.TokensCredited = evt.Tokens
			res.BalanceAfter = evt.BalanceAfter

		case spoynt.OutcomeFailure:
			reason := n.Resolution
			if reason == "" {
				reason = n.Status
			}
			if err := tx.MarkFailed(ctx, p.ID, n.ExternalID, reason); err != nil {
				return err
			}
			res.Outcome = OutcomeFailed
			res.Status = domain.PaymentFailed

		case spoynt.OutcomePending:
			res.Outcome = OutcomeProcessing
			res.Status = domain.PaymentProcessing
			if p.Status == domain.PaymentProcessing && !learnsExternalID(p, n.ExternalID) {
				return nil
			}
			if err := tx.MarkProcessing(ctx, p.ID, n.ExternalID); err != nil {
				return err
			}

		default:
			res.Outcome = OutcomeIgnoredStatus
		}
		return nil
	})
	if err != nil {
		log.Error("notification reconciliation failed", zap.Error(err))
		return nil, err
	}

	log.Info("notification reconciled",
		zap.String("outcome", string(res.Outcome)),
		zap.Int64("payment_id", res.PaymentID),
		zap.Int64("tokens_credited", res.TokensCredited))

	if credited != nil {
		r.afterCredit(ctx, *credited, log)
	}
	return res, nil
}

// credit marks the payment completed and appends the matching ledger entry.
// It must run inside the caller's transaction.
func (r *Reconciler) credit(
	ctx context.Context,
	tx store.Tx,
	p *domain.Payment,
	n *spoynt.Notification,
	log *zap.Logger,
) (*models.TopUpCompleted, error) {
	amount, code := p.Amount, p.Currency
	if n.HasAmount {
		amount = n.Amount
	}
	if n.Currency != "" {
		code = n.Currency
	}
	if !amount.Equal(p.Amount) || code != p.Currency {
		log.Warn("gateway amount differs from initiated payment",
			zap.String("initiated", p.Amount.String()+" "+p.Currency),
			zap.String("reported", amount.String()+" "+code))
	}

	tokens, err := currency.ToTokens(amount, code)
	if err != nil {
		return nil, err
	}

	if err := tx.MarkCompleted(ctx, p.ID, n.ExternalID, r.now()); err != nil {
		return nil, err
	}

	current, err := tx.LockBalance(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	next := current + tokens
	if err := tx.SetBalance(ctx, p.UserID, next); err != nil {
		return nil, err
	}

	receipt := fmt.Sprintf("RCPT-%d", p.ID)
	paymentID := p.ID
	entry := &domain.LedgerEntry{
		UserID:       p.UserID,
		Type:         domain.EntryTypeTopUp,
		Delta:        tokens,
		BalanceAfter: next,
		Currency:     code,
		Amount:       amount,
		ReceiptRef:   &receipt,
		PaymentID:    &paymentID,
	}
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	externalID := n.ExternalID
	if externalID == "" && p.ExternalID != nil {
		externalID = *p.ExternalID
	}
	return &models.TopUpCompleted{
		PaymentID:    p.ID,
		UserID:       p.UserID,
		ReferenceID:  p.ReferenceID,
		ExternalID:   externalID,
		Tokens:       tokens,
		BalanceAfter: next,
		Currency:     code,
		Amount:       amount.String(),
		ReceiptRef:   receipt,
		RatesVersion: currency.RatesVersion,
	}, nil
}

// afterCredit runs the best-effort side effects of a committed credit.
func (r *Reconciler) afterCredit(ctx context.Context, evt models.TopUpCompleted, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterCommitTimeout)
	defer cancel()

	if err := r.cache.Set(ctx, evt.UserID, evt.BalanceAfter); err != nil {
		log.Warn("balance cache update failed", zap.Int64("user_id", evt.UserID), zap.Error(err))
		if err := r.cache.Invalidate(ctx, evt.UserID); err != nil {
			log.Warn("balance cache invalidation failed", zap.Int64("user_id", evt.UserID), zap.Error(err))
		}
	}
	if err := r.publisher.PublishTopUpCompleted(ctx, evt); err != nil {
		log.Warn("top-up event publish failed", zap.Int64("user_id", evt.UserID), zap.Error(err))
	}
}

func learnsExternalID(p *domain.Payment, externalID string) bool {
	if externalID == "" {
		return false
	}
	return p.ExternalID == nil || *p.ExternalID != externalID
}

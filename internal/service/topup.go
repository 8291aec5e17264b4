package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/punchamoorthee/tokenledger/internal/cache"
	"github.com/punchamoorthee/tokenledger/internal/currency"
	"github.com/punchamoorthee/tokenledger/internal/domain"
	"github.com/punchamoorthee/tokenledger/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultEntriesLimit = 50
	MaxEntriesLimit     = 500
)

var ErrInvalidRequest = errors.New("invalid request")

// PaymentStore is the read and initiation side of the ledger store.
type PaymentStore interface {
	EnsureBalance(ctx context.Context, userID, opening int64) error
	CreatePayment(ctx context.Context, p *domain.Payment) error
	GetPaymentByReference(ctx context.Context, referenceID string) (*domain.Payment, error)
	GetBalance(ctx context.Context, userID int64) (*domain.UserBalance, error)
	ListEntries(ctx context.Context, userID int64, limit int) ([]domain.LedgerEntry, error)
	AuditLedger(ctx context.Context, userID int64) (*domain.LedgerAudit, error)
}

// TopUpService initiates top-ups and serves balance and ledger reads.
type TopUpService struct {
	store    PaymentStore
	cache    cache.BalanceCache
	validate *validator.Validate
	logger   *zap.Logger
	newRef   func() string
}

func NewTopUpService(s PaymentStore, balanceCache cache.BalanceCache, logger *zap.Logger) *TopUpService {
	return &TopUpService{
		store:    s,
		cache:    balanceCache,
		validate: validator.New(),
		logger:   logger,
		newRef:   uuid.NewString,
	}
}

// CreateTopUp records a new payment in status created under a fresh reference id.
func (s *TopUpService) CreateTopUp(ctx context.Context, req models.TopUpRequest) (*domain.Payment, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(formatValidationError(err), "; "))
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", ErrInvalidRequest, req.Amount)
	}
	if err := currency.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	code := strings.ToUpper(req.Currency)
	if !currency.IsSupported(code) {
		return nil, fmt.Errorf("%w: %s", currency.ErrUnsupportedCurrency, code)
	}

	if err := s.store.EnsureBalance(ctx, req.UserID, 0); err != nil {
		return nil, err
	}

	p := &domain.Payment{
		UserID:      req.UserID,
		ReferenceID: s.newRef(),
		Amount:      amount,
		Currency:    code,
		Status:      domain.PaymentCreated,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("top-up initiated",
		zap.Int64("payment_id", p.ID),
		zap.Int64("user_id", p.UserID),
		zap.String("reference_id", p.ReferenceID),
		zap.String("amount", p.Amount.String()),
		zap.String("currency", p.Currency))
	return p, nil
}

func (s *TopUpService) GetPayment(ctx context.Context, referenceID string) (*domain.Payment, error) {
	return s.store.GetPaymentByReference(ctx, referenceID)
}

// GetBalance serves from cache when possible and refills it on a miss.
func (s *TopUpService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	balance, err := s.cache.Get(ctx, userID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("balance cache read failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	b, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	// Fill never replaces a value written after a newer credit committed.
	if err := s.cache.Fill(ctx, userID, b.Balance); err != nil {
		s.logger.Warn("balance cache refill failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return b.Balance, nil
}

// ListEntries returns the newest entries first. limit is clamped to [1, MaxEntriesLimit].
func (s *TopUpService) ListEntries(ctx context.Context, userID int64, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultEntriesLimit
	}
	if limit > MaxEntriesLimit {
		limit = MaxEntriesLimit
	}
	return s.store.ListEntries(ctx, userID, limit)
}

// Audit checks that the opening balance plus every ledger delta equals the stored balance.
func (s *TopUpService) Audit(ctx context.Context, userID int64) (*domain.LedgerAudit, error) {
	audit, err := s.store.AuditLedger(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !audit.Consistent {
		s.logger.Error("ledger does not reconstruct balance",
			zap.Int64("user_id", userID),
			zap.Int64("opening_balance", audit.OpeningBalance),
			zap.Int64("sum_delta", audit.SumDelta),
			zap.Int64("balance", audit.Balance))
	}
	return audit, nil
}

func formatValidationError(err error) []string {
	var errs []string

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []string{err.Error()}
	}
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			errs = append(errs, fmt.Sprintf("%s is required", field))
		case "gt":
			errs = append(errs, fmt.Sprintf("%s must be greater than %s", field, e.Param()))
		case "len":
			errs = append(errs, fmt.Sprintf("%s must have length %s", field, e.Param()))
		default:
			errs = append(errs, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
		}
	}
	return errs
}

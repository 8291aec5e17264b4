package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/punchamoorthee/tokenledger/internal/cache"
	"github.com/punchamoorthee/tokenledger/internal/domain"
	"github.com/punchamoorthee/tokenledger/internal/models"
	"github.com/punchamoorthee/tokenledger/internal/store"
)

var errInjected = errors.New("injected store failure")

// memStore is an in-memory ledger store. InTx holds a single mutex for the
// whole transaction and restores a snapshot when fn fails.
type memStore struct {
	mu       sync.Mutex
	state    memState
	failOn   string
	updates  int
	txCalled int
}

type memState struct {
	payments map[int64]domain.Payment
	balances map[int64]domain.UserBalance
	entries  []domain.LedgerEntry
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		payments: map[int64]domain.Payment{},
		balances: map[int64]domain.UserBalance{},
	}}
}

func (s memState) clone() memState {
	c := memState{
		payments: make(map[int64]domain.Payment, len(s.payments)),
		balances: make(map[int64]domain.UserBalance, len(s.balances)),
		entries:  append([]domain.LedgerEntry(nil), s.entries...),
		nextID:   s.nextID,
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCalled++

	snapshot := s.state.clone()
	updates := s.updates
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.state = snapshot
		s.updates = updates
		return err
	}
	return nil
}

// addPayment seeds a payment and its user's balance row.
func (s *memStore) addPayment(userID int64, ref, amount, code string, opening int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.balances[userID]; !ok {
		s.state.balances[userID] = domain.UserBalance{UserID: userID, Balance: opening, OpeningBalance: opening}
	}
	s.state.nextID++
	id := s.state.nextID
	s.state.payments[id] = domain.Payment{
		ID:          id,
		UserID:      userID,
		ReferenceID: ref,
		Amount:      mustDecimal(amount),
		Currency:    code,
		Status:      domain.PaymentCreated,
	}
	return id
}

func (s *memStore) payment(id int64) domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.payments[id]
}

func (s *memStore) balance(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.balances[userID].Balance
}

func (s *memStore) entriesFor(userID int64) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.state.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

type memTx struct {
	s *memStore
}

func (t *memTx) fail(op string) error {
	if t.s.failOn == op {
		return errInjected
	}
	return nil
}

func (t *memTx) FindPaymentForUpdate(_ context.Context, externalID, referenceID string) (*domain.Payment, error) {
	if err := t.fail("FindPaymentForUpdate"); err != nil {
		return nil, err
	}
	for id := int64(1); id <= t.s.state.nextID; id++ {
		p, ok := t.s.state.payments[id]
		if !ok {
			continue
		}
		if (externalID != "" && p.ExternalID != nil && *p.ExternalID == externalID) ||
			(referenceID != "" && p.ReferenceID == referenceID) {
			return &p, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (t *memTx) transition(paymentID int64, op string, apply func(p *domain.Payment)) error {
	if err := t.fail(op); err != nil {
		return err
	}
	p, ok := t.s.state.payments[paymentID]
	if !ok || p.Status.IsTerminal() {
		return store.ErrConflict
	}
	apply(&p)
	t.s.state.payments[paymentID] = p
	t.s.updates++
	return nil
}

func setExternal(p *domain.Payment, externalID string) {
	if externalID != "" {
		id := externalID
		p.ExternalID = &id
	}
}

func (t *memTx) MarkCompleted(_ context.Context, paymentID int64, externalID string, at time.Time) error {
	return t.transition(paymentID, "MarkCompleted", func(p *domain.Payment) {
		p.Status = domain.PaymentCompleted
		setExternal(p, externalID)
		p.CompletedAt = &at
		p.ErrorMessage = nil
	})
}

func (t *memTx) MarkFailed(_ context.Context, paymentID int64, externalID, reason string) error {
	return t.transition(paymentID, "MarkFailed", func(p *domain.Payment) {
		p.Status = domain.PaymentFailed
		setExternal(p, externalID)
		p.ErrorMessage = &reason
	})
}

func (t *memTx) MarkProcessing(_ context.Context, paymentID int64, externalID string) error {
	return t.transition(paymentID, "MarkProcessing", func(p *domain.Payment) {
		p.Status = domain.PaymentProcessing
		setExternal(p, externalID)
	})
}

func (t *memTx) LockBalance(_ context.Context, userID int64) (int64, error) {
	if err := t.fail("LockBalance"); err != nil {
		return 0, err
	}
	b, ok := t.s.state.balances[userID]
	if !ok {
		b = domain.UserBalance{UserID: userID}
		t.s.state.balances[userID] = b
	}
	return b.Balance, nil
}

func (t *memTx) SetBalance(_ context.Context, userID, balance int64) error {
	if err := t.fail("SetBalance"); err != nil {
		return err
	}
	b := t.s.state.balances[userID]
	b.Balance = balance
	t.s.state.balances[userID] = b
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, e *domain.LedgerEntry) error {
	if err := t.fail("AppendEntry"); err != nil {
		return err
	}
	for _, existing := range t.s.state.entries {
		if e.PaymentID != nil && existing.PaymentID != nil && *existing.PaymentID == *e.PaymentID {
			return store.ErrDuplicate
		}
	}
	e.ID = int64(len(t.s.state.entries) + 1)
	t.s.state.entries = append(t.s.state.entries, *e)
	return nil
}

// recordingCache mirrors the redis cache semantics: Fill is SETNX and Set
// never lowers a cached value.
type recordingCache struct {
	mu          sync.Mutex
	values      map[int64]int64
	sets        []int64
	invalidated []int64
	getErr      error
	setErr      error
}

func newRecordingCache() *recordingCache {
	return &recordingCache{values: map[int64]int64{}}
}

func (c *recordingCache) Get(_ context.Context, userID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return 0, c.getErr
	}
	v, ok := c.values[userID]
	if !ok {
		return 0, cache.ErrCacheMiss
	}
	return v, nil
}

func (c *recordingCache) Fill(_ context.Context, userID, balance int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[userID]; !ok {
		c.values[userID] = balance
	}
	return nil
}

func (c *recordingCache) Set(_ context.Context, userID, balance int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.sets = append(c.sets, userID)
	if cur, ok := c.values[userID]; !ok || cur < balance {
		c.values[userID] = balance
	}
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

func (c *recordingCache) cached(userID int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[userID]
	return v, ok
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TopUpCompleted
}

func (p *recordingPublisher) PublishTopUpCompleted(_ context.Context, evt models.TopUpCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

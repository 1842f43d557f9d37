package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"exchange_go/internal/domain"
)

// Ledger is the authoritative in-memory balance book with write-through
// persistence. Entries are created lazily on first reference, keyed by
// (user, account class, currency).
//
// One mutex guards every mutation: balances are shared across symbols, so
// per-symbol serialization alone cannot prevent lost updates when two orders
// from the same user settle near-simultaneously.
type Ledger struct {
	mu       sync.Mutex
	store    domain.Store
	balances map[balanceKey]*domain.Balance
	hydrated map[ledgerScope]struct{}
}

type balanceKey struct {
	userID      int64
	accountType string
	currency    string
}

type ledgerScope struct {
	userID      int64
	accountType string
}

// NewLedger creates a ledger backed by the store.
func NewLedger(store domain.Store) *Ledger {
	return &Ledger{
		store:    store,
		balances: make(map[balanceKey]*domain.Balance),
		hydrated: make(map[ledgerScope]struct{}),
	}
}

// get loads or lazily creates an entry. Caller holds the mutex.
func (l *Ledger) get(userID int64, accountType, currency string) (*domain.Balance, error) {
	key := balanceKey{userID, accountType, currency}
	if b, ok := l.balances[key]; ok {
		return b, nil
	}

	b, err := l.store.GetBalance(userID, accountType, currency)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = &domain.Balance{
			UserID:      userID,
			AccountType: accountType,
			Currency:    currency,
			Available:   decimal.Zero,
			Frozen:      decimal.Zero,
			Borrowed:    decimal.Zero,
		}
	}
	l.balances[key] = b
	return b, nil
}

func (l *Ledger) persist(b *domain.Balance) error {
	b.UpdatedAt = time.Now()
	return l.store.SaveBalance(b)
}

// Balance returns a copy of the entry for reporting.
func (l *Ledger) Balance(userID int64, accountType, currency string) (domain.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := l.get(userID, accountType, currency)
	if err != nil {
		return domain.Balance{}, err
	}
	return *b, nil
}

// Deposit credits available funds. Used by the platform's points issuance.
func (l *Ledger) Deposit(userID int64, accountType, currency string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return domain.Reject(domain.ErrValidation, "deposit amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := l.get(userID, accountType, currency)
	if err != nil {
		return err
	}
	b.Available = b.Available.Add(amount)
	return l.persist(b)
}

// Freeze moves amount from available to frozen, atomically.
func (l *Ledger) Freeze(userID int64, accountType, currency string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := l.get(userID, accountType, currency)
	if err != nil {
		return err
	}
	if b.Available.LessThan(amount) {
		return domain.Reject(domain.ErrInsufficientFunds,
			"%s available %s, need %s", currency, b.Available, amount)
	}
	b.Available = b.Available.Sub(amount)
	b.Frozen = b.Frozen.Add(amount)
	return l.persist(b)
}

// Unfreeze releases reserved funds back to available.
func (l *Ledger) Unfreeze(userID int64, accountType, currency string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.get(userID, accountType, currency)
	if err != nil {
		return err
	}
	return l.unfreeze(b, amount)
}

func (l *Ledger) unfreeze(b *domain.Balance, amount decimal.Decimal) error {
	if b.Frozen.LessThan(amount) {
		return fmt.Errorf("unfreeze %s %s exceeds frozen %s", amount, b.Currency, b.Frozen)
	}
	b.Frozen = b.Frozen.Sub(amount)
	b.Available = b.Available.Add(amount)
	return l.persist(b)
}

// Settlement describes one fill's balance movements.
//
// The buyer's reservation is consumed at the limit price and the execution
// cost (fill value + buyer fee) paid out of it; price improvement flows back
// to available, a fee shortfall is drawn from available. The seller's base
// reservation is consumed one-for-one and the quote proceeds net of the
// seller fee are credited. Fees transfer, they are never created.
type Settlement struct {
	BuyerID       int64
	SellerID      int64
	BuyerAccount  string // buyer's account class; the two sides may differ
	SellerAccount string
	BaseCurrency  string
	QuoteCurrency string
	Amount        decimal.Decimal // base matched
	FillValue     decimal.Decimal // exec price * amount, quote
	BuyerUnfreeze decimal.Decimal // buyer's reservation consumed (limit price * amount)
	BuyerFee      decimal.Decimal
	SellerFee     decimal.Decimal
}

// Settle applies one fill atomically across all four balance entries.
// All checks run before the first mutation, so a rejected settlement leaves
// every entry untouched and a recorded fill can never be half-settled. The
// in-memory ledger is authoritative; a write-through failure is surfaced but
// does not roll back the applied movement.
func (l *Ledger) Settle(s Settlement) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buyerQuote, err := l.get(s.BuyerID, s.BuyerAccount, s.QuoteCurrency)
	if err != nil {
		return err
	}
	buyerBase, err := l.get(s.BuyerID, s.BuyerAccount, s.BaseCurrency)
	if err != nil {
		return err
	}
	sellerBase, err := l.get(s.SellerID, s.SellerAccount, s.BaseCurrency)
	if err != nil {
		return err
	}
	sellerQuote, err := l.get(s.SellerID, s.SellerAccount, s.QuoteCurrency)
	if err != nil {
		return err
	}

	cost := s.FillValue.Add(s.BuyerFee)
	refund := s.BuyerUnfreeze.Sub(cost) // negative when the fee exceeds price improvement

	// Validate before mutating.
	if buyerQuote.Frozen.LessThan(s.BuyerUnfreeze) {
		return fmt.Errorf("buyer frozen %s short of reservation %s", buyerQuote.Frozen, s.BuyerUnfreeze)
	}
	if refund.IsNegative() && buyerQuote.Available.LessThan(refund.Neg()) {
		return domain.Reject(domain.ErrInsufficientFunds,
			"buyer cannot cover fee shortfall %s", refund.Neg())
	}
	if sellerBase.Frozen.LessThan(s.Amount) {
		return fmt.Errorf("seller frozen %s short of match amount %s", sellerBase.Frozen, s.Amount)
	}

	buyerQuote.Frozen = buyerQuote.Frozen.Sub(s.BuyerUnfreeze)
	buyerQuote.Available = buyerQuote.Available.Add(refund)
	buyerBase.Available = buyerBase.Available.Add(s.Amount)

	sellerBase.Frozen = sellerBase.Frozen.Sub(s.Amount)
	sellerQuote.Available = sellerQuote.Available.Add(s.FillValue.Sub(s.SellerFee))

	for _, b := range []*domain.Balance{buyerQuote, buyerBase, sellerBase, sellerQuote} {
		if err := l.persist(b); err != nil {
			return err
		}
	}
	return nil
}

// hydrate loads every stored entry for one (user, account class) scope into
// memory, once. Entries already resident win: they carry mutations not yet
// visible through a failed write-through. Caller holds the mutex.
func (l *Ledger) hydrate(userID int64, accountType string) {
	scope := ledgerScope{userID, accountType}
	if _, done := l.hydrated[scope]; done {
		return
	}

	stored, err := l.store.ListBalances(userID, accountType)
	if err != nil {
		slog.Warn("balance hydration failed",
			slog.Int64("user", userID), slog.String("account", accountType), slog.Any("error", err))
		return
	}
	for i := range stored {
		key := balanceKey{userID, accountType, stored[i].Currency}
		if _, ok := l.balances[key]; ok {
			continue
		}
		b := stored[i]
		l.balances[key] = &b
	}
	l.hydrated[scope] = struct{}{}
}

// TotalAssets values a user's holdings in quote units. prices maps base
// currency to its last trade price; quote currencies value at 1. Stored
// entries not yet resident are hydrated first, so valuation is correct
// directly after a restart.
func (l *Ledger) TotalAssets(userID int64, accountType string, prices map[string]decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.hydrate(userID, accountType)

	total := decimal.Zero
	for key, b := range l.balances {
		if key.userID != userID || key.accountType != accountType {
			continue
		}
		value := b.Total()
		if p, ok := prices[b.Currency]; ok {
			value = value.Mul(p)
		}
		total = total.Add(value)
	}
	return total
}

// Snapshot copies every loaded entry, for the panic dump.
func (l *Ledger) Snapshot() []domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Balance, 0, len(l.balances))
	for _, b := range l.balances {
		out = append(out, *b)
	}
	return out
}

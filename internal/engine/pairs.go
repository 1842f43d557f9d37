package engine

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"exchange_go/internal/domain"
)

// Pair returns the registered trading pair, or nil.
func (e *Engine) Pair(symbol string) *domain.TradingPair {
	e.pairMu.RLock()
	defer e.pairMu.RUnlock()
	return e.pairs[symbol]
}

// Pairs lists every registered trading pair.
func (e *Engine) Pairs() []*domain.TradingPair {
	e.pairMu.RLock()
	defer e.pairMu.RUnlock()

	out := make([]*domain.TradingPair, 0, len(e.pairs))
	for _, p := range e.pairs {
		out = append(out, p)
	}
	return out
}

// LoadPairs pulls the pair registry from storage into memory.
func (e *Engine) LoadPairs() error {
	pairs, err := e.store.ListPairs()
	if err != nil {
		return err
	}

	e.pairMu.Lock()
	defer e.pairMu.Unlock()
	for i := range pairs {
		p := pairs[i]
		e.pairs[p.Symbol] = &p
	}
	slog.Info("trading pairs loaded", slog.Int("count", len(pairs)))
	return nil
}

// SavePair validates, persists and registers a pair. Covers both creation
// and parameter updates; existing resting orders are unaffected.
func (e *Engine) SavePair(pair *domain.TradingPair) error {
	if pair.Symbol == "" || pair.BaseCurrency == "" || pair.QuoteCurrency == "" {
		return domain.Reject(domain.ErrValidation, "pair requires symbol, base and quote")
	}
	if pair.MinOrderAmount.LessThanOrEqual(decimal.Zero) ||
		pair.MaxOrderAmount.LessThan(pair.MinOrderAmount) {
		return domain.Reject(domain.ErrValidation,
			"order amount bounds [%s, %s] invalid", pair.MinOrderAmount, pair.MaxOrderAmount)
	}
	if pair.MakerFeeRate.IsNegative() || pair.TakerFeeRate.IsNegative() {
		return domain.Reject(domain.ErrValidation, "fee rates must be non-negative")
	}

	if err := e.store.SavePair(pair); err != nil {
		return err
	}

	e.pairMu.Lock()
	e.pairs[pair.Symbol] = pair
	e.pairMu.Unlock()
	return nil
}

// SetPairEnabled flips trading on a pair. Disabling stops new orders;
// resting orders stay cancellable.
func (e *Engine) SetPairEnabled(symbol string, enabled bool) error {
	e.pairMu.Lock()
	pair, ok := e.pairs[symbol]
	if ok {
		pair.Enabled = enabled
	}
	e.pairMu.Unlock()
	if !ok {
		return domain.Reject(domain.ErrNotFound, "pair %s not found", symbol)
	}
	return e.store.SavePair(pair)
}

// SeedPairs registers pairs that storage does not know yet. Used at boot to
// install the configured defaults without clobbering admin edits.
func (e *Engine) SeedPairs(pairs []domain.TradingPair) error {
	for i := range pairs {
		p := pairs[i]
		existing, err := e.store.GetPair(p.Symbol)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := e.SavePair(&p); err != nil {
			return err
		}
		slog.Info("trading pair seeded", slog.String("symbol", p.Symbol))
	}
	return nil
}

// RestoreOpenOrders reloads resting orders into the books after a restart.
// The sequence counter resumes past the highest restored order so priority
// ordering survives the restart.
func (e *Engine) RestoreOpenOrders() error {
	orders, err := e.store.ListOpenOrders()
	if err != nil {
		return err
	}

	restored := 0
	var maxSeq uint64
	for i := range orders {
		o := &orders[i]
		if !e.books.AddOrder(o) {
			slog.Warn("open order not restorable", slog.String("order", o.ID), slog.String("status", o.Status))
			continue
		}
		if o.Seq > maxSeq {
			maxSeq = o.Seq
		}
		if o.Leverage > 1 {
			e.risk.AddExposure(o.UserID, leveragedNotional(o))
		}
		restored++
	}

	for {
		cur := e.seq.Load()
		if cur >= maxSeq || e.seq.CompareAndSwap(cur, maxSeq) {
			break
		}
	}

	slog.Info("open orders restored", slog.Int("count", restored))
	return nil
}

// currencyPrices maps each base currency to its last trade price, for
// valuing holdings in quote units.
func (e *Engine) currencyPrices() map[string]decimal.Decimal {
	last := e.risk.LastPrices()

	e.pairMu.RLock()
	defer e.pairMu.RUnlock()

	prices := make(map[string]decimal.Decimal, len(last))
	for symbol, price := range last {
		if pair, ok := e.pairs[symbol]; ok {
			prices[pair.BaseCurrency] = price
		}
	}
	return prices
}

type stateDump struct {
	Timestamp time.Time              `json:"timestamp"`
	Books     []*domain.BookSnapshot `json:"books"`
	Balances  []domain.Balance       `json:"balances"`
}

// DumpState writes the full book and ledger state to disk for post-mortem
// analysis after an invariant violation.
func (e *Engine) DumpState(path string) {
	const dumpLevels = 1000
	dump := stateDump{Timestamp: time.Now()}
	for _, symbol := range e.books.Symbols() {
		dump.Books = append(dump.Books, e.books.GetOrderBook(symbol).GetSnapshot(dumpLevels))
	}
	dump.Balances = e.ledger.Snapshot()

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		slog.Error("state dump marshal failed", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Error("state dump write failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	slog.Error("engine state dumped", slog.String("path", path))
}

package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchange_go/internal/book"
	"exchange_go/internal/domain"
	"exchange_go/internal/infra"
	"exchange_go/internal/risk"
)

// Engine orchestrates order admission, fund reservation, matching,
// settlement and collaborator notification. It is the only component with
// write authority over order and balance state.
//
// Matching, cancellation and settlement for one symbol run inside that
// symbol's critical section with no suspension point, so two concurrently
// arriving orders can never interleave against the same resting order.
type Engine struct {
	store    domain.Store
	books    *book.Manager
	risk     *risk.Control
	ledger   *Ledger
	cache    domain.Cache     // optional
	notifier domain.Notifier  // optional
	kline    domain.KlineSink // optional
	metrics  *infra.Metrics

	pairMu sync.RWMutex
	pairs  map[string]*domain.TradingPair

	lockMu   sync.Mutex
	symLocks map[string]*sync.Mutex

	seq atomic.Uint64

	snapshotLevels int
	snapshotTTL    time.Duration
	recentFillsLen int64
	dumpPath       string
}

// Options carries the optional collaborators and tuning knobs.
type Options struct {
	Cache          domain.Cache
	Notifier       domain.Notifier
	Kline          domain.KlineSink
	Metrics        *infra.Metrics
	SnapshotLevels int
	SnapshotTTL    time.Duration
	RecentFillsLen int64
	DumpPath       string
}

// NewEngine wires the trading core. Collaborators in opts may be nil; the
// engine degrades to matching-only behavior without them.
func NewEngine(store domain.Store, books *book.Manager, riskCtl *risk.Control, ledger *Ledger, opts Options) *Engine {
	if opts.Metrics == nil {
		opts.Metrics = &infra.Metrics{}
	}
	if opts.SnapshotLevels <= 0 {
		opts.SnapshotLevels = 20
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = 5 * time.Second
	}
	if opts.RecentFillsLen <= 0 {
		opts.RecentFillsLen = 100
	}
	if opts.DumpPath == "" {
		opts.DumpPath = "engine_panic_dump.json"
	}
	return &Engine{
		store:          store,
		books:          books,
		risk:           riskCtl,
		ledger:         ledger,
		cache:          opts.Cache,
		notifier:       opts.Notifier,
		kline:          opts.Kline,
		metrics:        opts.Metrics,
		pairs:          make(map[string]*domain.TradingPair),
		symLocks:       make(map[string]*sync.Mutex),
		snapshotLevels: opts.SnapshotLevels,
		snapshotTTL:    opts.SnapshotTTL,
		recentFillsLen: opts.RecentFillsLen,
		dumpPath:       opts.DumpPath,
	}
}

// CreateOrderRequest is the caller's order submission. Identity comes from
// the out-of-scope auth layer.
type CreateOrderRequest struct {
	UserID     int64
	Symbol     string
	Type       string
	Side       string
	Price      decimal.Decimal
	Amount     decimal.Decimal
	Leverage   int
	MarginMode string
}

// CreateOrderResult is the accepted order plus any immediate fills.
type CreateOrderResult struct {
	Order *domain.Order
	Fills []*domain.Fill
}

// CreateOrder runs the full pipeline: validation, risk admission, fund
// reservation, persistence, matching, settlement, book maintenance and
// collaborator notification. Every rejection happens before any state is
// mutated.
//
// When matching halts early the error is returned together with a non-nil
// result: fills settled before the halt stand, the remainder rested or was
// cancelled, and the caller must not treat the submission as clean.
func (e *Engine) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	start := time.Now()

	pair, order, err := e.admitOrder(req)
	if err != nil {
		e.metrics.RecordRejection(errors.Is(err, domain.ErrRiskRejected))
		return nil, err
	}

	// Reservation: quote for buys, base for sells.
	resCurrency := pair.QuoteCurrency
	resAmount := order.Price.Mul(order.Amount)
	if order.Side == domain.SideSell {
		resCurrency = pair.BaseCurrency
		resAmount = order.Amount
	}
	accountType := accountFor(order)
	if err := e.ledger.Freeze(order.UserID, accountType, resCurrency, resAmount); err != nil {
		e.metrics.RecordRejection(false)
		return nil, err
	}

	if err := e.store.CreateOrder(order); err != nil {
		// Roll the reservation back; nothing else has happened yet.
		if uerr := e.ledger.Unfreeze(order.UserID, accountType, resCurrency, resAmount); uerr != nil {
			slog.Error("reservation rollback failed", slog.String("order", order.ID), slog.Any("error", uerr))
		}
		return nil, domain.Reject(domain.ErrInternal, "persist order: %v", err)
	}

	e.risk.RecordOrder(order.UserID, order.CreatedAt)
	if order.Leverage > 1 {
		e.risk.AddExposure(order.UserID, leveragedNotional(order))
	}

	snap, fills, matchErr := e.matchAndSettle(order, pair)
	if matchErr != nil {
		slog.Error("matching halted", slog.String("order", order.ID), slog.Any("error", matchErr))
		e.metrics.RecordError()
	}

	e.metrics.RecordOrder(time.Since(start).Nanoseconds())
	go e.afterOrder(snap, fills)

	// The result holds the snapshot taken inside the critical section; the
	// live order may keep mutating on the book.
	return &CreateOrderResult{Order: &snap, Fills: fills}, matchErr
}

// admitOrder validates parameters and runs risk admission. No state mutates.
func (e *Engine) admitOrder(req CreateOrderRequest) (*domain.TradingPair, *domain.Order, error) {
	pair := e.Pair(req.Symbol)
	if pair == nil || !pair.Enabled {
		return nil, nil, domain.Reject(domain.ErrValidation, "trading pair %s missing or disabled", req.Symbol)
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return nil, nil, domain.Reject(domain.ErrValidation, "invalid side %q", req.Side)
	}
	if req.Type != domain.OrderTypeLimit && req.Type != domain.OrderTypeMarket {
		return nil, nil, domain.Reject(domain.ErrValidation, "invalid order type %q", req.Type)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil, domain.Reject(domain.ErrValidation, "amount must be positive")
	}
	if req.Amount.LessThan(pair.MinOrderAmount) || req.Amount.GreaterThan(pair.MaxOrderAmount) {
		return nil, nil, domain.Reject(domain.ErrValidation,
			"amount %s outside [%s, %s]", req.Amount, pair.MinOrderAmount, pair.MaxOrderAmount)
	}
	if req.Leverage < 0 || req.Leverage > pair.MaxLeverage && pair.MaxLeverage > 0 {
		return nil, nil, domain.Reject(domain.ErrValidation, "leverage %d exceeds pair max %d", req.Leverage, pair.MaxLeverage)
	}
	if req.Leverage == 0 {
		req.Leverage = 1
	}

	price := req.Price
	switch req.Type {
	case domain.OrderTypeLimit:
		if price.LessThanOrEqual(decimal.Zero) {
			return nil, nil, domain.Reject(domain.ErrValidation, "limit order requires a price")
		}
	case domain.OrderTypeMarket:
		// Execution reference price from the opposite side's best quote.
		ref, ok := e.GetMarketPrice(req.Symbol, req.Side)
		if !ok {
			return nil, nil, domain.Reject(domain.ErrNoLiquidity, "no liquidity for market %s on %s", req.Side, req.Symbol)
		}
		price = ref
	}

	if e.risk.CircuitBroken(req.Symbol) {
		return nil, nil, domain.Reject(domain.ErrCircuitBreaker, "volatility halt on %s", req.Symbol)
	}

	if r := e.risk.CheckPendingOrders(req.UserID); !r.Allowed {
		return nil, nil, domain.Reject(domain.ErrRiskRejected, "%s", r.Reason)
	}
	accountType := domain.AccountSpot
	if req.Leverage > 1 {
		accountType = domain.AccountMargin
	}
	totalAssets := e.ledger.TotalAssets(req.UserID, accountType, e.currencyPrices())
	if r := e.risk.CheckOrder(risk.Admission{
		UserID:      req.UserID,
		Pair:        pair,
		Symbol:      req.Symbol,
		Price:       price,
		Amount:      req.Amount,
		Leverage:    req.Leverage,
		TotalAssets: totalAssets,
	}); !r.Allowed {
		return nil, nil, domain.Reject(domain.ErrRiskRejected, "%s", r.Reason)
	}

	now := time.Now()
	order := &domain.Order{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Symbol:         req.Symbol,
		Type:           req.Type,
		Side:           req.Side,
		Price:          price,
		Amount:         req.Amount,
		FilledAmount:   decimal.Zero,
		UnfilledAmount: req.Amount,
		TotalValue:     price.Mul(req.Amount),
		Status:         domain.OrderStatusPending,
		Leverage:       req.Leverage,
		MarginMode:     req.MarginMode,
		FeeAmount:      decimal.Zero,
		Seq:            e.seq.Add(1),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return pair, order, nil
}

// matchAndSettle runs the matching loop inside the symbol's critical
// section. A panic is caught here, the state dumped, and no partial fill
// escapes: each fill is settled before it is recorded. snap is a value copy
// of the order taken before the symbol lock is released; everything outside
// the critical section reads the copy, never the live instance.
func (e *Engine) matchAndSettle(order *domain.Order, pair *domain.TradingPair) (snap domain.Order, fills []*domain.Fill, err error) {
	unlock := e.lockSymbol(order.Symbol)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("matching panic", slog.String("order", order.ID), slog.Any("panic", r))
			e.DumpState(e.dumpPath)
			snap = *order
			err = domain.Reject(domain.ErrInternal, "matching failed for order %s", order.ID)
		}
	}()

	ob := e.books.GetOrderBook(order.Symbol)

	for order.UnfilledAmount.GreaterThan(decimal.Zero) {
		resting := ob.GetBestAsk()
		if order.Side == domain.SideSell {
			resting = ob.GetBestBid()
		}
		if resting == nil {
			break
		}
		if order.Type == domain.OrderTypeLimit && !crosses(order, resting) {
			break
		}

		fill, ferr := e.executeFill(ob, order, resting, pair)
		if ferr != nil {
			err = ferr
			break
		}
		fills = append(fills, fill)
	}

	e.finishOrder(ob, order, pair)
	return *order, fills, err
}

// executeFill matches one resting order slice: settle balances first, then
// record the fill, then advance both orders.
func (e *Engine) executeFill(ob *book.OrderBook, taker, resting *domain.Order, pair *domain.TradingPair) (*domain.Fill, error) {
	now := time.Now()
	matchAmount := decimal.Min(taker.UnfilledAmount, resting.UnfilledAmount)
	execPrice := resting.Price // maker's posted price; improvement favors the maker side
	fillValue := execPrice.Mul(matchAmount)

	buy, sell := taker, resting
	if taker.Side == domain.SideSell {
		buy, sell = resting, taker
	}

	// Maker is the earlier order; in practice the resting one.
	makerOrder := resting
	if taker.CreatedAt.Before(resting.CreatedAt) {
		makerOrder = taker
	}
	buyerRole, sellerRole := domain.RoleTaker, domain.RoleMaker
	if buy == makerOrder {
		buyerRole, sellerRole = domain.RoleMaker, domain.RoleTaker
	}

	buyerFee := fillValue.Mul(pair.FeeRate(buyerRole))
	sellerFee := fillValue.Mul(pair.FeeRate(sellerRole))

	if err := e.ledger.Settle(Settlement{
		BuyerID:       buy.UserID,
		SellerID:      sell.UserID,
		BuyerAccount:  accountFor(buy),
		SellerAccount: accountFor(sell),
		BaseCurrency:  pair.BaseCurrency,
		QuoteCurrency: pair.QuoteCurrency,
		Amount:        matchAmount,
		FillValue:     fillValue,
		BuyerUnfreeze: buy.Price.Mul(matchAmount),
		BuyerFee:      buyerFee,
		SellerFee:     sellerFee,
	}); err != nil {
		return nil, err
	}

	fill := &domain.Fill{
		ID:          uuid.NewString(),
		Symbol:      taker.Symbol,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		Price:       execPrice,
		Amount:      matchAmount,
		TotalValue:  fillValue,
		BuyerFee:    buyerFee,
		SellerFee:   sellerFee,
		BuyerRole:   buyerRole,
		SellerRole:  sellerRole,
		CreatedAt:   now,
	}
	if err := e.store.CreateFill(fill); err != nil {
		// Balances are settled; losing the record is the lesser evil.
		slog.Error("fill record write failed", slog.String("fill", fill.ID), slog.Any("error", err))
	}

	// Roles stick from the first fill; fees accumulate per side.
	if buy.Role == "" {
		buy.Role = buyerRole
	}
	if sell.Role == "" {
		sell.Role = sellerRole
	}
	buy.FeeAmount = buy.FeeAmount.Add(buyerFee)
	sell.FeeAmount = sell.FeeAmount.Add(sellerFee)

	taker.ApplyFill(matchAmount, now)
	ob.UpdateOrder(resting.ID, matchAmount, now)
	if err := e.store.SaveOrder(resting); err != nil {
		slog.Error("resting order update failed", slog.String("order", resting.ID), slog.Any("error", err))
	}
	if resting.Status == domain.OrderStatusFilled && resting.Leverage > 1 {
		e.risk.ReleaseExposure(resting.UserID, leveragedNotional(resting))
	}

	e.risk.RecordTrade(taker.Symbol, execPrice, matchAmount, now)
	e.metrics.RecordFill()
	return fill, nil
}

// finishOrder rests a limit remainder on the book; a market remainder is
// explicitly cancelled so a market order never ends up pending.
func (e *Engine) finishOrder(ob *book.OrderBook, order *domain.Order, pair *domain.TradingPair) {
	if order.UnfilledAmount.GreaterThan(decimal.Zero) {
		if order.Type == domain.OrderTypeLimit {
			ob.AddOrder(order)
		} else {
			e.cancelRemainder(order, pair)
		}
	}
	if err := e.store.SaveOrder(order); err != nil {
		slog.Error("order update failed", slog.String("order", order.ID), slog.Any("error", err))
	}
	if !order.IsOpen() && order.Leverage > 1 {
		e.risk.ReleaseExposure(order.UserID, leveragedNotional(order))
	}
}

func (e *Engine) cancelRemainder(order *domain.Order, pair *domain.TradingPair) {
	currency := pair.QuoteCurrency
	if order.Side == domain.SideSell {
		currency = pair.BaseCurrency
	}
	if err := e.ledger.Unfreeze(order.UserID, accountFor(order), currency, order.Reservation()); err != nil {
		slog.Error("remainder release failed", slog.String("order", order.ID), slog.Any("error", err))
	}
	now := time.Now()
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now
	e.metrics.RecordCancel()
}

// CancelOrder removes an open order owned by the caller, releases the
// unfilled reservation and marks it cancelled. Terminal orders are rejected
// with no mutation.
func (e *Engine) CancelOrder(ctx context.Context, orderID string, userID int64) (*domain.Order, error) {
	stored, err := e.store.GetOrder(orderID)
	if err != nil {
		return nil, domain.Reject(domain.ErrInternal, "load order: %v", err)
	}
	if stored == nil || stored.UserID != userID {
		return nil, domain.Reject(domain.ErrNotFound, "order %s not found", orderID)
	}
	if !stored.IsOpen() {
		return nil, domain.Reject(domain.ErrConflict, "order %s already %s", orderID, stored.Status)
	}

	pair := e.Pair(stored.Symbol)
	if pair == nil {
		return nil, domain.Reject(domain.ErrInternal, "pair %s gone", stored.Symbol)
	}

	unlock := e.lockSymbol(stored.Symbol)
	defer unlock()

	// Re-check under the symbol lock: a match may have completed the order
	// while we were acquiring it. The book holds the live instance.
	ob := e.books.GetOrderBook(stored.Symbol)
	order, onBook := ob.GetOrder(orderID)
	if !onBook {
		return nil, domain.Reject(domain.ErrConflict, "order %s already closed", orderID)
	}

	ob.RemoveOrder(orderID)

	currency := pair.QuoteCurrency
	if order.Side == domain.SideSell {
		currency = pair.BaseCurrency
	}
	if err := e.ledger.Unfreeze(order.UserID, accountFor(order), currency, order.Reservation()); err != nil {
		slog.Error("cancel release failed", slog.String("order", order.ID), slog.Any("error", err))
	}

	now := time.Now()
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now
	if err := e.store.SaveOrder(order); err != nil {
		slog.Error("cancel persist failed", slog.String("order", order.ID), slog.Any("error", err))
	}

	e.risk.RecordCancel(userID, now)
	if order.Leverage > 1 {
		e.risk.ReleaseExposure(order.UserID, leveragedNotional(order))
	}
	e.metrics.RecordCancel()

	// Copy under the symbol lock; the caller and the notifier never touch
	// the instance that lived on the book.
	snap := *order
	go e.notifyCancel(snap)
	return &snap, nil
}

// GetMarketPrice resolves the execution reference for a market order:
// buys hit the best ask, sells hit the best bid. ok=false means no
// liquidity, a hard failure for market orders.
func (e *Engine) GetMarketPrice(symbol, side string) (decimal.Decimal, bool) {
	ob := e.books.GetOrderBook(symbol)
	var best *domain.Order
	if side == domain.SideBuy {
		best = ob.GetBestAsk()
	} else {
		best = ob.GetBestBid()
	}
	if best == nil {
		return decimal.Zero, false
	}
	return best.Price, true
}

// Depth returns the aggregated book view for a symbol.
func (e *Engine) Depth(symbol string, levels int) (bids, asks []domain.PriceLevel) {
	return e.books.GetOrderBook(symbol).GetDepth(levels)
}

// Snapshot returns the aggregated book view, serving the cached copy while
// one is fresh and rebuilding from the book on a miss. Staleness is bounded
// by the snapshot TTL.
func (e *Engine) Snapshot(ctx context.Context, symbol string) *domain.BookSnapshot {
	if e.cache != nil {
		if snap, err := e.cache.GetSnapshot(ctx, symbol); err == nil && snap != nil {
			return snap
		}
	}
	return e.refreshSnapshot(ctx, symbol)
}

// refreshSnapshot rebuilds the view from the book and writes it through to
// the cache. Runs after every book change.
func (e *Engine) refreshSnapshot(ctx context.Context, symbol string) *domain.BookSnapshot {
	snap := e.books.GetOrderBook(symbol).GetSnapshot(e.snapshotLevels)
	if e.cache != nil {
		if err := e.cache.SetSnapshot(ctx, snap, e.snapshotTTL); err != nil {
			slog.Debug("snapshot cache write failed", slog.String("symbol", symbol), slog.Any("error", err))
		}
	}
	return snap
}

// RecentTrades returns the latest fills for a symbol, newest first: the
// cache's recent-trades list when it has entries, the store otherwise.
func (e *Engine) RecentTrades(ctx context.Context, symbol string, limit int) ([]domain.Fill, error) {
	if limit <= 0 || int64(limit) > e.recentFillsLen {
		limit = int(e.recentFillsLen)
	}
	if e.cache != nil {
		fills, err := e.cache.RecentFills(ctx, symbol, int64(limit))
		if err != nil {
			slog.Debug("recent fills cache read failed", slog.String("symbol", symbol), slog.Any("error", err))
		} else if len(fills) > 0 {
			return fills, nil
		}
	}
	return e.store.ListSymbolFills(symbol, limit)
}

// Klines returns stored bars for a symbol and interval, oldest first.
func (e *Engine) Klines(symbol, interval string, from, to time.Time, limit int) ([]domain.Kline, error) {
	return e.store.ListKlines(symbol, interval, from, to, limit)
}

// Ticker returns the 24h market summary for a symbol.
func (e *Engine) Ticker(symbol string) (domain.Ticker, bool) {
	return e.risk.Ticker24(symbol)
}

func (e *Engine) lockSymbol(symbol string) func() {
	e.lockMu.Lock()
	mu, ok := e.symLocks[symbol]
	if !ok {
		mu = &sync.Mutex{}
		e.symLocks[symbol] = mu
	}
	e.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// afterOrder runs the fire-and-forget collaborators. Failures are logged
// and never surface to the trading caller. order is a value copy taken
// inside the critical section; the live instance on the book keeps mutating
// under later matches and must never be read here.
func (e *Engine) afterOrder(order domain.Order, fills []*domain.Fill) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("post-order notification panic", slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	totalAssets := e.ledger.TotalAssets(order.UserID, accountFor(&order), e.currencyPrices())
	e.risk.DetectAnomalies(order.UserID, order.TotalValue, totalAssets)

	if e.notifier != nil {
		e.notifier.OnDepthChanged(order.Symbol)
		e.notifier.OnOrderUpdate(order.UserID, &order)
		for _, f := range fills {
			e.notifier.OnTrade(f)
		}
	}
	for _, f := range fills {
		if e.kline != nil {
			e.kline.OnFill(f)
		}
		if e.cache != nil {
			if err := e.cache.PushRecentFill(ctx, f, e.recentFillsLen); err != nil {
				slog.Debug("recent fill cache push failed", slog.Any("error", err))
			}
		}
	}
	if len(fills) > 0 {
		e.updateCircuitGauge()
	}
	e.refreshSnapshot(ctx, order.Symbol)
}

func (e *Engine) notifyCancel(order domain.Order) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cancel notification panic", slog.Any("panic", r))
		}
	}()
	if e.notifier != nil {
		e.notifier.OnDepthChanged(order.Symbol)
		e.notifier.OnOrderUpdate(order.UserID, &order)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.refreshSnapshot(ctx, order.Symbol)
}

// updateCircuitGauge recounts halted symbols after trades moved the 24h
// windows.
func (e *Engine) updateCircuitGauge() {
	var halted int32
	for _, symbol := range e.books.Symbols() {
		if e.risk.CircuitBroken(symbol) {
			halted++
		}
	}
	e.metrics.SetCircuitsOpen(halted)
}

func crosses(incoming, resting *domain.Order) bool {
	if incoming.Side == domain.SideBuy {
		return resting.Price.LessThanOrEqual(incoming.Price)
	}
	return resting.Price.GreaterThanOrEqual(incoming.Price)
}

func accountFor(order *domain.Order) string {
	if order.Leverage > 1 {
		return domain.AccountMargin
	}
	return domain.AccountSpot
}

func leveragedNotional(order *domain.Order) decimal.Decimal {
	return order.Price.Mul(order.Amount).Mul(decimal.NewFromInt(int64(order.Leverage)))
}

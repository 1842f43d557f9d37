package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"exchange_go/internal/domain"
)

// Config holds the admission-control parameters.
type Config struct {
	MaxOrdersPerMinute    int             // trading frequency window cap
	MaxDailyOrders        int             // per-calendar-day order cap
	PriceFluctuationLimit decimal.Decimal // max |price-last|/last
	MaxPendingOrders      int             // open orders per user
	MaxPositionRatio      decimal.Decimal // leveraged exposure / total assets
	CircuitBreakerRange   decimal.Decimal // 24h (high-low)/low halt threshold
	CancelFloodPerHour    int             // anomaly: cancels in trailing hour
	ConcentrationFills    int             // anomaly: recent fills threshold
	ConcentrationParties  int             // anomaly: distinct counterparties ceiling
	LargeOrderAssetRatio  decimal.Decimal // anomaly: order notional / total assets
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxOrdersPerMinute:    10,
		MaxDailyOrders:        200,
		PriceFluctuationLimit: decimal.NewFromFloat(0.1),
		MaxPendingOrders:      50,
		MaxPositionRatio:      decimal.NewFromFloat(0.8),
		CircuitBreakerRange:   decimal.NewFromFloat(0.5),
		CancelFloodPerHour:    20,
		ConcentrationFills:    5,
		ConcentrationParties:  2,
		LargeOrderAssetRatio:  decimal.NewFromFloat(0.5),
	}
}

// Result is one admission check's verdict.
type Result struct {
	Allowed bool
	Reason  string
}

func allow() Result { return Result{Allowed: true} }

func deny(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Admission describes the order under review.
type Admission struct {
	UserID      int64
	Pair        *domain.TradingPair // nil when the symbol is unknown
	Symbol      string
	Price       decimal.Decimal // zero when the order carries no resolved price
	Amount      decimal.Decimal
	Leverage    int
	TotalAssets decimal.Decimal // account value for exposure/anomaly checks
}

// Control is the pre-trade admission pipeline plus the trackers feeding it.
// Stateless per call; the sliding windows behind it are guarded by one mutex.
type Control struct {
	cfg   *Config
	store domain.Store

	mu              sync.Mutex
	orderTimes      map[int64][]time.Time // accepted orders, trailing minute
	cancelTimes     map[int64][]time.Time // cancels, trailing hour
	daily           map[int64]map[string]int
	dailyViolations map[int64]int
	exposure        map[int64]decimal.Decimal // open leveraged notional per user
	lastPrice       map[string]decimal.Decimal
	window24        map[string][]pricePoint
}

type pricePoint struct {
	at     time.Time
	price  decimal.Decimal
	amount decimal.Decimal
}

// NewControl builds the pipeline. The store backs the history-based checks.
func NewControl(cfg *Config, store domain.Store) *Control {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Control{
		cfg:             cfg,
		store:           store,
		orderTimes:      make(map[int64][]time.Time),
		cancelTimes:     make(map[int64][]time.Time),
		daily:           make(map[int64]map[string]int),
		dailyViolations: make(map[int64]int),
		exposure:        make(map[int64]decimal.Decimal),
		lastPrice:       make(map[string]decimal.Decimal),
		window24:        make(map[string][]pricePoint),
	}
}

// CheckOrder runs the admission checks in fixed order and short-circuits on
// the first rejection.
func (c *Control) CheckOrder(adm Admission) Result {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if r := c.checkFrequency(adm.UserID, now); !r.Allowed {
		return r
	}
	if r := c.checkDailyCap(adm.UserID, now); !r.Allowed {
		return r
	}
	if r := c.checkPriceDeviation(adm.Symbol, adm.Price); !r.Allowed {
		return r
	}
	if r := c.checkOrderSize(adm.Pair, adm.Amount); !r.Allowed {
		return r
	}
	if r := c.checkExposure(adm); !r.Allowed {
		return r
	}
	return allow()
}

// CheckPendingOrders rejects once a user's open order count hits the cap.
// Always invoked, independent of the main pipeline.
func (c *Control) CheckPendingOrders(userID int64) Result {
	count, err := c.store.CountOpenOrders(userID)
	if err != nil {
		// Storage trouble must not admit unbounded order flow.
		return deny("pending order count unavailable: %v", err)
	}
	if count >= int64(c.cfg.MaxPendingOrders) {
		return deny("max pending orders reached: %d", c.cfg.MaxPendingOrders)
	}
	return allow()
}

func (c *Control) checkFrequency(userID int64, now time.Time) Result {
	window := now.Add(-time.Minute)
	times := pruneAfter(c.orderTimes[userID], window)
	c.orderTimes[userID] = times
	if len(times) >= c.cfg.MaxOrdersPerMinute {
		return deny("trading frequency limit: %d orders in 60s", len(times))
	}
	return allow()
}

func (c *Control) checkDailyCap(userID int64, now time.Time) Result {
	day := now.Format("2006-01-02")
	counts := c.daily[userID]
	if counts == nil {
		counts = make(map[string]int)
		c.daily[userID] = counts
	}
	if counts[day] >= c.cfg.MaxDailyOrders {
		c.dailyViolations[userID]++
		return deny("daily order cap reached: %d", c.cfg.MaxDailyOrders)
	}
	return allow()
}

func (c *Control) checkPriceDeviation(symbol string, price decimal.Decimal) Result {
	if price.LessThanOrEqual(decimal.Zero) {
		return allow()
	}
	last, ok := c.lastPrice[symbol]
	if !ok || last.LessThanOrEqual(decimal.Zero) {
		// No prior trade for the symbol: skipped entirely.
		return allow()
	}
	deviation := price.Sub(last).Abs().Div(last)
	if deviation.GreaterThan(c.cfg.PriceFluctuationLimit) {
		return deny("price deviates %s from last trade %s (limit %s)",
			deviation.StringFixed(4), last, c.cfg.PriceFluctuationLimit)
	}
	return allow()
}

func (c *Control) checkOrderSize(pair *domain.TradingPair, amount decimal.Decimal) Result {
	if pair == nil || !pair.Enabled {
		return deny("trading pair missing or disabled")
	}
	if amount.LessThan(pair.MinOrderAmount) || amount.GreaterThan(pair.MaxOrderAmount) {
		return deny("amount %s outside [%s, %s]", amount, pair.MinOrderAmount, pair.MaxOrderAmount)
	}
	return allow()
}

func (c *Control) checkExposure(adm Admission) Result {
	if adm.Leverage <= 1 {
		return allow()
	}
	if adm.TotalAssets.LessThanOrEqual(decimal.Zero) {
		return deny("no account value to support leveraged exposure")
	}
	notional := adm.Price.Mul(adm.Amount).Mul(decimal.NewFromInt(int64(adm.Leverage)))
	total := c.exposure[adm.UserID].Add(notional)
	ratio := total.Div(adm.TotalAssets)
	if ratio.GreaterThan(c.cfg.MaxPositionRatio) {
		return deny("position ratio %s exceeds limit %s", ratio.StringFixed(4), c.cfg.MaxPositionRatio)
	}
	return allow()
}

// RecordOrder registers an accepted order in the frequency and daily windows.
func (c *Control) RecordOrder(userID int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orderTimes[userID] = append(pruneAfter(c.orderTimes[userID], at.Add(-time.Minute)), at)
	day := at.Format("2006-01-02")
	if c.daily[userID] == nil {
		c.daily[userID] = make(map[string]int)
	}
	c.daily[userID][day]++
}

// RecordCancel registers a cancellation for the anomaly window and scoring.
func (c *Control) RecordCancel(userID int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTimes[userID] = append(pruneAfter(c.cancelTimes[userID], at.Add(-time.Hour)), at)
}

// RecordTrade feeds a completed fill into the last-price and 24h windows.
func (c *Control) RecordTrade(symbol string, price, amount decimal.Decimal, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastPrice[symbol] = price
	pts := c.window24[symbol]
	cutoff := at.Add(-24 * time.Hour)
	for len(pts) > 0 && pts[0].at.Before(cutoff) {
		pts = pts[1:]
	}
	c.window24[symbol] = append(pts, pricePoint{at: at, price: price, amount: amount})
}

// Ticker24 summarizes the trailing 24h window for a symbol.
func (c *Control) Ticker24(symbol string) (domain.Ticker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pts := c.window24[symbol]
	cutoff := time.Now().Add(-24 * time.Hour)
	for len(pts) > 0 && pts[0].at.Before(cutoff) {
		pts = pts[1:]
	}
	c.window24[symbol] = pts
	if len(pts) == 0 {
		return domain.Ticker{}, false
	}

	t := domain.Ticker{
		Symbol:    symbol,
		High24h:   pts[0].price,
		Low24h:    pts[0].price,
		UpdatedAt: pts[len(pts)-1].at,
	}
	for _, p := range pts {
		if p.price.GreaterThan(t.High24h) {
			t.High24h = p.price
		}
		if p.price.LessThan(t.Low24h) {
			t.Low24h = p.price
		}
		t.Volume24h = t.Volume24h.Add(p.amount)
	}
	t.LastPrice = pts[len(pts)-1].price
	return t, true
}

// AddExposure books open leveraged notional against a user.
func (c *Control) AddExposure(userID int64, notional decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposure[userID] = c.exposure[userID].Add(notional)
}

// ReleaseExposure unwinds leveraged notional when the order closes.
func (c *Control) ReleaseExposure(userID int64, notional decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.exposure[userID].Sub(notional)
	if next.IsNegative() {
		next = decimal.Zero
	}
	c.exposure[userID] = next
}

// LastPrice returns the most recent trade price for a symbol.
func (c *Control) LastPrice(symbol string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.lastPrice[symbol]
	return p, ok
}

// LastPrices returns a copy of every symbol's last trade price.
func (c *Control) LastPrices() map[string]decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(c.lastPrice))
	for s, p := range c.lastPrice {
		out[s] = p
	}
	return out
}

// CircuitBroken reports whether the symbol's 24h high/low range exceeds the
// volatility halt threshold. While true, all new orders for the symbol are
// rejected.
func (c *Control) CircuitBroken(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pts := c.window24[symbol]
	cutoff := time.Now().Add(-24 * time.Hour)
	for len(pts) > 0 && pts[0].at.Before(cutoff) {
		pts = pts[1:]
	}
	c.window24[symbol] = pts
	if len(pts) < 2 {
		return false
	}

	high, low := pts[0].price, pts[0].price
	for _, p := range pts[1:] {
		if p.price.GreaterThan(high) {
			high = p.price
		}
		if p.price.LessThan(low) {
			low = p.price
		}
	}
	if low.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return high.Sub(low).Div(low).GreaterThan(c.cfg.CircuitBreakerRange)
}

func pruneAfter(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

package risk

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Risk tiers for the advisory score.
const (
	TierLow      = "LOW"
	TierMedium   = "MEDIUM"
	TierHigh     = "HIGH"
	TierCritical = "CRITICAL"
)

// DetectAnomalies flags suspicious behavior around an accepted order.
// Informational only: warnings are returned and logged, never block.
func (c *Control) DetectAnomalies(userID int64, orderNotional, totalAssets decimal.Decimal) []string {
	var warnings []string
	now := time.Now()

	c.mu.Lock()
	cancels := len(pruneAfter(c.cancelTimes[userID], now.Add(-time.Hour)))
	c.mu.Unlock()

	if cancels > c.cfg.CancelFloodPerHour {
		warnings = append(warnings, "cancel flood: "+strconv.Itoa(cancels)+" cancellations in the trailing hour")
	}

	if fills, err := c.store.ListUserFills(userID, now.Add(-24*time.Hour), 50); err != nil {
		slog.Warn("anomaly detection: fill history unavailable", slog.Int64("user", userID), slog.Any("error", err))
	} else if len(fills) >= c.cfg.ConcentrationFills {
		parties := make(map[int64]struct{})
		for _, f := range fills {
			other := f.SellerID
			if f.SellerID == userID {
				other = f.BuyerID
			}
			parties[other] = struct{}{}
		}
		if len(parties) <= c.cfg.ConcentrationParties {
			warnings = append(warnings, "counterparty concentration: "+strconv.Itoa(len(fills))+
				" recent fills with only "+strconv.Itoa(len(parties))+" counterparties")
		}
	}

	if totalAssets.GreaterThan(decimal.Zero) &&
		orderNotional.GreaterThan(totalAssets.Mul(c.cfg.LargeOrderAssetRatio)) {
		warnings = append(warnings, "large order: notional "+orderNotional.String()+
			" exceeds half of total assets "+totalAssets.String())
	}

	for _, w := range warnings {
		slog.Warn("risk anomaly", slog.Int64("user", userID), slog.String("warning", w))
	}
	return warnings
}

// Score computes the advisory 0-100+ risk score for a user and its tier.
// Reporting only, never used to block orders.
func (c *Control) Score(userID int64) (int, string) {
	score := 0
	now := time.Now()

	c.mu.Lock()
	violations := c.dailyViolations[userID]
	c.mu.Unlock()
	score += violations * 10

	if cancelled, total, err := c.store.CancelStats(userID, now.Add(-7*24*time.Hour)); err == nil && total > 0 {
		rate := decimal.NewFromInt(cancelled).Div(decimal.NewFromInt(total))
		switch {
		case rate.GreaterThan(decimal.NewFromFloat(0.5)):
			score += 20
		case rate.GreaterThan(decimal.NewFromFloat(0.3)):
			score += 10
		}
	}

	if pnl, err := c.realizedPnL(userID, now.Add(-30*24*time.Hour)); err == nil {
		switch {
		case pnl.LessThan(decimal.NewFromInt(-1_000_000)):
			score += 30
		case pnl.LessThan(decimal.NewFromInt(-500_000)):
			score += 20
		}
	}

	switch {
	case score >= 90:
		return score, TierCritical
	case score >= 60:
		return score, TierHigh
	case score >= 30:
		return score, TierMedium
	default:
		return score, TierLow
	}
}

// realizedPnL approximates 30-day realized P&L from the fill history:
// sell proceeds minus buy cost, fees included.
func (c *Control) realizedPnL(userID int64, since time.Time) (decimal.Decimal, error) {
	fills, err := c.store.ListUserFills(userID, since, 0)
	if err != nil {
		return decimal.Zero, err
	}
	pnl := decimal.Zero
	for _, f := range fills {
		if f.SellerID == userID {
			pnl = pnl.Add(f.TotalValue.Sub(f.SellerFee))
		}
		if f.BuyerID == userID {
			pnl = pnl.Sub(f.TotalValue.Add(f.BuyerFee))
		}
	}
	return pnl, nil
}

package kline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"exchange_go/internal/domain"
)

var errBadInterval = errors.New("unrecognized kline interval")

// Aggregator folds fills into OHLCV bars, one per (symbol, interval). It is
// fed through a buffered inbox and runs its loop on a single goroutine, so
// the live bars need no locking. A closed bar is flushed to storage when the
// first fill of the next bucket arrives, or on the periodic sweep.
type Aggregator struct {
	store     domain.Store
	intervals []time.Duration
	inbox     chan *domain.Fill
	live      map[barKey]*domain.Kline
}

type barKey struct {
	symbol   string
	interval string
}

// DefaultIntervals are the bar widths produced when none are configured.
func DefaultIntervals() []time.Duration {
	return []time.Duration{time.Minute, 5 * time.Minute, time.Hour, 24 * time.Hour}
}

// NewAggregator builds an aggregator writing bars to the store.
func NewAggregator(store domain.Store, intervals []time.Duration, inboxSize int) *Aggregator {
	if len(intervals) == 0 {
		intervals = DefaultIntervals()
	}
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	return &Aggregator{
		store:     store,
		intervals: intervals,
		inbox:     make(chan *domain.Fill, inboxSize),
		live:      make(map[barKey]*domain.Kline),
	}
}

// OnFill hands a fill to the aggregation loop. Never blocks the caller: when
// the inbox is full the fill is dropped and counted against the log.
func (a *Aggregator) OnFill(fill *domain.Fill) {
	select {
	case a.inbox <- fill:
	default:
		slog.Warn("kline inbox full, fill dropped", slog.String("fill", fill.ID))
	}
}

// Run consumes the inbox until the context is cancelled. Must be run in a
// single goroutine.
func (a *Aggregator) Run(ctx context.Context) {
	slog.Info("kline aggregator started", slog.Int("intervals", len(a.intervals)))

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll()
			slog.Info("kline aggregator stopped")
			return
		case fill := <-a.inbox:
			a.apply(fill)
		case now := <-sweep.C:
			a.flushClosed(now)
		}
	}
}

func (a *Aggregator) apply(fill *domain.Fill) {
	for _, iv := range a.intervals {
		name := intervalName(iv)
		key := barKey{symbol: fill.Symbol, interval: name}
		open := fill.CreatedAt.Truncate(iv)

		bar, ok := a.live[key]
		if ok && !bar.OpenTime.Equal(open) {
			a.flush(bar)
			ok = false
		}
		if !ok {
			a.live[key] = &domain.Kline{
				Symbol:   fill.Symbol,
				Interval: name,
				OpenTime: open,
				Open:     fill.Price,
				High:     fill.Price,
				Low:      fill.Price,
				Close:    fill.Price,
				Volume:   fill.Amount,
				Turnover: fill.TotalValue,
			}
			continue
		}

		if fill.Price.GreaterThan(bar.High) {
			bar.High = fill.Price
		}
		if fill.Price.LessThan(bar.Low) {
			bar.Low = fill.Price
		}
		bar.Close = fill.Price
		bar.Volume = bar.Volume.Add(fill.Amount)
		bar.Turnover = bar.Turnover.Add(fill.TotalValue)
	}
}

// flushClosed persists bars whose interval has elapsed. Live bars stay in
// memory and keep accumulating.
func (a *Aggregator) flushClosed(now time.Time) {
	for key, bar := range a.live {
		iv, err := parseInterval(key.interval)
		if err != nil {
			continue
		}
		if !bar.OpenTime.Add(iv).After(now) {
			a.flush(bar)
			delete(a.live, key)
		}
	}
}

func (a *Aggregator) flushAll() {
	for key, bar := range a.live {
		a.flush(bar)
		delete(a.live, key)
	}
}

func (a *Aggregator) flush(bar *domain.Kline) {
	if err := a.store.SaveKline(bar); err != nil {
		slog.Error("kline flush failed",
			slog.String("symbol", bar.Symbol),
			slog.String("interval", bar.Interval),
			slog.Any("error", err))
	}
}

// Bar returns a copy of the live bar for a symbol and interval name.
// Only safe from the Run goroutine's siblings when Run is not consuming;
// intended for tests and shutdown inspection.
func (a *Aggregator) Bar(symbol, interval string) (domain.Kline, bool) {
	bar, ok := a.live[barKey{symbol: symbol, interval: interval}]
	if !ok {
		return domain.Kline{}, false
	}
	return *bar, true
}

func intervalName(iv time.Duration) string {
	switch {
	case iv >= 24*time.Hour:
		return strconv.Itoa(int(iv/(24*time.Hour))) + "d"
	case iv >= time.Hour:
		return strconv.Itoa(int(iv/time.Hour)) + "h"
	default:
		return strconv.Itoa(int(iv/time.Minute)) + "m"
	}
}

func parseInterval(name string) (time.Duration, error) {
	if len(name) < 2 {
		return 0, errBadInterval
	}
	n := 0
	for i := 0; i < len(name)-1; i++ {
		c := name[i]
		if c < '0' || c > '9' {
			return 0, errBadInterval
		}
		n = n*10 + int(c-'0')
	}
	switch name[len(name)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, errBadInterval
}

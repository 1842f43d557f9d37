package kline

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"exchange_go/internal/domain"
)

type klineStore struct {
	mu     sync.Mutex
	klines []domain.Kline
}

func (s *klineStore) SaveKline(k *domain.Kline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.klines = append(s.klines, *k)
	return nil
}

func (s *klineStore) CreateOrder(*domain.Order) error                  { return nil }
func (s *klineStore) SaveOrder(*domain.Order) error                    { return nil }
func (s *klineStore) GetOrder(string) (*domain.Order, error)           { return nil, nil }
func (s *klineStore) ListOpenOrders() ([]domain.Order, error)          { return nil, nil }
func (s *klineStore) CountOpenOrders(int64) (int64, error)             { return 0, nil }
func (s *klineStore) CreateFill(*domain.Fill) error                    { return nil }
func (s *klineStore) SaveBalance(*domain.Balance) error                { return nil }
func (s *klineStore) GetPair(string) (*domain.TradingPair, error)      { return nil, nil }
func (s *klineStore) ListPairs() ([]domain.TradingPair, error)         { return nil, nil }
func (s *klineStore) SavePair(*domain.TradingPair) error               { return nil }
func (s *klineStore) ListOrders(int64, string, string, int, int) ([]domain.Order, int64, error) {
	return nil, 0, nil
}
func (s *klineStore) ListUserFills(int64, time.Time, int) ([]domain.Fill, error) {
	return nil, nil
}
func (s *klineStore) ListSymbolFills(string, int) ([]domain.Fill, error) {
	return nil, nil
}
func (s *klineStore) GetBalance(int64, string, string) (*domain.Balance, error) {
	return nil, nil
}
func (s *klineStore) ListBalances(int64, string) ([]domain.Balance, error) {
	return nil, nil
}
func (s *klineStore) ListKlines(string, string, time.Time, time.Time, int) ([]domain.Kline, error) {
	return nil, nil
}
func (s *klineStore) CancelStats(int64, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func fillAt(at time.Time, price, amount string) *domain.Fill {
	p, a := dec(price), dec(amount)
	return &domain.Fill{
		ID:         "f-" + at.Format("150405.000"),
		Symbol:     "BTC/POINT",
		Price:      p,
		Amount:     a,
		TotalValue: p.Mul(a),
		CreatedAt:  at,
	}
}

func TestAggregatorFoldsOneBar(t *testing.T) {
	a := NewAggregator(&klineStore{}, []time.Duration{time.Minute}, 16)

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	a.apply(fillAt(base.Add(5*time.Second), "100", "1"))
	a.apply(fillAt(base.Add(20*time.Second), "110", "2"))
	a.apply(fillAt(base.Add(40*time.Second), "95", "1"))

	bar, ok := a.Bar("BTC/POINT", "1m")
	if !ok {
		t.Fatal("live bar missing")
	}
	if !bar.Open.Equal(dec("100")) || !bar.High.Equal(dec("110")) ||
		!bar.Low.Equal(dec("95")) || !bar.Close.Equal(dec("95")) {
		t.Errorf("OHLC = %s/%s/%s/%s, want 100/110/95/95", bar.Open, bar.High, bar.Low, bar.Close)
	}
	if !bar.Volume.Equal(dec("4")) {
		t.Errorf("volume = %s, want 4", bar.Volume)
	}
	if !bar.Turnover.Equal(dec("415")) {
		t.Errorf("turnover = %s, want 415", bar.Turnover)
	}
	if !bar.OpenTime.Equal(base) {
		t.Errorf("open time = %s, want %s", bar.OpenTime, base)
	}
}

func TestAggregatorRollsToNextBar(t *testing.T) {
	store := &klineStore{}
	a := NewAggregator(store, []time.Duration{time.Minute}, 16)

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	a.apply(fillAt(base.Add(10*time.Second), "100", "1"))
	a.apply(fillAt(base.Add(70*time.Second), "105", "1"))

	// First bar flushed on rollover.
	store.mu.Lock()
	flushed := len(store.klines)
	store.mu.Unlock()
	if flushed != 1 {
		t.Fatalf("flushed = %d, want the closed bar", flushed)
	}
	if !store.klines[0].Close.Equal(dec("100")) {
		t.Errorf("closed bar close = %s, want 100", store.klines[0].Close)
	}

	bar, ok := a.Bar("BTC/POINT", "1m")
	if !ok || !bar.Open.Equal(dec("105")) {
		t.Errorf("live bar open = %s ok=%v, want 105", bar.Open, ok)
	}
}

func TestAggregatorMultipleIntervals(t *testing.T) {
	a := NewAggregator(&klineStore{}, []time.Duration{time.Minute, time.Hour}, 16)

	at := time.Date(2026, 8, 25, 10, 30, 15, 0, time.UTC)
	a.apply(fillAt(at, "100", "1"))

	if _, ok := a.Bar("BTC/POINT", "1m"); !ok {
		t.Error("1m bar missing")
	}
	hour, ok := a.Bar("BTC/POINT", "1h")
	if !ok {
		t.Fatal("1h bar missing")
	}
	want := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	if !hour.OpenTime.Equal(want) {
		t.Errorf("1h open time = %s, want %s", hour.OpenTime, want)
	}
}

func TestFlushClosed(t *testing.T) {
	store := &klineStore{}
	a := NewAggregator(store, []time.Duration{time.Minute}, 16)

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	a.apply(fillAt(base.Add(10*time.Second), "100", "1"))

	// Bar still live halfway through its interval.
	a.flushClosed(base.Add(30 * time.Second))
	if _, ok := a.Bar("BTC/POINT", "1m"); !ok {
		t.Fatal("bar flushed too early")
	}

	a.flushClosed(base.Add(61 * time.Second))
	if _, ok := a.Bar("BTC/POINT", "1m"); ok {
		t.Fatal("elapsed bar must be flushed")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.klines) != 1 {
		t.Errorf("stored = %d, want 1", len(store.klines))
	}
}

func TestIntervalNames(t *testing.T) {
	cases := map[time.Duration]string{
		time.Minute:        "1m",
		5 * time.Minute:    "5m",
		time.Hour:          "1h",
		4 * time.Hour:      "4h",
		24 * time.Hour:     "1d",
		7 * 24 * time.Hour: "7d",
	}
	for iv, want := range cases {
		if got := intervalName(iv); got != want {
			t.Errorf("intervalName(%s) = %q, want %q", iv, got, want)
		}
		parsed, err := parseInterval(want)
		if err != nil || parsed != iv {
			t.Errorf("parseInterval(%q) = %s, %v; want %s", want, parsed, err, iv)
		}
	}
	if _, err := parseInterval("bogus"); err == nil {
		t.Error("bogus interval must not parse")
	}
}

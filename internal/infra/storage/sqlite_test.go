package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"exchange_go/internal/domain"
)

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	return s
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func sampleOrder(id string, userID int64, status string) *domain.Order {
	return &domain.Order{
		ID:             id,
		UserID:         userID,
		Symbol:         "BTC/POINT",
		Type:           domain.OrderTypeLimit,
		Side:           domain.SideBuy,
		Price:          dec("100"),
		Amount:         dec("2"),
		FilledAmount:   decimal.Zero,
		UnfilledAmount: dec("2"),
		TotalValue:     dec("200"),
		Status:         status,
		Leverage:       1,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestOrderLifecycle(t *testing.T) {
	s := setupTestDB(t)

	order := sampleOrder("o1", 7, domain.OrderStatusPending)
	if err := s.CreateOrder(order); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	fetched, err := s.GetOrder("o1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if fetched == nil || fetched.UserID != 7 {
		t.Fatalf("fetched = %+v, want user 7", fetched)
	}
	if !fetched.Price.Equal(dec("100")) {
		t.Errorf("price = %s, want 100", fetched.Price)
	}

	fetched.Status = domain.OrderStatusFilled
	fetched.FilledAmount = dec("2")
	fetched.UnfilledAmount = decimal.Zero
	if err := s.SaveOrder(fetched); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}
	updated, _ := s.GetOrder("o1")
	if updated.Status != domain.OrderStatusFilled {
		t.Errorf("status = %s, want FILLED", updated.Status)
	}

	if missing, err := s.GetOrder("nope"); err != nil || missing != nil {
		t.Errorf("missing order = %+v, %v; want nil, nil", missing, err)
	}
}

func TestOpenOrderQueries(t *testing.T) {
	s := setupTestDB(t)

	a := sampleOrder("a", 7, domain.OrderStatusPending)
	a.Seq = 2
	b := sampleOrder("b", 7, domain.OrderStatusPartiallyFilled)
	b.Seq = 1
	c := sampleOrder("c", 7, domain.OrderStatusFilled)
	d := sampleOrder("d", 8, domain.OrderStatusPending)
	for _, o := range []*domain.Order{a, b, c, d} {
		if err := s.CreateOrder(o); err != nil {
			t.Fatal(err)
		}
	}

	open, err := s.ListOpenOrders()
	if err != nil {
		t.Fatalf("ListOpenOrders failed: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("open orders = %d, want 3", len(open))
	}
	// Ordered by admission sequence.
	if open[0].ID != "b" {
		t.Errorf("first restored = %s, want b (lowest seq)", open[0].ID)
	}

	count, err := s.CountOpenOrders(7)
	if err != nil || count != 2 {
		t.Errorf("CountOpenOrders(7) = %d, %v; want 2", count, err)
	}
}

func TestCancelStats(t *testing.T) {
	s := setupTestDB(t)

	for i, status := range []string{
		domain.OrderStatusCancelled,
		domain.OrderStatusCancelled,
		domain.OrderStatusFilled,
		domain.OrderStatusPending,
	} {
		o := sampleOrder(string(rune('a'+i)), 7, status)
		if err := s.CreateOrder(o); err != nil {
			t.Fatal(err)
		}
	}

	cancelled, total, err := s.CancelStats(7, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CancelStats failed: %v", err)
	}
	if cancelled != 2 || total != 4 {
		t.Errorf("stats = %d/%d, want 2/4", cancelled, total)
	}
}

func TestFillQueries(t *testing.T) {
	s := setupTestDB(t)

	now := time.Now()
	fills := []*domain.Fill{
		{ID: "f1", Symbol: "BTC/POINT", BuyerID: 7, SellerID: 8, Price: dec("100"), Amount: dec("1"), TotalValue: dec("100"), CreatedAt: now.Add(-time.Minute)},
		{ID: "f2", Symbol: "BTC/POINT", BuyerID: 8, SellerID: 7, Price: dec("101"), Amount: dec("1"), TotalValue: dec("101"), CreatedAt: now},
		{ID: "f3", Symbol: "ETH/POINT", BuyerID: 9, SellerID: 10, Price: dec("50"), Amount: dec("1"), TotalValue: dec("50"), CreatedAt: now},
	}
	for _, f := range fills {
		if err := s.CreateFill(f); err != nil {
			t.Fatal(err)
		}
	}

	mine, err := s.ListUserFills(7, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListUserFills failed: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("user fills = %d, want both sides counted", len(mine))
	}
	if mine[0].ID != "f2" {
		t.Errorf("first fill = %s, want newest f2", mine[0].ID)
	}

	market, err := s.ListSymbolFills("BTC/POINT", 10)
	if err != nil || len(market) != 2 {
		t.Errorf("symbol fills = %d, %v; want 2", len(market), err)
	}
}

func TestBalanceUpsert(t *testing.T) {
	s := setupTestDB(t)

	b := &domain.Balance{
		UserID:      7,
		AccountType: domain.AccountSpot,
		Currency:    "POINT",
		Available:   dec("100"),
		Frozen:      decimal.Zero,
		Borrowed:    decimal.Zero,
		UpdatedAt:   time.Now(),
	}
	if err := s.SaveBalance(b); err != nil {
		t.Fatalf("SaveBalance failed: %v", err)
	}

	// Second write on the same key updates instead of duplicating.
	b2 := &domain.Balance{
		UserID:      7,
		AccountType: domain.AccountSpot,
		Currency:    "POINT",
		Available:   dec("70"),
		Frozen:      dec("30"),
		Borrowed:    decimal.Zero,
		UpdatedAt:   time.Now(),
	}
	if err := s.SaveBalance(b2); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	fetched, err := s.GetBalance(7, domain.AccountSpot, "POINT")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !fetched.Available.Equal(dec("70")) || !fetched.Frozen.Equal(dec("30")) {
		t.Errorf("balance = %s/%s, want 70/30", fetched.Available, fetched.Frozen)
	}

	if missing, err := s.GetBalance(7, domain.AccountSpot, "BTC"); err != nil || missing != nil {
		t.Errorf("missing balance = %+v, %v; want nil, nil", missing, err)
	}

	// The account-class listing sees every currency, and only that class.
	margin := &domain.Balance{
		UserID:      7,
		AccountType: domain.AccountMargin,
		Currency:    "POINT",
		Available:   dec("500"),
		Frozen:      decimal.Zero,
		Borrowed:    decimal.Zero,
		UpdatedAt:   time.Now(),
	}
	if err := s.SaveBalance(margin); err != nil {
		t.Fatal(err)
	}
	spot, err := s.ListBalances(7, domain.AccountSpot)
	if err != nil {
		t.Fatalf("ListBalances failed: %v", err)
	}
	if len(spot) != 1 || !spot[0].Available.Equal(dec("70")) {
		t.Errorf("spot balances = %+v, want only the POINT entry at 70", spot)
	}
}

func TestPairRoundTrip(t *testing.T) {
	s := setupTestDB(t)

	pair := &domain.TradingPair{
		Symbol:         "BTC/POINT",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "POINT",
		MinOrderAmount: dec("0.01"),
		MaxOrderAmount: dec("1000"),
		MakerFeeRate:   dec("0.001"),
		TakerFeeRate:   dec("0.002"),
		Enabled:        true,
	}
	if err := s.SavePair(pair); err != nil {
		t.Fatalf("SavePair failed: %v", err)
	}

	fetched, err := s.GetPair("BTC/POINT")
	if err != nil || fetched == nil {
		t.Fatalf("GetPair = %+v, %v", fetched, err)
	}
	if !fetched.Enabled {
		t.Error("pair should be enabled")
	}

	fetched.Enabled = false
	if err := s.SavePair(fetched); err != nil {
		t.Fatal(err)
	}
	pairs, err := s.ListPairs()
	if err != nil || len(pairs) != 1 {
		t.Fatalf("ListPairs = %d, %v; want 1", len(pairs), err)
	}
	if pairs[0].Enabled {
		t.Error("disable must persist")
	}
}

func TestKlineUpsertAndRange(t *testing.T) {
	s := setupTestDB(t)

	open := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	k := &domain.Kline{
		Symbol:   "BTC/POINT",
		Interval: "1m",
		OpenTime: open,
		Open:     dec("100"),
		High:     dec("100"),
		Low:      dec("100"),
		Close:    dec("100"),
		Volume:   dec("1"),
	}
	if err := s.SaveKline(k); err != nil {
		t.Fatalf("SaveKline failed: %v", err)
	}

	// Re-flush of the same bar overwrites, no duplicate.
	k2 := *k
	k2.ID = 0
	k2.Close = dec("110")
	k2.Volume = dec("3")
	if err := s.SaveKline(&k2); err != nil {
		t.Fatalf("kline upsert failed: %v", err)
	}

	klines, err := s.ListKlines("BTC/POINT", "1m", open.Add(-time.Hour), open.Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("ListKlines failed: %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("klines = %d, want 1 after upsert", len(klines))
	}
	if !klines[0].Close.Equal(dec("110")) || !klines[0].Volume.Equal(dec("3")) {
		t.Errorf("bar = close %s volume %s, want 110/3", klines[0].Close, klines[0].Volume)
	}
}

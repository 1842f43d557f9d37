package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"exchange_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage is the SQLite-backed implementation of domain.Store.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path and migrates the schema.
func NewStorage(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Pure-Go SQLite driver, no cgo.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&domain.Order{},
		&domain.Fill{},
		&domain.Balance{},
		&domain.TradingPair{},
		&domain.Kline{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// ======================================================================================
// Order Operations
// ======================================================================================

// CreateOrder inserts a new order.
func (s *Storage) CreateOrder(order *domain.Order) error {
	return s.db.Create(order).Error
}

// SaveOrder upserts the order's full state.
func (s *Storage) SaveOrder(order *domain.Order) error {
	return s.db.Save(order).Error
}

// GetOrder retrieves an order by id. Not found is not an error.
func (s *Storage) GetOrder(id string) (*domain.Order, error) {
	var order domain.Order
	err := s.db.First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders pages a user's orders, newest first. symbol and status filter
// when non-empty.
func (s *Storage) ListOrders(userID int64, symbol, status string, limit, offset int) ([]domain.Order, int64, error) {
	q := s.db.Model(&domain.Order{}).Where("user_id = ?", userID)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []domain.Order
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error
	return orders, total, err
}

// ListOpenOrders returns every PENDING or PARTIALLY_FILLED order, in
// admission order for deterministic book restoration.
func (s *Storage) ListOpenOrders() ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.
		Where("status IN ?", []string{domain.OrderStatusPending, domain.OrderStatusPartiallyFilled}).
		Order("seq ASC").
		Find(&orders).Error
	return orders, err
}

// CountOpenOrders counts a user's resting orders.
func (s *Storage) CountOpenOrders(userID int64) (int64, error) {
	var count int64
	err := s.db.Model(&domain.Order{}).
		Where("user_id = ? AND status IN ?", userID,
			[]string{domain.OrderStatusPending, domain.OrderStatusPartiallyFilled}).
		Count(&count).Error
	return count, err
}

// CancelStats returns (cancelled, total) order counts for a user since a time.
func (s *Storage) CancelStats(userID int64, since time.Time) (int64, int64, error) {
	base := s.db.Model(&domain.Order{}).Where("user_id = ? AND created_at >= ?", userID, since)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	var cancelled int64
	err := s.db.Model(&domain.Order{}).
		Where("user_id = ? AND created_at >= ? AND status = ?", userID, since, domain.OrderStatusCancelled).
		Count(&cancelled).Error
	return cancelled, total, err
}

// ======================================================================================
// Fill Operations
// ======================================================================================

// CreateFill appends an immutable fill record.
func (s *Storage) CreateFill(fill *domain.Fill) error {
	return s.db.Create(fill).Error
}

// ListUserFills returns fills where the user was buyer or seller, newest
// first, since a time. limit <= 0 means no limit.
func (s *Storage) ListUserFills(userID int64, since time.Time, limit int) ([]domain.Fill, error) {
	q := s.db.
		Where("(buyer_id = ? OR seller_id = ?) AND created_at >= ?", userID, userID, since).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var fills []domain.Fill
	err := q.Find(&fills).Error
	return fills, err
}

// ListSymbolFills returns the latest fills for a symbol, for market history.
func (s *Storage) ListSymbolFills(symbol string, limit int) ([]domain.Fill, error) {
	var fills []domain.Fill
	err := s.db.
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&fills).Error
	return fills, err
}

// ======================================================================================
// Balance Operations
// ======================================================================================

// GetBalance retrieves one balance entry. Not found is not an error.
func (s *Storage) GetBalance(userID int64, accountType, currency string) (*domain.Balance, error) {
	var balance domain.Balance
	err := s.db.First(&balance,
		"user_id = ? AND account_type = ? AND currency = ?", userID, accountType, currency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// ListBalances returns every balance entry a user holds in one account class.
func (s *Storage) ListBalances(userID int64, accountType string) ([]domain.Balance, error) {
	var balances []domain.Balance
	err := s.db.
		Where("user_id = ? AND account_type = ?", userID, accountType).
		Find(&balances).Error
	return balances, err
}

// SaveBalance upserts a balance entry on its (user, account, currency) key.
func (s *Storage) SaveBalance(balance *domain.Balance) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "account_type"}, {Name: "currency"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"available", "frozen", "borrowed", "updated_at",
		}),
	}).Create(balance).Error
}

// ======================================================================================
// Trading Pair Operations
// ======================================================================================

// GetPair retrieves a trading pair by symbol. Not found is not an error.
func (s *Storage) GetPair(symbol string) (*domain.TradingPair, error) {
	var pair domain.TradingPair
	err := s.db.First(&pair, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// ListPairs returns every trading pair.
func (s *Storage) ListPairs() ([]domain.TradingPair, error) {
	var pairs []domain.TradingPair
	err := s.db.Find(&pairs).Error
	return pairs, err
}

// SavePair upserts a trading pair.
func (s *Storage) SavePair(pair *domain.TradingPair) error {
	return s.db.Save(pair).Error
}

// ======================================================================================
// Kline Operations
// ======================================================================================

// SaveKline upserts one bar on its (symbol, interval, open_time) key.
func (s *Storage) SaveKline(kline *domain.Kline) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "open_time"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"open", "high", "low", "close", "volume", "turnover",
		}),
	}).Create(kline).Error
}

// ListKlines returns bars for a symbol and interval, oldest first.
func (s *Storage) ListKlines(symbol, interval string, from, to time.Time, limit int) ([]domain.Kline, error) {
	var klines []domain.Kline
	err := s.db.
		Where("symbol = ? AND interval = ? AND open_time >= ? AND open_time < ?",
			symbol, interval, from, to).
		Order("open_time ASC").
		Limit(limit).
		Find(&klines).Error
	return klines, err
}

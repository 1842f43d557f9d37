package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every application setting. Sensitive values can be
// overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		SnapshotLevels  int      `yaml:"snapshot_levels"`
		SnapshotTTLSec  int      `yaml:"snapshot_ttl_sec"`
		RecentFillsLen  int64    `yaml:"recent_fills_len"`
		KlineIntervals  []string `yaml:"kline_intervals"`
		KlineInboxSize  int      `yaml:"kline_inbox_size"`
		PanicDumpPath   string   `yaml:"panic_dump_path"`
		RestoreOnStart  bool     `yaml:"restore_on_start"`
	} `yaml:"trading"`

	Risk struct {
		MaxOrdersPerMinute    int             `yaml:"max_orders_per_minute"`
		MaxDailyOrders        int             `yaml:"max_daily_orders"`
		PriceFluctuationLimit decimal.Decimal `yaml:"price_fluctuation_limit"`
		MaxPendingOrders      int             `yaml:"max_pending_orders"`
		MaxPositionRatio      decimal.Decimal `yaml:"max_position_ratio"`
		CircuitBreakerRange   decimal.Decimal `yaml:"circuit_breaker_range"`
	} `yaml:"risk"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Cache struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"cache"`

	Push struct {
		ListenAddr    string `yaml:"listen_addr"`
		SendQueueSize int    `yaml:"send_queue_size"`
	} `yaml:"push"`

	Pairs []PairConfig `yaml:"pairs"`

	Icons struct {
		Dir     string            `yaml:"dir"`
		Size    int               `yaml:"size"`
		Sources map[string]string `yaml:"sources"` // currency -> image URL
	} `yaml:"icons"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// PairConfig is one seeded trading pair.
type PairConfig struct {
	Symbol          string          `yaml:"symbol"`
	BaseCurrency    string          `yaml:"base_currency"`
	QuoteCurrency   string          `yaml:"quote_currency"`
	MinOrderAmount  decimal.Decimal `yaml:"min_order_amount"`
	MaxOrderAmount  decimal.Decimal `yaml:"max_order_amount"`
	PricePrecision  int32           `yaml:"price_precision"`
	AmountPrecision int32           `yaml:"amount_precision"`
	MakerFeeRate    decimal.Decimal `yaml:"maker_fee_rate"`
	TakerFeeRate    decimal.Decimal `yaml:"taker_fee_rate"`
	MaxLeverage     int             `yaml:"max_leverage"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Trading.SnapshotLevels <= 0 {
		c.Trading.SnapshotLevels = 20
	}
	if c.Trading.SnapshotTTLSec <= 0 {
		c.Trading.SnapshotTTLSec = 5
	}
	if c.Trading.RecentFillsLen <= 0 {
		c.Trading.RecentFillsLen = 100
	}
	if len(c.Trading.KlineIntervals) == 0 {
		c.Trading.KlineIntervals = []string{"1m", "5m", "1h", "1d"}
	}
	if c.Trading.PanicDumpPath == "" {
		c.Trading.PanicDumpPath = "engine_panic_dump.json"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/exchange.db"
	}
	if c.Push.SendQueueSize <= 0 {
		c.Push.SendQueueSize = 64
	}
	if c.Icons.Size <= 0 {
		c.Icons.Size = 64
	}
}

// SnapshotTTL returns the snapshot TTL as a duration.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Trading.SnapshotTTLSec) * time.Second
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one trading pair is required")
	}
	seen := make(map[string]bool, len(c.Pairs))
	for _, p := range c.Pairs {
		if p.Symbol == "" || p.BaseCurrency == "" || p.QuoteCurrency == "" {
			return fmt.Errorf("pair %q needs symbol, base and quote", p.Symbol)
		}
		if seen[p.Symbol] {
			return fmt.Errorf("duplicate pair %q", p.Symbol)
		}
		seen[p.Symbol] = true
		if p.MinOrderAmount.LessThanOrEqual(decimal.Zero) || p.MaxOrderAmount.LessThan(p.MinOrderAmount) {
			return fmt.Errorf("pair %q has invalid amount bounds [%s, %s]",
				p.Symbol, p.MinOrderAmount, p.MaxOrderAmount)
		}
		if p.MakerFeeRate.IsNegative() || p.TakerFeeRate.IsNegative() {
			return fmt.Errorf("pair %q has negative fee rates", p.Symbol)
		}
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache enabled without an address")
	}
	if c.Push.ListenAddr != "" && !strings.Contains(c.Push.ListenAddr, ":") {
		return fmt.Errorf("invalid push listen address: %s", c.Push.ListenAddr)
	}
	return nil
}

// overrideWithEnv replaces settings from environment variables when present.
func overrideWithEnv(cfg *Config) {
	if addr := os.Getenv("EXCHANGE_REDIS_ADDR"); addr != "" {
		cfg.Cache.Addr = addr
	}
	if pass := os.Getenv("EXCHANGE_REDIS_PASSWORD"); pass != "" {
		cfg.Cache.Password = pass
	}
	if path := os.Getenv("EXCHANGE_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if addr := os.Getenv("EXCHANGE_PUSH_ADDR"); addr != "" {
		cfg.Push.ListenAddr = addr
	}
}

package app

import (
	"context"
	"log/slog"
	"time"

	"exchange_go/internal/book"
	"exchange_go/internal/domain"
	"exchange_go/internal/engine"
	"exchange_go/internal/infra"
	"exchange_go/internal/infra/cache"
	"exchange_go/internal/infra/push"
	"exchange_go/internal/infra/storage"
	"exchange_go/internal/kline"
	"exchange_go/internal/risk"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config     *infra.Config
	Storage    *storage.Storage
	Cache      *cache.Cache
	Hub        *push.Hub
	Kline      *kline.Aggregator
	Engine     *engine.Engine
	Metrics    *infra.Metrics
	Downloader *infra.IconDownloader
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize wires config, logging, storage, cache, push and the trading
// engine, then restores trading state.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	slog.Info("🚀 Bootstrapping exchange core...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Cache is optional: a dead Redis degrades reads, never trading.
	if cfg.Cache.Enabled {
		c, err := cache.NewCache(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			slog.Warn("cache unavailable, continuing without it", slog.Any("error", err))
		} else {
			b.Cache = c
			slog.Info("✅ Cache connected", slog.String("addr", cfg.Cache.Addr))
		}
	}

	// 5. Push hub and kline aggregator
	b.Metrics = &infra.Metrics{}
	b.Hub = push.NewHub(b.Metrics, cfg.Push.SendQueueSize)
	b.Kline = kline.NewAggregator(store, parseIntervals(cfg.Trading.KlineIntervals), cfg.Trading.KlineInboxSize)

	// 6. Trading engine
	riskCfg := risk.DefaultConfig()
	if cfg.Risk.MaxOrdersPerMinute > 0 {
		riskCfg.MaxOrdersPerMinute = cfg.Risk.MaxOrdersPerMinute
	}
	if cfg.Risk.MaxDailyOrders > 0 {
		riskCfg.MaxDailyOrders = cfg.Risk.MaxDailyOrders
	}
	if cfg.Risk.PriceFluctuationLimit.IsPositive() {
		riskCfg.PriceFluctuationLimit = cfg.Risk.PriceFluctuationLimit
	}
	if cfg.Risk.MaxPendingOrders > 0 {
		riskCfg.MaxPendingOrders = cfg.Risk.MaxPendingOrders
	}
	if cfg.Risk.MaxPositionRatio.IsPositive() {
		riskCfg.MaxPositionRatio = cfg.Risk.MaxPositionRatio
	}
	if cfg.Risk.CircuitBreakerRange.IsPositive() {
		riskCfg.CircuitBreakerRange = cfg.Risk.CircuitBreakerRange
	}

	opts := engine.Options{
		Notifier:       b.Hub,
		Kline:          b.Kline,
		Metrics:        b.Metrics,
		SnapshotLevels: cfg.Trading.SnapshotLevels,
		SnapshotTTL:    cfg.SnapshotTTL(),
		RecentFillsLen: cfg.Trading.RecentFillsLen,
		DumpPath:       cfg.Trading.PanicDumpPath,
	}
	if b.Cache != nil {
		opts.Cache = b.Cache
	}
	b.Engine = engine.NewEngine(store, book.NewManager(), risk.NewControl(riskCfg, store), engine.NewLedger(store), opts)

	// 7. Seed configured pairs, load the registry, restore resting orders
	if err := b.Engine.SeedPairs(seedPairs(cfg.Pairs)); err != nil {
		return err
	}
	if err := b.Engine.LoadPairs(); err != nil {
		return err
	}
	if cfg.Trading.RestoreOnStart {
		if err := b.Engine.RestoreOpenOrders(); err != nil {
			return err
		}
	}

	// 8. Icon downloader for the pair listing UI
	downloader, err := infra.NewIconDownloader(cfg.Icons.Dir, cfg.Icons.Size, cfg.Icons.Sources)
	if err != nil {
		return err
	}
	b.Downloader = downloader
	slog.Info("✅ Icon downloader ready")

	return nil
}

// SyncAssets downloads pair icons in the background.
func (b *Bootstrap) SyncAssets(ctx context.Context) {
	slog.Info("🔄 Starting asset synchronization...")

	unique := make(map[string]bool)
	for _, p := range b.Config.Pairs {
		unique[p.BaseCurrency] = true
		unique[p.QuoteCurrency] = true
	}

	currencies := make([]string, 0, len(unique))
	for c := range unique {
		select {
		case <-ctx.Done():
			return
		default:
		}
		currencies = append(currencies, c)
	}
	b.Downloader.SyncIcons(currencies)
	slog.Info("✨ Asset synchronization completed")
}

func seedPairs(configs []infra.PairConfig) []domain.TradingPair {
	now := time.Now()
	pairs := make([]domain.TradingPair, 0, len(configs))
	for _, p := range configs {
		pairs = append(pairs, domain.TradingPair{
			Symbol:          p.Symbol,
			BaseCurrency:    p.BaseCurrency,
			QuoteCurrency:   p.QuoteCurrency,
			MinOrderAmount:  p.MinOrderAmount,
			MaxOrderAmount:  p.MaxOrderAmount,
			PricePrecision:  p.PricePrecision,
			AmountPrecision: p.AmountPrecision,
			MakerFeeRate:    p.MakerFeeRate,
			TakerFeeRate:    p.TakerFeeRate,
			Enabled:         true,
			MaxLeverage:     p.MaxLeverage,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return pairs
}

func parseIntervals(names []string) []time.Duration {
	var out []time.Duration
	for _, name := range names {
		if len(name) < 2 {
			continue
		}
		n := 0
		valid := true
		for i := 0; i < len(name)-1; i++ {
			c := name[i]
			if c < '0' || c > '9' {
				valid = false
				break
			}
			n = n*10 + int(c-'0')
		}
		if !valid || n == 0 {
			slog.Warn("skipping invalid kline interval", slog.String("interval", name))
			continue
		}
		switch name[len(name)-1] {
		case 'm':
			out = append(out, time.Duration(n)*time.Minute)
		case 'h':
			out = append(out, time.Duration(n)*time.Hour)
		case 'd':
			out = append(out, time.Duration(n)*24*time.Hour)
		default:
			slog.Warn("skipping invalid kline interval", slog.String("interval", name))
		}
	}
	return out
}

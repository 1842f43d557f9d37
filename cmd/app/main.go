package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exchange_go/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, *configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 4. Background Asset Sync
	go bootstrap.SyncAssets(ctx)

	// 5. Kline aggregation loop (single goroutine)
	go bootstrap.Kline.Run(ctx)
	slog.InfoContext(ctx, "✅ Kline aggregator started")

	// 6. Push server
	go bootstrap.Hub.Run(ctx)
	if addr := bootstrap.Config.Push.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", bootstrap.Hub)
		server := &http.Server{Addr: addr, Handler: mux}

		go func() {
			slog.Info("✅ Push server listening", slog.String("addr", addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Push server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	slog.InfoContext(ctx, "✨ Exchange core fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	if bootstrap.Cache != nil {
		bootstrap.Cache.Close()
	}
}

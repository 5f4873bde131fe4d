package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"solpaper/internal/config"
	"solpaper/internal/domain"
	"solpaper/internal/executor"
	"solpaper/internal/exitrule"
	"solpaper/internal/httpapi"
	"solpaper/internal/ledger"
	"solpaper/internal/monitor"
	"solpaper/internal/notify"
	"solpaper/internal/oracle"
	"solpaper/internal/signalsource"
	"solpaper/internal/store"
	"solpaper/internal/syncer"
	"solpaper/internal/util"
)

func main() {
	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfgPath := "config/solpaper.yaml"
	if p := os.Getenv("SOLPAPER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating sqlite dir: %v", err)
	}

	sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer sqlite.Close()
	archive := store.NewParquetArchive(cfg.Storage.DataDir)

	hub := notify.NewHub()
	book := ledger.New(cfg.Trading.StartingCapitalUsd, cfg.DefaultReserveUsd(), hub, logger.With("component", "ledger"))

	stateSync := syncer.New(book, sqlite, archive, hub,
		cfg.Sync.Interval(), logger.With("component", "syncer"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := stateSync.Restore(ctx); err != nil {
		log.Fatalf("restoring portfolios: %v", err)
	}

	priceOracle, err := buildOracle(cfg)
	if err != nil {
		log.Fatalf("building oracle: %v", err)
	}

	resolver := exitrule.NewResolver(archive, cfg.Trading.DefaultTakeProfitPct,
		logger.With("component", "exitrule"))

	exec := executor.New(book, resolver, priceOracle, defaultUsers(cfg), executor.Params{
		HardCapUsd:      cfg.Trading.HardCapUsd,
		MinTradeUsd:     cfg.Trading.MinTradeUsd,
		DefaultTPPct:    cfg.Trading.DefaultTakeProfitPct,
		DefaultSLPct:    cfg.Trading.DefaultStopLossPct,
		FreshnessWindow: cfg.Trading.SignalFreshnessWindow.Std(),
		ExpiryFor:       cfg.ExpiryFor,
	}, logger.With("component", "executor"))

	watcher := signalsource.New(cfg.Signals.FeedPath, cfg.Signals.SnapshotPath,
		cfg.Signals.PollInterval(), exec, logger.With("component", "signals"))

	mon := monitor.New(book, priceOracle, cfg.Monitor.Interval(),
		cfg.Monitor.PriceTimeout(), cfg.Monitor.QuoteStaleAfter.Std(),
		logger.With("component", "monitor"))

	api := httpapi.NewServer(book, hub, cfg.Report.PageSize, logger.With("component", "httpapi"))
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	logger.Info("trade engine starting",
		"addr", httpSrv.Addr,
		"oracle", cfg.Oracle.Provider,
		"feed", cfg.Signals.FeedPath)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component stopped", "component", name, "error", err)
				cancel()
			}
		}()
	}
	run("syncer", stateSync.Run)
	run("monitor", mon.Run)
	run("signals", watcher.Run)

	// Trade-activity log line per event.
	logSubID, events := hub.Subscribe(64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			switch {
			case ev.Closed != nil:
				logger.Info("trade closed",
					"user", ev.UserID, "key", ev.Closed.Key,
					"reason", ev.Closed.ExitReason, "roi_pct", ev.Closed.RealizedROIPct)
			case ev.Position != nil:
				logger.Info("trade opened",
					"user", ev.UserID, "key", ev.Position.Key, "size_usd", ev.Position.SizeUsd)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	hub.Unsubscribe(logSubID)
	wg.Wait()
	logger.Info("trade engine stopped")
}

// buildOracle constructs the configured price source.
func buildOracle(cfg *config.Config) (oracle.Oracle, error) {
	switch cfg.Oracle.Provider {
	case "http":
		return oracle.NewHTTPOracle(cfg.Oracle.BaseURL, cfg.Oracle.RateLimitPerMin), nil
	case "alpaca":
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, fmt.Errorf("alpaca oracle requires APCA_API_KEY_ID and APCA_API_SECRET_KEY")
		}
		return oracle.NewAlpacaOracle(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL), nil
	case "static":
		return oracle.NewStaticOracle(nil), nil
	}
	return nil, fmt.Errorf("unknown oracle provider %q", cfg.Oracle.Provider)
}

// defaultUsers is the single-tenant user source: one local user trading all
// grades with engine defaults. Multi-user deployments plug a real
// user-management service in here.
func defaultUsers(cfg *config.Config) executor.UserSource {
	return executor.MapUserSource{
		"local": {
			TradingEnabled: true,
			AlphaEnabled:   true,
			SizeMode:       domain.SizeFixed,
			FixedSizeUsd:   cfg.Trading.HardCapUsd,
			MinTradeUsd:    cfg.Trading.MinTradeUsd,
			TPMode:         domain.TPFixed,
			TPPct:          cfg.Trading.DefaultTakeProfitPct,
			SLPct:          cfg.Trading.DefaultStopLossPct,
		},
	}
}

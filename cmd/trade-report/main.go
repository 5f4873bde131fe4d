package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"solpaper/internal/config"
	"solpaper/internal/domain"
	"solpaper/internal/store"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath = flag.String("config", "", "path to config file (defaults apply when empty)")
		page    = flag.Int("page", 1, "portfolio page to print")
		userID  = flag.String("user", "", "print one portfolio in full instead of the paginated list")
	)
	flag.Parse()

	cfg := loadConfig(*cfgPath)

	sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening store at %s: %v", cfg.Storage.SQLitePath, err)
	}
	defer sqlite.Close()

	ctx := context.Background()

	if *userID != "" {
		p, err := sqlite.Load(ctx, *userID)
		if err != nil {
			log.Fatalf("loading portfolio %s: %v", *userID, err)
		}
		printDetail(p)
		return
	}

	all, err := sqlite.LoadAll(ctx)
	if err != nil {
		log.Fatalf("loading portfolios: %v", err)
	}
	printPage(all, *page, cfg.Report.PageSize)
}

func loadConfig(path string) *config.Config {
	if path == "" {
		if p := os.Getenv("SOLPAPER_CONFIG"); p != "" {
			path = p
		}
	}
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func printPage(all []*domain.Portfolio, page, pageSize int) {
	total := len(all)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, total)

	fmt.Printf("portfolios %d-%d of %d (page %d/%d)\n\n", start+1, end, total, page, totalPages)
	fmt.Printf("%-20s %12s %10s %6s %8s %6s/%-6s %12s\n",
		"USER", "CAPITAL", "RESERVE", "OPEN", "EXPOSURE", "WINS", "LOSSES", "PNL")
	for _, p := range all[start:end] {
		fmt.Printf("%-20s %12.2f %10.2f %6d %8.2f %6d/%-6d %12.2f\n",
			p.UserID, p.Capital, p.Reserve, len(p.Positions), p.OpenExposure(),
			p.Stats.Wins, p.Stats.Losses, p.Stats.TotalPnlUsd)
	}
}

func printDetail(p *domain.Portfolio) {
	fmt.Printf("portfolio %s (version %d)\n", p.UserID, p.Version)
	fmt.Printf("  capital   %.2f\n", p.Capital)
	fmt.Printf("  reserve   %.2f\n", p.Reserve)
	fmt.Printf("  available %.2f\n", p.Available())
	fmt.Printf("  stats     trades=%d wins=%d losses=%d pnl=%.2f best=%.1f%% worst=%.1f%%\n",
		p.Stats.TotalTrades, p.Stats.Wins, p.Stats.Losses,
		p.Stats.TotalPnlUsd, p.Stats.BestTradePct, p.Stats.WorstTradePct)

	if len(p.Positions) > 0 {
		fmt.Printf("\nopen positions (%d):\n", len(p.Positions))
		for _, pos := range p.Positions {
			roi := 0.0
			if pos.LastPrice > 0 {
				roi = pos.ROIPct(pos.LastPrice)
			}
			fmt.Printf("  %-50s %-8s size=%.2f entry=%.6f roi=%+.1f%% peak=%+.1f%% expires=%s\n",
				pos.Key.Asset, pos.Key.Class, pos.SizeUsd, pos.EntryPrice,
				roi, pos.PeakROIPct, pos.ExpiresAt().Format(time.RFC3339))
		}
	}

	if len(p.History) > 0 {
		fmt.Printf("\nhistory (%d, most recent first):\n", len(p.History))
		for i := len(p.History) - 1; i >= 0; i-- {
			c := p.History[i]
			fmt.Printf("  %-50s %-8s %-12s roi=%+.1f%% pnl=%+.2f held=%s\n",
				c.Key.Asset, c.Key.Class, c.ExitReason,
				c.RealizedROIPct, c.PnlUsd(), c.HoldDuration.Round(time.Second))
		}
	}
}

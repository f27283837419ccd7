package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sergeydz/perpmm/internal/infrastructure/storage"
	"github.com/sergeydz/perpmm/internal/usecase"
)

func main() {
	dbPath := flag.String("db", "perpmm.db", "journal database path")
	fillLimit := flag.Int("fills", 200, "how many recent fills to aggregate")
	sessionLimit := flag.Int("sessions", 20, "how many recent sessions to list")
	flag.Parse()

	journal, err := storage.NewSQLiteJournal(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open journal %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer journal.Close()

	svc := usecase.NewReportService(journal, zap.NewNop())
	report, err := svc.Build(context.Background(), *fillLimit, *sessionLimit)
	if err != nil {
		fmt.Printf("Failed to build report: %v\n", err)
		os.Exit(1)
	}

	f := report.Fills
	fmt.Printf("=== Fills (last %d) ===\n", f.Count)
	fmt.Printf("Volume:    %.2f\n", f.Volume)
	fmt.Printf("PnL:       %.4f\n", f.PnL)
	fmt.Printf("Win rate:  %.1f%% (%d wins / %d losses)\n", f.WinRate*100, f.Wins, f.Losses)
	fmt.Printf("Avg PnL:   %.4f\n", f.AvgPnL)
	fmt.Printf("Best:      %.4f   Worst: %.4f\n", f.BestPnL, f.WorstPnL)

	fmt.Printf("\n=== Sessions (last %d) ===\n", len(report.Sessions))
	fmt.Printf("%-38s %-6s %-19s %7s %6s %12s %10s\n",
		"ID", "ASSET", "STARTED", "CYCLES", "FILLS", "VOLUME", "PNL")
	for _, s := range report.Sessions {
		ended := "running"
		if !s.EndedAt.IsZero() {
			ended = s.EndedAt.Sub(s.StartedAt).Truncate(time.Second).String()
		}
		fmt.Printf("%-38s %-6s %-19s %7d %6d %12.2f %10.4f  (%s)\n",
			s.ID, s.Asset, s.StartedAt.Format("2006-01-02 15:04:05"),
			s.Cycles, s.Fills, s.Volume, s.PnL, ended)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sergeydz/perpmm/internal/infrastructure/exchange"
)

func main() {
	asset := flag.String("asset", "BTC", "asset to watch")
	duration := flag.Duration("for", 30*time.Second, "how long to tail the feed")
	flag.Parse()

	_ = godotenv.Load()
	apiKey := os.Getenv("PERPMM_API_KEY")
	apiSecret := os.Getenv("PERPMM_API_SECRET")

	adapter := exchange.NewPerpdexAdapter(apiKey, apiSecret, exchange.PerpdexBaseURL, exchange.PerpdexWSURL, zap.NewNop())
	ctx := context.Background()

	fmt.Printf("Fetching snapshot for %s...\n", *asset)
	state, err := adapter.GetMarketState(ctx, *asset)
	if err != nil {
		log.Fatalf("Error fetching market state: %v", err)
	}
	fmt.Printf("Snapshot: bid=%.4f ask=%.4f mark=%.4f spread=%.5f%%\n",
		state.BestBid, state.BestAsk, state.MarkPrice, state.SpreadPct()*100)

	updates := 0
	adapter.OnPriceUpdate(func(a string, mid float64) {
		updates++
		fmt.Printf("%s  %s mid=%.4f\n", time.Now().Format("15:04:05.000"), a, mid)
	})

	fmt.Printf("Tailing book feed for %s...\n", *duration)
	if err := adapter.SubscribeBook(*asset); err != nil {
		log.Fatalf("Subscribe failed: %v", err)
	}

	time.Sleep(*duration)
	fmt.Printf("Done: %d updates in %s\n", updates, *duration)
}

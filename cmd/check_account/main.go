package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sergeydz/perpmm/internal/infrastructure/exchange"
)

type Config struct {
	Exchange struct {
		Name         string `yaml:"name"`
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
	Trading struct {
		Asset string `yaml:"asset"`
	} `yaml:"trading"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the yaml config")
	asset := flag.String("asset", "", "asset override")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if key := os.Getenv("PERPMM_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("PERPMM_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if *asset == "" {
		*asset = cfg.Trading.Asset
	}
	if *asset == "" {
		*asset = "BTC"
	}

	fmt.Printf("Testing perpdex interaction...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Exchange.RESTEndpoint)
	if len(cfg.Exchange.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", cfg.Exchange.APIKey[:4])
	}

	adapter := exchange.NewPerpdexAdapter(
		cfg.Exchange.APIKey,
		cfg.Exchange.APISecret,
		cfg.Exchange.RESTEndpoint,
		cfg.Exchange.WSEndpoint,
		zap.NewNop(),
	)
	ctx := context.Background()

	// 1. Snapshot (book + account)
	state, err := adapter.GetMarketState(ctx, *asset)
	if err != nil {
		fmt.Printf("❌ Failed to get market state: %v\n", err)
	} else {
		fmt.Printf("✅ Book (%s): bid=%f ask=%f mark=%f funding=%f\n",
			*asset, state.BestBid, state.BestAsk, state.MarkPrice, state.FundingRate)
		fmt.Printf("✅ Account: value=%f position=%f leverage=%dx\n",
			state.AccountValue, state.Position, state.Leverage)
	}

	// 2. Open orders
	orders, err := adapter.OpenOrders(ctx, *asset)
	if err != nil {
		fmt.Printf("❌ Failed to get open orders: %v\n", err)
	} else {
		fmt.Printf("✅ Open orders (%s): %d\n", *asset, len(orders))
		for _, o := range orders {
			fmt.Printf("   oid=%d %s %f @ %f placed %s\n",
				o.OrderID, o.Side, o.Size, o.Price, o.CreatedAt.Format("15:04:05"))
		}
	}

	// 3. Venue meta
	metas, err := adapter.Meta(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get meta: %v\n", err)
	} else {
		fmt.Printf("✅ Meta: %d assets\n", len(metas))
		for _, m := range metas {
			if m.Asset == *asset {
				fmt.Printf("   %s: szDecimals=%d tickSize=%f maxLeverage=%dx\n",
					m.Asset, m.SizeDecimals, m.TickSize, m.MaxLeverage)
			}
		}
	}
}

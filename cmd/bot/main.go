package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sergeydz/perpmm/internal/infrastructure/exchange"
	"github.com/sergeydz/perpmm/internal/infrastructure/logger"
	"github.com/sergeydz/perpmm/internal/infrastructure/metrics"
	"github.com/sergeydz/perpmm/internal/infrastructure/storage"
	"github.com/sergeydz/perpmm/internal/usecase"
	"github.com/sergeydz/perpmm/internal/web"
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
		Asset             string  `yaml:"asset"`
		MaxPosition       float64 `yaml:"max_position"`
		MinNotional       float64 `yaml:"min_notional"`
		Leverage          int     `yaml:"leverage"`
		WindowSize        int     `yaml:"window_size"`
		MaxMomentumTrades int     `yaml:"max_momentum_trades"`
		ProfitTakePct     float64 `yaml:"profit_take_pct"`
		StopLossPct       float64 `yaml:"stop_loss_pct"`
		SpreadBaseline    float64 `yaml:"spread_baseline"`
		SpreadHighUsage   float64 `yaml:"spread_high_usage"`
		SpreadLowUsage    float64 `yaml:"spread_low_usage"`
		VolatilityCeiling float64 `yaml:"volatility_ceiling"`
		ActiveSleepSec    int     `yaml:"active_sleep_sec"`
		IdleSleepSec      int     `yaml:"idle_sleep_sec"`
	} `yaml:"trading"`
	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`
	Logging struct {
		Level    string `yaml:"level"`
		TradeLog string `yaml:"trade_log"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
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

func buildLogger(cfg *Config) (*zap.Logger, error) {
	if cfg.Logging.TradeLog != "" {
		return logger.NewFileLogger(cfg.Logging.TradeLog, cfg.Logging.Level)
	}
	return logger.NewLogger(cfg.Logging.Level)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the yaml config")
	flag.Parse()

	// .env carries the API credentials; a missing file is fine.
	_ = godotenv.Load()

	// 1. Load Config
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

	// 2. Init Logger
	log, err := buildLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Trading.Asset == "" {
		log.Fatal("trading.asset is not configured")
	}
	if cfg.Trading.MaxPosition <= 0 {
		log.Fatal("trading.max_position must be positive")
	}

	log.Info("Starting market maker",
		zap.String("exchange", cfg.Exchange.Name),
		zap.String("asset", cfg.Trading.Asset),
		zap.Float64("max_position", cfg.Trading.MaxPosition),
		zap.Int("leverage", cfg.Trading.Leverage))

	// 3. Init Journal
	journalPath := cfg.Journal.Path
	if journalPath == "" {
		journalPath = "perpmm.db"
	}
	journal, err := storage.NewSQLiteJournal(journalPath)
	if err != nil {
		log.Fatal("Failed to init journal", zap.Error(err))
	}
	defer journal.Close()

	// 4. Init Exchange
	adapter := exchange.NewPerpdexAdapter(
		cfg.Exchange.APIKey,
		cfg.Exchange.APISecret,
		cfg.Exchange.RESTEndpoint,
		cfg.Exchange.WSEndpoint,
		log,
	)

	metaCache := usecase.NewAssetMetaCache(log)
	if err := metaCache.Load(context.Background(), adapter); err != nil {
		log.Warn("Meta query failed, using default size decimals", zap.Error(err))
	}

	// 5. Wire the trading core
	governor := usecase.NewRateGovernor()
	risk := usecase.NewRiskManager(usecase.RiskParams{
		MaxPosition:   cfg.Trading.MaxPosition,
		MinNotional:   cfg.Trading.MinNotional,
		ProfitTakePct: cfg.Trading.ProfitTakePct,
		StopLossPct:   cfg.Trading.StopLossPct,
	})
	momentum := usecase.NewMomentumAnalyzer(cfg.Trading.WindowSize, cfg.Trading.MaxMomentumTrades)
	maker := usecase.NewMarketMaker(usecase.StrategyParams{
		SpreadBaseline:    cfg.Trading.SpreadBaseline,
		SpreadHighUsage:   cfg.Trading.SpreadHighUsage,
		SpreadLowUsage:    cfg.Trading.SpreadLowUsage,
		VolatilityCeiling: cfg.Trading.VolatilityCeiling,
	}, risk, momentum, governor, metaCache, log)
	executor := usecase.NewOrderExecutor(adapter, governor, cfg.Trading.MinNotional, log)
	reducer := usecase.NewPositionReducer(executor, risk, governor, metaCache, log)

	m := metrics.New()
	svc := usecase.NewTradingService(usecase.TradingConfig{
		Asset:       cfg.Trading.Asset,
		ActiveSleep: time.Duration(cfg.Trading.ActiveSleepSec) * time.Second,
		IdleSleep:   time.Duration(cfg.Trading.IdleSleepSec) * time.Second,
	}, adapter, maker, risk, governor, executor, reducer, metaCache, journal, m, log)

	// 6. Book feed; REST snapshots cover us if it fails
	adapter.OnPriceUpdate(func(asset string, price float64) {
		log.Debug("Book update", zap.String("asset", asset), zap.Float64("mid", price))
	})
	if err := adapter.SubscribeBook(cfg.Trading.Asset); err != nil {
		log.Warn("Book feed unavailable, using REST snapshots", zap.Error(err))
	}

	// 7. Status server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, svc, journal, m.Handler(), log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Status server failed", zap.Error(err))
		}
	}()

	// 8. Start trading
	if err := svc.Start(context.Background()); err != nil {
		log.Fatal("Failed to start trading service", zap.Error(err))
	}

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	svc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Status server shutdown failed", zap.Error(err))
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/bus"
	"github.com/vitos/okx_mark_pilot/internal/config"
	"github.com/vitos/okx_mark_pilot/internal/domain"
	"github.com/vitos/okx_mark_pilot/internal/history"
	"github.com/vitos/okx_mark_pilot/internal/infrastructure/ai"
	"github.com/vitos/okx_mark_pilot/internal/infrastructure/exchange"
	"github.com/vitos/okx_mark_pilot/internal/infrastructure/logger"
	"github.com/vitos/okx_mark_pilot/internal/infrastructure/logstore"
	"github.com/vitos/okx_mark_pilot/internal/usecase"
	"github.com/vitos/okx_mark_pilot/internal/web"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "okx-mark-pilot",
		Short: "Mark-price monitor and AI-assisted trading orchestrator for OKX",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Malformed configuration is the only fatal class; everything after
	// startup degrades and retries instead of exiting.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.Level, cfg.Logging.File)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New()
	defer b.Close()
	store := history.NewStore(cfg.HistoryWindow())

	tradeLog, err := logstore.NewTradeLog(cfg.Logs.TradePath)
	if err != nil {
		return fmt.Errorf("open trade log: %w", err)
	}
	decisionLog, err := logstore.NewDecisionLog(cfg.Logs.AIPath)
	if err != nil {
		return fmt.Errorf("open ai log: %w", err)
	}
	errorLog, err := logstore.NewErrorLog(cfg.Logs.ErrorPath)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}

	okx := exchange.NewOkxAdapter(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Passphrase, cfg.Exchange.RESTEndpoint)
	okx.SetTdMode(cfg.Exchange.TdMode)

	// Persistence subscribes at construction, before any producer starts,
	// so nothing observable is lost.
	persistence := usecase.NewPersistence(b, tradeLog, decisionLog, errorLog, log)
	go persistence.Run(ctx)

	monitor := usecase.NewMonitor(b, store, cfg.ThresholdMap(), cfg.DebounceMap(), cfg.NotifyDebounce(), log)
	go monitor.Run(ctx)

	preloader := usecase.NewPreloader(okx, store, b, cfg.History.PreloadAttempts, log)
	preloader.Run(ctx, cfg.Instruments)

	stream := exchange.NewMarkPriceStream(cfg.Exchange.WSEndpoint, cfg.Instruments, b, log)
	go stream.Run(ctx)

	var aiLoop *usecase.AILoop
	if cfg.AI.Enabled {
		markets, err := fetchMarkets(ctx, okx, cfg.Instruments, log)
		if err != nil {
			log.Warn("instrument metadata unavailable, trading validation will reject all orders", zap.Error(err))
		}
		executor := usecase.NewExecutor(okx, b, markets, cfg.Exchange.TdMode, cfg.Trading.MaxLeverage, tradeLog, log)
		analytics := usecase.NewAnalytics(okx, log)
		client := ai.NewDeepSeekClient(cfg.AI.Endpoint, cfg.AI.APIKey, cfg.AI.Model)
		aiLoop = usecase.NewAILoop(client, analytics, executor, b, cfg.Instruments,
			cfg.AIInterval(), cfg.HasCredentials(), cfg.Trading.Enabled, log)
		go aiLoop.Run(ctx)
	}

	server := web.NewServer(cfg.Server.Port, store, stream, aiLoop, tradeLog, decisionLog, errorLog, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("web server stopped", zap.Error(err))
		}
	}()

	log.Info("started",
		zap.Strings("instruments", cfg.Instruments),
		zap.Bool("ai", cfg.AI.Enabled),
		zap.Bool("trading", cfg.Trading.Enabled))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func fetchMarkets(ctx context.Context, okx *exchange.OkxAdapter, instruments []string, log *zap.Logger) (map[string]domain.MarketInfo, error) {
	infos, err := okx.GetInstruments(ctx, "SWAP", instruments)
	if err != nil {
		return nil, err
	}
	markets := make(map[string]domain.MarketInfo, len(infos))
	for _, info := range infos {
		markets[info.InstID] = info
	}
	log.Info("instrument metadata loaded", zap.Int("count", len(markets)))
	return markets, nil
}

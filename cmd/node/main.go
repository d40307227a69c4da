package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/solape-labs/openbook-v2/params"
	"github.com/solape-labs/openbook-v2/pkg/api"
	"github.com/solape-labs/openbook-v2/pkg/app/core"
	"github.com/solape-labs/openbook-v2/pkg/app/core/account"
	"github.com/solape-labs/openbook-v2/pkg/app/core/market"
	"github.com/solape-labs/openbook-v2/pkg/app/core/vault"
	"github.com/solape-labs/openbook-v2/pkg/app/spot"
	"github.com/solape-labs/openbook-v2/pkg/feed"
	"github.com/solape-labs/openbook-v2/pkg/ledger"
	"github.com/solape-labs/openbook-v2/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = filepath.Join(cfg.Node.DataDir, "node.log")
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- Custody ----
	// In-memory vault; the real custody bridge is an external
	// collaborator and plugs in behind the same interface.
	custody := vault.NewMemory()
	fundDevnetAccounts(custody, cfg, sugar)

	// ---- Accounts ----
	accounts, err := account.NewManager(filepath.Join(cfg.Node.DataDir, "accounts"))
	if err != nil {
		sugar.Fatalw("account_store_failed", "err", err)
	}
	defer accounts.Close()

	// ---- Matching engine ----
	engine := core.NewEngine(core.Config{
		BookCapacity:   cfg.Node.BookCapacity,
		EventSkipBound: cfg.Node.EventSkipBound,
	}, accounts, custody, util.RealClock{}, logger)

	for _, mc := range cfg.Markets {
		m, err := market.NewMarket(mc.Symbol, mc.BaseAsset, mc.QuoteAsset, market.Params{
			BaseLotSize:  mc.BaseLotSize,
			QuoteLotSize: mc.QuoteLotSize,
			MakerFeeBps:  mc.MakerFeeBps,
			TakerFeeBps:  mc.TakerFeeBps,
		})
		if err != nil {
			sugar.Fatalw("market_config_invalid", "symbol", mc.Symbol, "err", err)
		}
		if err := engine.AddMarket(m); err != nil {
			sugar.Fatalw("market_add_failed", "symbol", mc.Symbol, "err", err)
		}
		sugar.Infow("market_created", "symbol", mc.Symbol,
			"base_lot_size", mc.BaseLotSize, "quote_lot_size", mc.QuoteLotSize,
			"maker_fee_bps", mc.MakerFeeBps, "taker_fee_bps", mc.TakerFeeBps)
	}

	// ---- Trade feed ----
	var publisher feed.Publisher = feed.Nop{}
	if cfg.Kafka.Enabled {
		publisher = feed.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		sugar.Infow("trade_feed_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	defer publisher.Close()

	// ---- Application ----
	app := spot.NewApp(engine, accounts, spot.Options{
		RequireSignatures: cfg.Node.RequireSignatures,
		Feed:              publisher,
	}, logger)

	// ---- Ledger ----
	store, err := ledger.NewPebbleBlockStore(filepath.Join(cfg.Node.DataDir, "blocks"))
	if err != nil {
		sugar.Fatalw("block_store_failed", "err", err)
	}
	defer store.Close()

	// Replay rebuilds engine state from block one; persisted accounts
	// already reflect that history, so loads stay off until it is done.
	accounts.BeginReplay()
	height, lastHash, err := ledger.Replay(store, app, logger)
	accounts.EndReplay()
	if err != nil {
		sugar.Fatalw("replay_failed", "err", err)
	}
	if height > 0 {
		sugar.Infow("replay_complete", "height", height)
	}

	loop := ledger.NewLoop(app, store, util.RealClock{}, cfg.Node.BlockInterval, logger)
	loop.Resume(height, lastHash)

	// ---- API ----
	apiServer := api.NewServer(app)
	loop.OnCommit = func(b ledger.Block) {
		var trades []feed.Trade
		for _, m := range engine.Markets().List() {
			for _, t := range app.RecentTrades(m.Symbol, 100) {
				if t.Height == b.Height {
					trades = append(trades, t)
				}
			}
		}
		apiServer.BroadcastBlock(b.Height, b.Time.Unix(), trades)
	}

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("node_starting",
		"block_interval", cfg.Node.BlockInterval,
		"markets", engine.Markets().Count(),
		"require_signatures", cfg.Node.RequireSignatures)

	loop.Run(ctx)
}

// fundDevnetAccounts seeds vault balances for addresses listed in
// DEVNET_FUND (comma-separated). Each address receives a large balance
// of every configured asset. No-op when unset.
func fundDevnetAccounts(custody *vault.Memory, cfg params.Config, sugar *zap.SugaredLogger) {
	raw := os.Getenv("DEVNET_FUND")
	if raw == "" {
		return
	}
	const amount = int64(1_000_000_000)

	assets := make(map[string]bool)
	for _, m := range cfg.Markets {
		assets[m.BaseAsset] = true
		assets[m.QuoteAsset] = true
	}

	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if !common.IsHexAddress(s) {
			sugar.Warnw("devnet_fund_bad_address", "value", s)
			continue
		}
		addr := common.HexToAddress(s)
		for asset := range assets {
			custody.Fund(addr, asset, amount)
		}
		sugar.Infow("devnet_account_funded", "address", addr.Hex(), "amount", amount)
	}
}

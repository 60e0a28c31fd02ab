package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"stampbuy/internal/config"
	"stampbuy/internal/dispense"
	"stampbuy/internal/fees"
	"stampbuy/internal/idempotency"
	"stampbuy/internal/logging"
	"stampbuy/internal/purchase"
	"stampbuy/internal/server"
	"stampbuy/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logs := logging.New(os.Stdout, cfg.LogLevel)
	mainLog := logs.Logger("MAIN")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Idempotency)
	if err != nil {
		log.Fatalf("idempotency store error: %v", err)
	}
	defer closeStore()

	var dispClient dispense.Client = dispense.FakeClient{}
	if cfg.Backend.BaseURL != "" {
		dispClient = dispense.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	} else {
		mainLog.Warnf("STAMPBUY_BACKEND_URL not set; using fake dispense backend")
	}

	buyerWallet := newWallet(cfg.Wallet)
	mainLog.Warnf("Wallet driver %q: PSBT signing and broadcast are simulated, no purchase reaches the chain",
		cfg.Wallet.Driver)
	if !buyerWallet.IsConnected() {
		mainLog.Warnf("STAMPBUY_WALLET_ADDRESS not set; purchases will ask to connect a wallet")
	}

	feePoller := fees.NewPoller(
		fees.NewHTTPSource(cfg.Fees.BaseURL, cfg.Fees.Timeout),
		cfg.Fees.PollInterval,
		logs.Logger("FEES"),
	)

	purchases := purchase.NewManager(purchase.ManagerConfig{
		Wallet:     buyerWallet,
		Dispense:   dispClient,
		Fees:       feePoller,
		CloseDelay: cfg.Service.AutoCloseDelay,
		Log:        logs.Logger("PRCH"),
	})
	defer purchases.CloseAll()

	apiServer := server.NewServer(cfg, server.Deps{
		Purchases: purchases,
		Wallet:    buyerWallet,
		Fees:      feePoller,
		Store:     store,
		Log:       logs.Logger("SRVR"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feePoller.Run(gctx)
	})
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		mainLog.Errorf("server stopped: %v", err)
		return
	}
	mainLog.Infof("Shut down cleanly")
}

// newWallet builds the buyer wallet. config.Load rejects drivers other than
// the simulated one.
func newWallet(cfg config.WalletConfig) *wallet.FakeWallet {
	return wallet.NewFakeWallet(cfg.Address)
}

func openStore(ctx context.Context, cfg config.IdempotencyConfig) (idempotency.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := idempotency.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverPostgres:
		s, err := idempotency.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return idempotency.NewMemoryStore(), func() {}, nil
	}
}
